// Package alias resolves the "alias" component of a parsed nostr:// URL
// (either a bech32 npub or a NIP-05 address, per SPEC_FULL.md §4.1) into
// a hex-encoded public key. Grounded on pinpox-nitrous's resolveNIP05Cmd
// (fetch .well-known/nostr.json, look up the name) and go-nostr's own
// nip19.Decode for the npub case.
package alias

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// Resolve turns raw (an npub1... string or a "local@domain" NIP-05
// address, as normalized by nostrurl.Parse) into a hex pubkey.
func Resolve(ctx context.Context, raw string) (string, error) {
	if strings.HasPrefix(raw, "npub1") {
		prefix, data, err := nip19.Decode(raw)
		if err != nil {
			return "", fmt.Errorf("decode npub %s: %w", raw, err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("expected npub, got %s", prefix)
		}
		pubkey, ok := data.(string)
		if !ok {
			return "", fmt.Errorf("npub %s decoded to unexpected type", raw)
		}
		return pubkey, nil
	}
	return resolveNIP05(ctx, raw)
}

func resolveNIP05(ctx context.Context, identifier string) (string, error) {
	parts := strings.SplitN(identifier, "@", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid NIP-05 identifier: %s", identifier)
	}
	name, domain := parts[0], parts[1]

	url := fmt.Sprintf("https://%s/.well-known/nostr.json?name=%s", domain, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nip-05 lookup %s: HTTP %d", domain, resp.StatusCode)
	}

	var result struct {
		Names map[string]string `json:"names"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode nip-05 response from %s: %w", domain, err)
	}

	pubkey, ok := result.Names[name]
	if !ok {
		return "", fmt.Errorf("name %q not found on %s", name, domain)
	}
	return pubkey, nil
}
