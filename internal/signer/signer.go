// Package signer defines the narrow opaque-signer-handle contract
// SPEC_FULL.md §6 and §9 describe: the core only ever sees `sign(event)
// -> signed_event`. Encryption at rest, keyring/token refresh, and
// passphrase prompting are explicitly out of scope (spec.md §1) and live
// in a separate key-store collaborator this repository does not
// implement; Ephemeral below holds a plain key in memory and is what the
// tests, ngit-devtools and git-remote-nostr (via FromEnv) sign with.
package signer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Signer signs nostr events on behalf of one pubkey. Implementations must
// be safe for concurrent use.
type Signer interface {
	// PubKey returns the hex-encoded public key this signer signs for.
	PubKey() string
	// Sign fills in Event.ID, Event.PubKey and Event.Sig in place.
	Sign(ctx context.Context, evt *nostr.Event) error
}

// Ephemeral is an in-memory Signer backed by a freshly generated or
// caller-supplied secp256k1 private key, kept unencrypted in memory (§1
// Non-goals: the encrypted key store is external). Tests, the
// ngit-devtools fixture CLI and git-remote-nostr (through FromEnv) use it.
type Ephemeral struct {
	privHex string
	pubHex  string
}

// NewEphemeral wraps a hex-encoded private key.
func NewEphemeral(privHex string) (*Ephemeral, error) {
	pub, err := nostr.GetPublicKey(privHex)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &Ephemeral{privHex: privHex, pubHex: pub}, nil
}

// GenerateEphemeral creates a new random key pair.
func GenerateEphemeral() (*Ephemeral, error) {
	priv := nostr.GeneratePrivateKey()
	return NewEphemeral(priv)
}

func (e *Ephemeral) PubKey() string { return e.pubHex }

func (e *Ephemeral) Sign(_ context.Context, evt *nostr.Event) error {
	evt.PubKey = e.pubHex
	return evt.Sign(e.privHex)
}

// FromEnv loads an Ephemeral signer from the named environment variable,
// accepting either an "nsec1..." bech32-encoded key or raw hex, the
// convention shared by cmd/git-remote-nostr and cmd/ngit-devtools. It
// returns (nil, nil) when the variable is unset — a read-only
// invocation, not an error.
func FromEnv(envVar string) (*Ephemeral, error) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil, nil
	}

	privHex := raw
	if strings.HasPrefix(raw, "nsec1") {
		prefix, data, err := nip19.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", envVar, err)
		}
		if prefix != "nsec" {
			return nil, fmt.Errorf("%s: expected nsec, got %s", envVar, prefix)
		}
		decoded, ok := data.(string)
		if !ok {
			return nil, fmt.Errorf("%s: nsec decoded to unexpected type", envVar)
		}
		privHex = decoded
	}

	return NewEphemeral(privHex)
}
