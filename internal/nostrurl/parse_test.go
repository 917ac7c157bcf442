package nostrurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseBasic(t *testing.T) {
	u, err := Parse("nostr://dan@gitworkshop.dev/ngit")
	require.NoError(t, err)
	assert.Equal(t, "dan@gitworkshop.dev", u.Alias)
	assert.Equal(t, "ngit", u.Identifier)
	assert.Equal(t, "", u.RelayHint)
	assert.Equal(t, TransportNegotiate, u.Transport)
}

func TestParseWithRelayHintAndProto(t *testing.T) {
	u, err := Parse("nostr://https/npub1abcdef/relay.example.com/my-repo")
	require.NoError(t, err)
	assert.Equal(t, TransportHTTPS, u.Transport)
	assert.Equal(t, "npub1abcdef", u.Alias)
	assert.Equal(t, "relay.example.com", u.RelayHint)
	assert.Equal(t, "my-repo", u.Identifier)
}

func TestParseSSHKeySelector(t *testing.T) {
	u, err := Parse("nostr://nym1@ssh/npub1abcdef/my-repo")
	require.NoError(t, err)
	assert.Equal(t, "nym1", u.SSHKeyFile)
	assert.Equal(t, TransportSSH, u.Transport)
	assert.Equal(t, "npub1abcdef", u.Alias)
	assert.Equal(t, "my-repo", u.Identifier)
}

func TestParseBareDomainAlias(t *testing.T) {
	u, err := Parse("nostr://example.com/my-repo")
	require.NoError(t, err)
	assert.Equal(t, "_@example.com", u.Alias)
}

func TestParseIdentifierPercentDecoded(t *testing.T) {
	u, err := Parse("nostr://dan/my%20repo")
	require.NoError(t, err)
	assert.Equal(t, "my repo", u.Identifier)
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"http://dan/repo",
		"nostr://",
		"nostr:///",
		"nostr://dan",
		"nostr://dan/",
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.ErrorIs(t, err, ErrBadURL, "input: %q", c)
	}
}

// TestParseIdempotent exercises SPEC_FULL.md §8 invariant 2: parsing then
// re-emitting a nostr:// URL is idempotent after normalization.
func TestParseIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alias := rapid.SampledFrom([]string{"npub1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq", "bob@EXAMPLE.com", "EXAMPLE.org"}).Draw(t, "alias")
		ident := rapid.StringMatching(`[a-zA-Z0-9_-]{1,20}`).Draw(t, "ident")
		relay := rapid.SampledFrom([]string{"", "relay.example.com"}).Draw(t, "relay")

		raw := "nostr://" + alias + "/"
		if relay != "" {
			raw += relay + "/"
		}
		raw += ident

		u1, err := Parse(raw)
		require.NoError(t, err)

		u2, err := Parse(u1.String())
		require.NoError(t, err)

		assert.Equal(t, u1.Alias, u2.Alias)
		assert.Equal(t, u1.Identifier, u2.Identifier)
		assert.Equal(t, u1.RelayHint, u2.RelayHint)
		assert.Equal(t, u1.Transport, u2.Transport)
		assert.Equal(t, u1.String(), u2.String())
	})
}
