package signer

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEphemeralSignsEvent(t *testing.T) {
	s, err := GenerateEphemeral()
	require.NoError(t, err)

	evt := &nostr.Event{Kind: 1, Content: "hello"}
	require.NoError(t, s.Sign(context.Background(), evt))

	assert.Equal(t, s.PubKey(), evt.PubKey)
	assert.NotEmpty(t, evt.Sig)
	assert.NotEmpty(t, evt.ID)
}

func TestFromEnvUnset(t *testing.T) {
	t.Setenv("NGIT_TEST_NSEC", "")
	s, err := FromEnv("NGIT_TEST_NSEC")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestFromEnvHex(t *testing.T) {
	gen, err := GenerateEphemeral()
	require.NoError(t, err)

	t.Setenv("NGIT_TEST_NSEC", privHexOf(t, gen))
	s, err := FromEnv("NGIT_TEST_NSEC")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, gen.PubKey(), s.PubKey())
}

func TestFromEnvNsecBech32(t *testing.T) {
	gen, err := GenerateEphemeral()
	require.NoError(t, err)

	nsec, err := nip19.EncodePrivateKey(privHexOf(t, gen))
	require.NoError(t, err)

	t.Setenv("NGIT_TEST_NSEC", nsec)
	s, err := FromEnv("NGIT_TEST_NSEC")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, gen.PubKey(), s.PubKey())
}

func privHexOf(t *testing.T, e *Ephemeral) string {
	t.Helper()
	return e.privHex
}
