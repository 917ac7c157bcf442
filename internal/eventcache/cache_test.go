package eventcache

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustEvent(t *testing.T, kind int, pubkey, dTag string, createdAt nostr.Timestamp) *nostr.Event {
	t.Helper()
	e := &nostr.Event{
		Kind:      kind,
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Content:   "",
		Tags:      nostr.Tags{{"d", dTag}},
	}
	priv := nostr.GeneratePrivateKey()
	pub, err := nostr.GetPublicKey(priv)
	require.NoError(t, err)
	e.PubKey = pub
	require.NoError(t, e.Sign(priv))
	return e
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := mustEvent(t, 30617, "", "repo-a", 1000)
	require.NoError(t, s.Put(ctx, e))

	got, ok, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.PubKey, got.PubKey)
	assert.Equal(t, e.Kind, got.Kind)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := mustEvent(t, 30618, "", "repo-a", 1000)

	require.NoError(t, s.Put(ctx, e))
	require.NoError(t, s.Put(ctx, e))

	all, err := s.Query(ctx, Filter{Kinds: []int{30618}})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestQueryByCoordinate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := mustEvent(t, 30617, "", "repo-a", 1000)
	b := mustEvent(t, 30617, "", "repo-b", 1000)
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, b))

	got, err := s.GetByCoordinate(ctx, 30617, a.PubKey, "repo-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}

func TestQueryOrdersByCreatedAtThenID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := mustEvent(t, 1630, "", "", 100)
	newer := mustEvent(t, 1630, "", "", 200)
	require.NoError(t, s.Put(ctx, newer))
	require.NoError(t, s.Put(ctx, older))

	got, err := s.Query(ctx, Filter{Kinds: []int{1630}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, older.ID, got[0].ID)
	assert.Equal(t, newer.ID, got[1].ID)
}

func TestQueryByAuthors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := mustEvent(t, 30617, "", "repo", 1000)
	b := mustEvent(t, 30617, "", "repo", 1000)
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, b))

	got, err := s.Query(ctx, Filter{Authors: []string{a.PubKey}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}
