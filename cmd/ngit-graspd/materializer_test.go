package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestHandleAnnouncementCreatesEmptyBareRepo(t *testing.T) {
	dir := t.TempDir()
	m := materializer{baseDir: dir, log: zerolog.Nop()}

	e := &nostr.Event{
		ID:     "ann1",
		PubKey: "pub1",
		Tags:   nostr.Tags{{"d", "myrepo"}},
	}

	require.NoError(t, m.handleAnnouncement(context.Background(), e))

	path := filepath.Join(dir, "pub1", "myrepo.git")
	_, err := git.PlainOpen(path)
	require.NoError(t, err)
}

func TestHandleAnnouncementSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	m := materializer{baseDir: dir, log: zerolog.Nop()}
	path := m.repoPath("pub1", "myrepo")
	require.NoError(t, os.MkdirAll(path, 0o700))

	e := &nostr.Event{ID: "ann1", PubKey: "pub1", Tags: nostr.Tags{{"d", "myrepo"}}}
	require.NoError(t, m.handleAnnouncement(context.Background(), e))
}

func TestHandleAnnouncementMissingIdentifier(t *testing.T) {
	m := materializer{baseDir: t.TempDir(), log: zerolog.Nop()}
	err := m.handleAnnouncement(context.Background(), &nostr.Event{ID: "ann1", PubKey: "pub1"})
	require.Error(t, err)
}

func TestHandleStateAppliesRefsAndHead(t *testing.T) {
	dir := t.TempDir()
	m := materializer{baseDir: dir, log: zerolog.Nop()}
	path := m.repoPath("pub1", "myrepo")

	_, err := git.PlainInit(path, true)
	require.NoError(t, err)

	oid := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	e := &nostr.Event{
		ID:     "state1",
		PubKey: "pub1",
		Tags: nostr.Tags{
			{"d", "myrepo"},
			{"refs/heads/main", oid},
			{"HEAD", "refs/heads/main"},
		},
	}

	require.NoError(t, m.handleState(context.Background(), e))

	repo, err := git.PlainOpen(path)
	require.NoError(t, err)

	ref, err := repo.Storer.Reference(plumbing.ReferenceName("refs/heads/main"))
	require.NoError(t, err)
	require.Equal(t, oid, ref.Hash().String())

	head, err := repo.Storer.Reference(plumbing.HEAD)
	require.NoError(t, err)
	require.Equal(t, plumbing.ReferenceName("refs/heads/main"), head.Target())
}

func TestHandleStateDropsWhenRepoNotMaterialized(t *testing.T) {
	m := materializer{baseDir: t.TempDir(), log: zerolog.Nop()}
	e := &nostr.Event{ID: "state1", PubKey: "pub1", Tags: nostr.Tags{{"d", "myrepo"}, {"refs/heads/main", "a"}}}
	require.Error(t, m.handleState(context.Background(), e))
}
