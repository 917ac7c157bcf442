package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/nostrgit/ngit/protocol"
)

// materializer turns announcement/state events into bare git repositories
// under baseDir/<pubkey>/<identifier>.git, grounded on the teacher's
// repo.go/state.go handlers but expressed with go-git's plumbing storer
// instead of shelling out to the git binary for every ref update.
type materializer struct {
	baseDir string
	log     zerolog.Logger
}

func (m materializer) repoPath(pubkey, identifier string) string {
	return filepath.Join(m.baseDir, pubkey, identifier+".git")
}

// handleAnnouncement materializes the bare repository for e's (pubkey,
// identifier) coordinate if it doesn't already exist: cloning from the
// announced clone[]/source URLs when one is reachable, else creating an
// empty bare repository (§4.1 "Consumption-mode fields": clone[] is what
// makes this possible without any out-of-band configuration).
func (m materializer) handleAnnouncement(ctx context.Context, e *nostr.Event) error {
	identifier := protocol.Identifier(e.Tags)
	if identifier == "" {
		return fmt.Errorf("announcement %s missing d tag", e.ID)
	}

	path := m.repoPath(e.PubKey, identifier)
	if _, err := os.Stat(path); err == nil {
		return nil // already materialized
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir repo parent: %w", err)
	}

	cloneURLs := protocol.AllTagValues(e.Tags, "clone")
	if source, ok := protocol.FirstTagValue(e.Tags, "source"); ok && source != "" {
		cloneURLs = append([]string{source}, cloneURLs...)
	}

	for _, url := range cloneURLs {
		_, err := git.PlainCloneContext(ctx, path, true, &git.CloneOptions{URL: url})
		if err == nil {
			m.log.Info().Str("pubkey", e.PubKey).Str("identifier", identifier).Str("source", url).Msg("cloned repository")
			return nil
		}
		m.log.Warn().Err(err).Str("url", url).Msg("clone attempt failed, trying next source")
		os.RemoveAll(path)
	}

	if _, err := git.PlainInit(path, true); err != nil {
		return fmt.Errorf("init bare repository: %w", err)
	}
	m.log.Info().Str("pubkey", e.PubKey).Str("identifier", identifier).Msg("created empty bare repository")
	return nil
}

// handleState applies a kind-30618 state event's ref table to the
// already-materialized bare repository, grounded on the teacher's
// handleRepositoryStateEvent's "refs/* tag name is the ref, tag value is
// the object id" wire convention (the HEAD tag's value is the bare
// symbolic target ref name, matching stateengine.parseStateEvent — this
// repo's state events don't carry the legacy "ref: " prefix), using
// go-git's Storer.SetReference instead of `git update-ref`/
// `git symbolic-ref` subprocesses.
func (m materializer) handleState(_ context.Context, e *nostr.Event) error {
	identifier := protocol.Identifier(e.Tags)
	if identifier == "" {
		return fmt.Errorf("state event %s missing d tag", e.ID)
	}

	path := m.repoPath(e.PubKey, identifier)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("repository %s/%s not yet materialized, dropping state event until announcement arrives", e.PubKey, identifier)
	}

	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	var headTarget string
	applied := 0
	for _, tag := range e.Tags {
		if len(tag) < 2 {
			continue
		}
		name, value := tag[0], tag[1]

		switch {
		case name == "HEAD":
			headTarget = value
		case strings.HasPrefix(name, "refs/"):
			if value == "" {
				continue
			}
			ref := plumbing.NewHashReference(plumbing.ReferenceName(name), plumbing.NewHash(value))
			if err := repo.Storer.SetReference(ref); err != nil {
				m.log.Warn().Err(err).Str("ref", name).Msg("set reference failed")
				continue
			}
			applied++
		}
	}

	if headTarget != "" {
		head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.ReferenceName(headTarget))
		if err := repo.Storer.SetReference(head); err != nil {
			m.log.Warn().Err(err).Str("head", headTarget).Msg("set HEAD failed")
		}
	}

	m.log.Debug().Str("pubkey", e.PubKey).Str("identifier", identifier).Int("refs", applied).Msg("applied state event")
	return nil
}
