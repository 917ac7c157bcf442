package dispatcher

import (
	"fmt"

	"github.com/go-git/go-git/v5"
)

// GitConfigStore persists preferred transports in a repository's git
// config, under a dedicated "ngit" section, one key per
// (remote, direction): e.g. "ngit.<remote>.fetch-transport".
type GitConfigStore struct {
	repo *git.Repository
}

// NewGitConfigStore wraps an already-opened repository.
func NewGitConfigStore(repo *git.Repository) *GitConfigStore {
	return &GitConfigStore{repo: repo}
}

func optionKey(direction Direction) string {
	return string(direction) + "-transport"
}

func (s *GitConfigStore) Load(remote string, direction Direction) (Transport, bool) {
	cfg, err := s.repo.Config()
	if err != nil {
		return "", false
	}
	section := cfg.Raw.Section("ngit").Subsection(remote)
	v := section.Option(optionKey(direction))
	if v == "" {
		return "", false
	}
	return Transport(v), true
}

func (s *GitConfigStore) Save(remote string, direction Direction, t Transport) error {
	cfg, err := s.repo.Config()
	if err != nil {
		return fmt.Errorf("load git config: %w", err)
	}
	section := cfg.Raw.Section("ngit").Subsection(remote)
	section.SetOption(optionKey(direction), string(t))

	if err := s.repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("persist git config: %w", err)
	}
	return nil
}

// MemoryProtocolStore is an in-memory ProtocolStore that never touches
// .git/config; the dispatcher tests use it.
type MemoryProtocolStore struct {
	preferred map[string]Transport
}

// NewMemoryProtocolStore builds an empty in-memory store.
func NewMemoryProtocolStore() *MemoryProtocolStore {
	return &MemoryProtocolStore{preferred: map[string]Transport{}}
}

func (s *MemoryProtocolStore) Load(remote string, direction Direction) (Transport, bool) {
	t, ok := s.preferred[remote+"/"+string(direction)]
	return t, ok
}

func (s *MemoryProtocolStore) Save(remote string, direction Direction, t Transport) error {
	s.preferred[remote+"/"+string(direction)] = t
	return nil
}
