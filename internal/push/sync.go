package push

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/nostrgit/ngit/internal/coordinate"
)

// listRefsConcurrency bounds how many clone[] servers Sync queries at
// once.
const listRefsConcurrency = 4

// ServerRefLister reports the current ref table of one clone[] server.
type ServerRefLister interface {
	ListRefs(ctx context.Context, cloneURL string) (map[string]string, error)
}

// ServerPusher mirrors one ref's oid from a source clone[] server (which
// already has it) onto a destination clone[] server that is missing it.
type ServerPusher interface {
	PushRef(ctx context.Context, fromCloneURL, toCloneURL, ref, oid string) error
}

// ServerDeleter removes a ref from one clone[] server.
type ServerDeleter interface {
	DeleteRef(ctx context.Context, cloneURL, ref string) error
}

// Syncer implements §4.8's sync operation: reconcile every clone[]
// server's ref table against the authoritative RepoState, pushing
// missing oids from whichever server already has them, and deleting
// refs a server still carries but the authoritative state no longer
// does (subject to the grasp/force rule below).
type Syncer struct {
	list   ServerRefLister
	push   ServerPusher
	delete ServerDeleter
	log    zerolog.Logger

	// GraspServers marks which clone[] URLs are grasp servers, which
	// accept ref deletion without --force (§4.8).
	GraspServers map[string]bool
}

// NewSyncer builds a Syncer.
func NewSyncer(list ServerRefLister, push ServerPusher, delete ServerDeleter, log zerolog.Logger) *Syncer {
	return &Syncer{list: list, push: push, delete: delete, log: log, GraspServers: map[string]bool{}}
}

// SyncResult reports one (server, ref) action taken or skipped.
type SyncResult struct {
	CloneURL string
	Ref      string
	Action   string // "pushed", "deleted", "skipped-delete-needs-force", "error"
	Err      error
}

// Sync reconciles ref, the RepoRef's clone[] servers against the
// authoritative state's ref table. force permits deleting refs on
// non-grasp servers.
func (s *Syncer) Sync(ctx context.Context, ref *coordinate.RepoRef, state coordinate.RepoState, force bool) ([]SyncResult, error) {
	var results []SyncResult

	type listOutcome struct {
		refs map[string]string
		err  error
	}
	outcomes := make([]listOutcome, len(ref.Clone))

	sem := semaphore.NewWeighted(listRefsConcurrency)
	var wg sync.WaitGroup
	for i, cloneURL := range ref.Clone {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = listOutcome{err: err}
			continue
		}
		wg.Add(1)
		go func(i int, cloneURL string) {
			defer wg.Done()
			defer sem.Release(1)
			have, err := s.list.ListRefs(ctx, cloneURL)
			outcomes[i] = listOutcome{refs: have, err: err}
		}(i, cloneURL)
	}
	wg.Wait()

	serverRefs := make(map[string]map[string]string, len(ref.Clone))
	for i, cloneURL := range ref.Clone {
		if outcomes[i].err != nil {
			results = append(results, SyncResult{CloneURL: cloneURL, Action: "error", Err: fmt.Errorf("list refs: %w", outcomes[i].err)})
			continue
		}
		serverRefs[cloneURL] = outcomes[i].refs
	}

	for refName, oid := range state.Refs {
		source := findServerWithOID(ref.Clone, serverRefs, refName, oid)
		for _, cloneURL := range ref.Clone {
			have, listed := serverRefs[cloneURL]
			if !listed {
				continue // already recorded as an error above
			}
			if have[refName] == oid {
				continue
			}
			if source == "" {
				results = append(results, SyncResult{CloneURL: cloneURL, Ref: refName, Action: "error", Err: fmt.Errorf("no clone[] server has %s at %s", refName, oid)})
				continue
			}
			if err := s.push.PushRef(ctx, source, cloneURL, refName, oid); err != nil {
				results = append(results, SyncResult{CloneURL: cloneURL, Ref: refName, Action: "error", Err: err})
				continue
			}
			results = append(results, SyncResult{CloneURL: cloneURL, Ref: refName, Action: "pushed"})
		}
	}

	for cloneURL, have := range serverRefs {
		for refName := range have {
			if _, wanted := state.Refs[refName]; wanted {
				continue
			}
			if !force && !s.GraspServers[cloneURL] {
				results = append(results, SyncResult{CloneURL: cloneURL, Ref: refName, Action: "skipped-delete-needs-force"})
				continue
			}
			if err := s.delete.DeleteRef(ctx, cloneURL, refName); err != nil {
				results = append(results, SyncResult{CloneURL: cloneURL, Ref: refName, Action: "error", Err: err})
				continue
			}
			results = append(results, SyncResult{CloneURL: cloneURL, Ref: refName, Action: "deleted"})
		}
	}

	s.log.Debug().Int("results", len(results)).Msg("sync complete")
	return results, nil
}

func findServerWithOID(order []string, serverRefs map[string]map[string]string, refName, oid string) string {
	for _, cloneURL := range order {
		if serverRefs[cloneURL][refName] == oid {
			return cloneURL
		}
	}
	return ""
}
