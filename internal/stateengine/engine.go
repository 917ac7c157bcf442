// Package stateengine reconciles kind-30618 StateEvents into one
// authoritative RepoState (spec.md §4.4). Grounded on the teacher's
// handleRepositoryStateEvent in cmd/git-nostr-bridge/state.go, which
// applies a single incoming state event's refs via `git update-ref`/
// `git symbolic-ref`; this generalizes that to the spec's
// newest-per-author retention across the whole maintainer set, with no
// per-ref merge across authors (disagreements are only reported, see
// detectConflicts).
package stateengine

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrgit/ngit/internal/coordinate"
	"github.com/nostrgit/ngit/protocol"
)

// Reconcile builds a RepoState from every accepted kind-30618 event for
// identifier, keeping only the newest event per author in
// maintainerSet. Events from authors outside maintainerSet are rejected
// per §4.4 ("Reject if author ∉ maintainer_set").
func Reconcile(events []*nostr.Event, identifier string, maintainerSet []string) coordinate.RepoState {
	allowed := make(map[string]bool, len(maintainerSet))
	for _, m := range maintainerSet {
		allowed[m] = true
	}

	newestPerAuthor := map[string]coordinate.StateEvent{}
	for _, e := range events {
		if e.Kind != protocol.KindRepositoryState {
			continue
		}
		if protocol.Identifier(e.Tags) != identifier {
			continue
		}
		if !allowed[e.PubKey] {
			continue
		}
		se := parseStateEvent(e)
		if existing, ok := newestPerAuthor[e.PubKey]; !ok || se.CreatedAt.After(existing.CreatedAt) {
			newestPerAuthor[e.PubKey] = se
		}
	}

	state := coordinate.RepoState{PerAuthor: newestPerAuthor}
	if len(newestPerAuthor) == 0 {
		return state
	}

	// Authoritative RepoState = the newest event across the retained set,
	// falling back to the next-newest that includes HEAD (§4.4).
	var candidates []coordinate.StateEvent
	for _, se := range newestPerAuthor {
		candidates = append(candidates, se)
	}
	sortNewestFirst(candidates)

	for _, se := range candidates {
		if se.Head == "" {
			continue
		}
		state.Refs = se.Refs
		state.Head = se.Head
		state.AuthoritativeAuthor = se.Author
		break
	}
	if state.AuthoritativeAuthor == "" {
		// No retained event carried HEAD at all; fall back to the single
		// newest event's ref table with no symbolic HEAD.
		state.Refs = candidates[0].Refs
		state.AuthoritativeAuthor = candidates[0].Author
	}

	state.Conflicts = detectConflicts(newestPerAuthor)
	return state
}

func parseStateEvent(e *nostr.Event) coordinate.StateEvent {
	refs := map[string]string{}
	head := ""
	for _, t := range e.Tags {
		if len(t) < 2 {
			continue
		}
		switch {
		case t[0] == "HEAD":
			head = t[1]
		case len(t) >= 2 && strHasPrefix(t[0], "refs/"):
			refs[t[0]] = t[1]
		}
	}
	return coordinate.StateEvent{
		Event:      coordinate.FromNostr(e),
		Identifier: protocol.Identifier(e.Tags),
		Author:     e.PubKey,
		CreatedAt:  e.CreatedAt.Time(),
		Refs:       refs,
		Head:       head,
	}
}

func strHasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func sortNewestFirst(events []coordinate.StateEvent) {
	for i := 1; i < len(events); i++ {
		j := i
		for j > 0 && events[j-1].CreatedAt.Before(events[j].CreatedAt) {
			events[j-1], events[j] = events[j], events[j-1]
			j--
		}
	}
}

// detectConflicts reports, for diagnostics only, refs where two retained
// authors' state events disagree (§9 Open Question: report, never merge
// ref-by-ref across authors).
func detectConflicts(perAuthor map[string]coordinate.StateEvent) []coordinate.RefConflict {
	byRef := map[string]map[string]bool{} // ref -> oid -> true
	authorsByRefOid := map[string]map[string][]string{}

	for author, se := range perAuthor {
		for ref, oid := range se.Refs {
			if byRef[ref] == nil {
				byRef[ref] = map[string]bool{}
				authorsByRefOid[ref] = map[string][]string{}
			}
			byRef[ref][oid] = true
			authorsByRefOid[ref][oid] = append(authorsByRefOid[ref][oid], author)
		}
	}

	var conflicts []coordinate.RefConflict
	for ref, oids := range byRef {
		if len(oids) < 2 {
			continue
		}
		c := coordinate.RefConflict{Ref: ref}
		for oid, authors := range authorsByRefOid[ref] {
			c.ObjectID = append(c.ObjectID, oid)
			c.Authors = append(c.Authors, authors...)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts
}
