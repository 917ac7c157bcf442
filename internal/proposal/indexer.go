// Package proposal indexes PR-root and patch-root events into the
// remote helper's refs/pr/* ref table (spec.md §4.5). Grounded on the
// revision/status-thread pattern used for NIP-22-style events across the
// example pack (e.g. pinpox-nitrous's kind-1059-over-root threading), and
// on the teacher's pattern of mapping event tag data onto structs before
// deciding how to present them as git refs.
package proposal

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrgit/ngit/internal/coordinate"
	"github.com/nostrgit/ngit/protocol"
)

// Ref is one entry the remote helper should expose: a ref name and the
// object id it points at.
type Ref struct {
	Name string
	OID  string
}

// Index builds the set of Proposals for identifier out of every
// candidate root/revision/status event gathered from the relay client,
// then derives the ref table described in §4.5.
//
// roots are kind-1617 (patch) and kind-1618 (PR) events. revisions are
// kind-1619 events whose "e" tag (marker "root-revision") names a root.
// statuses are kind-163{0,1,2,3} events whose "e" tag names a root or
// revision, from the author or any maintainer.
func Index(identifier string, roots, revisions, statuses []*nostr.Event, maintainerSet []string) []coordinate.Proposal {
	allowed := make(map[string]bool, len(maintainerSet))
	for _, m := range maintainerSet {
		allowed[m] = true
	}

	revisionsByRoot := map[string][]*nostr.Event{}
	for _, rev := range revisions {
		if rootID, ok := rootReference(rev.Tags); ok {
			revisionsByRoot[rootID] = append(revisionsByRoot[rootID], rev)
		}
	}

	// authorOf maps every root and revision id to the proposal author, so
	// a status event from that author counts alongside maintainers'.
	authorOf := map[string]string{}
	for _, root := range roots {
		authorOf[root.ID] = root.PubKey
	}
	for rootID, revs := range revisionsByRoot {
		for _, rev := range revs {
			authorOf[rev.ID] = authorOf[rootID]
		}
	}

	statusByTarget := map[string][]*nostr.Event{}
	for _, st := range statuses {
		for _, targetID := range referencedIDs(st.Tags) {
			if allowed[st.PubKey] || (authorOf[targetID] != "" && authorOf[targetID] == st.PubKey) {
				statusByTarget[targetID] = append(statusByTarget[targetID], st)
			}
		}
	}

	var proposals []coordinate.Proposal
	for _, root := range roots {
		if !targetsIdentifier(root.Tags, identifier) {
			continue
		}

		p := coordinate.Proposal{
			RootID:     root.ID,
			Author:     root.PubKey,
			Identifier: identifier,
			IsPatch:    root.Kind == protocol.KindPatch,
		}
		p.BranchName, _ = protocol.FirstTagValue(root.Tags, "branch-name")
		if p.BranchName == "" {
			p.BranchName = p.ShortID()
		}
		p.CloneURL, _ = protocol.FirstTagValue(root.Tags, "clone")
		p.Head, _ = protocol.FirstTagValue(root.Tags, "commit")
		if p.Head == "" {
			p.Head, _ = protocol.FirstTagValue(root.Tags, "r")
		}

		for _, rev := range revisionsByRoot[root.ID] {
			p.Revisions = append(p.Revisions, coordinate.FromNostr(rev))
			if head, ok := protocol.FirstTagValue(rev.Tags, "commit"); ok {
				p.Head = head
			}
		}
		sort.Slice(p.Revisions, func(i, j int) bool { return p.Revisions[i].CreatedAt.Before(p.Revisions[j].CreatedAt) })

		p.Status = latestStatus(root.ID, p.Revisions, statusByTarget)
		proposals = append(proposals, p)
	}

	AssignSlugs(proposals)
	return proposals
}

// Refs derives the ref table for one proposal, per §4.5's surfacing
// rules: every proposal gets a stable pr-by-id ref and refs/pr/<slug>;
// open/draft proposals additionally get pr/<slug>, so closed/applied
// proposals are exposed on refs/pr/* only.
func Refs(p coordinate.Proposal) []Ref {
	var out []Ref
	if p.Head == "" {
		return out
	}
	out = append(out, Ref{Name: "refs/pr/pr-by-id/" + p.ShortID() + "/head", OID: p.Head})

	if p.Status.IsOpenOrDraft() {
		out = append(out, Ref{Name: "pr/" + p.Slug, OID: p.Head})
	}
	out = append(out, Ref{Name: "refs/pr/" + p.Slug, OID: p.Head})
	return out
}

// targetsIdentifier reports whether a root event's "a" tag (NIP-34 style
// "<kind>:<pubkey>:<identifier>" coordinate reference) names identifier.
func targetsIdentifier(tags nostr.Tags, identifier string) bool {
	for _, t := range tags {
		if len(t) < 2 || t[0] != "a" {
			continue
		}
		if idx := lastColon(t[1]); idx >= 0 && t[1][idx+1:] == identifier {
			return true
		}
	}
	return false
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

func rootReference(tags nostr.Tags) (string, bool) {
	for _, t := range tags {
		if len(t) >= 4 && t[0] == "e" && t[3] == "root-revision" {
			return t[1], true
		}
	}
	return "", false
}

// referencedIDs returns every event id a status event's "e" tags name,
// covering both "root" and "root-revision" marked references so a status
// addressed to any revision still resolves back to the proposal.
func referencedIDs(tags nostr.Tags) []string {
	var out []string
	for _, t := range tags {
		if len(t) >= 2 && t[0] == "e" {
			out = append(out, t[1])
		}
	}
	return out
}

func latestStatus(rootID string, revisions []coordinate.Event, byTarget map[string][]*nostr.Event) coordinate.ProposalStatus {
	candidates := append([]*nostr.Event{}, byTarget[rootID]...)
	for _, rev := range revisions {
		candidates = append(candidates, byTarget[rev.ID]...)
	}
	if len(candidates) == 0 {
		return coordinate.StatusOpen
	}

	var newest *nostr.Event
	for _, e := range candidates {
		if newest == nil || e.CreatedAt > newest.CreatedAt {
			newest = e
		}
	}
	switch newest.Kind {
	case protocol.KindStatusDraft:
		return coordinate.StatusDraft
	case protocol.KindStatusApplied:
		return coordinate.StatusApplied
	case protocol.KindStatusClosed:
		return coordinate.StatusClosed
	default:
		return coordinate.StatusOpen
	}
}
