// Package coordinate holds the repository-level data model shared by the
// resolver, the state-event engine, and the proposal indexer: Coordinate,
// Announcement, RepoRef, StateEvent, RepoState and Proposal, as described
// in SPEC_FULL.md §3.
package coordinate

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Coordinate uniquely names a repository: (kind=30617, pubkey, identifier).
// It is immutable once constructed.
type Coordinate struct {
	PubKey     string
	Identifier string
}

func (c Coordinate) String() string {
	return c.PubKey + ":" + c.Identifier
}

// Announcement is the parsed form of a kind-30617 event.
type Announcement struct {
	Event Event

	Identifier  string
	Name        string
	Description string
	Web         []string
	Hashtags    []string
	Relays      []string
	Clone       []string
	Blossoms    []string
	Maintainers []string

	EarliestUniqueCommit string
}

// Event is the subset of a signed nostr event this package cares about; it
// avoids every other package needing to import go-nostr directly just to
// pass events around.
type Event struct {
	ID        string
	PubKey    string
	CreatedAt time.Time
	Kind      int
	Tags      nostr.Tags
	Content   string
	Sig       string
}

// FromNostr converts a *nostr.Event into the package-local Event shape.
func FromNostr(e *nostr.Event) Event {
	return Event{
		ID:        e.ID,
		PubKey:    e.PubKey,
		CreatedAt: e.CreatedAt.Time(),
		Kind:      e.Kind,
		Tags:      e.Tags,
		Content:   e.Content,
		Sig:       e.Sig,
	}
}

// RepoRef is the resolver's output for one Coordinate: the transitive
// maintainer set, the unioned consumption-mode infrastructure, and the
// shared metadata picked from the freshest announcement.
type RepoRef struct {
	Identifier        string
	TrustedMaintainer string

	MaintainerSet []string
	Announcements map[string]Announcement // pubkey -> latest announcement

	Relays   []string
	Clone    []string
	Blossoms []string
	Hashtags []string
	Web      []string

	Name        string
	Description string

	EarliestUniqueCommit string

	// ForkSuspected is set when selected announcements disagree on
	// EarliestUniqueCommit (§4.3 ForkSuspected, warning only).
	ForkSuspected bool
	// NoAnnouncement is set when no announcement was found for the
	// trusted maintainer within the discovery deadline (§4.3).
	NoAnnouncement bool
}

// MyAnnouncement returns the caller's own announcement within the RepoRef,
// if they are a maintainer and have one, for publication-mode fields
// (§3 "Publication-mode fields (my announcement only)").
func (r *RepoRef) MyAnnouncement(myPubKey string) (Announcement, bool) {
	a, ok := r.Announcements[myPubKey]
	return a, ok
}

// IsMaintainer reports whether pubkey is a member of the maintainer set.
func (r *RepoRef) IsMaintainer(pubkey string) bool {
	for _, m := range r.MaintainerSet {
		if m == pubkey {
			return true
		}
	}
	return false
}

// StateEvent is the parsed form of a kind-30618 event: a ref table for a
// given identifier, signed by one maintainer.
type StateEvent struct {
	Event      Event
	Identifier string
	Author     string
	CreatedAt  time.Time
	Refs       map[string]string // ref name -> object id
	Head       string            // symbolic target, e.g. "refs/heads/main"
}

// RepoState is the derived, reconciled ref table the remote helper
// exposes to git, plus enough bookkeeping to report cross-maintainer
// conflicts without silently merging them (§3, Open Questions).
type RepoState struct {
	// Refs is the authoritative ref table: the newest StateEvent's refs,
	// falling back to the next-newest StateEvent that has HEAD present.
	Refs map[string]string
	Head string

	// AuthoritativeAuthor is the pubkey whose StateEvent supplied Refs.
	AuthoritativeAuthor string

	// PerAuthor retains every maintainer's latest StateEvent, so the push
	// pipeline's sync operation can see which servers each maintainer has
	// been pushing to (§4.4).
	PerAuthor map[string]StateEvent

	// Conflicts lists refs where two retained authors disagree, for
	// diagnostic reporting; per §9's Open Question, these are reported,
	// never merged ref-by-ref.
	Conflicts []RefConflict
}

// RefConflict records disagreement between two maintainers' state events
// on the same ref.
type RefConflict struct {
	Ref      string
	Authors  []string
	ObjectID []string
}

// ProposalStatus is the lifecycle state of a Proposal, derived from the
// most recent status event addressed to it.
type ProposalStatus int

const (
	StatusOpen ProposalStatus = iota
	StatusDraft
	StatusApplied
	StatusClosed
)

func (s ProposalStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusDraft:
		return "draft"
	case StatusApplied:
		return "applied"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsOpenOrDraft reports whether the proposal should additionally surface
// the short-lived "pr/<slug>" branch ref (§4.5).
func (s ProposalStatus) IsOpenOrDraft() bool {
	return s == StatusOpen || s == StatusDraft
}

// Proposal is a PR-root or patch-root event plus its linked revisions,
// patches, and status (§3).
type Proposal struct {
	RootID     string
	Author     string
	Identifier string // repository identifier this proposal targets
	BranchName string
	IsPatch    bool // patch-root vs PR-root
	CloneURL   string

	Head   string // head commit object id
	Status ProposalStatus

	Revisions []Event

	// Slug is BranchName, disambiguated with a "(<8 chars of id>)" suffix
	// when two proposals in the same indexing pass share a branch name.
	Slug string
}

// ShortID returns the first 8 characters of RootID, used for the
// "refs/pr/pr-by-id/<short>/head" ref.
func (p Proposal) ShortID() string {
	if len(p.RootID) < 8 {
		return p.RootID
	}
	return p.RootID[:8]
}
