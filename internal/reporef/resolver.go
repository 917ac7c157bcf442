// Package reporef resolves a coordinate into a RepoRef by walking the
// maintainer graph of kind-30617 announcement events (spec.md §4.3).
// Grounded on the teacher's handleRepositoryEvent/cloneRepository flow in
// cmd/git-nostr-bridge, which reacts to a single announcement; this
// generalizes that to the full recursive maintainer-set fixed point the
// spec requires, using internal/relay and internal/eventcache instead of
// the teacher's ad hoc RelayPool.Sub + sqlite Repository table.
package reporef

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrgit/ngit/internal/coordinate"
	"github.com/nostrgit/ngit/internal/eventcache"
	"github.com/nostrgit/ngit/internal/relay"
	"github.com/nostrgit/ngit/protocol"
)

// ErrNoAnnouncement is returned alongside a still-usable RepoRef when the
// coordinate is known but no announcement event was found within the
// discovery deadline (§4.3 "Failure modes").
var ErrNoAnnouncement = fmt.Errorf("no announcement found for coordinate")

// Cache is the subset of eventcache.Store the resolver needs.
type Cache interface {
	GetByCoordinate(ctx context.Context, kind int, author, identifier string) ([]*nostr.Event, error)
	Put(ctx context.Context, e *nostr.Event) error
}

// Fetcher is the subset of relay.Client the resolver needs.
type Fetcher interface {
	Fetch(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
}

// Resolver builds RepoRefs by walking the maintainer graph.
type Resolver struct {
	cache         Cache
	relays        Fetcher
	visitBudget   int
	discoveryWait time.Duration
}

// New constructs a Resolver. visitBudget bounds the maintainer-graph walk
// (§9); discoveryWait bounds how long step 1 waits for a first
// announcement to arrive over the wire when the cache is empty.
func New(cache Cache, relays Fetcher, visitBudget int, discoveryWait time.Duration) *Resolver {
	if visitBudget <= 0 {
		visitBudget = 64
	}
	return &Resolver{cache: cache, relays: relays, visitBudget: visitBudget, discoveryWait: discoveryWait}
}

// Resolve implements §4.3's algorithm. hintRelays are consulted first
// (the coordinate's own relay hint plus any relays already known for
// C.PubKey); err is ErrNoAnnouncement when the RepoRef comes back empty
// but the caller should still proceed (e.g. for --force paths).
func (r *Resolver) Resolve(ctx context.Context, c coordinate.Coordinate, hintRelays []string) (*coordinate.RepoRef, error) {
	ref := &coordinate.RepoRef{
		Identifier:        c.Identifier,
		TrustedMaintainer: c.PubKey,
		Announcements:     map[string]coordinate.Announcement{},
	}

	root, err := r.fetchAnnouncement(ctx, c.PubKey, c.Identifier, hintRelays)
	if err != nil {
		return nil, fmt.Errorf("fetch root announcement: %w", err)
	}
	if root == nil {
		ref.NoAnnouncement = true
		return ref, ErrNoAnnouncement
	}
	ref.Announcements[c.PubKey] = *root

	// Step 2/3: recursively expand the maintainer set to a fixed point,
	// bounded by visitBudget.
	frontier := []string{c.PubKey}
	visited := map[string]bool{c.PubKey: true}

	for len(frontier) > 0 && len(visited) < r.visitBudget {
		next := frontier[0]
		frontier = frontier[1:]

		ann, ok := ref.Announcements[next]
		if !ok {
			continue
		}
		for _, candidate := range ann.Maintainers {
			if visited[candidate] {
				continue
			}
			visited[candidate] = true

			candAnn, err := r.fetchAnnouncement(ctx, candidate, c.Identifier, hintRelays)
			if err != nil || candAnn == nil {
				// A maintainer who hasn't published their own announcement
				// for this identifier is left out of the maintainer set:
				// being named by someone else's announcement is not enough,
				// and they contribute no relays or clone URLs.
				continue
			}
			if candAnn.Identifier != c.Identifier {
				continue
			}
			ref.Announcements[candidate] = *candAnn
			frontier = append(frontier, candidate)

			if len(visited) >= r.visitBudget {
				break
			}
		}
	}
	for m := range ref.Announcements {
		ref.MaintainerSet = append(ref.MaintainerSet, m)
	}

	r.unionAnnouncements(ref)
	r.cascadeEarliestUniqueCommit(ref)
	return ref, nil
}

func (r *Resolver) fetchAnnouncement(ctx context.Context, author, identifier string, hintRelays []string) (*coordinate.Announcement, error) {
	cached, err := r.cache.GetByCoordinate(ctx, protocol.KindRepositoryAnnouncement, author, identifier)
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 && len(hintRelays) > 0 {
		fetchCtx := ctx
		var cancel context.CancelFunc
		if r.discoveryWait > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, r.discoveryWait)
			defer cancel()
		}
		fetched, err := r.relays.Fetch(fetchCtx, hintRelays, nostr.Filter{
			Kinds:   []int{protocol.KindRepositoryAnnouncement},
			Authors: []string{author},
			Tags:    nostr.TagMap{"d": []string{identifier}},
		})
		if err != nil {
			return nil, err
		}
		for _, e := range fetched {
			_ = r.cache.Put(ctx, e)
		}
		cached = fetched
	}

	best := newestEvent(cached)
	if best == nil {
		return nil, nil
	}
	ann := announcementFromEvent(best)
	return &ann, nil
}

func newestEvent(events []*nostr.Event) *nostr.Event {
	var best *nostr.Event
	for _, e := range events {
		if best == nil || e.CreatedAt > best.CreatedAt {
			best = e
		}
	}
	return best
}

func announcementFromEvent(e *nostr.Event) coordinate.Announcement {
	ce := coordinate.FromNostr(e)
	name, _ := protocol.FirstTagValue(e.Tags, "name")
	desc, _ := protocol.FirstTagValue(e.Tags, "description")
	earliest, _ := protocol.FirstTagValue(e.Tags, "r")
	return coordinate.Announcement{
		Event:                ce,
		Identifier:           protocol.Identifier(e.Tags),
		Name:                 name,
		Description:          desc,
		Web:                  protocol.AllTagValues(e.Tags, "web"),
		Hashtags:             protocol.AllTagValues(e.Tags, "t"),
		Relays:               protocol.AllTagValues(e.Tags, "relays"),
		Clone:                protocol.AllTagValues(e.Tags, "clone"),
		Blossoms:             protocol.AllTagValues(e.Tags, "blossom"),
		Maintainers:          protocol.AllTagValues(e.Tags, "maintainers"),
		EarliestUniqueCommit: earliest,
	}
}

// unionAnnouncements implements §4.3 step 4: union relays/clone/
// blossoms/hashtags/web across all selected announcements, and take
// name/description from the single latest created_at event.
func (r *Resolver) unionAnnouncements(ref *coordinate.RepoRef) {
	var latest *coordinate.Announcement
	seenRelay, seenClone, seenBlossom, seenTag, seenWeb := map[string]bool{}, map[string]bool{}, map[string]bool{}, map[string]bool{}, map[string]bool{}

	for pub := range ref.Announcements {
		ann := ref.Announcements[pub]
		if latest == nil || ann.Event.CreatedAt.After(latest.Event.CreatedAt) {
			latest = &ann
		}
		for _, v := range ann.Relays {
			if !seenRelay[v] {
				seenRelay[v] = true
				ref.Relays = append(ref.Relays, v)
			}
		}
		for _, v := range ann.Clone {
			if !seenClone[v] {
				seenClone[v] = true
				ref.Clone = append(ref.Clone, v)
			}
		}
		for _, v := range ann.Blossoms {
			if !seenBlossom[v] {
				seenBlossom[v] = true
				ref.Blossoms = append(ref.Blossoms, v)
			}
		}
		for _, v := range ann.Hashtags {
			if !seenTag[v] {
				seenTag[v] = true
				ref.Hashtags = append(ref.Hashtags, v)
			}
		}
		for _, v := range ann.Web {
			if !seenWeb[v] {
				seenWeb[v] = true
				ref.Web = append(ref.Web, v)
			}
		}
	}

	if latest != nil {
		ref.Name = latest.Name
		ref.Description = latest.Description
	}
}

// cascadeEarliestUniqueCommit implements §4.3 step 5 and flags
// ForkSuspected (§4.3 "Failure modes") when announcements disagree.
func (r *Resolver) cascadeEarliestUniqueCommit(ref *coordinate.RepoRef) {
	for _, ann := range ref.Announcements {
		if ann.EarliestUniqueCommit == "" {
			continue
		}
		if ref.EarliestUniqueCommit == "" {
			ref.EarliestUniqueCommit = ann.EarliestUniqueCommit
			continue
		}
		if ref.EarliestUniqueCommit != ann.EarliestUniqueCommit {
			ref.ForkSuspected = true
		}
	}
}
