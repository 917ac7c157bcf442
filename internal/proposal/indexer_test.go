package proposal

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrgit/ngit/internal/coordinate"
	"github.com/nostrgit/ngit/protocol"
)

func prRoot(id, author, branch, commit string) *nostr.Event {
	return &nostr.Event{
		ID:     id,
		PubKey: author,
		Kind:   protocol.KindPullRequest,
		Tags: nostr.Tags{
			{"a", "30617:alice:repo"},
			{"branch-name", branch},
			{"commit", commit},
		},
	}
}

func statusEvent(kind int, targetID, author string, createdAt int64) *nostr.Event {
	return &nostr.Event{
		Kind:      kind,
		PubKey:    author,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      nostr.Tags{{"e", targetID}},
	}
}

func TestIndexOpenProposalSurfacesBothRefs(t *testing.T) {
	root := prRoot("root1", "bob", "feature-x", "c0ffee")
	proposals := Index("repo", []*nostr.Event{root}, nil, nil, []string{"alice", "bob"})
	require.Len(t, proposals, 1)
	assert.Equal(t, coordinate.StatusOpen, proposals[0].Status)

	refs := Refs(proposals[0])
	names := refNames(refs)
	assert.Contains(t, names, "refs/pr/pr-by-id/root1/head")
	assert.Contains(t, names, "pr/feature-x")
	assert.Contains(t, names, "refs/pr/feature-x")
}

func TestIndexClosedProposalOnlyOnRefsPr(t *testing.T) {
	root := prRoot("root2", "bob", "feature-y", "c0ffee")
	closed := statusEvent(protocol.KindStatusClosed, "root2", "alice", 1000)
	proposals := Index("repo", []*nostr.Event{root}, nil, []*nostr.Event{closed}, []string{"alice", "bob"})
	require.Len(t, proposals, 1)
	assert.Equal(t, coordinate.StatusClosed, proposals[0].Status)

	refs := Refs(proposals[0])
	names := refNames(refs)
	assert.NotContains(t, names, "pr/feature-y")
	assert.Contains(t, names, "refs/pr/feature-y")
}

func TestIndexSlugDisambiguation(t *testing.T) {
	a := prRoot("aaaaaaaa11111111", "bob", "fix", "c1")
	b := prRoot("bbbbbbbb22222222", "carol", "fix", "c2")
	proposals := Index("repo", []*nostr.Event{a, b}, nil, nil, []string{"alice", "bob", "carol"})
	require.Len(t, proposals, 2)

	slugs := map[string]bool{}
	for _, p := range proposals {
		slugs[p.Slug] = true
	}
	assert.Contains(t, slugs, "fix(aaaaaaaa)")
	assert.Contains(t, slugs, "fix(bbbbbbbb)")
}

func TestIndexIgnoresRootsForOtherRepos(t *testing.T) {
	other := &nostr.Event{
		ID:     "root3",
		PubKey: "bob",
		Kind:   protocol.KindPullRequest,
		Tags:   nostr.Tags{{"a", "30617:alice:other-repo"}, {"branch-name", "feature-z"}},
	}
	proposals := Index("repo", []*nostr.Event{other}, nil, nil, []string{"alice", "bob"})
	assert.Empty(t, proposals)
}

func refNames(refs []Ref) []string {
	var out []string
	for _, r := range refs {
		out = append(out, r.Name)
	}
	return out
}
