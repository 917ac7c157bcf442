package push

import (
	"context"
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrgit/ngit/internal/coordinate"
	"github.com/nostrgit/ngit/internal/helper"
)

type fakeGitPusher struct {
	err   error
	calls []string // "<remoteName>:<cloneURL0>"
}

func (f *fakeGitPusher) Push(_ context.Context, remoteName string, cloneURLs []string, _ string) error {
	if len(cloneURLs) > 0 {
		f.calls = append(f.calls, remoteName+":"+cloneURLs[0])
	} else {
		f.calls = append(f.calls, remoteName+":")
	}
	return f.err
}

type fakePublisher struct {
	published []nostr.Event
	err       error
	failOn    int // fail only on the Nth call (1-indexed); 0 means never
	calls     int
}

func (f *fakePublisher) Publish(_ context.Context, _ []string, evt nostr.Event) error {
	f.calls++
	f.published = append(f.published, evt)
	if f.failOn != 0 && f.calls == f.failOn {
		return f.err
	}
	return nil
}

type fakeSigner struct {
	pubkey string
}

func (f fakeSigner) PubKey() string { return f.pubkey }
func (f fakeSigner) Sign(_ context.Context, evt *nostr.Event) error {
	evt.ID = "signed-" + evt.Content
	evt.PubKey = f.pubkey
	return nil
}

type fakeDiffSizer struct {
	size int64
	err  error
}

func (f fakeDiffSizer) CumulativeDiffBytes(context.Context, string, string) (int64, error) {
	return f.size, f.err
}

type fakeForkEnsurer struct {
	cloneURL string
	err      error
}

func (f fakeForkEnsurer) EnsureFork(context.Context, string) (string, error) {
	return f.cloneURL, f.err
}

type fakeLocalRefResolver struct {
	oids map[string]string
}

func (f fakeLocalRefResolver) ResolveRef(ref string) (string, error) {
	oid, ok := f.oids[ref]
	if !ok {
		return "", errors.New("unknown local ref " + ref)
	}
	return oid, nil
}

func testRef(pubkey string) *coordinate.RepoRef {
	return &coordinate.RepoRef{
		Identifier:        "myrepo",
		TrustedMaintainer: pubkey,
		MaintainerSet:     []string{pubkey},
		Announcements:     map[string]coordinate.Announcement{pubkey: {}},
		Relays:            []string{"wss://relay.example"},
		Clone:             []string{"https://git.example/myrepo.git"},
	}
}

func TestPushNormalRefSucceeds(t *testing.T) {
	git := &fakeGitPusher{}
	pub := &fakePublisher{}
	p := New(
		Options{Ref: testRef("pub1"), MyPubKey: "pub1"},
		git, pub, fakeSigner{pubkey: "pub1"}, fakeDiffSizer{}, fakeForkEnsurer{}, fakeLocalRefResolver{oids: map[string]string{"refs/heads/main": "aaa111"}},
		zerolog.Nop(),
	)

	results, err := p.Push(context.Background(), []helper.PushSpec{{Src: "refs/heads/main", Dst: "refs/heads/main"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	require.Len(t, git.calls, 1)
	assert.Equal(t, "origin:https://git.example/myrepo.git", git.calls[0])
	require.Len(t, pub.published, 1) // the StateEvent
}

func TestPushRejectsNonMaintainer(t *testing.T) {
	git := &fakeGitPusher{}
	pub := &fakePublisher{}
	p := New(
		Options{Ref: testRef("pub1"), MyPubKey: "someone-else"},
		git, pub, fakeSigner{pubkey: "someone-else"}, fakeDiffSizer{}, fakeForkEnsurer{}, fakeLocalRefResolver{oids: map[string]string{"refs/heads/main": "aaa111"}},
		zerolog.Nop(),
	)

	results, err := p.Push(context.Background(), []helper.PushSpec{{Src: "refs/heads/main", Dst: "refs/heads/main"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Reason, "not a maintainer")
	assert.Empty(t, git.calls)
}

func TestPushProposalUnderThresholdPublishesPatch(t *testing.T) {
	git := &fakeGitPusher{}
	pub := &fakePublisher{}
	p := New(
		Options{Ref: testRef("pub1"), MyPubKey: "pub1", PatchSizeThresholdBytes: 1000, BaseHeadOID: "base111"},
		git, pub, fakeSigner{pubkey: "pub1"}, fakeDiffSizer{size: 10}, fakeForkEnsurer{cloneURL: "https://fork.example/myrepo.git"},
		fakeLocalRefResolver{oids: map[string]string{"refs/heads/feature": "ccc333"}},
		zerolog.Nop(),
	)

	results, err := p.Push(context.Background(), []helper.PushSpec{{Src: "refs/heads/feature", Dst: "refs/pr/feature"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	require.Len(t, git.calls, 1)
	assert.Equal(t, "ngit-fork:https://fork.example/myrepo.git", git.calls[0])

	require.Len(t, pub.published, 1)
	assert.Equal(t, 1617, pub.published[0].Kind) // KindPatch
}

func TestPushProposalOverThresholdPublishesPullRequest(t *testing.T) {
	git := &fakeGitPusher{}
	pub := &fakePublisher{}
	p := New(
		Options{Ref: testRef("pub1"), MyPubKey: "pub1", PatchSizeThresholdBytes: 1000, BaseHeadOID: "base111"},
		git, pub, fakeSigner{pubkey: "pub1"}, fakeDiffSizer{size: 5000}, fakeForkEnsurer{cloneURL: "https://fork.example/myrepo.git"},
		fakeLocalRefResolver{oids: map[string]string{"refs/heads/feature": "ccc333"}},
		zerolog.Nop(),
	)

	results, err := p.Push(context.Background(), []helper.PushSpec{{Src: "refs/heads/feature", Dst: "refs/pr/feature"}})
	require.NoError(t, err)
	require.True(t, results[0].OK)
	require.Len(t, pub.published, 1)
	assert.Equal(t, 1618, pub.published[0].Kind) // KindPullRequest
}

func TestPushForcePROverridesThreshold(t *testing.T) {
	git := &fakeGitPusher{}
	pub := &fakePublisher{}
	p := New(
		Options{Ref: testRef("pub1"), MyPubKey: "pub1", ForcePR: true, BaseHeadOID: "base111"},
		git, pub, fakeSigner{pubkey: "pub1"}, fakeDiffSizer{size: 1}, fakeForkEnsurer{cloneURL: "https://fork.example/myrepo.git"},
		fakeLocalRefResolver{oids: map[string]string{"refs/heads/feature": "ccc333"}},
		zerolog.Nop(),
	)

	results, err := p.Push(context.Background(), []helper.PushSpec{{Src: "refs/heads/feature", Dst: "refs/pr/feature"}})
	require.NoError(t, err)
	require.True(t, results[0].OK)
	require.Len(t, pub.published, 1)
	assert.Equal(t, 1618, pub.published[0].Kind)
}

func TestPushBatchDemotesOnStateEventPublishFailure(t *testing.T) {
	git := &fakeGitPusher{}
	pub := &fakePublisher{failOn: 1, err: errors.New("relay down")}
	p := New(
		Options{Ref: testRef("pub1"), MyPubKey: "pub1"},
		git, pub, fakeSigner{pubkey: "pub1"}, fakeDiffSizer{}, fakeForkEnsurer{},
		fakeLocalRefResolver{oids: map[string]string{"refs/heads/main": "aaa111"}},
		zerolog.Nop(),
	)

	results, err := p.Push(context.Background(), []helper.PushSpec{{Src: "refs/heads/main", Dst: "refs/heads/main"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Reason, "state event publish failed")
}

func TestPushGitFailureSkipsStateEvent(t *testing.T) {
	git := &fakeGitPusher{err: errors.New("network unreachable")}
	pub := &fakePublisher{}
	p := New(
		Options{Ref: testRef("pub1"), MyPubKey: "pub1"},
		git, pub, fakeSigner{pubkey: "pub1"}, fakeDiffSizer{}, fakeForkEnsurer{},
		fakeLocalRefResolver{oids: map[string]string{"refs/heads/main": "aaa111"}},
		zerolog.Nop(),
	)

	results, err := p.Push(context.Background(), []helper.PushSpec{{Src: "refs/heads/main", Dst: "refs/heads/main"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Reason, "git-pushed")
	assert.Empty(t, pub.published)
}

func TestPushStateEventCarriesForwardUntouchedRefs(t *testing.T) {
	git := &fakeGitPusher{}
	pub := &fakePublisher{}
	p := New(
		Options{
			Ref:      testRef("pub1"),
			MyPubKey: "pub1",
			ExistingRefs: map[string]string{
				"refs/heads/main": "aaa111",
				"refs/heads/dev":  "bbb222",
				"refs/tags/v1":    "ddd444",
			},
		},
		git, pub, fakeSigner{pubkey: "pub1"}, fakeDiffSizer{}, fakeForkEnsurer{},
		fakeLocalRefResolver{oids: map[string]string{"refs/heads/main": "ccc333"}},
		zerolog.Nop(),
	)

	results, err := p.Push(context.Background(), []helper.PushSpec{{Src: "refs/heads/main", Dst: "refs/heads/main"}})
	require.NoError(t, err)
	require.True(t, results[0].OK)
	require.Len(t, pub.published, 1)

	tags := pub.published[0].Tags
	got := map[string]string{}
	for _, tag := range tags {
		if len(tag) == 2 {
			got[tag[0]] = tag[1]
		}
	}
	assert.Equal(t, "ccc333", got["refs/heads/main"], "touched ref should reflect the new push")
	assert.Equal(t, "bbb222", got["refs/heads/dev"], "untouched branch must not be dropped from the new StateEvent")
	assert.Equal(t, "ddd444", got["refs/tags/v1"], "untouched tag must not be dropped from the new StateEvent")
}

func TestPushSkipsStateEventWhenBatchWhollyFails(t *testing.T) {
	git := &fakeGitPusher{}
	pub := &fakePublisher{}
	p := New(
		Options{
			Ref:          testRef("pub1"),
			MyPubKey:     "pub1",
			ExistingRefs: map[string]string{"refs/heads/main": "aaa111"},
		},
		git, pub, fakeSigner{pubkey: "pub1"}, fakeDiffSizer{}, fakeForkEnsurer{},
		fakeLocalRefResolver{oids: map[string]string{}},
		zerolog.Nop(),
	)

	results, err := p.Push(context.Background(), []helper.PushSpec{{Src: "refs/heads/missing", Dst: "refs/heads/missing"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Empty(t, pub.published, "a wholly-failed batch must not republish the existing ref table")
}

func TestPushAutoPublishesAnnouncementWhenMissing(t *testing.T) {
	ref := testRef("pub1")
	ref.MaintainerSet = []string{"pub1", "pub2"}
	delete(ref.Announcements, "pub1") // pub1 is a maintainer but has no announcement yet

	git := &fakeGitPusher{}
	pub := &fakePublisher{}
	p := New(
		Options{Ref: ref, MyPubKey: "pub1"},
		git, pub, fakeSigner{pubkey: "pub1"}, fakeDiffSizer{}, fakeForkEnsurer{},
		fakeLocalRefResolver{oids: map[string]string{"refs/heads/main": "aaa111"}},
		zerolog.Nop(),
	)

	results, err := p.Push(context.Background(), []helper.PushSpec{{Src: "refs/heads/main", Dst: "refs/heads/main"}})
	require.NoError(t, err)
	require.True(t, results[0].OK)
	// One announcement event plus one state event.
	require.Len(t, pub.published, 2)
}
