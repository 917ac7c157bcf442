// Package push drives the remote helper's push state machine
// (spec.md §4.7 "push: the hardest path") and the patch/PR/tag details
// in §4.8. Grounded on the teacher's handleRepositoryStateEvent /
// cloneRepository pairing in cmd/git-nostr-bridge (build a ref-table
// event, then act on the git side), generalized into the full
// classified → authorized → git-pushed → event-signed → event-published
// → reported state machine the spec requires.
package push

import (
	"context"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"github.com/nostrgit/ngit/internal/coordinate"
	"github.com/nostrgit/ngit/internal/helper"
	"github.com/nostrgit/ngit/protocol"
)

// Each step below tags its error with the state-machine stage it failed
// at (classified/authorized/git-pushed/event-signed/event-published),
// per §4.7's "Any transition may fail; failures short-circuit to
// reported(error)".

// GitPusher drives the actual git-level transport (internal/dispatcher).
type GitPusher interface {
	Push(ctx context.Context, remoteName string, cloneURLs []string, sshKeySelector string) error
}

// Publisher publishes signed events to relays (internal/relay).
type Publisher interface {
	Publish(ctx context.Context, relays []string, evt nostr.Event) error
}

// Signer signs events on the acting user's behalf (internal/signer).
type Signer interface {
	PubKey() string
	Sign(ctx context.Context, evt *nostr.Event) error
}

// DiffSizer measures the cumulative diff size between two commits, used
// for the patch-vs-PR size threshold (§4.8).
type DiffSizer interface {
	CumulativeDiffBytes(ctx context.Context, fromOID, toOID string) (int64, error)
}

// ForkEnsurer creates (if absent) the user's own grasp-server fork for
// PR branch pushes (§4.7 step 5).
type ForkEnsurer interface {
	EnsureFork(ctx context.Context, myPubKey string) (cloneURL string, err error)
}

// LocalRefResolver resolves a local ref name (the push "src") to its
// current object id.
type LocalRefResolver interface {
	ResolveRef(ref string) (oid string, err error)
}

// Options configures one Pipeline instance, scoped to one RepoRef and
// one acting user.
type Options struct {
	Ref                     *coordinate.RepoRef
	MyPubKey                string
	SSHKeySelector          string
	PatchSizeThresholdBytes int64
	ForcePatch              bool
	ForcePR                 bool
	// BaseHeadOID is the repository's current authoritative head commit
	// (from the reconciled RepoState), used as the "from" side of the
	// §4.8 cumulative-diff size measurement.
	BaseHeadOID string
	// ExistingRefs is the full reconciled ref table (RepoState.Refs) as of
	// the start of this push, keyed by ref name. Since a StateEvent is
	// replaceable per author and any ref it omits is reconciled as deleted
	// (§3, §4.4), the new StateEvent this push publishes must carry every
	// ref this author has previously published, not only the refs touched
	// by this batch — ExistingRefs seeds that base before the batch's own
	// changes are overlaid.
	ExistingRefs map[string]string
}

// Pipeline implements helper.Pusher for one git-remote-nostr invocation.
type Pipeline struct {
	opts    Options
	gitPush GitPusher
	publish Publisher
	signer  Signer
	diff    DiffSizer
	forks   ForkEnsurer
	local   LocalRefResolver
	log     zerolog.Logger
}

// New builds a Pipeline.
func New(opts Options, gitPush GitPusher, publish Publisher, signer Signer, diff DiffSizer, forks ForkEnsurer, local LocalRefResolver, log zerolog.Logger) *Pipeline {
	return &Pipeline{opts: opts, gitPush: gitPush, publish: publish, signer: signer, diff: diff, forks: forks, local: local, log: log}
}

// Push implements helper.Pusher: it classifies, authorizes, git-pushes
// and event-publishes every spec in the batch, then builds the ordering
// guarantee §5 requires — StateEvent publication only after every
// git-server push in the batch has completed — and reports one
// PushResult per spec.
func (p *Pipeline) Push(ctx context.Context, specs []helper.PushSpec) ([]helper.PushResult, error) {
	p.log.Debug().Int("count", len(specs)).Msg("push batch starting")
	results := make([]helper.PushResult, len(specs))
	newRefs := map[string]string{}
	for ref, oid := range p.opts.ExistingRefs {
		newRefs[ref] = oid
	}

	batchChanged := false
	for i, s := range specs {
		st, oid, err := p.classifyAndAuthorize(ctx, s)
		if err != nil {
			results[i] = helper.PushResult{Dst: s.Dst, OK: false, Reason: err.Error()}
			continue
		}

		if err := p.gitPushSpec(ctx, s, st, oid); err != nil {
			results[i] = helper.PushResult{Dst: s.Dst, OK: false, Reason: err.Error()}
			continue
		}

		if st == refKindProposal {
			// Proposal branches are carried by their patch/PR event, not
			// by the maintainers' StateEvent.
			results[i] = helper.PushResult{Dst: s.Dst, OK: true}
			continue
		}

		newRefs[s.Dst] = oid
		batchChanged = true
		results[i] = helper.PushResult{Dst: s.Dst, OK: true}
	}

	// StateEvent publication happens once, after every git-server push in
	// the batch completes (§5 ordering guarantee), and only when this
	// batch actually changed a ref — ExistingRefs alone (with no batch
	// changes) is not reason to republish.
	if batchChanged {
		if err := p.publishStateEvent(ctx, newRefs); err != nil {
			// The git-level push already succeeded; per §4.7 step 6, ok is
			// only reported when BOTH the event publish and the git push
			// succeeded, so demote every ref in this batch to error.
			for i, s := range specs {
				if results[i].OK {
					results[i] = helper.PushResult{Dst: s.Dst, OK: false, Reason: fmt.Sprintf("state event publish failed: %v", err)}
				}
			}
		}
	}

	return results, nil
}

// refKind classifies a push destination (§4.7 step 1).
type refKind int

const (
	refKindNormal refKind = iota
	refKindProposal
	refKindTag
)

func classifyRef(dst string) refKind {
	switch {
	case strings.HasPrefix(dst, "refs/pr/") || strings.HasPrefix(dst, "pr/"):
		return refKindProposal
	case strings.HasPrefix(dst, "refs/tags/"):
		return refKindTag
	default:
		return refKindNormal
	}
}

// classifyAndAuthorize implements §4.7 steps 1-2: classify the ref, and
// for normal refs require the pushing author to be a maintainer with
// their own announcement (auto-publishing a default one if absent).
func (p *Pipeline) classifyAndAuthorize(ctx context.Context, s helper.PushSpec) (refKind, string, error) {
	kind := classifyRef(s.Dst)

	oid, err := p.local.ResolveRef(s.Src)
	if err != nil {
		return kind, "", fmt.Errorf("classified: resolve %s: %w", s.Src, err)
	}

	if kind != refKindNormal {
		return kind, oid, nil
	}

	if !p.opts.Ref.IsMaintainer(p.opts.MyPubKey) {
		return kind, "", fmt.Errorf("authorized: %s is not a maintainer of %s", p.opts.MyPubKey, p.opts.Ref.Identifier)
	}
	if _, ok := p.opts.Ref.MyAnnouncement(p.opts.MyPubKey); !ok {
		if err := p.publishDefaultAnnouncement(ctx); err != nil {
			return kind, "", fmt.Errorf("authorized: auto-publish announcement: %w", err)
		}
	}

	return kind, oid, nil
}

func (p *Pipeline) publishDefaultAnnouncement(ctx context.Context) error {
	evt := nostr.Event{
		Kind:      protocol.KindRepositoryAnnouncement,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"d", p.opts.Ref.Identifier},
			{"clone", firstOrEmpty(p.opts.Ref.Clone)},
		},
	}
	if err := p.signer.Sign(ctx, &evt); err != nil {
		return fmt.Errorf("event-signed: %w", err)
	}
	if err := p.publish.Publish(ctx, p.opts.Ref.Relays, evt); err != nil {
		return fmt.Errorf("event-published: %w", err)
	}
	return nil
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// gitPushSpec implements §4.7 steps 3 and 5: push the underlying commits
// to every clone[] server (normal refs) or to the user's own grasp
// fork (proposal refs), then, for proposals, publish the patch/PR root
// event per §4.8's size-threshold selection.
func (p *Pipeline) gitPushSpec(ctx context.Context, s helper.PushSpec, kind refKind, oid string) error {
	switch kind {
	case refKindProposal:
		cloneURL, err := p.pushProposalBranch(ctx, s)
		if err != nil {
			return err
		}
		return p.publishProposalEvent(ctx, s, oid, cloneURL)
	default:
		if err := p.gitPush.Push(ctx, "origin", p.opts.Ref.Clone, p.opts.SSHKeySelector); err != nil {
			return fmt.Errorf("git-pushed: %w", err)
		}
		return nil
	}
}

func (p *Pipeline) pushProposalBranch(ctx context.Context, s helper.PushSpec) (string, error) {
	cloneURL, err := p.forks.EnsureFork(ctx, p.opts.MyPubKey)
	if err != nil {
		return "", fmt.Errorf("git-pushed: ensure fork: %w", err)
	}
	if err := p.gitPush.Push(ctx, "ngit-fork", []string{cloneURL}, p.opts.SSHKeySelector); err != nil {
		return "", fmt.Errorf("git-pushed: push to fork: %w", err)
	}
	return cloneURL, nil
}

// publishProposalEvent implements §4.8's patch-vs-PR selection: measure
// the cumulative diff against the repo's current head and pick the
// narrower patch event unless it crosses the size threshold (or the
// caller forced one side).
func (p *Pipeline) publishProposalEvent(ctx context.Context, s helper.PushSpec, headOID, cloneURL string) error {
	usePR := p.shouldUsePR(ctx, p.opts.BaseHeadOID, headOID)

	kind := protocol.KindPatch
	if usePR {
		kind = protocol.KindPullRequest
	}

	evt := nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"a", fmt.Sprintf("%d:%s:%s", protocol.KindRepositoryAnnouncement, p.opts.Ref.TrustedMaintainer, p.opts.Ref.Identifier)},
			{"branch-name", branchNameFromRef(s.Dst)},
			{"clone", cloneURL},
			{"commit", headOID},
		},
	}
	if err := p.signer.Sign(ctx, &evt); err != nil {
		return fmt.Errorf("event-signed: %w", err)
	}
	if err := p.publish.Publish(ctx, p.opts.Ref.Relays, evt); err != nil {
		return fmt.Errorf("event-published: %w", err)
	}
	return nil
}

func branchNameFromRef(ref string) string {
	ref = strings.TrimPrefix(ref, "refs/pr/")
	ref = strings.TrimPrefix(ref, "pr/")
	return ref
}

// shouldUsePR implements §4.8's patch-vs-PR selection.
func (p *Pipeline) shouldUsePR(ctx context.Context, fromOID, toOID string) bool {
	if p.opts.ForcePatch {
		return false
	}
	if p.opts.ForcePR {
		return true
	}
	threshold := p.opts.PatchSizeThresholdBytes
	if threshold <= 0 {
		threshold = 130 * 1024
	}
	size, err := p.diff.CumulativeDiffBytes(ctx, fromOID, toOID)
	if err != nil {
		// Unable to measure; default to the smaller-blast-radius patch path.
		return false
	}
	return size > threshold
}

// publishStateEvent implements §4.7 step 4: build, sign, and publish a
// new kind-30618 StateEvent reflecting the just-pushed ref table.
func (p *Pipeline) publishStateEvent(ctx context.Context, newRefs map[string]string) error {
	tags := nostr.Tags{{"d", p.opts.Ref.Identifier}}
	for ref, oid := range newRefs {
		tags = append(tags, nostr.Tag{ref, oid})
	}
	if head := headRef(newRefs); head != "" {
		tags = append(tags, nostr.Tag{"HEAD", head})
	}

	evt := nostr.Event{
		Kind:      protocol.KindRepositoryState,
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
	if err := p.signer.Sign(ctx, &evt); err != nil {
		return fmt.Errorf("event-signed: %w", err)
	}
	if err := p.publish.Publish(ctx, p.opts.Ref.Relays, evt); err != nil {
		return fmt.Errorf("event-published: %w", err)
	}
	return nil
}

func headRef(refs map[string]string) string {
	if _, ok := refs["refs/heads/main"]; ok {
		return "refs/heads/main"
	}
	if _, ok := refs["refs/heads/master"]; ok {
		return "refs/heads/master"
	}
	return ""
}
