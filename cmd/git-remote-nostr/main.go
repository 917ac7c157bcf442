// git-remote-nostr is the git remote-helper invoked by git whenever a
// remote URL starts with "nostr://" (spec.md §4.1, §6). It is installed
// on PATH and never run directly; git execs it as
// `git-remote-nostr <remote-name> <url>` with the line protocol on
// stdin/stdout (internal/helper).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrgit/ngit/internal/alias"
	"github.com/nostrgit/ngit/internal/config"
	"github.com/nostrgit/ngit/internal/coordinate"
	"github.com/nostrgit/ngit/internal/credential"
	"github.com/nostrgit/ngit/internal/dispatcher"
	"github.com/nostrgit/ngit/internal/eventcache"
	"github.com/nostrgit/ngit/internal/helper"
	"github.com/nostrgit/ngit/internal/logging"
	"github.com/nostrgit/ngit/internal/nostrurl"
	"github.com/nostrgit/ngit/internal/proposal"
	"github.com/nostrgit/ngit/internal/push"
	"github.com/nostrgit/ngit/internal/relay"
	"github.com/nostrgit/ngit/internal/reporef"
	"github.com/nostrgit/ngit/internal/signer"
	"github.com/nostrgit/ngit/internal/stateengine"
	"github.com/nostrgit/ngit/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "git-remote-nostr:", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: git-remote-nostr <remote-name> <url>")
	}
	remoteName, rawURL := os.Args[1], os.Args[2]

	log := logging.New(os.Getenv("NGIT_VERBOSE") != "")
	ctx := context.Background()

	u, err := nostrurl.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse remote url: %w", err)
	}

	cfg, err := config.Load("~/.config/ngit")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := git.PlainOpen(".")
	if err != nil {
		return fmt.Errorf("open local git repository: %w", err)
	}

	cache, err := eventcache.Open(cfg.EventCachePath)
	if err != nil {
		return fmt.Errorf("open event cache: %w", err)
	}
	defer cache.Close()

	sign, myPubKey := loadSigner()

	// sign may be a nil *signer.Ephemeral (no NGIT_NSEC configured, a
	// read-only invocation); pass it through an explicitly nil interface
	// rather than a non-nil interface wrapping a nil pointer.
	var authSigner relay.AuthSigner
	var pushSigner push.Signer
	if sign != nil {
		authSigner, pushSigner = sign, sign
	}

	relayClient := relay.New(ctx, log, authSigner)

	pubKey, err := alias.Resolve(ctx, u.Alias)
	if err != nil {
		return fmt.Errorf("resolve alias %s: %w", u.Alias, err)
	}

	resolver := reporef.New(cache, relayClient, cfg.MaintainerVisitBudget, cfg.DiscoveryTimeout)
	coord := coordinate.Coordinate{PubKey: pubKey, Identifier: u.Identifier}

	hintRelays := cfg.Relays
	if u.RelayHint != "" {
		hintRelays = append([]string{"wss://" + u.RelayHint}, hintRelays...)
	}

	repoRef, resolveErr := resolver.Resolve(ctx, coord, hintRelays)
	if resolveErr != nil && resolveErr != reporef.ErrNoAnnouncement {
		return fmt.Errorf("resolve repository: %w", resolveErr)
	}
	if len(repoRef.Relays) == 0 {
		repoRef.Relays = cfg.Relays
	}

	state, roots, revisions, statuses, err := fetchRepoState(ctx, relayClient, cache, repoRef)
	if err != nil {
		return fmt.Errorf("fetch repository state: %w", err)
	}
	proposals := proposal.Index(u.Identifier, roots, revisions, statuses, repoRef.MaintainerSet)

	creds := credential.NewGitCredentialHelper()
	gitClient := dispatcher.NewLocalGitClient(repo, creds, log)
	store := dispatcher.NewGitConfigStore(repo)
	dispatch := dispatcher.New(gitClient, store, cfg.DispatchTimeout, log)

	diffSizer := gitDiffSizer{repo: repo}
	forks := graspForkEnsurer{dispatch: dispatch, repoRef: repoRef}
	localRefs := gitLocalRefResolver{repo: repo}

	pipeline := push.New(push.Options{
		Ref:                     repoRef,
		MyPubKey:                myPubKey,
		PatchSizeThresholdBytes: cfg.PatchSizeThresholdBytes,
		ForcePatch:              os.Getenv("NGIT_FORCE_PATCH") == "1",
		ForcePR:                 os.Getenv("NGIT_FORCE_PR") == "1",
		BaseHeadOID:             state.Refs[state.Head],
		ExistingRefs:            state.Refs,
	}, dispatch, relayClient, pushSigner, diffSizer, forks, localRefs, log)

	lister := remoteHelperRefLister{state: state, proposals: proposals}
	fetcher := dispatcherObjectFetcher{dispatch: dispatch, repo: repo, clone: repoRef.Clone, remoteName: remoteName}

	driver := helper.New(os.Stdin, os.Stdout, lister, fetcher, pipeline, log)
	return driver.Run(ctx)
}

// loadSigner resolves the acting user's signer from NGIT_NSEC (an "nsec1"
// bech32 key or raw hex), grounded on the same env-var-driven credential
// pattern as the teacher's BRIDGE_HTTP_PORT. A missing key still allows
// pure read paths (fetch/list); only push paths require Sign to succeed.
func loadSigner() (*signer.Ephemeral, string) {
	s, err := signer.FromEnv("NGIT_NSEC")
	if err != nil || s == nil {
		return nil, ""
	}
	return s, s.PubKey()
}

// fetchRepoState gathers this repository's kind-30618 state events and
// proposal-thread events from its relay set, reconciling the former into
// a RepoState (§4.4) and returning the raw events proposal.Index needs.
func fetchRepoState(ctx context.Context, rc *relay.Client, cache *eventcache.Store, ref *coordinate.RepoRef) (coordinate.RepoState, []*nostr.Event, []*nostr.Event, []*nostr.Event, error) {
	coordTag := fmt.Sprintf("%d:%s:%s", protocol.KindRepositoryAnnouncement, ref.TrustedMaintainer, ref.Identifier)

	stateEvents, err := rc.Fetch(ctx, ref.Relays, nostr.Filter{
		Kinds:   []int{protocol.KindRepositoryState},
		Authors: ref.MaintainerSet,
	})
	if err != nil {
		return coordinate.RepoState{}, nil, nil, nil, err
	}
	for _, e := range stateEvents {
		_ = cache.Put(ctx, e)
	}
	state := stateengine.Reconcile(stateEvents, ref.Identifier, ref.MaintainerSet)

	threadEvents, err := rc.Fetch(ctx, ref.Relays, nostr.Filter{
		Kinds: append([]int{protocol.KindPatch, protocol.KindPullRequest, protocol.KindPullRequestRevision}, protocol.StatusKinds...),
		Tags:  nostr.TagMap{"a": []string{coordTag}},
	})
	if err != nil {
		return state, nil, nil, nil, err
	}

	var roots, revisions, statuses []*nostr.Event
	for _, e := range threadEvents {
		switch e.Kind {
		case protocol.KindPatch, protocol.KindPullRequest:
			roots = append(roots, e)
		case protocol.KindPullRequestRevision:
			revisions = append(revisions, e)
		default:
			if protocol.IsOpenStatus(e.Kind) || e.Kind == protocol.KindStatusClosed || e.Kind == protocol.KindStatusApplied {
				statuses = append(statuses, e)
			}
		}
	}
	return state, roots, revisions, statuses, nil
}

// remoteHelperRefLister implements helper.RefLister over the reconciled
// RepoState plus every proposal's derived refs (§4.4/§4.5).
type remoteHelperRefLister struct {
	state     coordinate.RepoState
	proposals []coordinate.Proposal
}

func (l remoteHelperRefLister) Refs(context.Context) (map[string]string, string, error) {
	refs := make(map[string]string, len(l.state.Refs))
	for name, oid := range l.state.Refs {
		refs[name] = oid
	}
	for _, p := range l.proposals {
		for _, r := range proposal.Refs(p) {
			refs[r.Name] = r.OID
		}
	}
	return refs, l.state.Head, nil
}

// dispatcherObjectFetcher implements helper.ObjectFetcher by fetching
// via the dispatcher, which tries the clone[] servers in order and stops
// at the first successful fetch, and checking the local object store.
type dispatcherObjectFetcher struct {
	dispatch   *dispatcher.Dispatcher
	repo       *git.Repository
	clone      []string
	remoteName string
}

func (f dispatcherObjectFetcher) Fetch(ctx context.Context, wants []helper.FetchWant) error {
	if len(wants) == 0 {
		return nil
	}
	return f.dispatch.Fetch(ctx, f.remoteName, f.clone, "")
}

func (f dispatcherObjectFetcher) HasObject(oid string) bool {
	_, err := f.repo.Object(plumbing.AnyObject, plumbing.NewHash(oid))
	return err == nil
}

// gitDiffSizer implements push.DiffSizer over the local repository's
// object store, used for the patch-vs-PR size threshold (§4.8).
type gitDiffSizer struct {
	repo *git.Repository
}

func (d gitDiffSizer) CumulativeDiffBytes(_ context.Context, fromOID, toOID string) (int64, error) {
	from, err := d.repo.CommitObject(plumbing.NewHash(fromOID))
	if err != nil {
		return 0, fmt.Errorf("resolve base commit %s: %w", fromOID, err)
	}
	to, err := d.repo.CommitObject(plumbing.NewHash(toOID))
	if err != nil {
		return 0, fmt.Errorf("resolve head commit %s: %w", toOID, err)
	}
	patch, err := from.Patch(to)
	if err != nil {
		return 0, fmt.Errorf("diff %s..%s: %w", fromOID, toOID, err)
	}
	return int64(len(patch.String())), nil
}

// graspForkEnsurer implements push.ForkEnsurer: it picks the pushing
// user's own announcement's clone URL if one exists among RepoRef's
// clone servers, falling back to the repository's primary clone URL
// (the common case where the grasp server auto-forks on first push).
type graspForkEnsurer struct {
	dispatch *dispatcher.Dispatcher
	repoRef  *coordinate.RepoRef
}

func (f graspForkEnsurer) EnsureFork(_ context.Context, myPubKey string) (string, error) {
	if a, ok := f.repoRef.MyAnnouncement(myPubKey); ok && len(a.Clone) > 0 {
		return a.Clone[0], nil
	}
	if len(f.repoRef.Clone) == 0 {
		return "", fmt.Errorf("no clone[] servers available to fork into")
	}
	return f.repoRef.Clone[0], nil
}

// gitLocalRefResolver implements push.LocalRefResolver over the local
// repository.
type gitLocalRefResolver struct {
	repo *git.Repository
}

func (r gitLocalRefResolver) ResolveRef(ref string) (string, error) {
	if resolved, err := r.repo.Reference(plumbing.ReferenceName(ref), true); err == nil {
		return resolved.Hash().String(), nil
	}
	h, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", fmt.Errorf("resolve local ref %s: %w", ref, err)
	}
	return h.String(), nil
}
