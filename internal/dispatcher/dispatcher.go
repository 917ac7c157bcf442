package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// GitClient performs one transport attempt against one endpoint. The
// production implementation (gitclient.go) wraps go-git's
// FetchContext/PushContext/Remote.List, mirroring weaveworks-libgitops's
// gitdir.clone()/push() timeout-and-context pattern.
type GitClient interface {
	Fetch(ctx context.Context, ep Endpoint) error
	Push(ctx context.Context, ep Endpoint) error
	List(ctx context.Context, ep Endpoint) ([]RemoteRef, error)
}

// RemoteRef is one ref reported by a remote git server.
type RemoteRef struct {
	Name string
	OID  string
}

// ProtocolStore persists the last-successful transport per (remote,
// direction), the git-config-backed memory §4.6 calls for.
type ProtocolStore interface {
	Load(remote string, direction Direction) (Transport, bool)
	Save(remote string, direction Direction, t Transport) error
}

// Attempt records one (endpoint, transport) try and its outcome, for
// AllEndpointsFailedError's diagnostic list.
type Attempt struct {
	CloneURL  string
	Transport Transport
	Err       error
}

// AllEndpointsFailedError is returned when every endpoint/transport
// combination for a direction failed (§4.6 "AllEndpointsFailed").
type AllEndpointsFailedError struct {
	Direction Direction
	Attempts  []Attempt
}

func (e *AllEndpointsFailedError) Error() string {
	return fmt.Sprintf("all %d endpoint attempts failed for %s", len(e.Attempts), e.Direction)
}

// Dispatcher chooses a transport per §4.6's policy and drives GitClient,
// retrying across the ordered transport list and clone URLs until one
// attempt succeeds or all are exhausted.
type Dispatcher struct {
	client  GitClient
	store   ProtocolStore
	timeout time.Duration
	log     zerolog.Logger

	// GraspHosts names hosts known to speak the grasp-server protocol
	// (§4.6's special case). New leaves it empty; only a caller that
	// fills it in gets grasp-specific transport plans.
	GraspHosts map[string]bool
}

// New builds a Dispatcher. timeout bounds each individual attempt
// (§4.6 "default 15-30s").
func New(client GitClient, store ProtocolStore, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Dispatcher{client: client, store: store, timeout: timeout, log: log, GraspHosts: map[string]bool{}}
}

// Fetch tries every clone URL's planned transports in order, persisting
// the first success as the preferred transport for (remoteName, fetch).
func (d *Dispatcher) Fetch(ctx context.Context, remoteName string, cloneURLs []string, sshKeySelector string) error {
	return d.dispatch(ctx, remoteName, DirectionFetch, cloneURLs, sshKeySelector, d.client.Fetch)
}

// Push tries every clone URL's planned transports in order, persisting
// the first success as the preferred transport for (remoteName, push).
func (d *Dispatcher) Push(ctx context.Context, remoteName string, cloneURLs []string, sshKeySelector string) error {
	return d.dispatch(ctx, remoteName, DirectionPush, cloneURLs, sshKeySelector, d.client.Push)
}

// List resolves the server-reported ref table without mutating local
// state, using the same transport plan as Fetch.
func (d *Dispatcher) List(ctx context.Context, remoteName string, cloneURLs []string, sshKeySelector string) ([]RemoteRef, error) {
	var refs []RemoteRef
	err := d.dispatch(ctx, remoteName, DirectionFetch, cloneURLs, sshKeySelector, func(ctx context.Context, ep Endpoint) error {
		got, err := d.client.List(ctx, ep)
		if err != nil {
			return err
		}
		refs = got
		return nil
	})
	return refs, err
}

func (d *Dispatcher) dispatch(ctx context.Context, remoteName string, direction Direction, cloneURLs []string, sshKeySelector string, op func(context.Context, Endpoint) error) error {
	preferred, hasPreferred := d.store.Load(remoteName, direction)

	var attempts []Attempt
	for _, cloneURL := range cloneURLs {
		isGrasp := IsGraspURL(cloneURL, d.GraspHosts)
		plan, err := Plan(cloneURL, direction, isGrasp)
		if err != nil {
			attempts = append(attempts, Attempt{CloneURL: cloneURL, Err: err})
			continue
		}
		plan = reorderPreferred(plan, preferred, hasPreferred)

		for _, t := range plan {
			ep := Endpoint{CloneURL: cloneURL, Transport: t, SSHKeySelector: sshKeySelector}

			attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
			err := op(attemptCtx, ep)
			cancel()

			if err == nil {
				if saveErr := d.store.Save(remoteName, direction, t); saveErr != nil {
					d.log.Warn().Err(saveErr).Msg("failed to persist preferred transport")
				}
				return nil
			}

			d.log.Debug().Str("clone_url", cloneURL).Str("transport", string(t)).Err(err).Msg("dispatcher attempt failed")
			attempts = append(attempts, Attempt{CloneURL: cloneURL, Transport: t, Err: err})
		}
	}

	return &AllEndpointsFailedError{Direction: direction, Attempts: attempts}
}

// reorderPreferred moves the previously-successful transport to the
// front of plan, if present, without changing the relative order of the
// rest (§4.6 "tried first on the next invocation").
func reorderPreferred(plan []Transport, preferred Transport, has bool) []Transport {
	if !has {
		return plan
	}
	out := make([]Transport, 0, len(plan))
	for _, t := range plan {
		if t == preferred {
			out = append([]Transport{t}, out...)
		} else {
			out = append(out, t)
		}
	}
	return out
}
