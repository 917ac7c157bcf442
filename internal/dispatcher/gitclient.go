package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nostrgit/ngit/internal/credential"
)

// LocalGitClient drives a *git.Repository's remote operations over
// go-git, grounded on weaveworks-libgitops's gitdir.clone()/push()
// pattern of a context-bound PlainCloneContext/PushContext call wrapped
// in error translation. Each Endpoint is resolved against a throwaway
// git.Remote pointed at Endpoint.CloneURL, since one dispatcher may need
// to try several different clone[] URLs in sequence.
type LocalGitClient struct {
	repo  *git.Repository
	creds credential.Source
	log   zerolog.Logger
}

// NewLocalGitClient wraps an already-open local repository. creds
// resolves HTTPS basic-auth credentials on demand (§4.6 "HTTPS
// credential lookup defers to the git credential helper"); it may be nil
// if only unauthenticated HTTPS/explicit-transport operations are used.
func NewLocalGitClient(repo *git.Repository, creds credential.Source, log zerolog.Logger) *LocalGitClient {
	return &LocalGitClient{repo: repo, creds: creds, log: log}
}

func (c *LocalGitClient) remoteName(ep Endpoint) string {
	return "ngit-dispatch-" + strings.Map(func(r rune) rune {
		if r == '/' || r == ':' || r == '@' {
			return '-'
		}
		return r
	}, ep.CloneURL)
}

func (c *LocalGitClient) ensureRemote(ep Endpoint) (*git.Remote, error) {
	name := c.remoteName(ep)
	remote, err := c.repo.Remote(name)
	if err == nil {
		return remote, nil
	}
	return c.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{ep.CloneURL}})
}

func (c *LocalGitClient) auth(ep Endpoint) (transport.AuthMethod, error) {
	switch ep.Transport {
	case TransportHTTPSUnauth, TransportGitUnauth:
		return nil, nil
	case TransportHTTPSCred:
		if c.creds == nil {
			return nil, fmt.Errorf("no credential source configured for %s", ep.CloneURL)
		}
		user, pass, err := c.creds.Lookup(ep.CloneURL)
		if err != nil {
			return nil, fmt.Errorf("credential lookup for %s: %w", ep.CloneURL, err)
		}
		return &githttp.BasicAuth{Username: user, Password: pass}, nil
	case TransportSSH:
		return c.sshAuthMethod(ep.SSHKeySelector)
	default:
		return nil, fmt.Errorf("unknown transport %q", ep.Transport)
	}
}

func (c *LocalGitClient) sshAuthMethod(keySelector string) (transport.AuthMethod, error) {
	identityPath := keySelector
	if identityPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir for default ssh key: %w", err)
		}
		identityPath = filepath.Join(home, ".ssh", "id_ed25519")
	}
	auth, err := gitssh.NewPublicKeysFromFile("git", identityPath, "")
	if err != nil {
		return nil, fmt.Errorf("load ssh key %s: %w", identityPath, err)
	}
	if cb, err := defaultHostKeyCallback(); err == nil {
		auth.HostKeyCallback = cb
	} else {
		c.log.Warn().Err(err).Msg("no known_hosts entry available, SSH host key will not be verified")
	}
	return auth, nil
}

// defaultHostKeyCallback pins grasp-server SSH host keys against the
// user's own known_hosts file instead of go-git's InsecureIgnoreHostKey
// default. A missing or unreadable known_hosts file is not fatal here:
// the caller falls back to go-git's default callback, but logs a warning
// so the insecure fallback is visible rather than silent.
func defaultHostKeyCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
}

func (c *LocalGitClient) Fetch(ctx context.Context, ep Endpoint) error {
	remote, err := c.ensureRemote(ep)
	if err != nil {
		return fmt.Errorf("ensure remote for %s: %w", ep.CloneURL, err)
	}
	auth, err := c.auth(ep)
	if err != nil {
		return err
	}

	err = c.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remote.Config().Name,
		Auth:       auth,
		Tags:       git.AllTags,
		Force:      true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("fetch %s via %s: %w", ep.CloneURL, ep.Transport, err)
	}
	return nil
}

func (c *LocalGitClient) Push(ctx context.Context, ep Endpoint) error {
	remote, err := c.ensureRemote(ep)
	if err != nil {
		return fmt.Errorf("ensure remote for %s: %w", ep.CloneURL, err)
	}
	auth, err := c.auth(ep)
	if err != nil {
		return err
	}

	err = c.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote.Config().Name,
		Auth:       auth,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("push %s via %s: %w", ep.CloneURL, ep.Transport, err)
	}
	return nil
}

func (c *LocalGitClient) List(ctx context.Context, ep Endpoint) ([]RemoteRef, error) {
	auth, err := c.auth(ep)
	if err != nil {
		return nil, err
	}

	remote := git.NewRemote(c.repo.Storer, &config.RemoteConfig{Name: "ngit-list-tmp", URLs: []string{ep.CloneURL}})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		return nil, fmt.Errorf("list %s via %s: %w", ep.CloneURL, ep.Transport, err)
	}

	out := make([]RemoteRef, 0, len(refs))
	for _, r := range refs {
		if r.Name() == plumbing.HEAD {
			continue
		}
		out = append(out, RemoteRef{Name: r.Name().String(), OID: r.Hash().String()})
	}
	return out, nil
}
