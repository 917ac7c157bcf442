// Package credential resolves HTTPS basic-auth credentials for the git
// dispatcher by shelling out to `git credential fill`, the same external
// helper protocol the git CLI itself uses (spec.md §4.6: "HTTPS
// credential lookup defers to the git credential helper"). Grounded on
// the exec.Command-driven git invocation pattern in
// ia-eknorr-stoker-operator's internal git client.
package credential

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// Source resolves a username/password pair for an HTTPS clone URL.
type Source interface {
	Lookup(cloneURL string) (username, password string, err error)
}

// GitCredentialHelper shells out to `git credential fill`.
type GitCredentialHelper struct {
	Timeout time.Duration
}

// NewGitCredentialHelper builds a Source backed by the user's configured
// git credential helper(s).
func NewGitCredentialHelper() *GitCredentialHelper {
	return &GitCredentialHelper{Timeout: 10 * time.Second}
}

func (g *GitCredentialHelper) Lookup(cloneURL string) (string, string, error) {
	u, err := url.Parse(cloneURL)
	if err != nil {
		return "", "", fmt.Errorf("parse clone url %s: %w", cloneURL, err)
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "credential", "fill")
	cmd.Stdin = strings.NewReader(fmt.Sprintf("protocol=%s\nhost=%s\npath=%s\n\n", u.Scheme, u.Host, strings.TrimPrefix(u.Path, "/")))

	out, err := cmd.Output()
	if err != nil {
		return "", "", fmt.Errorf("git credential fill for %s: %w", cloneURL, err)
	}

	var username, password string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "username="):
			username = strings.TrimPrefix(line, "username=")
		case strings.HasPrefix(line, "password="):
			password = strings.TrimPrefix(line, "password=")
		}
	}

	if username == "" && password == "" {
		return "", "", fmt.Errorf("git credential fill returned no credentials for %s", cloneURL)
	}
	return username, password, nil
}

// Static is an in-memory Source for a caller that supplies credentials
// directly rather than via the helper.
type Static struct {
	Username, Password string
}

func (s Static) Lookup(string) (string, string, error) {
	return s.Username, s.Password, nil
}
