// ngit-grasp-shell is the SSH AuthorizedKeysCommand-style forced-command
// wrapper a grasp server installs as each maintainer's login shell
// (SPEC_FULL.md §2, GLOSSARY "Grasp shell"). It authorizes
// git-upload-pack/git-receive-pack against a coordinate's maintainer_set
// (resolved over the event protocol, §4.3) instead of the teacher's local
// RepositoryPermission ACL table. Adapted from cmd/git-nostr-ssh.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nostrgit/ngit/internal/config"
	"github.com/nostrgit/ngit/internal/coordinate"
	"github.com/nostrgit/ngit/internal/eventcache"
	"github.com/nostrgit/ngit/internal/logging"
	"github.com/nostrgit/ngit/internal/relay"
	"github.com/nostrgit/ngit/internal/reporef"
)

var repoNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func isValidRepoName(name string) bool {
	return name != "" && repoNameRe.MatchString(name)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// parsedCommand is the forced command's decoded form.
type parsedCommand struct {
	Verb        string
	OwnerPubKey string
	RepoName    string
}

// parseSSHCommand decodes SSH_ORIGINAL_COMMAND, e.g.
// `git-upload-pack '9a8377.../my-repo.git'`, grounded on the teacher's
// same SplitN(" ", 2)/Trim("'")/SplitN("/", 2) parse in cmd/git-nostr-ssh.
func parseSSHCommand(raw string) (parsedCommand, error) {
	split := strings.SplitN(raw, " ", 2)
	if len(split) < 2 {
		return parsedCommand{}, fmt.Errorf("invalid git command format: expected \"git-upload-pack '<owner-pubkey>/<repo-name>'\"")
	}
	repoParam := strings.Trim(split[1], "'")
	repoSplit := strings.SplitN(repoParam, "/", 2)
	if len(repoSplit) != 2 {
		return parsedCommand{}, fmt.Errorf("invalid repository path %q: expected <owner-pubkey>/<repo-name>", repoParam)
	}

	ownerPubKey := repoSplit[0]
	if _, err := hex.DecodeString(ownerPubKey); err != nil {
		return parsedCommand{}, fmt.Errorf("invalid repository owner pubkey %q: %w", ownerPubKey, err)
	}

	repoName := strings.TrimSuffix(repoSplit[1], ".git")
	if !isValidRepoName(repoName) {
		return parsedCommand{}, fmt.Errorf("invalid repository name %q", repoName)
	}

	return parsedCommand{Verb: split[0], OwnerPubKey: ownerPubKey, RepoName: repoName}, nil
}

func run() error {
	if len(os.Args) != 2 {
		return fmt.Errorf("interactive login not allowed")
	}
	targetPubKey := os.Args[1]

	sshCommand := os.Getenv("SSH_ORIGINAL_COMMAND")
	if sshCommand == "" {
		return fmt.Errorf("interactive login not allowed")
	}

	cmd, err := parseSSHCommand(sshCommand)
	if err != nil {
		return err
	}
	verb, ownerPubKey, repoName := cmd.Verb, cmd.OwnerPubKey, cmd.RepoName

	log := logging.New(os.Getenv("NGIT_VERBOSE") != "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load("~/.config/ngit")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repoPath := filepath.Join(cfg.GraspRepositoryDir, ownerPubKey, repoName+".git")
	if _, err := os.Stat(repoPath); err != nil {
		return fmt.Errorf("repository %s/%s not found: %w", ownerPubKey, repoName, err)
	}

	if verb == "git-receive-pack" {
		allowed, err := isMaintainer(ctx, cfg, log, ownerPubKey, repoName, targetPubKey)
		if err != nil {
			return fmt.Errorf("resolve maintainer set: %w", err)
		}
		if !allowed {
			return fmt.Errorf("permission denied: %s is not a maintainer of %s/%s", targetPubKey, ownerPubKey, repoName)
		}
	} else if verb != "git-upload-pack" {
		return fmt.Errorf("unsupported command %q", verb)
	}

	c := exec.Command("git", "shell", "-c", verb+" '"+repoPath+"'")
	c.Stdout, c.Stdin, c.Stderr = os.Stdout, os.Stdin, os.Stderr
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		return fmt.Errorf("git shell: %w", err)
	}
	return nil
}

// isMaintainer resolves (ownerPubKey, identifier)'s maintainer set over
// the event protocol and reports whether targetPubKey is a member
// (§4.3's trust model, used here in place of a local ACL database).
func isMaintainer(ctx context.Context, cfg config.Config, log zerolog.Logger, ownerPubKey, identifier, targetPubKey string) (bool, error) {
	cache, err := eventcache.Open(cfg.EventCachePath)
	if err != nil {
		return false, err
	}
	defer cache.Close()

	rc := relay.New(ctx, log, nil)
	defer rc.Close()

	resolver := reporef.New(cache, rc, cfg.MaintainerVisitBudget, cfg.DiscoveryTimeout)
	ref, err := resolver.Resolve(ctx, coordinate.Coordinate{PubKey: ownerPubKey, Identifier: identifier}, cfg.Relays)
	if err != nil && err != reporef.ErrNoAnnouncement {
		return false, err
	}
	return ref.IsMaintainer(targetPubKey), nil
}
