// ngit-devtools is a small test-fixture CLI that publishes announcement,
// state, and proposal events against a relay for integration tests and
// manual smoke-testing (SPEC_FULL.md §2). It is explicitly NOT the
// out-of-scope interactive `ngit` CLI (init/send/list/sync) named in
// spec.md §1 — those commands drive the core through the narrow
// interfaces of §6 and are not reimplemented here. Adapted from the
// teacher's cmd/git-nostr-cli/repo.go, replacing its nostr.RelayPool
// publish-and-wait-on-channel loop with internal/relay's Publish, its
// legacy kind-51 JSON-content events with this repo's tag-only kinds, and
// its flag-set-per-subcommand wiring with cobra, the subcommand CLI
// framework already in the dependency pack (cuemby-warren).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"github.com/nostrgit/ngit/internal/config"
	"github.com/nostrgit/ngit/internal/logging"
	"github.com/nostrgit/ngit/internal/relay"
	"github.com/nostrgit/ngit/internal/signer"
	"github.com/nostrgit/ngit/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ngit-devtools:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ngit-devtools",
		Short:         "publish fixture events for integration tests",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringArray("relay", nil, "relay URL to publish to (repeatable, defaults to config)")

	root.AddCommand(newKeygenCmd())
	root.AddCommand(newAnnounceCmd())
	root.AddCommand(newStateCmd())
	root.AddCommand(newProposalCmd("patch", protocol.KindPatch))
	root.AddCommand(newProposalCmd("pr", protocol.KindPullRequest))
	root.AddCommand(newStatusCmd())
	return root
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a throwaway key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := signer.GenerateEphemeral()
			if err != nil {
				return err
			}
			npub, err := nip19.EncodePublicKey(s.PubKey())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pubkey: %s\n", s.PubKey())
			fmt.Fprintf(cmd.OutOrStdout(), "npub:   %s\n", npub)
			return nil
		},
	}
}

// loadSignerOrFail reuses the NGIT_NSEC convention also used by
// cmd/git-remote-nostr, since every devtools subcommand below publishes
// signed events and none of them is a pure read path.
func loadSignerOrFail() (*signer.Ephemeral, error) {
	s, err := signer.FromEnv("NGIT_NSEC")
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("NGIT_NSEC not set; run %q for a throwaway key", "ngit-devtools keygen")
	}
	return s, nil
}

func resolveRelays(cmd *cobra.Command, cfg config.Config) ([]string, error) {
	flagged, err := cmd.Flags().GetStringArray("relay")
	if err != nil {
		return nil, err
	}
	if len(flagged) > 0 {
		return flagged, nil
	}
	return cfg.Relays, nil
}

func publishAndReport(ctx context.Context, relays []string, s *signer.Ephemeral, evt nostr.Event) (string, error) {
	log := logging.New(os.Getenv("NGIT_VERBOSE") != "")
	if err := s.Sign(ctx, &evt); err != nil {
		return "", fmt.Errorf("sign event: %w", err)
	}
	rc := relay.New(ctx, log, s)
	defer rc.Close()
	if err := rc.Publish(ctx, relays, evt); err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return fmt.Sprintf("published id=%s kind=%d to %d relay(s)", evt.ID, evt.Kind, len(relays)), nil
}

func newAnnounceCmd() *cobra.Command {
	var name, description string
	var clone, maintainers []string

	cmd := &cobra.Command{
		Use:   "announce <identifier>",
		Short: "publish a repository announcement (kind 30617)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier := args[0]

			s, err := loadSignerOrFail()
			if err != nil {
				return err
			}
			cfg, err := config.Load("~/.config/ngit")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			relays, err := resolveRelays(cmd, cfg)
			if err != nil {
				return err
			}

			tags := nostr.Tags{{"d", identifier}}
			if name != "" {
				tags = append(tags, nostr.Tag{"name", name})
			}
			if description != "" {
				tags = append(tags, nostr.Tag{"description", description})
			}
			for _, c := range clone {
				tags = append(tags, nostr.Tag{"clone", c})
			}
			for _, m := range maintainers {
				tags = append(tags, nostr.Tag{"maintainers", m})
			}

			evt := nostr.Event{Kind: protocol.KindRepositoryAnnouncement, CreatedAt: nostr.Now(), Tags: tags}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			report, err := publishAndReport(ctx, relays, s, evt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "human-readable project name")
	cmd.Flags().StringVar(&description, "description", "", "project description")
	cmd.Flags().StringArrayVar(&clone, "clone", nil, "clone[] URL (repeatable)")
	cmd.Flags().StringArrayVar(&maintainers, "maintainer", nil, "additional maintainer pubkey (repeatable)")
	return cmd
}

func newStateCmd() *cobra.Command {
	var head string

	cmd := &cobra.Command{
		Use:   "state <identifier> <ref=oid>...",
		Short: "publish a repository state event (kind 30618)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier := args[0]

			s, err := loadSignerOrFail()
			if err != nil {
				return err
			}
			cfg, err := config.Load("~/.config/ngit")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			relays, err := resolveRelays(cmd, cfg)
			if err != nil {
				return err
			}

			tags := nostr.Tags{{"d", identifier}}
			for _, arg := range args[1:] {
				ref, oid, ok := splitRefOID(arg)
				if !ok {
					return fmt.Errorf("invalid ref=oid pair %q", arg)
				}
				tags = append(tags, nostr.Tag{ref, oid})
			}
			if head != "" {
				tags = append(tags, nostr.Tag{"HEAD", head})
			}

			evt := nostr.Event{Kind: protocol.KindRepositoryState, CreatedAt: nostr.Now(), Tags: tags}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			report, err := publishAndReport(ctx, relays, s, evt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&head, "head", "", "symbolic HEAD target, e.g. refs/heads/main")
	return cmd
}

func splitRefOID(arg string) (ref, oid string, ok bool) {
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:], true
		}
	}
	return "", "", false
}

// newProposalCmd builds the patch/pr-root publisher, grounded on
// internal/push.Pipeline.publishProposalEvent's tag shape.
func newProposalCmd(name string, kind int) *cobra.Command {
	var branch, cloneURL string

	cmd := &cobra.Command{
		Use:   name + " <owner-pubkey> <identifier> <commit-oid>",
		Short: fmt.Sprintf("publish a %s-root event", name),
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerPubKey, identifier, commitOID := args[0], args[1], args[2]

			s, err := loadSignerOrFail()
			if err != nil {
				return err
			}
			cfg, err := config.Load("~/.config/ngit")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			relays, err := resolveRelays(cmd, cfg)
			if err != nil {
				return err
			}

			tags := nostr.Tags{
				{"a", fmt.Sprintf("%d:%s:%s", protocol.KindRepositoryAnnouncement, ownerPubKey, identifier)},
				{"commit", commitOID},
			}
			if branch != "" {
				tags = append(tags, nostr.Tag{"branch-name", branch})
			}
			if cloneURL != "" {
				tags = append(tags, nostr.Tag{"clone", cloneURL})
			}

			evt := nostr.Event{Kind: kind, CreatedAt: nostr.Now(), Tags: tags}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			report, err := publishAndReport(ctx, relays, s, evt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "branch-name tag")
	cmd.Flags().StringVar(&cloneURL, "clone", "", "clone URL the reviewer should fetch the branch from")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <root-event-id> <open|draft|applied|closed>",
		Short: "publish a proposal status event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootID, state := args[0], args[1]
			kind, ok := statusKindFor(state)
			if !ok {
				return fmt.Errorf("unknown status %q: want open, draft, applied, or closed", state)
			}

			s, err := loadSignerOrFail()
			if err != nil {
				return err
			}
			cfg, err := config.Load("~/.config/ngit")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			relays, err := resolveRelays(cmd, cfg)
			if err != nil {
				return err
			}

			evt := nostr.Event{Kind: kind, CreatedAt: nostr.Now(), Tags: nostr.Tags{{"e", rootID}}}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			report, err := publishAndReport(ctx, relays, s, evt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}
	return cmd
}

func statusKindFor(state string) (int, bool) {
	switch state {
	case "open":
		return protocol.KindStatusOpen, true
	case "draft":
		return protocol.KindStatusDraft, true
	case "applied":
		return protocol.KindStatusApplied, true
	case "closed":
		return protocol.KindStatusClosed, true
	default:
		return 0, false
	}
}
