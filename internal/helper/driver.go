// Package helper implements the git remote-helper line protocol exactly
// as spec.md §4.7 describes it (capabilities/list/fetch/push,
// blank-line-terminated blocks over stdin/stdout). Grounded on the
// bufio.Scanner-over-stdin command loop in gittuf's
// internal/git-remote-gittuf SSH helper; unlike gittuf this driver never
// speaks raw pkt-line — fetch/push are delegated wholesale to
// internal/dispatcher (which drives go-git), since the spec's fetch/push
// operations are server-transport-level, not protocol-v2-level.
package helper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// RefLister supplies the ref table to advertise for list/"list for-push".
type RefLister interface {
	// Refs returns every ref name -> object id pair to advertise (the
	// reconciled RepoState plus proposal refs, §4.4/§4.5), and the
	// symbolic HEAD target ref name, if any.
	Refs(ctx context.Context) (refs map[string]string, headTarget string, err error)
}

// ObjectFetcher ensures the requested oids are present in the local
// object store (§4.7 "fetch").
type ObjectFetcher interface {
	Fetch(ctx context.Context, want []FetchWant) error
	// HasObject reports whether oid already resolves locally, used to
	// verify the fetch batch per §4.7 ("verify every requested oid now
	// resolves locally; missing oids fail the batch").
	HasObject(oid string) bool
}

// FetchWant is one "fetch <oid> <ref>" line.
type FetchWant struct {
	OID string
	Ref string
}

// Pusher drives the §4.7/§4.8 push state machine for a whole batch.
type Pusher interface {
	Push(ctx context.Context, specs []PushSpec) ([]PushResult, error)
}

// PushSpec is one "<src>:<dst>" refspec from a push command line. Force
// is true when src was prefixed with "+".
type PushSpec struct {
	Src   string
	Dst   string
	Force bool
}

// PushResult is the outcome of one PushSpec, reported back to git as
// either "ok <dst>" or "error <dst> <reason>".
type PushResult struct {
	Dst    string
	OK     bool
	Reason string
}

// Driver runs the line-protocol loop: read one command (or batch of
// commands) from in, execute it against the injected collaborators, and
// write the required protocol response to out. Commands are processed
// strictly serially, matching git's own expectation (§5).
type Driver struct {
	in    *bufio.Scanner
	out   io.Writer
	refs  RefLister
	fetch ObjectFetcher
	push  Pusher
	log   zerolog.Logger
}

// New builds a Driver reading commands from in and writing protocol
// responses to out. out MUST be the process's real stdout — stderr is
// reserved for diagnostics (§9 "structured logging... bound to stderr").
func New(in io.Reader, out io.Writer, refs RefLister, fetch ObjectFetcher, push Pusher, log zerolog.Logger) *Driver {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Driver{in: scanner, out: out, refs: refs, fetch: fetch, push: push, log: log}
}

// Run processes commands until stdin is exhausted or a fatal protocol
// error occurs.
func (d *Driver) Run(ctx context.Context) error {
	for d.in.Scan() {
		line := d.in.Text()
		if line == "" {
			continue
		}

		var err error
		switch {
		case line == "capabilities":
			err = d.handleCapabilities()
		case line == "list" || line == "list for-push":
			err = d.handleList(ctx, line == "list for-push")
		case strings.HasPrefix(line, "fetch "):
			err = d.handleFetch(ctx, line)
		case line == "push" || strings.HasPrefix(line, "push "):
			err = d.handlePush(ctx, line)
		default:
			return fmt.Errorf("unknown remote-helper command %q", line)
		}
		if err != nil {
			return fmt.Errorf("handling %q: %w", line, err)
		}
	}
	return d.in.Err()
}

func (d *Driver) writeLine(format string, args ...any) error {
	_, err := fmt.Fprintf(d.out, format+"\n", args...)
	return err
}

func (d *Driver) handleCapabilities() error {
	d.log.Debug().Msg("cmd: capabilities")
	if err := d.writeLine("fetch"); err != nil {
		return err
	}
	if err := d.writeLine("push"); err != nil {
		return err
	}
	return d.writeLine("")
}

func (d *Driver) handleList(ctx context.Context, forPush bool) error {
	d.log.Debug().Bool("for_push", forPush).Msg("cmd: list")

	refs, headTarget, err := d.refs.Refs(ctx)
	if err != nil {
		return fmt.Errorf("list refs: %w", err)
	}

	for name, oid := range refs {
		if err := d.writeLine("%s %s", oid, name); err != nil {
			return err
		}
	}
	if headTarget != "" {
		if err := d.writeLine("@%s HEAD", headTarget); err != nil {
			return err
		}
	}
	return d.writeLine("")
}

func (d *Driver) handleFetch(ctx context.Context, first string) error {
	var wants []FetchWant
	line := first
	for {
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == "fetch" {
			wants = append(wants, FetchWant{OID: fields[1], Ref: fields[2]})
		}
		if !d.in.Scan() {
			break
		}
		line = d.in.Text()
		if line == "" {
			break
		}
	}

	d.log.Debug().Int("count", len(wants)).Msg("cmd: fetch")
	if err := d.fetch.Fetch(ctx, wants); err != nil {
		return fmt.Errorf("fetch batch: %w", err)
	}

	var missing []string
	for _, w := range wants {
		if !d.fetch.HasObject(w.OID) {
			missing = append(missing, w.OID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("fetch batch incomplete, missing objects: %s", strings.Join(missing, ", "))
	}

	return d.writeLine("")
}

func (d *Driver) handlePush(ctx context.Context, first string) error {
	var specs []PushSpec
	line := first
	for {
		if spec, ok := parsePushLine(line); ok {
			specs = append(specs, spec)
		}
		if !d.in.Scan() {
			break
		}
		line = d.in.Text()
		if line == "" {
			break
		}
	}

	d.log.Debug().Int("count", len(specs)).Msg("cmd: push")
	results, err := d.push.Push(ctx, specs)
	if err != nil {
		return fmt.Errorf("push batch: %w", err)
	}

	for _, r := range results {
		if r.OK {
			if err := d.writeLine("ok %s", r.Dst); err != nil {
				return err
			}
			continue
		}
		if err := d.writeLine("error %s %s", r.Dst, r.Reason); err != nil {
			return err
		}
	}
	return d.writeLine("")
}

func parsePushLine(line string) (PushSpec, bool) {
	rest := strings.TrimPrefix(line, "push ")
	if rest == line {
		return PushSpec{}, false
	}
	force := strings.HasPrefix(rest, "+")
	rest = strings.TrimPrefix(rest, "+")

	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return PushSpec{}, false
	}
	return PushSpec{Src: parts[0], Dst: parts[1], Force: force}, true
}
