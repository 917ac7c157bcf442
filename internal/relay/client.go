// Package relay wraps go-nostr's SimplePool with the subscribe/publish/
// query surface SPEC_FULL.md §4.2 describes: fetch announcements and
// state events, publish proposal/status/push events, and (on relays that
// demand it) complete NIP-42 AUTH before a write is accepted. Grounded on
// the SimplePool wrapper pattern in sandwichfarm-nophr's internal/nostr
// client, adapted from fmt.Printf progress logging to zerolog and from a
// config.Relays struct to this repository's []string relay lists.
package relay

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"
)

// Client is a thin, logged wrapper around *nostr.SimplePool.
type Client struct {
	pool   *nostr.SimplePool
	log    zerolog.Logger
	signer AuthSigner
}

// AuthSigner signs the ephemeral kind-22242 AUTH event a relay may
// challenge a write with (NIP-42). It is satisfied by signer.Signer.
type AuthSigner interface {
	PubKey() string
	Sign(ctx context.Context, evt *nostr.Event) error
}

// New builds a Client. signer may be nil if the caller never intends to
// publish (pure read paths, e.g. fetch/list in the remote helper).
func New(ctx context.Context, log zerolog.Logger, signer AuthSigner) *Client {
	opts := []nostr.PoolOption{}
	if signer != nil {
		opts = append(opts, nostr.WithAuthHandler(func(ctx context.Context, authEvent *nostr.Event) error {
			return signer.Sign(ctx, authEvent)
		}))
	}
	pool := nostr.NewSimplePool(ctx, opts...)
	return &Client{pool: pool, log: log, signer: signer}
}

// Pool exposes the underlying SimplePool for callers that need
// lower-level access (e.g. per-relay connection status).
func (c *Client) Pool() *nostr.SimplePool { return c.pool }

// Fetch collects every event matching filter across relays, waiting for
// EOSE on each before returning. Used for one-shot lookups: announcement
// discovery, state-event reconciliation, proposal/status indexing.
func (c *Client) Fetch(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	if len(relays) == 0 {
		return nil, fmt.Errorf("fetch: no relays given")
	}

	var events []*nostr.Event
	for ev := range c.pool.SubManyEose(ctx, relays, nostr.Filters{filter}) {
		if ev.Event != nil {
			events = append(events, ev.Event)
		}
	}
	c.log.Debug().Int("count", len(events)).Strs("relays", relays).Msg("relay fetch complete")
	return events, nil
}

// FetchOne fetches a single event by id, returning nil if none of the
// relays have it.
func (c *Client) FetchOne(ctx context.Context, relays []string, id string) (*nostr.Event, error) {
	result := c.pool.QuerySingle(ctx, relays, nostr.Filter{IDs: []string{id}})
	if result == nil {
		return nil, nil
	}
	return result.Event, nil
}

// Publish sends evt to every relay in the list, returning an error only
// if every single publish failed. NIP-42 AUTH is handled transparently by
// SimplePool via the handler installed in New.
func (c *Client) Publish(ctx context.Context, relays []string, evt nostr.Event) error {
	if len(relays) == 0 {
		return fmt.Errorf("publish: no relays given")
	}

	var lastErr error
	ok := 0
	for res := range c.pool.PublishMany(ctx, relays, evt) {
		if res.Error != nil {
			c.log.Warn().Str("relay", res.RelayURL).Err(res.Error).Msg("publish rejected")
			lastErr = res.Error
			continue
		}
		ok++
	}

	if ok == 0 {
		return fmt.Errorf("publish to all %d relays failed: %w", len(relays), lastErr)
	}
	return nil
}

// Subscribe streams live events matching filters from relays until ctx is
// cancelled. The returned channel is closed when the subscription ends.
func (c *Client) Subscribe(ctx context.Context, relays []string, filters nostr.Filters) <-chan *nostr.Event {
	out := make(chan *nostr.Event, 64)
	go func() {
		defer close(out)
		for ev := range c.pool.SubMany(ctx, relays, filters) {
			if ev.Event == nil {
				continue
			}
			select {
			case out <- ev.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close tears down every relay connection held by the pool.
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}
