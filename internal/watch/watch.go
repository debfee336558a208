// Package watch keeps a live event stream open against a promptlab server,
// reconnecting with exponential backoff and resuming the changelog from the
// last entry it saw.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy controls the delay between reconnect attempts. The first retry
// waits BaseDelay; each later one multiplies the delay by Multiplier, capped
// at MaxDelay.
type Policy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultPolicy is 1s doubling up to 30s.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
}

// Validate rejects policies that would spin or never grow.
func (p Policy) Validate() error {
	var errs []error
	if p.BaseDelay <= 0 {
		errs = append(errs, errors.New("base delay must be positive"))
	}
	if p.Multiplier < 1 {
		errs = append(errs, errors.New("multiplier must be at least 1"))
	}
	if p.MaxDelay < p.BaseDelay {
		errs = append(errs, errors.New("max delay must be at least the base delay"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("watch: invalid policy: %w", errors.Join(errs...))
	}
	return nil
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ConnectFunc opens the event stream, resuming after the changelog entry
// since. An empty since asks for the full changelog.
type ConnectFunc func(ctx context.Context, since string) (io.ReadCloser, error)

// Supervisor owns one logical subscription across any number of
// connections.
type Supervisor struct {
	policy  Policy
	connect ConnectFunc
	handle  func(Event)
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	since string
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSince sets the changelog cursor used for the first connection.
func WithSince(id string) Option {
	return func(s *Supervisor) { s.since = id }
}

// WithLogger sets the logger for connection state changes.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// New creates a Supervisor that passes every event to handle.
func New(policy Policy, connect ConnectFunc, handle func(Event), opts ...Option) (*Supervisor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	s := &Supervisor{
		policy:  policy,
		connect: connect,
		handle:  handle,
		logger:  slog.Default(),
		sleep:   sleepContext,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Since returns the id of the last changelog entry seen.
func (s *Supervisor) Since() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.since
}

// Run connects and reconnects until ctx is cancelled. A connection that
// opens successfully resets the backoff, so a stream that drops after a long
// healthy period retries quickly.
func (s *Supervisor) Run(ctx context.Context) error {
	b := s.policy.backOff()
	for attempt := 1; ; attempt++ {
		err := s.session(ctx, b)
		if ctx.Err() != nil {
			return nil
		}
		delay := b.NextBackOff()
		s.logger.Warn("watch: stream interrupted, reconnecting",
			"error", err, "attempt", attempt, "delay", delay, "since", s.Since())
		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (s *Supervisor) session(ctx context.Context, b backoff.BackOff) error {
	body, err := s.connect(ctx, s.Since())
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()
	b.Reset()
	s.logger.Info("watch: connected", "since", s.Since())

	stream := NewStream(body)
	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("watch: server closed the stream")
			}
			return err
		}
		s.track(ev)
		s.handle(ev)
	}
}

// track advances the changelog cursor from initial_state and
// changelog_entry_added events.
func (s *Supervisor) track(ev Event) {
	var id string
	switch ev.Type {
	case "initial_state":
		var state struct {
			LatestChangelogID string `json:"latest_changelog_id"`
		}
		if json.Unmarshal(ev.Data, &state) == nil {
			id = state.LatestChangelogID
		}
	case "changelog_entry_added":
		var added struct {
			Entry struct {
				ID string `json:"id"`
			} `json:"entry"`
		}
		if json.Unmarshal(ev.Data, &added) == nil {
			id = added.Entry.ID
		}
	}
	if id == "" {
		return
	}
	s.mu.Lock()
	s.since = id
	s.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
