package ingestion

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/event"
	"SaleLedger/internal/observability"
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Submitter is the part of the core the sequencer drives.
type Submitter interface {
	Submit(evt event.Event) (*core.CoreOutput, error)
}

var ErrSequencerStopped = errors.New("sequencer stopped")

type request struct {
	cmd   Command
	reply chan result
}

type result struct {
	out *core.CoreOutput
	err error
}

// Sequencer is the single goroutine that stamps commands and submits them.
// Every transport goes through it, so timestamps reach the core in order
// even when the wall clock steps backwards.
type Sequencer struct {
	core     Submitter
	clock    clockwork.Clock
	requests chan request
	done     chan struct{}
	last     time.Time
	logger   zerolog.Logger
}

// NewSequencer starts stamping no earlier than last, normally the core's
// LastTimestamp after recovery.
func NewSequencer(c Submitter, clock clockwork.Clock, last time.Time, depth int) *Sequencer {
	return &Sequencer{
		core:     c,
		clock:    clock,
		requests: make(chan request, depth),
		done:     make(chan struct{}),
		last:     last,
		logger:   observability.NewLogger("sequencer"),
	}
}

// Run processes commands until ctx is done. Later and pending Submits
// fail with ErrSequencerStopped.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.requests:
			out, err := s.core.Submit(req.cmd.Event(s.stamp()))
			req.reply <- result{out: out, err: err}
		}
	}
}

// Submit queues cmd and waits for the core's answer.
func (s *Sequencer) Submit(ctx context.Context, cmd Command) (*core.CoreOutput, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	req := request{cmd: cmd, reply: make(chan result, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return nil, ErrSequencerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.out, res.err
	case <-s.done:
		select {
		case res := <-req.reply:
			return res.out, res.err
		default:
			return nil, ErrSequencerStopped
		}
	case <-ctx.Done():
		// The command may still be applied; a retry with the same
		// request id is answered with ErrDuplicateEvent.
		return nil, ctx.Err()
	}
}

// stamp truncates to microseconds, the precision the event log stores,
// so replayed events hash the same as live ones.
func (s *Sequencer) stamp() time.Time {
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	if now.Before(s.last) {
		s.logger.Warn().Time("clock", now).Time("last", s.last).Msg("clock behind last event, holding timestamp")
		now = s.last
	}
	s.last = now
	return now
}
