package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"

	"github.com/anonchat-bot/anonchat/pkg/logger"
	"github.com/anonchat-bot/anonchat/pkg/sequencer"
)

// UpdateSource fetches one batch of updates starting at offset, blocking up
// to timeoutSeconds. Satisfied by *Client; fakes implement it in tests.
type UpdateSource interface {
	FetchUpdates(ctx context.Context, offset, timeoutSeconds int) ([]telego.Update, error)
}

// UpdateSink accepts an admitted update. A nil return means the update has
// been durably handed off and the cursor may advance past it.
type UpdateSink interface {
	Dispatch(ctx context.Context, u telego.Update) error
}

// Poller owns the polling cursor. It is the only component that mutates it,
// and only after the sink has confirmed the handoff; everyone else reads
// snapshots via Cursor.
type Poller struct {
	source         UpdateSource
	seq            *sequencer.Sequencer
	sink           UpdateSink
	backoff        *Backoff
	timeoutSeconds int

	cursor atomic.Int64
}

func NewPoller(source UpdateSource, seq *sequencer.Sequencer, sink UpdateSink, backoff *Backoff, timeoutSeconds int) *Poller {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &Poller{
		source:         source,
		seq:            seq,
		sink:           sink,
		backoff:        backoff,
		timeoutSeconds: timeoutSeconds,
	}
}

// Cursor returns the next offset to be requested. Monotonically
// non-decreasing for the life of the process.
func (p *Poller) Cursor() int {
	return int(p.cursor.Load())
}

// Run is the polling loop. It returns ctx.Err() on shutdown or a wrapped
// ErrTooManyFailures when the backoff controller gives up.
func (p *Poller) Run(ctx context.Context) error {
	logger.InfoCF("poller", "starting long polling", map[string]interface{}{
		"timeout_seconds": p.timeoutSeconds,
		"offset":          p.Cursor(),
	})

	for ctx.Err() == nil {
		// Server waits timeoutSeconds; leave network margin on top.
		reqTimeout := time.Duration(p.timeoutSeconds+10) * time.Second
		reqCtx, cancel := context.WithTimeout(ctx, reqTimeout)
		updates, err := p.source.FetchUpdates(reqCtx, p.Cursor(), p.timeoutSeconds)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !p.failure(ctx, err) {
				return fmt.Errorf("polling aborted: %w", ErrTooManyFailures)
			}
			continue
		}

		p.backoff.Success()

		if err := p.handoff(ctx, updates); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// failure handles one transport error. Returns false when the loop must
// abort for good.
func (p *Poller) failure(ctx context.Context, err error) bool {
	var terr *TransportError
	if errors.As(err, &terr) && terr.Kind == KindTimeout {
		// An empty long poll is the normal idle case: retry immediately.
		logger.DebugC("poller", "long poll timed out, retrying")
		return true
	}

	var retryAfter time.Duration
	kind := KindUnreachable
	if terr != nil {
		retryAfter = terr.RetryAfter
		kind = terr.Kind
	}

	delay, ferr := p.backoff.Next(retryAfter)
	if ferr != nil {
		logger.ErrorCF("poller", "giving up after repeated failures", map[string]interface{}{
			"failures": p.backoff.Failures(),
			"error":    err.Error(),
		})
		return false
	}

	logger.WarnCF("poller", "transport degraded, backing off", map[string]interface{}{
		"kind":     kind.String(),
		"attempt":  p.backoff.Failures(),
		"delay":    delay.String(),
		"error":    err.Error(),
	})

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
	return true
}

// handoff feeds a batch through the sequencer into the dispatcher, then
// advances the cursor. Duplicates still move the cursor forward so a
// redelivered batch is not fetched a third time.
func (p *Poller) handoff(ctx context.Context, updates []telego.Update) error {
	for _, u := range updates {
		adm := p.seq.Admit(u.UpdateID)
		if adm.HasGap() {
			logger.WarnCF("poller", "sequencing gap detected", map[string]interface{}{
				"missing_from": adm.GapLow,
				"missing_to":   adm.GapHigh,
			})
		}

		if adm.Decision == sequencer.Accept {
			if err := p.sink.Dispatch(ctx, u); err != nil {
				// Not handed off: leave the cursor short of u so the next
				// run refetches it.
				return err
			}
		}

		if next := int64(u.UpdateID + 1); next > p.cursor.Load() {
			p.cursor.Store(next)
		}
	}
	return nil
}
