package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mymmrac/telego"

	"github.com/anonchat-bot/anonchat/pkg/logger"
)

type Result int

const (
	ResultSuccess Result = iota
	ResultRecoverable
	ResultFatal
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultRecoverable:
		return "recoverable"
	default:
		return "fatal"
	}
}

// Pool bounds global handler concurrency and enforces a per-invocation
// timeout. A handler that outlives its timeout is abandoned: its goroutine
// keeps the pool slot until it returns, but the lane moves on.
type Pool struct {
	sem     chan struct{}
	timeout time.Duration
}

func NewPool(size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 16
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pool{
		sem:     make(chan struct{}, size),
		timeout: timeout,
	}
}

// Run executes the handler for one update and classifies the outcome.
// Panics and errors are contained here; nothing propagates to the caller
// beyond the Result.
func (p *Pool) Run(h HandlerFunc, u telego.Update) Result {
	p.sem <- struct{}{}

	hctx, cancel := context.WithTimeout(context.Background(), p.timeout)

	done := make(chan error, 1)
	go func() {
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- h(hctx, u)
	}()

	select {
	case err := <-done:
		cancel()
		switch {
		case err == nil:
			return ResultSuccess
		case errors.Is(err, ErrRecoverable):
			logger.WarnCF("dispatch", "handler failed (recoverable)", map[string]interface{}{
				"update_id": u.UpdateID,
				"error":     err.Error(),
			})
			return ResultRecoverable
		default:
			logger.ErrorCF("dispatch", "handler failed", map[string]interface{}{
				"update_id": u.UpdateID,
				"error":     err.Error(),
			})
			return ResultFatal
		}
	case <-hctx.Done():
		// The handler sees the expired context and should unwind on its
		// own; its goroutine keeps the pool slot until then.
		cancel()
		logger.WarnCF("dispatch", "handler timed out, abandoning", map[string]interface{}{
			"update_id": u.UpdateID,
			"timeout":   p.timeout.String(),
		})
		return ResultRecoverable
	}
}
