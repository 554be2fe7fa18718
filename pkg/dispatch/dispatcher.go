package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"

	"github.com/anonchat-bot/anonchat/pkg/logger"
)

const laneIdleAfter = 5 * time.Minute

// Stats are cumulative dispatch outcome counters.
type Stats struct {
	Success     uint64
	Recoverable uint64
	Fatal       uint64
	Unrouted    uint64
}

type lane struct {
	ch      chan telego.Update
	pending int64 // queued + in-flight, guarded by Dispatcher.mu for writes from Dispatch
	stopped bool
}

// Dispatcher routes updates to handlers and serializes execution per chat.
// One goroutine per active chat lane pulls updates in arrival order and runs
// them through the shared pool; distinct chats proceed concurrently up to
// the pool size.
type Dispatcher struct {
	pool    *Pool
	laneBuf int

	mu     sync.Mutex
	lanes  map[int64]*lane
	routes map[Route]HandlerFunc

	draining chan struct{}
	drainOne sync.Once
	wg       sync.WaitGroup

	success     atomic.Uint64
	recoverable atomic.Uint64
	fatal       atomic.Uint64
	unrouted    atomic.Uint64
}

func NewDispatcher(pool *Pool, laneBuf int) *Dispatcher {
	if laneBuf <= 0 {
		laneBuf = 16
	}
	return &Dispatcher{
		pool:     pool,
		laneBuf:  laneBuf,
		lanes:    make(map[int64]*lane),
		routes:   make(map[Route]HandlerFunc),
		draining: make(chan struct{}),
	}
}

// Handle registers a handler for a route. Not safe to call after Dispatch
// has started; registration happens once at wiring time.
func (d *Dispatcher) Handle(kind Kind, command string, h HandlerFunc) {
	d.routes[Route{Kind: kind, Command: command}] = h
}

// Dispatch enqueues an update onto its chat lane, blocking when the lane is
// full (backpressure toward the polling loop) and failing only when ctx is
// cancelled. A nil return means the update has been durably handed off and
// the caller may advance its cursor.
func (d *Dispatcher) Dispatch(ctx context.Context, u telego.Update) error {
	l := d.laneFor(LaneKey(u))
	select {
	case l.ch <- u:
		return nil
	case <-ctx.Done():
		d.release(l)
		return ctx.Err()
	}
}

func (d *Dispatcher) laneFor(key int64) *lane {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.lanes[key]
	if !ok || l.stopped {
		l = &lane{ch: make(chan telego.Update, d.laneBuf)}
		d.lanes[key] = l
		d.wg.Add(1)
		go d.runLane(key, l)
	}
	l.pending++
	return l
}

func (d *Dispatcher) release(l *lane) {
	d.mu.Lock()
	l.pending--
	d.mu.Unlock()
}

func (d *Dispatcher) runLane(key int64, l *lane) {
	defer d.wg.Done()

	idle := time.NewTimer(laneIdleAfter)
	defer idle.Stop()

	for {
		select {
		case u := <-l.ch:
			d.process(u)
			d.release(l)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(laneIdleAfter)

		case <-idle.C:
			d.mu.Lock()
			if l.pending == 0 {
				l.stopped = true
				delete(d.lanes, key)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(laneIdleAfter)

		case <-d.draining:
			d.drainLane(key, l)
			return
		}
	}
}

// drainLane empties the lane queue, then retires it. New dispatches are not
// expected once draining starts; the polling loop stops first.
func (d *Dispatcher) drainLane(key int64, l *lane) {
	for {
		select {
		case u := <-l.ch:
			d.process(u)
			d.release(l)
		default:
			d.mu.Lock()
			l.stopped = true
			delete(d.lanes, key)
			d.mu.Unlock()
			return
		}
	}
}

func (d *Dispatcher) process(u telego.Update) {
	r := RouteOf(u)
	h, ok := d.routes[r]
	if !ok {
		// Try the bare-kind route so a catch-all message handler also
		// covers unknown commands if registered that way.
		h, ok = d.routes[Route{Kind: r.Kind}]
	}
	if !ok {
		d.unrouted.Add(1)
		logger.DebugCF("dispatch", "no handler for update", map[string]interface{}{
			"update_id": u.UpdateID,
			"kind":      r.Kind.String(),
			"command":   r.Command,
		})
		return
	}

	switch d.pool.Run(h, u) {
	case ResultSuccess:
		d.success.Add(1)
	case ResultRecoverable:
		d.recoverable.Add(1)
	default:
		d.fatal.Add(1)
	}
}

// Drain stops lane workers after their queues empty, waiting up to grace.
// Handlers still running past the grace period are abandoned to their own
// timeouts.
func (d *Dispatcher) Drain(grace time.Duration) {
	d.drainOne.Do(func() { close(d.draining) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoC("dispatch", "all lanes drained")
	case <-time.After(grace):
		logger.WarnCF("dispatch", "drain grace expired, abandoning in-flight handlers", map[string]interface{}{
			"grace": grace.String(),
		})
	}
}

// Stats returns a snapshot of the outcome counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Success:     d.success.Load(),
		Recoverable: d.recoverable.Load(),
		Fatal:       d.fatal.Load(),
		Unrouted:    d.unrouted.Load(),
	}
}
