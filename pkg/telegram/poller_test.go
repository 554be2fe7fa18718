package telegram

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/anonchat-bot/anonchat/pkg/sequencer"
)

func update(id int, chatID int64) telego.Update {
	return telego.Update{
		UpdateID: id,
		Message: &telego.Message{
			MessageID: id,
			From:      &telego.User{ID: chatID},
			Chat:      telego.Chat{ID: chatID, Type: "private"},
			Text:      "hi",
		},
	}
}

// scriptedSource replays a fixed list of batches, then cancels the run.
type scriptedSource struct {
	mu      sync.Mutex
	batches [][]telego.Update
	offsets []int
	done    context.CancelFunc
}

func (s *scriptedSource) FetchUpdates(ctx context.Context, offset, timeoutSeconds int) ([]telego.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offsets = append(s.offsets, offset)
	if len(s.batches) == 0 {
		s.done()
		return nil, &TransportError{Kind: KindTimeout, Err: context.DeadlineExceeded}
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

type recordingSink struct {
	mu     sync.Mutex
	ids    []int
	byChat map[int64][]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{byChat: make(map[int64][]int)}
}

func (r *recordingSink) Dispatch(ctx context.Context, u telego.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, u.UpdateID)
	if u.Message != nil {
		chat := u.Message.Chat.ID
		r.byChat[chat] = append(r.byChat[chat], u.UpdateID)
	}
	return nil
}

func runPoller(t *testing.T, batches [][]telego.Update) (*scriptedSource, *recordingSink, *Poller) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	source := &scriptedSource{batches: batches, done: cancel}
	sink := newRecordingSink()
	seq := sequencer.New(128)
	backoff := NewBackoff(time.Millisecond, 2*time.Millisecond, 0)
	p := NewPoller(source, seq, sink, backoff, 1)

	if err := p.Run(ctx); !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v", err)
	}
	return source, sink, p
}

// The spec's end-to-end scenario: a duplicated batch must not reach the
// sink twice, and the cursor ends past the highest acknowledged update.
func TestPollerDeduplicatesRedeliveredBatch(t *testing.T) {
	_, sink, p := runPoller(t, [][]telego.Update{
		{update(1, 100), update(2, 200)},
		{update(1, 100)}, // redelivery after a simulated retry
	})

	if got := sink.byChat[100]; len(got) != 1 || got[0] != 1 {
		t.Errorf("chat 100 handled %v, want exactly [1]", got)
	}
	if got := sink.byChat[200]; len(got) != 1 || got[0] != 2 {
		t.Errorf("chat 200 handled %v, want exactly [2]", got)
	}
	// Next offset is one past the highest acknowledged update (id 2).
	if p.Cursor() != 3 {
		t.Errorf("Cursor = %d, want 3", p.Cursor())
	}
}

// Randomized replay: batches with random redelivered suffixes must keep the
// requested offset non-decreasing and the sink exactly-once.
func TestPollerCursorMonotonicUnderReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	var batches [][]telego.Update
	nextID := 1
	for i := 0; i < 40; i++ {
		size := 1 + rng.Intn(4)
		var batch []telego.Update
		for j := 0; j < size; j++ {
			batch = append(batch, update(nextID, int64(1+rng.Intn(5))))
			nextID++
		}
		batches = append(batches, batch)
		if rng.Intn(3) == 0 {
			// Simulate a retry: redeliver the batch verbatim.
			batches = append(batches, batch)
		}
	}

	source, sink, _ := runPoller(t, batches)

	for i := 1; i < len(source.offsets); i++ {
		if source.offsets[i] < source.offsets[i-1] {
			t.Fatalf("cursor regressed: offsets[%d]=%d < offsets[%d]=%d",
				i, source.offsets[i], i-1, source.offsets[i-1])
		}
	}

	seen := make(map[int]bool)
	for _, id := range sink.ids {
		if seen[id] {
			t.Fatalf("update %d dispatched twice", id)
		}
		seen[id] = true
	}
	if len(seen) != nextID-1 {
		t.Errorf("dispatched %d unique updates, want %d", len(seen), nextID-1)
	}
}

type failingSource struct{}

func (failingSource) FetchUpdates(ctx context.Context, offset, timeoutSeconds int) ([]telego.Update, error) {
	return nil, &TransportError{Kind: KindUnreachable, Err: errors.New("connection refused")}
}

func TestPollerEscalatesAfterConsecutiveFailures(t *testing.T) {
	seq := sequencer.New(16)
	backoff := NewBackoff(time.Millisecond, 2*time.Millisecond, 3)
	p := NewPoller(failingSource{}, seq, newRecordingSink(), backoff, 1)

	err := p.Run(context.Background())
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("Run() = %v, want ErrTooManyFailures", err)
	}
}

func TestPollerTimeoutRetriesWithoutBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	source := sourceFunc(func(fctx context.Context, offset, timeoutSeconds int) ([]telego.Update, error) {
		calls++
		if calls >= 5 {
			cancel()
		}
		return nil, &TransportError{Kind: KindTimeout, Err: context.DeadlineExceeded}
	})

	seq := sequencer.New(16)
	// maxFailures 2: if timeouts hit the backoff controller this returns
	// ErrTooManyFailures instead of running until cancel.
	backoff := NewBackoff(time.Millisecond, 2*time.Millisecond, 2)
	p := NewPoller(source, seq, newRecordingSink(), backoff, 1)

	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if calls < 5 {
		t.Errorf("fetch called %d times, want at least 5", calls)
	}
}

type sourceFunc func(ctx context.Context, offset, timeoutSeconds int) ([]telego.Update, error)

func (f sourceFunc) FetchUpdates(ctx context.Context, offset, timeoutSeconds int) ([]telego.Update, error) {
	return f(ctx, offset, timeoutSeconds)
}
