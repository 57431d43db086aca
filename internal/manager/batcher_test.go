package manager

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tensord/internal/backend"
)

func pendingRequest(id string, rows int) *hostRequest {
	return newHostRequest(context.Background(), id, nil, nil, rows)
}

func TestAdmitQueueFullIsTooBusy(t *testing.T) {
	// No workers: the first request is taken off the queue and waits for an
	// instance, the second fills the queue, the third times out.
	b := newBatcher("m", backend.ModelConfig{}, nil, 1, nil, zerolog.Nop())
	ctx := context.Background()
	r1, r2, r3 := pendingRequest("r1", 1), pendingRequest("r2", 1), pendingRequest("r3", 1)
	if err := b.admit(ctx, r1, time.Second); err != nil {
		t.Fatalf("admit r1: %v", err)
	}
	if err := b.admit(ctx, r2, time.Second); err != nil {
		t.Fatalf("admit r2: %v", err)
	}
	if err := b.admit(ctx, r3, 20*time.Millisecond); !IsTooBusy(err) {
		t.Fatalf("expected tooBusyError, got %v", err)
	}
	if got := b.pending(); got != 2 {
		t.Fatalf("pending=%d want 2", got)
	}

	b.stop()
	for _, r := range []*hostRequest{r1, r2} {
		res := <-r.result
		if !IsDependencyUnavailable(res.err) {
			t.Fatalf("%s: expected unavailable after stop, got %v", r.id, res.err)
		}
	}
	if got := b.pending(); got != 0 {
		t.Fatalf("pending=%d after stop", got)
	}
	if err := b.admit(ctx, pendingRequest("r4", 1), time.Second); !IsTooBusy(err) {
		t.Fatalf("expected stopped batcher to reject, got %v", err)
	}
}

func TestAdmitRespectsCanceledContext(t *testing.T) {
	b := newBatcher("m", backend.ModelConfig{}, nil, 1, nil, zerolog.Nop())
	defer b.stop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.admit(ctx, pendingRequest("r", 1), time.Second); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCollectSplitsAtMaxBatch(t *testing.T) {
	b := &batcher{maxBatch: 4, queue: make(chan *hostRequest, 8), quit: make(chan struct{})}
	for i, rows := range []int{2, 3, 1} {
		b.queue <- pendingRequest(string(rune('a'+i)), rows)
	}
	first := pendingRequest("first", 1)
	batch, carry := b.collect(first)
	if len(batch) != 2 || batch[1].rows != 2 {
		t.Fatalf("batch %d requests", len(batch))
	}
	if carry == nil || carry.rows != 3 {
		t.Fatalf("expected the 3-row request to start the next batch, got %+v", carry)
	}

	// Without batching every request runs alone.
	b.maxBatch = 0
	if batch, carry := b.collect(first); len(batch) != 1 || carry != nil {
		t.Fatalf("unbatched collect: %d %v", len(batch), carry)
	}
}

func TestCollectDropsAbandonedRequests(t *testing.T) {
	b := &batcher{maxBatch: 4, queue: make(chan *hostRequest, 4), quit: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	gone := newHostRequest(ctx, "gone", nil, nil, 1)
	cancel()
	b.queue <- gone
	batch, _ := b.collect(pendingRequest("first", 1))
	if len(batch) != 1 {
		t.Fatalf("abandoned request was batched")
	}
	if res := <-gone.result; res.err != context.Canceled {
		t.Fatalf("abandoned request result %v", res.err)
	}
}

func TestReleaseWithoutSendDeliversError(t *testing.T) {
	r := pendingRequest("r", 1)
	r.Release()
	r.Release()
	if res := <-r.result; res.err != errNoResponse {
		t.Fatalf("got %v", res.err)
	}

	r = pendingRequest("s", 1)
	resp, _ := r.NewResponse()
	resp.Send(nil)
	r.Release()
	if res := <-r.result; res.err != nil {
		t.Fatalf("send must win over release, got %v", res.err)
	}
}
