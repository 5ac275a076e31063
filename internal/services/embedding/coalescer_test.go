package embedding

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingProvider struct {
	calls   atomic.Int64
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *countingProvider) Embed(ctx context.Context, _ string) ([]float64, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.started != nil {
		p.once.Do(func() { close(p.started) })
	}
	if p.release != nil {
		<-p.release
	}
	return []float64{1, 0}, nil
}

func (p *countingProvider) Model() string { return "test-embedding" }

func TestCoalescerSharesOneCall(t *testing.T) {
	provider := &countingProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := NewCoalescer(provider)

	const callers = 8
	vectors := make([][]float64, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vectors[i], errs[i] = c.Embed(context.Background(), "편입 시험 일정 알려주세요")
		}()
	}

	<-provider.started
	// let the remaining callers join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	if calls := provider.calls.Load(); calls != 1 {
		t.Errorf("backend called %d times, want 1", calls)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if len(vectors[i]) != 2 {
			t.Errorf("caller %d got vector of length %d, want 2", i, len(vectors[i]))
		}
	}
}

func TestCoalescerDetachedFromCallerCancel(t *testing.T) {
	provider := &countingProvider{}
	c := NewCoalescer(provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vector, err := c.Embed(ctx, "취소된 요청")
	if err != nil {
		t.Fatalf("shared call must not inherit the caller's cancellation: %v", err)
	}
	if len(vector) != 2 {
		t.Errorf("got vector of length %d, want 2", len(vector))
	}
}
