package pool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vbp1/mongoclone/internal/pool"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := pool.New(2)
	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("pool of 2 ran %d tasks at once", got)
	}
}

func TestPoolCanceledWhileWaiting(t *testing.T) {
	p := pool.New(1)
	block := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func() error {
			<-block
			return nil
		})
	}()
	// let the first task take the slot
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Do(ctx, func() error { return nil })
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(block)
}

func TestPoolDefaultSize(t *testing.T) {
	if pool.New(0).Size() < 1 {
		t.Fatal("default pool size must be at least 1")
	}
}
