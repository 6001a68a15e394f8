// Package progress renders a live view of the clone by polling the stats
// aggregator from its own goroutine.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/vbp1/mongoclone/internal/repl"
)

// Source is the part of the orchestrator the display reads.
type Source interface {
	Stats() repl.Stats
	String() string
}

// Display polls src and renders either an mpb bar or periodic plain log
// lines, mirroring the progress modes of the CLI.
type Display struct {
	src      Source
	mode     string // "bar" | "plain" | "none"
	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}
}

func New(src Source, mode string, plainInterval time.Duration) *Display {
	if plainInterval <= 0 {
		plainInterval = 30 * time.Second
	}
	return &Display{
		src:      src,
		mode:     mode,
		interval: plainInterval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the render loop. No-op for mode "none".
func (d *Display) Start(ctx context.Context) {
	if d.mode == "none" {
		close(d.stopped)
		return
	}
	go d.loop(ctx)
}

// Stop ends the render loop and waits for the final render.
func (d *Display) Stop() {
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	<-d.stopped
}

func (d *Display) loop(ctx context.Context) {
	defer close(d.stopped)
	if d.mode == "bar" {
		d.barLoop(ctx)
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			slog.Info("progress", "state", d.src.String())
		case <-d.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Display) barLoop(ctx context.Context) {
	// The database list is empty until enumeration finishes; wait for it
	// before sizing the bar.
	var total int
	for {
		stats := d.src.Stats()
		if len(stats.Databases) > 0 {
			total = len(stats.Databases)
			break
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-d.done:
			return
		case <-ctx.Done():
			return
		}
	}

	p := mpb.New(mpb.WithWidth(40), mpb.WithRefreshRate(100 * time.Millisecond))
	bar := p.New(int64(total), mpb.BarStyle().Rbound("|").Lbound("|"),
		mpb.PrependDecorators(decor.Name("databases ", decor.WC{W: len("databases "), C: decor.DSyncWidth}), decor.Percentage()),
		mpb.AppendDecorators(decor.Any(func(s decor.Statistics) string {
			return fmt.Sprintf("%d / %d", s.Current, s.Total)
		})))

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			bar.SetCurrent(int64(d.src.Stats().DatabasesCloned))
		case <-d.done:
			bar.SetCurrent(int64(d.src.Stats().DatabasesCloned))
			bar.Abort(false)
			p.Wait()
			return
		case <-ctx.Done():
			bar.Abort(false)
			p.Wait()
			return
		}
	}
}
