package repl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vbp1/mongoclone/internal/pool"
)

// afterStageBehavior tells the pipeline what to do once a stage returns.
type afterStageBehavior int

const (
	// continueNormally proceeds to the next stage.
	continueNormally afterStageBehavior = iota
	// retryStage re-runs the same stage under the retry policy. Used for
	// reconnect-style idempotent recovery.
	retryStage
	// transientRetry is retryStage for failures believed recoverable on the
	// remote side (e.g. the peer is mid-election). Kept distinct so callers
	// can tell reconnects from role waits in logs.
	transientRetry
	// skipRemaining abandons the remaining stages without failing the unit.
	skipRemaining
)

func (b afterStageBehavior) String() string {
	switch b {
	case continueNormally:
		return "continue"
	case retryStage:
		return "retry"
	case transientRetry:
		return "transientRetry"
	case skipRemaining:
		return "skip"
	}
	return "unknown"
}

// stage is one named step of a cloner pipeline. The order of stages is fixed
// at construction.
type stage struct {
	name string
	run  func(ctx context.Context) (afterStageBehavior, error)
}

// RetryPolicy builds a fresh backoff for each stage execution.
type RetryPolicy func() backoff.BackOff

// DefaultRetryPolicy is an exponential backoff capped at maxElapsed total
// retry time per stage.
func DefaultRetryPolicy(maxElapsed time.Duration) RetryPolicy {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 10 * time.Second
		b.MaxElapsedTime = maxElapsed
		return b
	}
}

// cloner carries what every cloning unit shares: the cross-unit sync state,
// the source connection, the local write path and the worker pool. A unit is
// run once; after a failure a fresh unit must be built to retry from the top.
type cloner struct {
	name    string
	shared  *SharedData
	source  string
	conn    Conn
	storage Storage
	workers *pool.Pool
	retry   RetryPolicy
}

// runPipeline executes stages in order on the calling goroutine, then the
// optional post hook once every stage has succeeded. A skipRemaining stage
// short-circuits the run without error and without the post hook.
func (c *cloner) runPipeline(ctx context.Context, stages []stage, post func(ctx context.Context) error) error {
	for _, st := range stages {
		skipped, err := c.runStage(ctx, st)
		if err != nil {
			return err
		}
		if skipped {
			slog.Debug("pipeline short-circuited", "cloner", c.name, "stage", st.name)
			return nil
		}
	}
	if post != nil {
		return post(ctx)
	}
	return nil
}

func (c *cloner) runStage(ctx context.Context, st stage) (skipped bool, err error) {
	bo := c.retry()
	for {
		// Another unit may have failed the attempt while this one was busy.
		if serr := c.shared.Status(); serr != nil {
			return false, fmt.Errorf("sync already failed: %w", serr)
		}
		if cerr := ctx.Err(); cerr != nil {
			return false, cerr
		}

		behavior, err := st.run(ctx)
		switch behavior {
		case continueNormally:
			return false, err
		case skipRemaining:
			return true, nil
		case retryStage, transientRetry:
			next := bo.NextBackOff()
			if next == backoff.Stop {
				return false, fmt.Errorf("stage %s of %s: retries exhausted: %w", st.name, c.name, err)
			}
			slog.Info("retrying stage",
				"cloner", c.name, "stage", st.name, "behavior", behavior.String(),
				"wait", next, "err", err)
			select {
			case <-time.After(next):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		default:
			return false, fmt.Errorf("stage %s of %s: unknown behavior %d", st.name, c.name, behavior)
		}
	}
}
