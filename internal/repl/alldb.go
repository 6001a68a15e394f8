package repl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/vbp1/mongoclone/internal/pool"
)

// AllDatabaseCloner drives one initial-sync attempt: connect to and validate
// the sync source, enumerate its databases, then clone them one at a time
// through nested DatabaseCloners. The first unrecoverable failure is written
// into the shared sync state and stops all further work.
type AllDatabaseCloner struct {
	cloner
	membership Membership

	// mu guards everything below plus the stats slot handoff with the
	// in-flight nested cloner. It is always taken before the nested cloner's
	// own lock, never the other way around.
	mu         sync.Mutex
	active     bool
	databases  []string
	sizeOnDisk int64
	current    *DatabaseCloner
	stats      Stats
}

func NewAllDatabaseCloner(shared *SharedData, source string, conn Conn, storage Storage,
	membership Membership, workers *pool.Pool, retry RetryPolicy) *AllDatabaseCloner {
	return &AllDatabaseCloner{
		cloner: cloner{
			name:    "AllDatabaseCloner",
			shared:  shared,
			source:  source,
			conn:    conn,
			storage: storage,
			workers: workers,
			retry:   retry,
		},
		membership: membership,
	}
}

// Run executes the full attempt on the calling goroutine. It is not
// restartable; build a fresh cloner to retry.
func (c *AllDatabaseCloner) Run(ctx context.Context) error {
	c.setActive(true)
	defer c.setActive(false)
	stages := []stage{
		{name: "connect", run: c.connectStage},
		{name: "listDatabases", run: c.listDatabasesStage},
	}
	return c.runPipeline(ctx, stages, c.postStage)
}

func (c *AllDatabaseCloner) setActive(v bool) {
	c.mu.Lock()
	c.active = v
	c.mu.Unlock()
}

// ensurePrimaryOrSecondary is the handshake validation hook. A transport
// failure and a role mismatch of a known member are transient; a source that
// is no longer in the replica set configuration cancels the whole sync.
func (c *AllDatabaseCloner) ensurePrimaryOrSecondary(ctx context.Context, reply *HelloReply, replyErr error) error {
	if replyErr != nil {
		slog.Info("cannot reconnect because hello command failed", "err", replyErr)
		return replyErr
	}
	if reply.IsWritablePrimary || reply.Secondary {
		return nil
	}

	// There is a window during startup where a node has an invalid
	// configuration and reports roles the same way a removed node would, so
	// check the local configuration before giving up on the source.
	others, err := c.membership.OtherMembers(ctx)
	if err != nil {
		return fmt.Errorf("reading replica set membership: %w", err)
	}
	if !slices.Contains(others, c.source) {
		err := fmt.Errorf("%w: %s", ErrSourceRemoved, c.source)
		// Recording the failure in the shared state cancels the initial sync.
		c.shared.SetStatusIfOK(err)
		return err
	}
	return fmt.Errorf("%w: cannot use %s", ErrNotPrimaryOrSecondary, c.source)
}

func (c *AllDatabaseCloner) connectStage(ctx context.Context) (afterStageBehavior, error) {
	// If the connection already points at the source (left over from a prior
	// attempt), only check liveness. Reconnecting here would reset the
	// backoff state the connection layer tracks internally.
	if c.conn.Target() != c.source {
		c.conn.SetHandshakeValidationHook(func(reply *HelloReply, replyErr error) error {
			return c.ensurePrimaryOrSecondary(ctx, reply, replyErr)
		})
		if err := c.conn.Connect(ctx, c.source); err != nil {
			if errors.Is(err, ErrSourceRemoved) {
				return continueNormally, err
			}
			return transientRetry, err
		}
	} else {
		if err := c.conn.CheckConnection(ctx); err != nil {
			return retryStage, err
		}
	}
	if err := c.conn.Authenticate(ctx); err != nil {
		return retryStage, fmt.Errorf("failed to authenticate to %s: %w", c.source, err)
	}
	return continueNormally, nil
}

func (c *AllDatabaseCloner) listDatabasesStage(ctx context.Context) (afterStageBehavior, error) {
	specs, err := c.conn.ListDatabases(ctx)
	if err != nil {
		return transientRetry, fmt.Errorf("listDatabases on %s: %w", c.source, err)
	}

	var names []string
	var total int64
	for _, spec := range specs {
		switch spec.Name {
		case "":
			slog.Debug("excluding database entry without a name from listDatabases response")
			continue
		case "local":
			slog.Debug("excluding database from listDatabases response", "db", spec.Name)
			continue
		}
		names = append(names, spec.Name)
		// Make sure "admin" comes first.
		if spec.Name == "admin" && len(names) > 1 {
			names[0], names[len(names)-1] = names[len(names)-1], names[0]
		}
		total += spec.SizeOnDisk
	}

	c.mu.Lock()
	c.databases = names
	c.sizeOnDisk = total
	c.mu.Unlock()
	slog.Info("databases to clone", "count", len(names), "sizeOnDisk", total)
	return continueNormally, nil
}

// postStage is the sequential clone driver: one nested DatabaseCloner per
// enumerated database, run to completion in order, fail-fast.
func (c *AllDatabaseCloner) postStage(ctx context.Context) error {
	c.mu.Lock()
	c.stats.DatabasesCloned = 0
	c.stats.Databases = make([]DatabaseStats, len(c.databases))
	for i, name := range c.databases {
		c.stats.Databases[i] = DatabaseStats{Name: name}
	}
	databases := c.databases
	c.mu.Unlock()

	for i, name := range databases {
		c.mu.Lock()
		c.current = NewDatabaseCloner(name, c.shared, c.source, c.conn, c.storage, c.workers, c.retry)
		current := c.current
		c.mu.Unlock()

		err := current.Run(ctx)
		if err != nil {
			slog.Warn("database clone failed",
				"db", name, "n", i+1, "total", len(databases), "err", err)
			dbErr := fmt.Errorf("cloning database %s: %w", name, err)
			c.shared.SetStatusIfOK(dbErr)
			return dbErr
		}
		slog.Debug("database clone finished", "db", name)

		if strings.EqualFold(name, "admin") {
			slog.Debug("finished the admin db, now validating it")
			// Special checks for the admin database because of the auth
			// collections.
			if err := c.storage.ValidateAdminDB(ctx); err != nil {
				slog.Warn("validation failed on admin db", "err", err)
				adminErr := fmt.Errorf("validating admin database: %w", err)
				c.shared.SetStatusIfOK(adminErr)
				return adminErr
			}
		}

		c.mu.Lock()
		c.stats.Databases[c.stats.DatabasesCloned] = current.Stats()
		c.current = nil
		c.stats.DatabasesCloned++
		c.mu.Unlock()
	}
	return nil
}

// Databases returns the enumerated clone order. Empty before the
// listDatabases stage has run.
func (c *AllDatabaseCloner) Databases() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.databases...)
}

// SizeOnDisk returns the total on-disk size the source reported for the
// databases to be cloned, zero when the source did not report sizes.
func (c *AllDatabaseCloner) SizeOnDisk() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeOnDisk
}

// Stats returns a point-in-time snapshot of the attempt's progress, safe to
// call from any goroutine. At most one slot holds a live partial result.
func (c *AllDatabaseCloner) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats.clone()
	if c.current != nil {
		stats.Databases[c.stats.DatabasesCloned] = c.current.Stats()
	}
	return stats
}

func (c *AllDatabaseCloner) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := "OK"
	if err := c.shared.Status(); err != nil {
		status = err.Error()
	}
	return fmt.Sprintf("initial sync -- active:%v status:%s source:%s db cloners completed:%d",
		c.active, status, c.source, c.stats.DatabasesCloned)
}
