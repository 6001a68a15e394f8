package repl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/vbp1/mongoclone/internal/pool"
)

// DatabaseCloner clones one database: list its collections, then copy each
// collection's documents and rebuild its secondary indexes. Collection copies
// run on the shared worker pool; the first failure cancels the rest.
type DatabaseCloner struct {
	cloner
	db string

	mu          sync.Mutex
	collections []CollectionSpec
	stats       DatabaseStats
}

func NewDatabaseCloner(db string, shared *SharedData, source string, conn Conn,
	storage Storage, workers *pool.Pool, retry RetryPolicy) *DatabaseCloner {
	return &DatabaseCloner{
		cloner: cloner{
			name:    fmt.Sprintf("DatabaseCloner(%s)", db),
			shared:  shared,
			source:  source,
			conn:    conn,
			storage: storage,
			workers: workers,
			retry:   retry,
		},
		db:    db,
		stats: DatabaseStats{Name: db},
	}
}

// Run executes the clone on the calling goroutine.
func (c *DatabaseCloner) Run(ctx context.Context) error {
	stages := []stage{
		{name: "listCollections", run: c.listCollectionsStage},
	}
	return c.runPipeline(ctx, stages, c.postStage)
}

func (c *DatabaseCloner) listCollectionsStage(ctx context.Context) (afterStageBehavior, error) {
	specs, err := c.conn.ListCollections(ctx, c.db)
	if err != nil {
		return transientRetry, fmt.Errorf("listCollections on %s: %w", c.db, err)
	}
	c.mu.Lock()
	c.collections = specs
	c.stats.Collections = len(specs)
	c.stats.Start = time.Now()
	c.mu.Unlock()
	if len(specs) == 0 {
		slog.Debug("database has no collections to clone", "db", c.db)
		return skipRemaining, nil
	}
	return continueNormally, nil
}

func (c *DatabaseCloner) postStage(ctx context.Context) error {
	c.mu.Lock()
	collections := c.collections
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, coll := range collections {
		coll := coll
		g.Go(func() error {
			return c.workers.Do(gctx, func() error {
				return c.cloneCollection(gctx, coll)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	c.stats.End = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *DatabaseCloner) cloneCollection(ctx context.Context, coll CollectionSpec) error {
	if err := c.shared.Status(); err != nil {
		return fmt.Errorf("sync already failed: %w", err)
	}
	ns := Namespace{DB: c.db, Coll: coll.Name}
	if err := c.storage.EnsureCollection(ctx, ns, coll.Options); err != nil {
		return fmt.Errorf("creating %s: %w", ns, err)
	}

	err := c.conn.ReadCollection(ctx, ns, func(batch []bson.Raw) error {
		if err := c.storage.InsertBatch(ctx, ns, batch); err != nil {
			return err
		}
		var bytes int64
		for _, doc := range batch {
			bytes += int64(len(doc))
		}
		c.addProgress(ns, int64(len(batch)), bytes)
		return nil
	})
	if err != nil {
		return fmt.Errorf("copying %s: %w", ns, err)
	}

	indexes, err := c.conn.ListIndexes(ctx, ns)
	if err != nil {
		return fmt.Errorf("listing indexes of %s: %w", ns, err)
	}
	if len(indexes) > 0 {
		if err := c.storage.BuildIndexes(ctx, ns, indexes); err != nil {
			return fmt.Errorf("building indexes of %s: %w", ns, err)
		}
	}

	c.finishCollection(ns, len(indexes))
	slog.Debug("collection clone finished", "ns", ns.String(), "indexes", len(indexes))
	return nil
}

// addProgress accumulates live per-collection counters under the cloner's own
// lock, so the aggregator can snapshot an in-flight clone.
func (c *DatabaseCloner) addProgress(ns Namespace, docs, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := c.collectionSlot(ns)
	slot.DocumentsCopied += docs
	slot.BytesCopied += bytes
}

func (c *DatabaseCloner) finishCollection(ns Namespace, indexes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := c.collectionSlot(ns)
	slot.IndexesBuilt = indexes
	c.stats.ClonedCollections++
}

// collectionSlot finds or creates the stats entry for ns. Caller holds mu.
func (c *DatabaseCloner) collectionSlot(ns Namespace) *CollectionStats {
	for i := range c.stats.CollectionStats {
		if c.stats.CollectionStats[i].Namespace == ns.String() {
			return &c.stats.CollectionStats[i]
		}
	}
	c.stats.CollectionStats = append(c.stats.CollectionStats, CollectionStats{Namespace: ns.String()})
	return &c.stats.CollectionStats[len(c.stats.CollectionStats)-1]
}

// Stats returns a snapshot of this database clone's progress. Thread-safe.
func (c *DatabaseCloner) Stats() DatabaseStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.clone()
}
