package repl

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/vbp1/mongoclone/internal/pool"
)

func newTestDBCloner(db string, conn *fakeConn, store *fakeStorage) *DatabaseCloner {
	return NewDatabaseCloner(db, NewSharedData(), testSource, conn, store, pool.New(2), testRetry)
}

func TestDatabaseClonerCopiesAllCollections(t *testing.T) {
	conn := newFakeConn()
	conn.collections["shop"] = []CollectionSpec{{Name: "orders"}, {Name: "users"}, {Name: "carts"}}
	conn.indexes["shop.orders"] = []bson.Raw{rawDoc(8), rawDoc(8)}
	conn.docsPerCollection = 5
	conn.docBytes = 64
	store := newFakeStorage()
	c := newTestDBCloner("shop", conn, store)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if store.createdCount() != 3 {
		t.Fatalf("expected 3 collections created, got %d", store.createdCount())
	}
	stats := c.Stats()
	if stats.Collections != 3 || stats.ClonedCollections != 3 {
		t.Fatalf("collections=%d cloned=%d, want 3/3", stats.Collections, stats.ClonedCollections)
	}
	var docs, bytes int64
	for _, coll := range stats.CollectionStats {
		docs += coll.DocumentsCopied
		bytes += coll.BytesCopied
	}
	if docs != 15 || bytes != 15*64 {
		t.Fatalf("docs=%d bytes=%d, want 15/%d", docs, bytes, 15*64)
	}
	for _, coll := range stats.CollectionStats {
		if coll.Namespace == "shop.orders" && coll.IndexesBuilt != 2 {
			t.Fatalf("shop.orders indexes: got %d want 2", coll.IndexesBuilt)
		}
	}
	if store.inserted["shop.users"] != 5 {
		t.Fatalf("shop.users inserts: got %d want 5", store.inserted["shop.users"])
	}
	if stats.End.Before(stats.Start) {
		t.Fatal("end time must not precede start time")
	}
}

func TestDatabaseClonerEmptyDatabaseSkips(t *testing.T) {
	conn := newFakeConn()
	store := newFakeStorage()
	c := newTestDBCloner("empty", conn, store)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("empty database must not fail: %v", err)
	}
	if store.createdCount() != 0 {
		t.Fatalf("no collections must be created, got %d", store.createdCount())
	}
	if got := c.Stats().Collections; got != 0 {
		t.Fatalf("collections: got %d want 0", got)
	}
}

func TestDatabaseClonerCollectionFailurePropagates(t *testing.T) {
	conn := newFakeConn()
	conn.collections["shop"] = []CollectionSpec{{Name: "ok"}, {Name: "broken"}}
	cause := errors.New("network reset")
	conn.readFn = func(ctx context.Context, ns Namespace, fn func([]bson.Raw) error) error {
		if ns.Coll == "broken" {
			return cause
		}
		return fn([]bson.Raw{rawDoc(16)})
	}
	c := newTestDBCloner("shop", conn, newFakeStorage())

	err := c.Run(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("expected copy failure, got %v", err)
	}
}

func TestDatabaseClonerAbortsWhenSyncFailed(t *testing.T) {
	conn := newFakeConn()
	conn.collections["shop"] = []CollectionSpec{{Name: "orders"}}
	store := newFakeStorage()
	c := newTestDBCloner("shop", conn, store)
	cause := errors.New("failed elsewhere")
	c.shared.SetStatusIfOK(cause)

	err := c.Run(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("expected abort on shared failure, got %v", err)
	}
	if store.createdCount() != 0 {
		t.Fatal("no work may start once the sync has failed")
	}
}
