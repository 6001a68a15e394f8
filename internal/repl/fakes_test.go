package repl

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"go.mongodb.org/mongo-driver/bson"
)

// testRetry is a no-sleep policy with a small retry budget.
func testRetry() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

// rawDoc builds an opaque document of the given length; the core never parses
// document contents.
func rawDoc(size int) bson.Raw {
	return bson.Raw(make([]byte, size))
}

type fakeConn struct {
	mu sync.Mutex

	target       string
	hook         ValidationHook
	connectCalls int
	checkCalls   int

	helloReply     *HelloReply
	helloErr       error
	checkErr       error
	authErr        error
	databases      []DatabaseSpec
	databasesErr   error
	collections    map[string][]CollectionSpec
	collectionsErr map[string]error
	indexes        map[string][]bson.Raw

	listCollectionsCalls map[string]int

	// readFn overrides document streaming when set.
	readFn func(ctx context.Context, ns Namespace, fn func([]bson.Raw) error) error
	// docsPerCollection documents of docBytes bytes each are streamed in one
	// batch when readFn is nil.
	docsPerCollection int
	docBytes          int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		helloReply:           &HelloReply{IsWritablePrimary: true},
		collections:          map[string][]CollectionSpec{},
		collectionsErr:       map[string]error{},
		indexes:              map[string][]bson.Raw{},
		listCollectionsCalls: map[string]int{},
		docsPerCollection:    1,
		docBytes:             16,
	}
}

func (c *fakeConn) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *fakeConn) SetHandshakeValidationHook(hook ValidationHook) {
	c.mu.Lock()
	c.hook = hook
	c.mu.Unlock()
}

func (c *fakeConn) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	c.connectCalls++
	hook := c.hook
	reply, replyErr := c.helloReply, c.helloErr
	c.mu.Unlock()
	if hook != nil {
		if err := hook(reply, replyErr); err != nil {
			return err
		}
	} else if replyErr != nil {
		return replyErr
	}
	c.mu.Lock()
	c.target = addr
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) CheckConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkCalls++
	return c.checkErr
}

func (c *fakeConn) Authenticate(ctx context.Context) error { return c.authErr }

func (c *fakeConn) ListDatabases(ctx context.Context) ([]DatabaseSpec, error) {
	return c.databases, c.databasesErr
}

func (c *fakeConn) ListCollections(ctx context.Context, db string) ([]CollectionSpec, error) {
	c.mu.Lock()
	c.listCollectionsCalls[db]++
	c.mu.Unlock()
	if err := c.collectionsErr[db]; err != nil {
		return nil, err
	}
	return c.collections[db], nil
}

func (c *fakeConn) ListIndexes(ctx context.Context, ns Namespace) ([]bson.Raw, error) {
	return c.indexes[ns.String()], nil
}

func (c *fakeConn) ReadCollection(ctx context.Context, ns Namespace, fn func([]bson.Raw) error) error {
	if c.readFn != nil {
		return c.readFn(ctx, ns, fn)
	}
	batch := make([]bson.Raw, 0, c.docsPerCollection)
	for i := 0; i < c.docsPerCollection; i++ {
		batch = append(batch, rawDoc(c.docBytes))
	}
	return fn(batch)
}

func (c *fakeConn) listCollectionsCount(db string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listCollectionsCalls[db]
}

type fakeStorage struct {
	mu sync.Mutex

	created     []string
	inserted    map[string]int
	indexed     map[string]int
	validateErr error
	validated   int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{inserted: map[string]int{}, indexed: map[string]int{}}
}

func (s *fakeStorage) EnsureCollection(ctx context.Context, ns Namespace, options bson.Raw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, ns.String())
	return nil
}

func (s *fakeStorage) InsertBatch(ctx context.Context, ns Namespace, docs []bson.Raw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted[ns.String()] += len(docs)
	return nil
}

func (s *fakeStorage) BuildIndexes(ctx context.Context, ns Namespace, indexes []bson.Raw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed[ns.String()] += len(indexes)
	return nil
}

func (s *fakeStorage) ValidateAdminDB(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validated++
	return s.validateErr
}

func (s *fakeStorage) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type fakeMembership struct {
	others []string
	err    error
}

func (m *fakeMembership) OtherMembers(ctx context.Context) ([]string, error) {
	return m.others, m.err
}
