// Package source implements the sync-source connection contract on top of the
// official MongoDB wire driver. All connections are direct (no server
// discovery): initial sync talks to exactly the node it was pointed at.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/vbp1/mongoclone/internal/repl"
)

// Config collects connection parameters for the sync source.
type Config struct {
	Username   string
	Password   string
	AuthSource string

	BatchSize      int32
	ConnectTimeout time.Duration
}

// Client is a repl.Conn over a direct mongo.Client connection.
type Client struct {
	cfg Config

	mu     sync.Mutex
	client *mongo.Client
	target string
	hook   repl.ValidationHook
}

func NewClient(cfg Config) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Client{cfg: cfg}
}

// Target returns the address of the current connection, empty when never
// connected.
func (c *Client) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// SetHandshakeValidationHook installs hook to be run against the hello
// role report during the next Connect.
func (c *Client) SetHandshakeValidationHook(hook repl.ValidationHook) {
	c.mu.Lock()
	c.hook = hook
	c.mu.Unlock()
}

// Connect opens a direct connection to addr, reports the hello outcome to the
// installed validation hook and keeps the connection only when the hook
// accepts it.
func (c *Client) Connect(ctx context.Context, addr string) error {
	opts := options.Client().
		ApplyURI("mongodb://" + addr).
		SetDirect(true).
		SetConnectTimeout(c.cfg.ConnectTimeout)
	if c.cfg.Username != "" {
		cred := options.Credential{
			Username: c.cfg.Username,
			Password: c.cfg.Password,
		}
		if c.cfg.AuthSource != "" {
			cred.AuthSource = c.cfg.AuthSource
		}
		opts.SetAuth(cred)
	}

	cl, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}

	reply, helloErr := runHello(ctx, cl)

	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		if err := hook(reply, helloErr); err != nil {
			_ = cl.Disconnect(context.Background())
			return err
		}
	} else if helloErr != nil {
		_ = cl.Disconnect(context.Background())
		return helloErr
	}

	c.mu.Lock()
	old := c.client
	c.client = cl
	c.target = addr
	c.mu.Unlock()
	if old != nil {
		_ = old.Disconnect(context.Background())
	}
	return nil
}

// CheckConnection pings the current connection without reopening it.
func (c *Client) CheckConnection(ctx context.Context) error {
	cl, err := c.connected()
	if err != nil {
		return err
	}
	return cl.Ping(ctx, readpref.Nearest())
}

// Authenticate verifies the connection is authenticated for reads. The driver
// performs the auth conversation during Connect; this surfaces its outcome as
// its own step so failures are attributable.
func (c *Client) Authenticate(ctx context.Context) error {
	cl, err := c.connected()
	if err != nil {
		return err
	}
	res := cl.Database("admin").RunCommand(ctx, bson.D{{Key: "connectionStatus", Value: 1}})
	return res.Err()
}

func (c *Client) ListDatabases(ctx context.Context) ([]repl.DatabaseSpec, error) {
	cl, err := c.connected()
	if err != nil {
		return nil, err
	}
	// nameOnly would suffice for the clone order, but the size report feeds
	// the local free-space preflight.
	res, err := cl.ListDatabases(ctx, bson.D{}, options.ListDatabases().SetNameOnly(false))
	if err != nil {
		return nil, err
	}
	specs := make([]repl.DatabaseSpec, 0, len(res.Databases))
	for _, db := range res.Databases {
		specs = append(specs, repl.DatabaseSpec{
			Name:       db.Name,
			SizeOnDisk: db.SizeOnDisk,
			Empty:      db.Empty,
		})
	}
	return specs, nil
}

func (c *Client) ListCollections(ctx context.Context, db string) ([]repl.CollectionSpec, error) {
	cl, err := c.connected()
	if err != nil {
		return nil, err
	}
	cur, err := cl.Database(db).ListCollections(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var specs []repl.CollectionSpec
	for cur.Next(ctx) {
		var entry struct {
			Name    string   `bson:"name"`
			Type    string   `bson:"type"`
			Options bson.Raw `bson:"options"`
		}
		if err := cur.Decode(&entry); err != nil {
			return nil, err
		}
		// Views carry no data of their own.
		if entry.Type == "view" {
			continue
		}
		specs = append(specs, repl.CollectionSpec{
			Name:    entry.Name,
			Options: append(bson.Raw(nil), entry.Options...),
		})
	}
	return specs, cur.Err()
}

func (c *Client) ListIndexes(ctx context.Context, ns repl.Namespace) ([]bson.Raw, error) {
	cl, err := c.connected()
	if err != nil {
		return nil, err
	}
	cur, err := cl.Database(ns.DB).Collection(ns.Coll).Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var indexes []bson.Raw
	for cur.Next(ctx) {
		indexes = append(indexes, append(bson.Raw(nil), cur.Current...))
	}
	return indexes, cur.Err()
}

// ReadCollection streams all documents of ns to fn in batches of the
// configured size.
func (c *Client) ReadCollection(ctx context.Context, ns repl.Namespace, fn func(batch []bson.Raw) error) error {
	cl, err := c.connected()
	if err != nil {
		return err
	}
	cur, err := cl.Database(ns.DB).Collection(ns.Coll).
		Find(ctx, bson.D{}, options.Find().SetBatchSize(c.cfg.BatchSize))
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	batch := make([]bson.Raw, 0, c.cfg.BatchSize)
	for cur.Next(ctx) {
		// cur.Current is only valid until the next advance.
		batch = append(batch, append(bson.Raw(nil), cur.Current...))
		if len(batch) == int(c.cfg.BatchSize) {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Close disconnects from the source.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	cl := c.client
	c.client = nil
	c.target = ""
	c.mu.Unlock()
	if cl == nil {
		return nil
	}
	return cl.Disconnect(ctx)
}

func (c *Client) connected() (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, fmt.Errorf("not connected to sync source")
	}
	return c.client, nil
}

// TotalSizeOnDisk reports the source's total database size over a short-lived
// connection, for the free-space preflight that runs before the clone.
func TotalSizeOnDisk(ctx context.Context, addr string, cfg Config) (int64, error) {
	probe := NewClient(cfg)
	if err := probe.Connect(ctx, addr); err != nil {
		return 0, err
	}
	defer func() { _ = probe.Close(context.Background()) }()

	specs, err := probe.ListDatabases(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, spec := range specs {
		if spec.Name == "local" {
			continue
		}
		total += spec.SizeOnDisk
	}
	return total, nil
}

// runHello issues the hello command and shapes the reply for the validation
// hook.
func runHello(ctx context.Context, cl *mongo.Client) (*repl.HelloReply, error) {
	res := cl.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}})
	if err := res.Err(); err != nil {
		return nil, err
	}
	var doc struct {
		IsWritablePrimary bool `bson:"isWritablePrimary"`
		// Pre-5.0 servers answer the legacy field name.
		IsMaster  bool `bson:"ismaster"`
		Secondary bool `bson:"secondary"`
	}
	if err := res.Decode(&doc); err != nil {
		return nil, err
	}
	return &repl.HelloReply{
		IsWritablePrimary: doc.IsWritablePrimary || doc.IsMaster,
		Secondary:         doc.Secondary,
	}, nil
}
