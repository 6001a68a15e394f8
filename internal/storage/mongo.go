// Package storage is the local write path of the clone: it applies the copied
// collections, documents and indexes to the destination instance and carries
// the post-clone admin database validation.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/vbp1/mongoclone/internal/repl"
)

// Mongo implements repl.Storage over a client connected to the local
// destination instance.
type Mongo struct {
	client *mongo.Client
}

// Connect opens the destination connection and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*Mongo, error) {
	cl, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetDirect(true))
	if err != nil {
		return nil, fmt.Errorf("connect to destination: %w", err)
	}
	if err := cl.Ping(ctx, readpref.Nearest()); err != nil {
		_ = cl.Disconnect(context.Background())
		return nil, fmt.Errorf("ping destination: %w", err)
	}
	return &Mongo{client: cl}, nil
}

// Client exposes the underlying client for collaborators that read local
// state (replica set membership).
func (s *Mongo) Client() *mongo.Client { return s.client }

func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureCollection creates ns with the source's collection options. An
// already-existing collection is not an error; a retried attempt may have
// created it before failing.
func (s *Mongo) EnsureCollection(ctx context.Context, ns repl.Namespace, opts bson.Raw) error {
	cmd := bson.D{{Key: "create", Value: ns.Coll}}
	if len(opts) > 0 {
		var extra bson.D
		if err := bson.Unmarshal(opts, &extra); err != nil {
			return fmt.Errorf("decoding options of %s: %w", ns, err)
		}
		for _, e := range extra {
			if e.Key == "create" {
				continue
			}
			cmd = append(cmd, e)
		}
	}
	err := s.client.Database(ns.DB).RunCommand(ctx, cmd).Err()
	if err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists" {
			return nil
		}
		return err
	}
	return nil
}

// InsertBatch writes one batch of raw documents. Unordered, so the server
// keeps going past individual duplicates left by a partially retried batch or
// already present on the destination (the admin feature compatibility
// document exists on any initialized instance).
func (s *Mongo) InsertBatch(ctx context.Context, ns repl.Namespace, docs []bson.Raw) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]interface{}, len(docs))
	for i, doc := range docs {
		models[i] = doc
	}
	_, err := s.client.Database(ns.DB).Collection(ns.Coll).
		InsertMany(ctx, models, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}
	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) && bulkErr.WriteConcernError == nil {
		for _, we := range bulkErr.WriteErrors {
			if we.Code != 11000 { // DuplicateKey
				return err
			}
		}
		return nil
	}
	return err
}

// BuildIndexes replays the source's index specs. The _id index always exists
// already and is filtered out.
func (s *Mongo) BuildIndexes(ctx context.Context, ns repl.Namespace, indexes []bson.Raw) error {
	specs := bson.A{}
	for _, idx := range indexes {
		if name := idx.Lookup("name"); name.Type == bson.TypeString && name.StringValue() == "_id_" {
			continue
		}
		specs = append(specs, idx)
	}
	if len(specs) == 0 {
		return nil
	}
	cmd := bson.D{
		{Key: "createIndexes", Value: ns.Coll},
		{Key: "indexes", Value: specs},
	}
	return s.client.Database(ns.DB).RunCommand(ctx, cmd).Err()
}

// ValidateAdminDB checks the cloned admin database's auth collections: a
// feature compatibility document must be present, and when users exist the
// auth schema version document must exist as well.
func (s *Mongo) ValidateAdminDB(ctx context.Context) error {
	admin := s.client.Database("admin")
	version := admin.Collection("system.version")

	err := version.FindOne(ctx, bson.D{{Key: "_id", Value: "featureCompatibilityVersion"}}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("admin.system.version has no featureCompatibilityVersion document")
		}
		return fmt.Errorf("reading admin.system.version: %w", err)
	}

	users, err := admin.Collection("system.users").CountDocuments(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("counting admin.system.users: %w", err)
	}
	if users > 0 {
		err := version.FindOne(ctx, bson.D{{Key: "_id", Value: "authSchema"}}).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("admin.system.users is not empty but admin.system.version has no authSchema document")
		}
		if err != nil {
			return fmt.Errorf("reading admin.system.version: %w", err)
		}
	}
	return nil
}
