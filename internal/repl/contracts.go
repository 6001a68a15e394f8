package repl

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrSourceRemoved marks a sync source that is no longer part of the
	// replica set configuration. It cancels the whole sync attempt.
	ErrSourceRemoved = errors.New("sync source removed from replica set configuration")

	// ErrNotPrimaryOrSecondary marks a sync source that is a known member but
	// currently neither primary nor secondary (e.g. mid-election). Retryable.
	ErrNotPrimaryOrSecondary = errors.New("sync source is neither primary nor secondary")
)

// Namespace identifies a collection.
type Namespace struct {
	DB   string
	Coll string
}

func (ns Namespace) String() string { return fmt.Sprintf("%s.%s", ns.DB, ns.Coll) }

// HelloReply is the role-report portion of the sync source's handshake
// response. The transport outcome travels separately as an error.
type HelloReply struct {
	IsWritablePrimary bool
	Secondary         bool
}

// DatabaseSpec is one entry of a listDatabases response.
type DatabaseSpec struct {
	Name       string
	SizeOnDisk int64
	Empty      bool
}

// CollectionSpec is one entry of a listCollections response.
type CollectionSpec struct {
	Name    string
	Options bson.Raw
}

// ValidationHook inspects the handshake role report. reply is nil when
// replyErr is set.
type ValidationHook func(reply *HelloReply, replyErr error) error

// Conn is the outbound connection to the sync source.
type Conn interface {
	// Target returns the address the connection currently points at, empty
	// when it was never connected.
	Target() string
	// Connect opens a connection to addr, running the installed validation
	// hook against the handshake role report.
	Connect(ctx context.Context, addr string) error
	// CheckConnection verifies liveness of an existing connection without
	// reopening it, so the connection layer keeps its own backoff state.
	CheckConnection(ctx context.Context) error
	SetHandshakeValidationHook(hook ValidationHook)
	Authenticate(ctx context.Context) error
	ListDatabases(ctx context.Context) ([]DatabaseSpec, error)
	ListCollections(ctx context.Context, db string) ([]CollectionSpec, error)
	ListIndexes(ctx context.Context, ns Namespace) ([]bson.Raw, error)
	// ReadCollection streams the documents of ns to fn in batches. Batch
	// sizing is the connection's concern.
	ReadCollection(ctx context.Context, ns Namespace, fn func(batch []bson.Raw) error) error
}

// Membership reports the local node's knowledge of the replica set, used only
// to tell "removed from the set" apart from a transient role mismatch.
type Membership interface {
	OtherMembers(ctx context.Context) ([]string, error)
}

// Storage is the local write path.
type Storage interface {
	EnsureCollection(ctx context.Context, ns Namespace, options bson.Raw) error
	InsertBatch(ctx context.Context, ns Namespace, docs []bson.Raw) error
	BuildIndexes(ctx context.Context, ns Namespace, indexes []bson.Raw) error
	// ValidateAdminDB checks the structural invariants of the admin database
	// after its clone (auth collections consistency).
	ValidateAdminDB(ctx context.Context) error
}
