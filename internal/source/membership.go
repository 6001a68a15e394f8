package source

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Membership reads the replica set configuration from the local node. It only
// answers who the other members are, which is all the role-check needs to
// tell a removed sync source from one that is mid-election.
type Membership struct {
	local *mongo.Client
	self  string
}

// NewMembership wraps the local node's client. self is this node's own
// host:port as it appears in the replica set configuration.
func NewMembership(local *mongo.Client, self string) *Membership {
	return &Membership{local: local, self: self}
}

// OtherMembers returns the hosts of all configured members except this node.
func (m *Membership) OtherMembers(ctx context.Context) ([]string, error) {
	res := m.local.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetGetConfig", Value: 1}})
	if err := res.Err(); err != nil {
		return nil, err
	}
	var doc struct {
		Config struct {
			Members []struct {
				Host string `bson:"host"`
			} `bson:"members"`
		} `bson:"config"`
	}
	if err := res.Decode(&doc); err != nil {
		return nil, err
	}
	var hosts []string
	for _, member := range doc.Config.Members {
		if member.Host == m.self {
			continue
		}
		hosts = append(hosts, member.Host)
	}
	return hosts, nil
}
