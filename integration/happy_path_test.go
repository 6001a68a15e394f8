//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vbp1/mongoclone/integration/util"
)

func TestHappyPath(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	composeFile := filepath.Join("compose.yml")
	project := "mongoclone"
	teardown, err := util.StartCompose(ctx, composeFile, project)
	require.NoError(err)
	defer teardown()

	sourceContainer := fmt.Sprintf("%s-mongo-source-1", project)
	require.NoError(util.WaitMongoReady(ctx, sourceContainer, 1*time.Minute))
	destContainer := fmt.Sprintf("%s-mongo-dest-1", project)
	require.NoError(util.WaitMongoReady(ctx, destContainer, 1*time.Minute))

	// seed the source with a couple of databases
	_, err = util.Eval(ctx, sourceContainer,
		`db.getSiblingDB("shop").orders.insertMany([{sku: "a", qty: 1}, {sku: "b", qty: 2}]);
		 db.getSiblingDB("shop").orders.createIndex({sku: 1});
		 db.getSiblingDB("crm").people.insertOne({name: "x"});`)
	require.NoError(err)

	// run mongoclone from the destination side
	cmd := exec.CommandContext(ctx, "docker", "exec", destContainer,
		"mongoclone", "--source", "mongo-source:27017", "--local-uri", "mongodb://localhost:27017",
		"--skip-space-check", "--verbose", "--progress", "none", "--json-summary")
	out, err := cmd.CombinedOutput()
	require.NoErrorf(err, "mongoclone failed: %s", string(out))

	// verify documents arrived
	count, err := util.Eval(ctx, destContainer, `db.getSiblingDB("shop").orders.countDocuments({})`)
	require.NoError(err)
	require.Equal("2", strings.TrimSpace(count))

	// secondary index rebuilt
	idx, err := util.Eval(ctx, destContainer, `db.getSiblingDB("shop").orders.getIndexes().length`)
	require.NoError(err)
	require.Equal("2", strings.TrimSpace(idx))
}
