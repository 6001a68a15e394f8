package clone

import "time"

// Config collects parameters required by the initial-sync run.
// It is a subset/superset of CLI flags but lives in a standalone package to avoid import cycles.
type Config struct {
	Source   string // sync source host:port
	LocalURI string // destination mongod
	SelfAddr string // this node's host:port as listed in the replica set config

	Username   string
	Password   string
	AuthSource string

	BatchSize int
	Workers   int

	RetryMaxElapsed time.Duration

	DataPath       string // destination dbpath, used for the space preflight
	SkipSpaceCheck bool
	SpaceFactor    float64 // required free space = reported size * factor

	MetricsAddr string

	Progress    string // auto|bar|plain|none
	ProgressInt int    // seconds between updates in plain mode

	JSONSummary bool
	Verbose     bool
}
