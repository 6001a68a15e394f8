package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vbp1/mongoclone/internal/clone"
	"github.com/vbp1/mongoclone/internal/log"
	"github.com/vbp1/mongoclone/internal/util/signalctx"
)

// Config holds values of CLI flags. A subset can also come from a YAML file
// given with --config; explicitly set flags win over file values.
type Config struct {
	Source   string `yaml:"source"`
	LocalURI string `yaml:"local_uri"`
	SelfAddr string `yaml:"self_addr"`

	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	AuthSource string `yaml:"auth_source"`

	BatchSize int `yaml:"batch_size"`
	Workers   int `yaml:"workers"`

	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"`

	DataPath       string  `yaml:"data_path"`
	SkipSpaceCheck bool    `yaml:"skip_space_check"`
	SpaceFactor    float64 `yaml:"space_factor"`

	MetricsAddr string `yaml:"metrics_addr"`

	Progress    string `yaml:"progress"`
	ProgressInt int    `yaml:"progress_interval"`

	JSONSummary bool `yaml:"json_summary"`
	Debug       bool `yaml:"debug"`
	Verbose     bool `yaml:"verbose"`
}

var (
	cfg        = &Config{}
	configFile string
)

// RootCmd is the main entry point invoked from cmd/mongoclone
var RootCmd = &cobra.Command{
	Use:   "mongoclone",
	Short: "Initial-sync a MongoDB replica set member by cloning all databases from a sync source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := loadConfigFile(cmd, configFile); err != nil {
				return err
			}
		}
		if cfg.Source == "" || cfg.LocalURI == "" {
			return fmt.Errorf("--source and --local-uri are required")
		}
		log.Setup(cfg.Debug, cfg.Verbose)

		ctx, cancel, _ := signalctx.WithSignals(cmd.Context())
		defer cancel()

		return clone.Run(ctx, &clone.Config{
			Source:          cfg.Source,
			LocalURI:        cfg.LocalURI,
			SelfAddr:        cfg.SelfAddr,
			Username:        cfg.Username,
			Password:        cfg.Password,
			AuthSource:      cfg.AuthSource,
			BatchSize:       cfg.BatchSize,
			Workers:         cfg.Workers,
			RetryMaxElapsed: cfg.RetryMaxElapsed,
			DataPath:        cfg.DataPath,
			SkipSpaceCheck:  cfg.SkipSpaceCheck,
			SpaceFactor:     cfg.SpaceFactor,
			MetricsAddr:     cfg.MetricsAddr,
			Progress:        cfg.Progress,
			ProgressInt:     cfg.ProgressInt,
			JSONSummary:     cfg.JSONSummary,
			Verbose:         cfg.Verbose,
		})
	},
	SilenceUsage: true,
}

// Execute parses flags and runs the root command.
func Execute() error { return RootCmd.Execute() }

// loadConfigFile fills cfg from a YAML file, then re-applies any flags the
// user set explicitly so the command line keeps precedence.
func loadConfigFile(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	fileCfg := &Config{}
	if err := yaml.Unmarshal(data, fileCfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	flagCfg := *cfg
	*cfg = *fileCfg
	f := cmd.Flags()
	if f.Changed("source") {
		cfg.Source = flagCfg.Source
	}
	if f.Changed("local-uri") {
		cfg.LocalURI = flagCfg.LocalURI
	}
	if f.Changed("self-addr") {
		cfg.SelfAddr = flagCfg.SelfAddr
	}
	if f.Changed("username") {
		cfg.Username = flagCfg.Username
	}
	if f.Changed("password") {
		cfg.Password = flagCfg.Password
	}
	if f.Changed("auth-source") {
		cfg.AuthSource = flagCfg.AuthSource
	}
	if f.Changed("batch-size") {
		cfg.BatchSize = flagCfg.BatchSize
	}
	if f.Changed("workers") {
		cfg.Workers = flagCfg.Workers
	}
	if f.Changed("retry-max-elapsed") {
		cfg.RetryMaxElapsed = flagCfg.RetryMaxElapsed
	}
	if f.Changed("data-path") {
		cfg.DataPath = flagCfg.DataPath
	}
	if f.Changed("skip-space-check") {
		cfg.SkipSpaceCheck = flagCfg.SkipSpaceCheck
	}
	if f.Changed("space-factor") {
		cfg.SpaceFactor = flagCfg.SpaceFactor
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = flagCfg.MetricsAddr
	}
	if f.Changed("progress") {
		cfg.Progress = flagCfg.Progress
	}
	if f.Changed("progress-interval") {
		cfg.ProgressInt = flagCfg.ProgressInt
	}
	if f.Changed("json-summary") {
		cfg.JSONSummary = flagCfg.JSONSummary
	}
	if f.Changed("debug") {
		cfg.Debug = flagCfg.Debug
	}
	if f.Changed("verbose") {
		cfg.Verbose = flagCfg.Verbose
	}
	return nil
}

func init() {
	f := RootCmd.Flags()
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (flags win over file values)")
	f.StringVar(&cfg.Source, "source", "", "Sync source host:port (required)")
	f.StringVar(&cfg.LocalURI, "local-uri", "mongodb://localhost:27017", "Destination mongod URI")
	f.StringVar(&cfg.SelfAddr, "self-addr", "", "This node's host:port as listed in the replica set config")
	f.StringVar(&cfg.Username, "username", "", "Username for the sync source")
	f.StringVar(&cfg.Password, "password", "", "Password for the sync source")
	f.StringVar(&cfg.AuthSource, "auth-source", "", "Authentication database (default admin)")
	f.IntVar(&cfg.BatchSize, "batch-size", 1000, "Documents per copy batch")
	f.IntVar(&cfg.Workers, "workers", 0, "Number of parallel collection copies (default: CPU cores / 2)")
	f.DurationVar(&cfg.RetryMaxElapsed, "retry-max-elapsed", 5*time.Minute, "Total retry budget per pipeline stage")
	f.StringVar(&cfg.DataPath, "data-path", "", "Destination dbpath for the free-space preflight")
	f.BoolVar(&cfg.SkipSpaceCheck, "skip-space-check", false, "Skip the free-space preflight")
	f.Float64Var(&cfg.SpaceFactor, "space-factor", 1.2, "Free space required as a multiple of the source's reported size")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while cloning")
	f.StringVar(&cfg.Progress, "progress", "auto", "Progress display mode: auto|bar|plain|none")
	f.IntVar(&cfg.ProgressInt, "progress-interval", 30, "Seconds between updates in plain mode")
	f.BoolVar(&cfg.JSONSummary, "json-summary", false, "Print final stats as JSON")
	f.BoolVar(&cfg.Debug, "debug", false, "Enable debug trace output")
	f.BoolVar(&cfg.Verbose, "verbose", false, "Verbose output")
}
