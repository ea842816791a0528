// Package cfg loads and validates shardlord's configuration: TOML file
// plus CLI-flag overrides, following the same load/validate/singleton
// shape as the rest of this codebase's config handling.
package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ShardlordConfiguration controls whether this process runs the shardlord
// role and how it reaches its own metadata database.
type ShardlordConfiguration struct {
	Enabled    bool   `toml:"enabled"`
	DBName     string `toml:"dbname"`
	ConnString string `toml:"connstring"`
}

// RetryConfiguration controls the two distinct wait durations the
// copy-partition state machine uses: one for SQL failures, one for
// not-yet-ready polls.
type RetryConfiguration struct {
	CmdRetryNaptimeMS int `toml:"cmd_retry_naptime_ms"`
	PollIntervalMS    int `toml:"poll_interval_ms"`
}

// CmdRetryNaptime is the wait after a SQL-level failure, as a Duration.
func (r RetryConfiguration) CmdRetryNaptime() time.Duration {
	return time.Duration(r.CmdRetryNaptimeMS) * time.Millisecond
}

// PollInterval is the wait between not-yet-ready polls, as a Duration.
func (r RetryConfiguration) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

// ReplicationConfiguration controls logical replication behavior shared
// across every copy-partition task.
type ReplicationConfiguration struct {
	SyncReplicas bool `toml:"sync_replicas"`
}

// AdminConfiguration controls the HTTP status/introspection surface.
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"`
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration controls the metrics endpoint.
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is shardlord's full configuration.
type Configuration struct {
	NodeID  uint64 `toml:"my_id"`
	DataDir string `toml:"data_dir"`

	Shardlord   ShardlordConfiguration   `toml:"shardlord"`
	Retry       RetryConfiguration       `toml:"retry"`
	Replication ReplicationConfiguration `toml:"replication"`
	Admin       AdminConfiguration       `toml:"admin"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
}

// Command line flags.
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "my_id (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Config is the process-wide configuration singleton, populated by Load.
var Config = &Configuration{
	NodeID:  0, // auto-generate
	DataDir: "./shardlord-data",

	Shardlord: ShardlordConfiguration{
		Enabled: true,
		DBName:  "shardman",
	},

	Retry: RetryConfiguration{
		CmdRetryNaptimeMS: 10000,
		PollIntervalMS:    10000,
	},

	Replication: ReplicationConfiguration{
		SyncReplicas: true,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8081,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
	},
}

// Load loads configuration from file and applies CLI overrides.
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if Config.NodeID == 0 {
		id, err := loadOrGenerateNodeID(Config.DataDir)
		if err != nil {
			return fmt.Errorf("failed to determine node ID: %w", err)
		}
		Config.NodeID = id
		log.Info().Uint64("node_id", Config.NodeID).Msg("resolved node ID")
	}

	return nil
}

// nodeIDSidecarFile pins the generated node ID to disk so a shardlord
// rescheduled onto different hardware (e.g. a container restart) still
// resolves to the same id instead of a fresh machineid-derived one.
const nodeIDSidecarFile = "node-id"

func loadOrGenerateNodeID(dataDir string) (uint64, error) {
	path := filepath.Join(dataDir, nodeIDSidecarFile)

	if raw, err := os.ReadFile(path); err == nil {
		id, err := strconv.ParseUint(string(raw), 10, 64)
		if err == nil {
			return id, nil
		}
		log.Warn().Str("path", path).Err(err).Msg("ignoring unparsable node-id sidecar file")
	}

	id, err := generateNodeID()
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, []byte(strconv.FormatUint(id, 10)), 0644); err != nil {
		log.Warn().Err(err).Msg("failed to persist generated node ID, will regenerate on restart")
	}
	return id, nil
}

func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("shardlord")
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors.
func Validate() error {
	if Config.Shardlord.Enabled && Config.Shardlord.ConnString == "" {
		return fmt.Errorf("shardlord.connstring is required when shardlord.enabled is true")
	}

	if Config.Retry.CmdRetryNaptimeMS < 1 {
		return fmt.Errorf("retry.cmd_retry_naptime_ms must be >= 1")
	}
	if Config.Retry.PollIntervalMS < 1 {
		return fmt.Errorf("retry.poll_interval_ms must be >= 1")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}
