// Package config loads the shardmover and router configuration from a TOML
// file with SHARDMOVER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/backend"
	"github.com/getpup/shardmover/migration"
	"github.com/getpup/shardmover/routing"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml"
)

// EnvPrefix prefixes every environment override, e.g. SHARDMOVER_MIGRATION_TABLE.
const EnvPrefix = "shardmover"

// Coordination drivers.
const (
	CoordinationZooKeeper = "zookeeper"
	CoordinationMemory    = "memory"
)

// Duration is a time.Duration that reads "2s" style strings from TOML and the environment.
type Duration time.Duration

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalText parses a time.ParseDuration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders d like time.Duration.String.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Cfg is a container for all config derived from the TOML file.
type Cfg struct {
	Source               backend.Config         `toml:"source" envconfig:"source"`
	Destination          backend.Config         `toml:"destination" envconfig:"destination"`
	Coordination         Coordination           `toml:"coordination" envconfig:"coordination"`
	Replication          Replication            `toml:"replication" envconfig:"replication"`
	Migration            Migration              `toml:"migration" envconfig:"migration"`
	Tables               []shardmover.TableSpec `toml:"tables" ignored:"true"`
	Journal              Journal                `toml:"journal" envconfig:"journal"`
	Logging              Logging                `toml:"logging" envconfig:"logging"`
	Router               Router                 `toml:"router" envconfig:"router"`
	PrometheusListenAddr string                 `toml:"prometheus_listen_addr" split_words:"true"`
}

// Coordination configures the service holding the routing document.
type Coordination struct {
	// Driver is zookeeper or memory (default: zookeeper).
	Driver           string   `toml:"driver"`
	ConnectionString string   `toml:"connection_string" split_words:"true"`
	ConfigPath       string   `toml:"config_path" split_words:"true"`
	SessionTimeout   Duration `toml:"session_timeout" split_words:"true"`
	CompareAndSwap   bool     `toml:"compare_and_swap" split_words:"true"`
}

// Replication holds retry budgets and the replication account.
// Budgets left at 0 take their default; a negative budget means none.
type Replication struct {
	MaxRetries    int      `toml:"max_retries" split_words:"true"`
	RetryInterval Duration `toml:"retry_interval" split_words:"true"`
	SyncTimeout   Duration `toml:"sync_timeout" split_words:"true"`
	MaxAllowedLag Duration `toml:"max_allowed_lag" split_words:"true"`
	User          string   `toml:"replication_user" envconfig:"user"`
	Password      string   `toml:"replication_password" envconfig:"password"`

	// SourceHost is the source address as seen from the destination server.
	SourceHost string `toml:"source_host" split_words:"true"`
}

// Migration names the migrated table and how the job ends.
// A negative verification_retries fails the job on the first mismatch.
type Migration struct {
	Table               string `toml:"table"`
	VerificationRetries int    `toml:"verification_retries" split_words:"true"`
	CutoverOrder        string `toml:"cutover_order" split_words:"true"`
}

// Journal points at the PostgreSQL job journal. An empty DSN keeps jobs in memory.
type Journal struct {
	DSN   string `toml:"dsn"`
	Table string `toml:"table"`
}

// Logging configures logrus.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Router configures the HTTP router.
type Router struct {
	ListenAddr string `toml:"listen_addr" split_words:"true"`
}

// Load initializes the Config variable from file and the environment.
// Defaults are applied to every field left unset.
func Load(file io.Reader) (Cfg, error) {
	var cfg Cfg

	if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
		return Cfg{}, fmt.Errorf("load toml: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Cfg{}, fmt.Errorf("envconfig: %w", err)
	}

	cfg.setDefaults()
	return cfg, nil
}

// LoadFile opens path and loads it. An empty path loads defaults and the environment only.
func LoadFile(path string) (Cfg, error) {
	if path == "" {
		return Load(emptyReader{})
	}

	f, err := os.Open(path)
	if err != nil {
		return Cfg{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	return Load(f)
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

func (cfg *Cfg) setDefaults() {
	setShardDefaults(&cfg.Source, backend.Config{
		Driver: backend.DriverMySQL, Host: "localhost", Port: 3306, User: "root", Password: "password", Database: "db1",
	})
	setShardDefaults(&cfg.Destination, backend.Config{
		Driver: backend.DriverMySQL, Host: "localhost", Port: 3307, User: "root", Password: "password", Database: "db2",
	})

	if cfg.Coordination.Driver == "" {
		cfg.Coordination.Driver = CoordinationZooKeeper
	}
	if cfg.Coordination.ConnectionString == "" {
		cfg.Coordination.ConnectionString = "localhost:2181"
	}
	if cfg.Coordination.ConfigPath == "" {
		cfg.Coordination.ConfigPath = routing.DefaultPath
	}
	if cfg.Coordination.SessionTimeout == 0 {
		cfg.Coordination.SessionTimeout = Duration(10 * time.Second)
	}

	if cfg.Replication.MaxRetries == 0 {
		cfg.Replication.MaxRetries = 5
	}
	if cfg.Replication.RetryInterval == 0 {
		cfg.Replication.RetryInterval = Duration(2 * time.Second)
	}
	if cfg.Replication.SyncTimeout == 0 {
		cfg.Replication.SyncTimeout = Duration(30 * time.Second)
	}
	if cfg.Replication.MaxAllowedLag == 0 {
		cfg.Replication.MaxAllowedLag = Duration(time.Second)
	}
	if cfg.Replication.User == "" {
		cfg.Replication.User = "repl"
	}

	if cfg.Migration.VerificationRetries == 0 {
		cfg.Migration.VerificationRetries = 3
	}
	if cfg.Migration.CutoverOrder == "" {
		cfg.Migration.CutoverOrder = string(migration.DropThenPublish)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Router.ListenAddr == "" {
		cfg.Router.ListenAddr = ":3000"
	}
}

// setShardDefaults fills every empty field of c from def.
func setShardDefaults(c *backend.Config, def backend.Config) {
	if c.Driver == "" {
		c.Driver = def.Driver
	}
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.User == "" {
		c.User = def.User
	}
	if c.Password == "" {
		c.Password = def.Password
	}
	if c.Database == "" {
		c.Database = def.Database
	}
}

// Validate checks the current Config for sanity.
func (cfg *Cfg) Validate() error {
	for _, run := range []func() error{
		cfg.validateShards,
		cfg.validateCoordination,
		cfg.validateReplication,
		cfg.validateMigration,
		cfg.validateTables,
	} {
		if err := run(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRouter checks only what the router needs.
func (cfg *Cfg) ValidateRouter() error {
	if cfg.Router.ListenAddr == "" {
		return errors.New("router listen_addr is not set")
	}
	if err := cfg.validateCoordination(); err != nil {
		return err
	}
	return cfg.validateShards()
}

func (cfg *Cfg) validateShards() error {
	for _, shard := range []struct {
		name string
		cfg  backend.Config
	}{{"source", cfg.Source}, {"destination", cfg.Destination}} {
		if _, err := backend.DialectFor(shard.cfg.Driver); err != nil {
			return fmt.Errorf("%s: %w", shard.name, err)
		}
		if err := backend.ValidateIdentifier(shard.cfg.Database, shard.name+" database"); err != nil {
			return err
		}
	}
	if cfg.Source.Ref() == cfg.Destination.Ref() {
		return fmt.Errorf("source and destination are the same shard %s", cfg.Source.Ref())
	}
	return nil
}

func (cfg *Cfg) validateCoordination() error {
	switch cfg.Coordination.Driver {
	case CoordinationZooKeeper:
		if cfg.Coordination.ConnectionString == "" {
			return errors.New("coordination connection_string is not set")
		}
	case CoordinationMemory:
	default:
		return fmt.Errorf("unknown coordination driver %q", cfg.Coordination.Driver)
	}
	if _, err := routing.Parents(cfg.Coordination.ConfigPath); err != nil {
		return fmt.Errorf("coordination config_path: %w", err)
	}
	return nil
}

func (cfg *Cfg) validateReplication() error {
	r := cfg.Replication
	if r.RetryInterval < 0 || r.SyncTimeout < 0 || r.MaxAllowedLag < 0 {
		return errors.New("replication durations must not be negative")
	}
	return nil
}

func (cfg *Cfg) validateMigration() error {
	if cfg.Migration.Table == "" {
		return errors.New("migration table is not set")
	}
	if !migration.CutoverOrder(cfg.Migration.CutoverOrder).Valid() {
		return fmt.Errorf("unknown cutover_order %q", cfg.Migration.CutoverOrder)
	}
	return nil
}

func (cfg *Cfg) validateTables() error {
	seen := make(map[string]bool, len(cfg.Tables))
	for _, spec := range cfg.Tables {
		if err := backend.ValidateTableSpec(spec); err != nil {
			return err
		}
		if seen[spec.Name] {
			return fmt.Errorf("table %s is defined twice", spec.Name)
		}
		seen[spec.Name] = true
	}
	if !seen[cfg.Migration.Table] {
		return fmt.Errorf("migration table %s has no [[tables]] definition", cfg.Migration.Table)
	}
	return nil
}

// Table returns the definition of name.
func (cfg *Cfg) Table(name string) (shardmover.TableSpec, bool) {
	for _, spec := range cfg.Tables {
		if spec.Name == name {
			return spec, true
		}
	}
	return shardmover.TableSpec{}, false
}
