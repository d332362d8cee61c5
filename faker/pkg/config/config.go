// Package config holds the run configuration: defaults, an optional YAML
// file, environment overrides and a single validation pass that parses
// every pattern, unit and range the run needs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"

	"github.com/malbeclabs/tsfaker/faker/pkg/plan"
	"github.com/malbeclabs/tsfaker/faker/pkg/rowkey"
	"github.com/malbeclabs/tsfaker/faker/pkg/synth"
	"github.com/malbeclabs/tsfaker/faker/pkg/timefmt"
	"github.com/malbeclabs/tsfaker/faker/pkg/window"
)

const (
	BackendMemory     = "memory"
	BackendClickHouse = "clickhouse"
	BackendBolt       = "bolt"
	BackendPostgres   = "postgres"
	BackendInflux     = "influxdb"
)

var defaultColumns = []string{"activePower", "reactivePower"}

type Config struct {
	MetaCsvFile    string `yaml:"metaCsvFile"`
	TableNamespace string `yaml:"tableNamespace"`
	TableName      string `yaml:"tableName"`
	// Entities, when set, replaces the metadata file.
	Entities []string `yaml:"entities"`

	DryRun        bool   `yaml:"dryRun"`
	ThreadPools   int    `yaml:"threadPools"`
	MaxLimit      int64  `yaml:"maxLimit"`
	ErrorContinue bool   `yaml:"errorContinue"`
	AwaitSeconds  int    `yaml:"awaitSeconds"`
	Provider      string `yaml:"provider"`

	RowKey          RowKeyConfig          `yaml:"rowKey"`
	Sample          SampleConfig          `yaml:"sample"`
	Generator       GeneratorConfig       `yaml:"generator"`
	SimpleFaker     SimpleFakerConfig     `yaml:"simpleFaker"`
	CumulativeFaker CumulativeFakerConfig `yaml:"cumulativeFaker"`
	Store           StoreConfig           `yaml:"store"`
	Preview         PreviewConfig         `yaml:"preview"`
	Slack           SlackConfig           `yaml:"slack"`

	MetricsAddr string `yaml:"metricsAddr"`

	// Clock resolves the default sample window.
	Clock clockwork.Clock `yaml:"-"`

	// Set by Validate.
	Resolved Resolved `yaml:"-"`
}

type RowKeyConfig struct {
	Separator   string `yaml:"separator"`
	DatePattern string `yaml:"datePattern"`
	Timezone    string `yaml:"timezone"`
}

type SampleConfig struct {
	StartDate   string `yaml:"startDate"`
	EndDate     string `yaml:"endDate"`
	DatePattern string `yaml:"datePattern"`
}

type GeneratorConfig struct {
	RowKeyDatePattern     string  `yaml:"rowKeyDatePattern"`
	RowKeyDateAmount      int     `yaml:"rowKeyDateAmount"`
	Steps                 int     `yaml:"steps"`
	ValueRandomMinPercent float64 `yaml:"valueRandomMinPercent"`
	ValueRandomMaxPercent float64 `yaml:"valueRandomMaxPercent"`
	Seed                  uint64  `yaml:"seed"`
	WritesPerSecond       float64 `yaml:"writesPerSecond"`
}

type SimpleFakerConfig struct {
	ColumnNames []string `yaml:"columnNames"`
}

type CumulativeFakerConfig struct {
	OffsetLastDateAmount int      `yaml:"offsetLastDateAmount"`
	ColumnNames          []string `yaml:"columnNames"`
}

type StoreConfig struct {
	Backend    string           `yaml:"backend"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Bolt       BoltConfig       `yaml:"bolt"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Influx     InfluxConfig     `yaml:"influxdb"`
}

type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Secure   bool   `yaml:"secure"`
	Migrate  bool   `yaml:"migrate"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Migrate  bool   `yaml:"migrate"`
	MaxConns int32  `yaml:"maxConns"`
}

type InfluxConfig struct {
	Host     string `yaml:"host"`
	Token    string `yaml:"token"`
	Database string `yaml:"database"`
}

type PreviewConfig struct {
	BucketURL string `yaml:"bucketURL"`
	Key       string `yaml:"key"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhookURL"`
}

// Resolved holds the parsed form of the string settings.
type Resolved struct {
	Location      *time.Location
	KeyPattern    timefmt.Pattern
	SamplePattern timefmt.Pattern
	Unit          timefmt.Unit
	Provider      synth.Provider
	Bounds        synth.Bounds
	Columns       []string
	Window        window.Window
	AwaitTimeout  time.Duration
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		MetaCsvFile:    "~/.phoenix-fake-tool/meta.csv",
		TableNamespace: "safeclound",
		TableName:      "tb_ammeter",
		DryRun:         true,
		ThreadPools:    1,
		MaxLimit:       14400,
		Provider:       synth.Cumulative.String(),
		RowKey: RowKeyConfig{
			Separator:   "|",
			DatePattern: "yyyyMMddHHmm",
			Timezone:    "UTC",
		},
		Sample: SampleConfig{
			DatePattern: window.DefaultPattern,
		},
		Generator: GeneratorConfig{
			RowKeyDatePattern:     "dd",
			RowKeyDateAmount:      1,
			Steps:                 1,
			ValueRandomMinPercent: 1.0124,
			ValueRandomMaxPercent: 1.0987,
		},
		SimpleFaker: SimpleFakerConfig{
			ColumnNames: append([]string(nil), defaultColumns...),
		},
		CumulativeFaker: CumulativeFakerConfig{
			OffsetLastDateAmount: -7,
			ColumnNames:          append([]string(nil), defaultColumns...),
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			ClickHouse: ClickHouseConfig{
				Database: "default",
				Username: "default",
			},
			Postgres: PostgresConfig{Migrate: true},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides connection settings from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Store.ClickHouse.Addr, "CLICKHOUSE_ADDR_TCP")
	set(&c.Store.ClickHouse.Database, "CLICKHOUSE_DATABASE")
	set(&c.Store.ClickHouse.Username, "CLICKHOUSE_USERNAME")
	set(&c.Store.ClickHouse.Password, "CLICKHOUSE_PASSWORD")
	set(&c.Store.Postgres.DSN, "POSTGRES_DSN")
	set(&c.Store.Influx.Host, "INFLUX_HOST")
	set(&c.Store.Influx.Token, "INFLUX_TOKEN")
	set(&c.Store.Influx.Database, "INFLUX_DATABASE")
	set(&c.Slack.WebhookURL, "SLACK_WEBHOOK_URL")
	if v := getenv("CLICKHOUSE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CLICKHOUSE_SECURE %q: %w", v, err)
		}
		c.Store.ClickHouse.Secure = secure
	}
	return nil
}

// Validate checks the configuration and fills Resolved.
func (c *Config) Validate() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	var r Resolved
	var err error

	if c.TableNamespace == "" || c.TableName == "" {
		return errors.New("tableNamespace and tableName are required")
	}
	if c.ThreadPools < 1 {
		return fmt.Errorf("threadPools must be at least 1, got %d", c.ThreadPools)
	}
	if c.AwaitSeconds < 0 {
		return fmt.Errorf("awaitSeconds must not be negative, got %d", c.AwaitSeconds)
	}
	r.AwaitTimeout = time.Duration(c.AwaitSeconds) * time.Second

	if r.Location, err = time.LoadLocation(c.RowKey.Timezone); err != nil {
		return fmt.Errorf("invalid rowKey.timezone: %w", err)
	}
	if _, err := rowkey.NewCodec(c.RowKey.Separator, r.Location); err != nil {
		if errors.Is(err, rowkey.ErrInvalidLocation) {
			return fmt.Errorf("invalid rowKey.timezone: %w", err)
		}
		return fmt.Errorf("invalid rowKey.separator: %w", err)
	}
	if r.KeyPattern, err = timefmt.ParsePattern(c.RowKey.DatePattern); err != nil {
		return fmt.Errorf("invalid rowKey.datePattern: %w", err)
	}
	if r.SamplePattern, err = timefmt.ParsePattern(c.Sample.DatePattern); err != nil {
		return fmt.Errorf("invalid sample.datePattern: %w", err)
	}
	if r.Unit, err = timefmt.ParseUnit(c.Generator.RowKeyDatePattern); err != nil {
		return fmt.Errorf("invalid generator.rowKeyDatePattern: %w", err)
	}
	if c.Generator.RowKeyDateAmount < 1 {
		return fmt.Errorf("generator.rowKeyDateAmount must be at least 1, got %d", c.Generator.RowKeyDateAmount)
	}
	if c.Generator.Steps < 1 {
		return fmt.Errorf("generator.steps must be at least 1, got %d", c.Generator.Steps)
	}
	if c.Generator.WritesPerSecond < 0 {
		return fmt.Errorf("generator.writesPerSecond must not be negative, got %v", c.Generator.WritesPerSecond)
	}

	if r.Provider, err = synth.ParseProvider(c.Provider); err != nil {
		return err
	}
	r.Bounds = synth.Bounds{Min: c.Generator.ValueRandomMinPercent, Max: c.Generator.ValueRandomMaxPercent}
	if err := r.Bounds.Validate(r.Provider); err != nil {
		return err
	}
	switch r.Provider {
	case synth.Simple:
		r.Columns = c.SimpleFaker.ColumnNames
	case synth.Cumulative:
		r.Columns = c.CumulativeFaker.ColumnNames
		if c.CumulativeFaker.OffsetLastDateAmount >= 0 {
			return fmt.Errorf("cumulativeFaker.offsetLastDateAmount must be negative, got %d", c.CumulativeFaker.OffsetLastDateAmount)
		}
		if err := plan.CheckReferences(c.Generator.RowKeyDateAmount, c.Generator.Steps, c.CumulativeFaker.OffsetLastDateAmount); err != nil {
			return fmt.Errorf("invalid generator.steps: %w", err)
		}
	}
	if len(r.Columns) == 0 {
		return fmt.Errorf("no column names configured for provider %s", r.Provider)
	}

	if r.Window, err = window.Resolve(window.Params{
		StartDate: c.Sample.StartDate,
		EndDate:   c.Sample.EndDate,
		Pattern:   r.SamplePattern,
		Location:  r.Location,
	}, c.Clock.Now()); err != nil {
		return err
	}

	if len(c.Entities) == 0 {
		if c.MetaCsvFile == "" {
			return errors.New("metaCsvFile or entities is required")
		}
		if c.MetaCsvFile, err = prepareLocalFile(c.MetaCsvFile); err != nil {
			return fmt.Errorf("invalid metaCsvFile: %w", err)
		}
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	c.Resolved = r
	return nil
}

func (c *Config) validateStore() error {
	s := &c.Store
	switch s.Backend {
	case BackendMemory:
	case BackendClickHouse:
		if s.ClickHouse.Addr == "" {
			return errors.New("store.clickhouse.addr is required")
		}
	case BackendBolt:
		if s.Bolt.Path == "" {
			return errors.New("store.bolt.path is required")
		}
		path, err := prepareLocalFile(s.Bolt.Path)
		if err != nil {
			return fmt.Errorf("invalid store.bolt.path: %w", err)
		}
		s.Bolt.Path = path
	case BackendPostgres:
		if s.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required")
		}
	case BackendInflux:
		if s.Influx.Host == "" || s.Influx.Database == "" {
			return errors.New("store.influxdb.host and store.influxdb.database are required")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", s.Backend)
	}
	return nil
}

// prepareLocalFile expands a leading ~ and creates the parent directory.
// URLs are returned unchanged.
func prepareLocalFile(p string) (string, error) {
	if strings.Contains(p, "://") {
		return p, nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", p, err)
	}
	return p, nil
}
