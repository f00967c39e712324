package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

const (
	BackendRclone = "rclone"
	BackendDrive  = "drive"
	BackendLocal  = "local"

	LedgerFileName = "livearchive.db"
)

// StrategyConfig describes one capture tool invocation. Args may contain the
// placeholders {url}, {output}, {stem} and {dir}.
type StrategyConfig struct {
	Name    string   `toml:"name"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Pattern string   `toml:"pattern"`
	Ext     string   `toml:"ext"`
}

// Config holds application configuration.
type Config struct {
	OutputDir            string           `toml:"output_dir"`
	RemoteRoot           string           `toml:"remote_root"`
	RemoteBackend        string           `toml:"remote_backend"`
	RcloneCmd            string           `toml:"rclone_cmd"`
	DriveCredentials     string           `toml:"drive_credentials"`
	DriveFolderID        string           `toml:"drive_folder_id"`
	KeepLastN            int              `toml:"keep_last_n"`
	MaxRuntimeSeconds    int              `toml:"max_runtime_seconds"`
	MaxConcurrency       int              `toml:"max_concurrency"`
	UploadMaxAttempts    int              `toml:"upload_max_attempts"`
	UploadBackoffMin     float64          `toml:"upload_backoff_min"`
	UploadBackoffMax     float64          `toml:"upload_backoff_max"`
	UploadTimeoutSeconds int              `toml:"upload_timeout_seconds"`
	URLsFile             string           `toml:"urls_file"`
	YtarchiveCmd         string           `toml:"ytarchive_cmd"`
	YtdlpCmd             string           `toml:"ytdlp_cmd"`
	DBPath               string           `toml:"db_path"`
	NoLedger             bool             `toml:"no_ledger"`
	StatusAddr           string           `toml:"status_addr"`
	LogLevel             string           `toml:"log_level"`
	Strategies           []StrategyConfig `toml:"strategy"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutputDir:            "./recordings",
		RemoteRoot:           "gdrive:yt_backups",
		RemoteBackend:        BackendRclone,
		RcloneCmd:            "rclone",
		DriveCredentials:     "token.json",
		KeepLastN:            5,
		MaxRuntimeSeconds:    21600,
		UploadMaxAttempts:    5,
		UploadBackoffMin:     2,
		UploadBackoffMax:     30,
		UploadTimeoutSeconds: 3600,
		URLsFile:             "urls.txt",
		YtarchiveCmd:         "ytarchive",
		YtdlpCmd:             "yt-dlp",
		LogLevel:             "info",
	}
}

// DefaultConfigPath returns the config file location under XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "livearchive", "config.toml")
}

// Load builds a Config from defaults, the TOML file at path and the environment.
// An empty path falls back to DefaultConfigPath, which may be absent.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if err := LoadFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile decodes the TOML file at path over cfg. Unknown keys are rejected.
func LoadFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotenv exports the variables in a .env file. A missing file is not an error.
// Variables already present in the environment win.
func LoadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

type envVar struct {
	name string
	set  func(cfg *Config, v string) error
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func floatVar(dst func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		*dst(cfg) = f
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(cfg) = b
		return nil
	}
}

// envVars lists recognised environment variables. REMOTE_ROOT is applied after
// RCLONE_REMOTE so it wins when both are set.
var envVars = []envVar{
	{"OUTPUT_DIR", stringVar(func(c *Config) *string { return &c.OutputDir })},
	{"RCLONE_REMOTE", stringVar(func(c *Config) *string { return &c.RemoteRoot })},
	{"REMOTE_ROOT", stringVar(func(c *Config) *string { return &c.RemoteRoot })},
	{"REMOTE_BACKEND", stringVar(func(c *Config) *string { return &c.RemoteBackend })},
	{"RCLONE_CMD", stringVar(func(c *Config) *string { return &c.RcloneCmd })},
	{"DRIVE_CREDENTIALS", stringVar(func(c *Config) *string { return &c.DriveCredentials })},
	{"DRIVE_FOLDER_ID", stringVar(func(c *Config) *string { return &c.DriveFolderID })},
	{"KEEP_LAST_N", intVar(func(c *Config) *int { return &c.KeepLastN })},
	{"MAX_RUNTIME_SECONDS", intVar(func(c *Config) *int { return &c.MaxRuntimeSeconds })},
	{"MAX_CONCURRENCY", intVar(func(c *Config) *int { return &c.MaxConcurrency })},
	{"UPLOAD_MAX_ATTEMPTS", intVar(func(c *Config) *int { return &c.UploadMaxAttempts })},
	{"UPLOAD_BACKOFF_MIN", floatVar(func(c *Config) *float64 { return &c.UploadBackoffMin })},
	{"UPLOAD_BACKOFF_MAX", floatVar(func(c *Config) *float64 { return &c.UploadBackoffMax })},
	{"UPLOAD_TIMEOUT_SECONDS", intVar(func(c *Config) *int { return &c.UploadTimeoutSeconds })},
	{"URLS_FILE", stringVar(func(c *Config) *string { return &c.URLsFile })},
	{"YTARCHIVE_CMD", stringVar(func(c *Config) *string { return &c.YtarchiveCmd })},
	{"YTDLP_CMD", stringVar(func(c *Config) *string { return &c.YtdlpCmd })},
	{"DB_PATH", stringVar(func(c *Config) *string { return &c.DBPath })},
	{"NO_LEDGER", boolVar(func(c *Config) *bool { return &c.NoLedger })},
	{"STATUS_ADDR", stringVar(func(c *Config) *string { return &c.StatusAddr })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.LogLevel })},
}

// ApplyEnv overrides cfg with the environment variables reported by lookup.
// Empty values are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var result *multierror.Error
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(cfg, v); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s=%q: %w", ev.name, v, err))
		}
	}
	return result.ErrorOrNil()
}

// EnvNames returns the recognised environment variable names, sorted.
func EnvNames() []string {
	names := make([]string, len(envVars))
	for i, ev := range envVars {
		names[i] = ev.name
	}
	sort.Strings(names)
	return names
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.OutputDir == "" {
		add("output_dir must not be empty")
	}
	if c.KeepLastN < 0 {
		add("keep_last_n must not be negative, got %d", c.KeepLastN)
	}
	if c.MaxRuntimeSeconds <= 0 {
		add("max_runtime_seconds must be positive, got %d", c.MaxRuntimeSeconds)
	}
	if c.MaxConcurrency < 0 {
		add("max_concurrency must not be negative, got %d", c.MaxConcurrency)
	}
	if c.UploadMaxAttempts <= 0 {
		add("upload_max_attempts must be positive, got %d", c.UploadMaxAttempts)
	}
	if c.UploadBackoffMin <= 0 {
		add("upload_backoff_min must be positive, got %g", c.UploadBackoffMin)
	}
	if c.UploadBackoffMax < c.UploadBackoffMin {
		add("upload_backoff_max (%g) must not be below upload_backoff_min (%g)", c.UploadBackoffMax, c.UploadBackoffMin)
	}
	if c.UploadTimeoutSeconds <= 0 {
		add("upload_timeout_seconds must be positive, got %d", c.UploadTimeoutSeconds)
	}

	switch c.RemoteBackend {
	case BackendRclone:
		if c.RemoteRoot == "" {
			add("remote_root is required for the rclone backend")
		}
	case BackendDrive:
		if c.DriveCredentials == "" {
			add("drive_credentials is required for the drive backend")
		}
	case BackendLocal:
		if c.RemoteRoot == "" {
			add("remote_root is required for the local backend")
		}
	default:
		add("unknown remote_backend %q", c.RemoteBackend)
	}

	for i, s := range c.Strategies {
		if s.Name == "" || s.Command == "" {
			add("strategy #%d: name and command are required", i+1)
		}
	}
	return result.ErrorOrNil()
}

// MaxRuntime is the per-attempt capture deadline.
func (c Config) MaxRuntime() time.Duration {
	return time.Duration(c.MaxRuntimeSeconds) * time.Second
}

func (c Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutSeconds) * time.Second
}

func (c Config) BackoffMin() time.Duration {
	return seconds(c.UploadBackoffMin)
}

func (c Config) BackoffMax() time.Duration {
	return seconds(c.UploadBackoffMax)
}

// Concurrency returns the job pool size for n sources: MaxConcurrency when set,
// otherwise one slot per source.
func (c Config) Concurrency(n int) int {
	if c.MaxConcurrency > 0 {
		return c.MaxConcurrency
	}
	if n < 1 {
		return 1
	}
	return n
}

// LedgerPath returns the ledger database path, or "" when the ledger is disabled.
func (c Config) LedgerPath() string {
	if c.NoLedger {
		return ""
	}
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.OutputDir, LedgerFileName)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
