// Package config assembles the service settings from defaults, an optional
// JSON file, LOSTFOUND_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lostfound/board/internal/feed"
)

// Environment variables read by Parse.
const (
	EnvConfig       = "LOSTFOUND_CONFIG"
	EnvDatabaseURL  = "LOSTFOUND_DB_URL"
	EnvDatabaseKey  = "LOSTFOUND_DB_KEY"
	EnvCloudName    = "LOSTFOUND_CLOUD_NAME"
	EnvUploadPreset = "LOSTFOUND_UPLOAD_PRESET"
	EnvFeed         = "LOSTFOUND_FEED"
	EnvRedisURL     = "LOSTFOUND_REDIS_URL"
	EnvAddr         = "LOSTFOUND_ADDR"
	EnvLog          = "LOSTFOUND_LOG"
)

// Duration is a time.Duration written as "15m" in JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"15m\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds every setting of the service.
type Config struct {
	Addr    string `json:"addr"`
	LogPath string `json:"log"`

	// DatabaseURL is a SQLite path or a postgres:// URL. Empty leaves the
	// board without persistence.
	DatabaseURL string `json:"db_url"`
	DatabaseKey string `json:"db_key"`

	CloudName      string `json:"cloud_name"`
	UploadPreset   string `json:"upload_preset"`
	Folder         string `json:"folder"`
	StorageBaseURL string `json:"storage_base_url"`

	Feed     string `json:"feed"`
	RedisURL string `json:"redis_url"`

	PreviewDir string   `json:"preview_dir"`
	PreviewTTL Duration `json:"preview_ttl"`
	Workers    int      `json:"workers"`

	// File is the JSON file the settings were read from, if any.
	File string `json:"-"`
}

// Default returns the settings used when nothing else is given.
func Default() Config {
	return Config{
		Addr:        ":8080",
		DatabaseURL: "lostfound.sqlite3",
		Folder:      "lostfound",
		Feed:        string(feed.ModeAuto),
		PreviewTTL:  Duration(15 * time.Minute),
	}
}

const usage = `Usage: lostfound [flags]

Flags:
  -c, -config <path>        JSON config file (env LOSTFOUND_CONFIG)
  -d, -db <url>             SQLite path or postgres:// URL (default: lostfound.sqlite3)
  -k, -db-key <key>         database access key, used as the postgres password
  -a, -addr <host:port>     listen address (default: :8080)
  -l, -log <path>           log file path (default: no file, stdout/stderr only)
      -cloud-name <name>    image host account name
      -upload-preset <name> image host unsigned upload preset
      -folder <name>        image host folder (default: lostfound)
  -f, -feed <mode>          change feed: auto, local, postgres, redis, poll (default: auto)
      -redis <url>          redis URL for the redis change feed
      -previews <dir>       directory for unsaved image previews (default: temporary)
      -preview-ttl <dur>    preview lifetime (default: 15m)
      -workers <n>          concurrent image encodes (default: number of CPUs)
  -h, -help                 show this help and exit
`

// Parse reads the settings. args excludes the program name; getenv is
// usually os.Getenv. flag.ErrHelp is returned when help was requested.
func Parse(args []string, getenv func(string) string, out io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("lostfound", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }

	var f Config
	var ttl time.Duration
	fs.StringVar(&f.File, "config", "", "")
	fs.StringVar(&f.File, "c", "", "")
	fs.StringVar(&f.DatabaseURL, "db", "", "")
	fs.StringVar(&f.DatabaseURL, "d", "", "")
	fs.StringVar(&f.DatabaseKey, "db-key", "", "")
	fs.StringVar(&f.DatabaseKey, "k", "", "")
	fs.StringVar(&f.Addr, "addr", "", "")
	fs.StringVar(&f.Addr, "a", "", "")
	fs.StringVar(&f.LogPath, "log", "", "")
	fs.StringVar(&f.LogPath, "l", "", "")
	fs.StringVar(&f.CloudName, "cloud-name", "", "")
	fs.StringVar(&f.UploadPreset, "upload-preset", "", "")
	fs.StringVar(&f.Folder, "folder", "", "")
	fs.StringVar(&f.Feed, "feed", "", "")
	fs.StringVar(&f.Feed, "f", "", "")
	fs.StringVar(&f.RedisURL, "redis", "", "")
	fs.StringVar(&f.PreviewDir, "previews", "", "")
	fs.DurationVar(&ttl, "preview-ttl", 0, "")
	fs.IntVar(&f.Workers, "workers", 0, "")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	f.PreviewTTL = Duration(ttl)

	cfg := Default()

	cfg.File = first(f.File, getenv(EnvConfig))
	if cfg.File != "" {
		if err := cfg.load(cfg.File); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(getenv)

	// Only flags given on the command line override; an explicit empty
	// value such as -db "" is honored.
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "db", "d":
			cfg.DatabaseURL = f.DatabaseURL
		case "db-key", "k":
			cfg.DatabaseKey = f.DatabaseKey
		case "addr", "a":
			cfg.Addr = f.Addr
		case "log", "l":
			cfg.LogPath = f.LogPath
		case "cloud-name":
			cfg.CloudName = f.CloudName
		case "upload-preset":
			cfg.UploadPreset = f.UploadPreset
		case "folder":
			cfg.Folder = f.Folder
		case "feed", "f":
			cfg.Feed = f.Feed
		case "redis":
			cfg.RedisURL = f.RedisURL
		case "previews":
			cfg.PreviewDir = f.PreviewDir
		case "preview-ttl":
			cfg.PreviewTTL = f.PreviewTTL
		case "workers":
			cfg.Workers = f.Workers
		}
	})

	return &cfg, nil
}

func (c *Config) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.DatabaseURL, EnvDatabaseURL)
	set(&c.DatabaseKey, EnvDatabaseKey)
	set(&c.CloudName, EnvCloudName)
	set(&c.UploadPreset, EnvUploadPreset)
	set(&c.Feed, EnvFeed)
	set(&c.RedisURL, EnvRedisURL)
	set(&c.Addr, EnvAddr)
	set(&c.LogPath, EnvLog)
}

// Validate rejects settings the service cannot start with and returns
// warnings for missing optional ones.
func (c *Config) Validate() (warnings []string, err error) {
	if c.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	mode, err := feed.ParseMode(c.Feed)
	if err != nil {
		return nil, err
	}
	if mode == feed.ModeRedis && c.RedisURL == "" {
		return nil, errors.New("redis feed requires a redis URL")
	}
	if c.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative: %d", c.Workers)
	}

	if c.DatabaseURL == "" {
		warnings = append(warnings, "no database configured, the board will report itself unavailable")
	}
	if c.CloudName == "" || c.UploadPreset == "" {
		warnings = append(warnings, "image host not configured, every upload will fail")
	}
	return warnings, nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
