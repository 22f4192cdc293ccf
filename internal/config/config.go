package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eargollo/keeper/internal/selection"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	DBPath       string            `yaml:"db_path"       json:"-"`
	HTTPAddr     string            `yaml:"http_addr"     json:"-"`
	LogLevel     string            `yaml:"log_level"     json:"-"`
	ThumbnailDir string            `yaml:"thumbnail_dir" json:"-"`
	Archive      ArchiveConfig     `yaml:"archive"       json:"archive"`
	Agent        AgentConfig       `yaml:"agent"         json:"agent"`
	Cleaner      CleanerConfig     `yaml:"cleaner"       json:"cleaner"`
	Selection    selection.Weights `yaml:"selection"     json:"selection"`
}

// ArchiveConfig configures the archive store deleted files are uploaded to.
type ArchiveConfig struct {
	Dir                  string `yaml:"dir"                    json:"dir"`
	UploadTimeoutSeconds int    `yaml:"upload_timeout_seconds" json:"upload_timeout_seconds"`
}

// AgentConfig configures the bundled in-process cleaner agent.
type AgentConfig struct {
	Enabled        bool   `yaml:"enabled"         json:"enabled"`
	Name           string `yaml:"name"            json:"name"`
	MaxConcurrency int    `yaml:"max_concurrency" json:"max_concurrency"`
}

// CleanerConfig holds the stuck-job watchdog knobs.
type CleanerConfig struct {
	WatchdogSchedule  string `yaml:"watchdog_schedule"   json:"watchdog_schedule"`
	StuckAfterMinutes int    `yaml:"stuck_after_minutes" json:"stuck_after_minutes"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "/data/keeper.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ThumbnailDir == "" {
		c.ThumbnailDir = "/data/thumbs"
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = "/data/archive"
	}
	if c.Archive.UploadTimeoutSeconds == 0 {
		c.Archive.UploadTimeoutSeconds = 60
	}
	if c.Agent.Name == "" {
		c.Agent.Name = "local"
	}
	if c.Agent.MaxConcurrency == 0 {
		c.Agent.MaxConcurrency = 4
	}
	if c.Cleaner.WatchdogSchedule == "" {
		c.Cleaner.WatchdogSchedule = "*/10 * * * *"
	}
	if c.Cleaner.StuckAfterMinutes == 0 {
		c.Cleaner.StuckAfterMinutes = 30
	}
	if !c.Selection.PreferLargest && !c.Selection.PreferOldest && !c.Selection.PreferShortestPath {
		c.Selection = selection.Weights{
			PreferLargest:      true,
			PreferOldest:       true,
			PreferShortestPath: true,
		}
	}
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the server
// can start without a mounted config file (useful for bare Docker runs).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.Agent.Enabled = true
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
