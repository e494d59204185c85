package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"usm-go/internal/usm"
)

// Config is the main configuration for usm. No component reads ambient
// state: everything an engine needs is passed down from here explicitly.
type Config struct {
	SiteID     string `toml:"site_id"`
	BaseDir    string `toml:"base_dir"`
	LogDir     string `toml:"log_dir"`
	ContentDir string `toml:"content_dir"`
	ExportRoot string `toml:"export_root"`

	Store      StoreConfig       `toml:"store"`
	Policy     PolicyConfig      `toml:"policy"`
	Batch      BatchConfig       `toml:"batch"`
	Backup     BackupConfig      `toml:"backup"`
	Index      IndexConfig       `toml:"index"`
	History    HistoryConfig     `toml:"history"`
	Copy       CopyConfig        `toml:"copy"`
	Transports []TransportConfig `toml:"transports"`
	Encryption EncryptionConfig  `toml:"encryption"`
}

// StoreConfig selects the relational store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type           string `toml:"type"`            // "sqlite" or "memory"
	Path           string `toml:"path,omitempty"`  // only used for type=sqlite
	TimeoutSeconds int    `toml:"timeout_seconds"` // 0 means no statement timeout
}

// Timeout returns the configured statement timeout.
func (c StoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PolicyConfig holds the retention policy parameters.
type PolicyConfig struct {
	AgeMonths       int      `toml:"age_months"`
	Classifications []string `toml:"classifications"`
	AutoApproveCap  int      `toml:"auto_approve_cap"`
	TargetGroup     string   `toml:"target_group"`
}

// Params converts the config into engine policy parameters, falling back to
// the built-in defaults for unset fields.
func (c PolicyConfig) Params() usm.PolicyParams {
	p := usm.DefaultPolicyParams()
	if c.AgeMonths > 0 {
		p.AgeMonths = c.AgeMonths
	}
	if len(c.Classifications) > 0 {
		p.AllowedClassifications = nil
		for _, s := range c.Classifications {
			p.AllowedClassifications = append(p.AllowedClassifications, usm.ParseClassification(s))
		}
	}
	if c.AutoApproveCap > 0 {
		p.AutoApproveCap = c.AutoApproveCap
	}
	if c.TargetGroup != "" {
		p.TargetGroup = c.TargetGroup
	}
	return p
}

// BatchConfig bounds the destructive store operations.
type BatchConfig struct {
	BatchSize     int   `toml:"batch_size"`
	PauseMillis   int   `toml:"pause_millis"`
	ProgressEvery int64 `toml:"progress_every"`
}

// Params converts the config into engine batch parameters.
func (c BatchConfig) Params() usm.BatchParams {
	p := usm.DefaultBatchParams()
	if c.BatchSize > 0 {
		p.BatchSize = c.BatchSize
	}
	if c.PauseMillis > 0 {
		p.Pause = time.Duration(c.PauseMillis) * time.Millisecond
	}
	if c.ProgressEvery > 0 {
		p.ProgressEvery = c.ProgressEvery
	}
	return p
}

// BackupConfig holds backup destination and retention settings.
type BackupConfig struct {
	Dir           string `toml:"dir"`
	RetentionDays int    `toml:"retention_days"`
}

// IndexConfig holds index maintenance settings.
type IndexConfig struct {
	MinPages int64 `toml:"min_pages"`
}

// HistoryConfig selects the run-history database location.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type HistoryConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CopyConfig tunes the differential bulk copier.
type CopyConfig struct {
	Workers         int `toml:"workers"`
	Retries         int `toml:"retries"`
	RetryWaitMillis int `toml:"retry_wait_millis"`
}

// TransportConfig describes one snapshot transport target.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type TransportConfig struct {
	Type string `toml:"type"` // "filesystem", "s3" or "memory"
	Name string `toml:"name"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket      string `toml:"s3_bucket,omitempty"`
	S3Prefix      string `toml:"s3_prefix,omitempty"`
	S3Region      string `toml:"s3_region,omitempty"`
	S3AccessKeyID string `toml:"s3_access_key_id,omitempty"`
	S3SecretKey   string `toml:"s3_secret_key,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to protect backup
// artifacts bound for off-site media.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a Config with the provided identity and default paths.
func NewConfig(siteID, baseDir string) *Config {
	return &Config{
		SiteID:     siteID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		ExportRoot: filepath.Join(baseDir, "export"),
		Store: StoreConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "store", "susdb.db"),
		},
		Backup: BackupConfig{
			Dir:           filepath.Join(baseDir, "backup"),
			RetentionDays: 90,
		},
		Index:   IndexConfig{MinPages: 1000},
		History: HistoryConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "history")},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "usm.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "usm.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided
// Config. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
