package config_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"usm-go/internal/config"
	"usm-go/internal/usm"
)

func TestConfigRoundTrip(t *testing.T) {
	cfg := config.NewConfig("site-1", "/srv/usm")
	cfg.Policy = config.PolicyConfig{
		AgeMonths:       12,
		Classifications: []string{"Security", "Critical"},
		AutoApproveCap:  25,
		TargetGroup:     "Servers",
	}
	cfg.Batch = config.BatchConfig{BatchSize: 5000, PauseMillis: 250, ProgressEvery: 20000}
	cfg.Transports = []config.TransportConfig{
		{Type: "filesystem", Name: "usb", FSRoot: "/mnt/usb"},
		{Type: "s3", Name: "offsite", S3Bucket: "usm-snapshots", S3Region: "us-east-1"},
	}

	m := &config.Manager{}
	var buf bytes.Buffer
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if got.SiteID != "site-1" || got.BaseDir != "/srv/usm" {
		t.Errorf("identity did not survive round trip: %+v", got)
	}
	if got.Store.Type != "sqlite" || got.Store.Path != "/srv/usm/store/susdb.db" {
		t.Errorf("unexpected store config: %+v", got.Store)
	}
	if got.Policy.AgeMonths != 12 || got.Policy.TargetGroup != "Servers" {
		t.Errorf("unexpected policy config: %+v", got.Policy)
	}
	if got.Backup.RetentionDays != 90 {
		t.Errorf("unexpected retention: %d", got.Backup.RetentionDays)
	}
	if len(got.Transports) != 2 {
		t.Fatalf("expected 2 transports, got %d", len(got.Transports))
	}
	if got.Transports[0].Type != "filesystem" || got.Transports[0].FSRoot != "/mnt/usb" {
		t.Errorf("unexpected transport: %+v", got.Transports[0])
	}
	if got.Transports[1].S3Bucket != "usm-snapshots" {
		t.Errorf("unexpected transport: %+v", got.Transports[1])
	}
	if got.Encryption.PublicKeyPath != "/srv/usm/keys/usm.pub" {
		t.Errorf("unexpected encryption config: %+v", got.Encryption)
	}
}

func TestReadTOML(t *testing.T) {
	raw := `
site_id = "site-7"
base_dir = "/data/usm"

[store]
type = "sqlite"
path = "/data/usm/susdb.db"
timeout_seconds = 30

[policy]
age_months = 9
classifications = ["security"]

[[transports]]
type = "filesystem"
name = "usb"
fs_root = "/mnt/usb"
`

	m := &config.Manager{}
	cfg, err := m.Read(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if cfg.SiteID != "site-7" {
		t.Errorf("unexpected site id: %s", cfg.SiteID)
	}
	if cfg.Store.Timeout() != 30*time.Second {
		t.Errorf("unexpected timeout: %v", cfg.Store.Timeout())
	}
	if len(cfg.Transports) != 1 || cfg.Transports[0].Name != "usb" {
		t.Errorf("unexpected transports: %+v", cfg.Transports)
	}
}

func TestPolicyParams(t *testing.T) {
	t.Run("defaults for zero config", func(t *testing.T) {
		p := config.PolicyConfig{}.Params()
		want := usm.DefaultPolicyParams()
		if p.AgeMonths != want.AgeMonths || p.AutoApproveCap != want.AutoApproveCap || p.TargetGroup != want.TargetGroup {
			t.Errorf("expected defaults, got %+v", p)
		}
		if len(p.AllowedClassifications) != len(want.AllowedClassifications) {
			t.Errorf("expected default classifications, got %v", p.AllowedClassifications)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		p := config.PolicyConfig{
			AgeMonths:       12,
			Classifications: []string{"Security"},
			AutoApproveCap:  10,
			TargetGroup:     "Servers",
		}.Params()
		if p.AgeMonths != 12 || p.AutoApproveCap != 10 || p.TargetGroup != "Servers" {
			t.Errorf("unexpected params: %+v", p)
		}
		if len(p.AllowedClassifications) != 1 || p.AllowedClassifications[0] != usm.ClassSecurity {
			t.Errorf("unexpected classifications: %v", p.AllowedClassifications)
		}
	})
}

func TestBatchParams(t *testing.T) {
	t.Run("defaults for zero config", func(t *testing.T) {
		p := config.BatchConfig{}.Params()
		want := usm.DefaultBatchParams()
		if p.BatchSize != want.BatchSize || p.Pause != want.Pause || p.ProgressEvery != want.ProgressEvery {
			t.Errorf("expected defaults, got %+v", p)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		p := config.BatchConfig{BatchSize: 500, PauseMillis: 100, ProgressEvery: 2000}.Params()
		if p.BatchSize != 500 || p.Pause != 100*time.Millisecond || p.ProgressEvery != 2000 {
			t.Errorf("unexpected params: %+v", p)
		}
	})
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "usm.toml")
	cfg := config.NewConfig("site-1", "/srv/usm")

	if err := config.Init(path, cfg); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	got, err := config.ReadFromFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.SiteID != "site-1" {
		t.Errorf("unexpected site id: %s", got.SiteID)
	}

	// A second init must not clobber the existing file.
	if err := config.Init(path, config.NewConfig("site-2", "/elsewhere")); err == nil {
		t.Error("expected error for existing config file")
	}
}

func TestReadFromFile_Missing(t *testing.T) {
	if _, err := config.ReadFromFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
