package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TSDB.BatchSize != 50000 {
		t.Fatalf("unexpected batch size %d", cfg.TSDB.BatchSize)
	}
	if cfg.TSDB.RequestTimeout != 30*time.Second || cfg.Scheduler.Interval != time.Minute {
		t.Fatalf("unexpected durations %s / %s", cfg.TSDB.RequestTimeout, cfg.Scheduler.Interval)
	}
	if cfg.Kafka.ReadingsTopic != "meterseed.readings" || cfg.Database.AdvisoryLockKey == 0 {
		t.Fatalf("unexpected defaults %#v", cfg)
	}
	if cfg.ResolveBatchSize(10) != 10 || cfg.ResolveBatchSize(0) != 50000 {
		t.Fatal("ResolveBatchSize should prefer a positive override")
	}
	if cfg.ResolveMaxPoints(0) != cfg.Export.MaxDataPoints {
		t.Fatal("ResolveMaxPoints should fall back to config")
	}
}

func TestLoadProfilesAndBrokers(t *testing.T) {
	body := `
generator:
  seed: 42
  profiles:
    Garage:
      average: 300
      cutoff: 20
      max: 900
kafka:
  enabled: true
  brokers: "k1:9092,k2:9092"
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generator.Seed != 42 {
		t.Fatalf("unexpected seed %d", cfg.Generator.Seed)
	}
	garage, ok := cfg.Generator.Profiles["garage"]
	if !ok || garage.Max != 900 {
		t.Fatalf("profile override not decoded: %#v", cfg.Generator.Profiles)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"batch size":     "tsdb:\n  batch_size: -1\n",
		"interval":       "scheduler:\n  interval: 10ms\n",
		"profile max":    "generator:\n  profiles:\n    bad:\n      average: 1\n",
		"telegram token": "alerting:\n  telegram:\n    enabled: true\n    chat_id: x\n",
		"kafka brokers":  "kafka:\n  enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
