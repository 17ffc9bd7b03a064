package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "market"
  topic_prefix: "market"
  use_tls: false
market:
  publication_interval: 6
  publication_offset: 2
  publication_fee: -120
  revocation_fee: -150
settlement:
  p_plus: 3.0
  p_plus_prime: 1.0
  p_minus: 1.0
  p_minus_prime: -1.0
sim:
  period_seconds: 10
  start_period: 0
metrics:
  prometheus_enabled: true
  prometheus_port: ":2112"
history:
  enabled: true
  path: "settlements.db"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "market"},
		{"topic_prefix", cfg.MQTT.TopicPrefix, "market"},
		{"publication_interval", cfg.Market.PublicationInterval, 6},
		{"publication_offset", cfg.Market.PublicationOffset, 2},
		{"publication_fee", cfg.Market.PublicationFee, -120.0},
		{"revocation_fee", cfg.Market.RevocationFee, -150.0},
		{"p_plus", cfg.Settlement.PPlus, 3.0},
		{"p_minus_prime", cfg.Settlement.PMinusPrime, -1.0},
		{"period_seconds", cfg.Sim.PeriodSeconds, 10},
		{"prometheus_enabled", cfg.Metrics.PrometheusEnabled, true},
		{"prometheus_port", cfg.Metrics.PrometheusPort, ":2112"},
		{"history_enabled", cfg.History.Enabled, true},
		{"history_path", cfg.History.Path, "settlements.db"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `mqtt:
  broker: "tcp://localhost:1883"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Market.PublicationInterval != 6 {
		t.Errorf("publication interval default missing: %d", cfg.Market.PublicationInterval)
	}
	if cfg.Settlement.PPlus != 3.0 || cfg.Settlement.PMinus != 1.0 {
		t.Errorf("settlement defaults missing: %+v", cfg.Settlement)
	}
	if cfg.Sim.PeriodSeconds != 3600 {
		t.Errorf("sim default missing: %d", cfg.Sim.PeriodSeconds)
	}
	if cfg.MQTT.TopicPrefix != "market" {
		t.Errorf("mqtt prefix default missing: %s", cfg.MQTT.TopicPrefix)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `market:
  publication_interval: 30
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("interval above 24 accepted")
	}

	if _, err := Load(filepath.Join(dir, "config.toml")); err == nil {
		t.Fatalf("unsupported format accepted")
	}
}
