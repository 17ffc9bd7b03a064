package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/gridmarket/core/market"
	coremetrics "github.com/kilianp07/gridmarket/core/metrics"
	"github.com/kilianp07/gridmarket/core/settlement"
	"github.com/kilianp07/gridmarket/core/sim"
	"github.com/kilianp07/gridmarket/infra/history"
	"github.com/kilianp07/gridmarket/infra/mqtt"
)

type Config struct {
	MQTT       mqtt.Config        `json:"mqtt"`
	Market     market.Config      `json:"market"`
	Settlement settlement.Config  `json:"settlement"`
	Sim        sim.Config         `json:"sim"`
	Metrics    coremetrics.Config `json:"metrics"`
	History    history.Config     `json:"history"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("GM_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "gm_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.MQTT.SetDefaults()
	cfg.Market.SetDefaults()
	cfg.Settlement.SetDefaults()
	cfg.Sim.SetDefaults()
	cfg.History.SetDefaults()
	if err := cfg.Market.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Sim.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
