package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/lotteryd/internal/server"
)

// lotteryd config.toml key mapping to server runtime settings.
type fileConfig struct {
	Addr          string `toml:"addr"`
	ServerID      int    `toml:"server_id"`
	AgencyCount   int    `toml:"agency_count"`
	MaxConns      int    `toml:"max_conns"`
	WinningNumber int    `toml:"winning_number"`
	StorePath     string `toml:"store_path"`
}

type runtimeConfig struct {
	Service   server.ServiceConfig
	StorePath string
}

// loadRuntimeConfig overlays config.toml onto the service defaults; only
// keys present in the file override.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := runtimeConfig{
		Service:   server.DefaultServiceConfig(),
		StorePath: "bets.csv",
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load lotteryd config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Service.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("server_id") {
		if raw.ServerID < 0 || raw.ServerID > 255 {
			return runtimeConfig{}, fmt.Errorf(
				"load lotteryd config: server_id %d out of range [0,255]", raw.ServerID)
		}
		cfg.Service.ServerID = uint8(raw.ServerID)
	}
	if meta.IsDefined("agency_count") {
		cfg.Service.AgencyCount = raw.AgencyCount
	}
	if meta.IsDefined("max_conns") {
		cfg.Service.MaxConns = raw.MaxConns
	}
	if meta.IsDefined("winning_number") {
		cfg.Service.WinningNumber = raw.WinningNumber
	}
	if meta.IsDefined("store_path") {
		cfg.StorePath = strings.TrimSpace(raw.StorePath)
	}

	if cfg.Service.AgencyCount <= 0 {
		return runtimeConfig{}, fmt.Errorf(
			"load lotteryd config: agency_count must be positive, got %d",
			cfg.Service.AgencyCount)
	}
	if cfg.StorePath == "" {
		return runtimeConfig{}, fmt.Errorf("load lotteryd config: store_path is empty")
	}
	return cfg, nil
}
