package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultScanWindow = 10 * time.Second

// fileConfig is the optional <data-dir>/config.yaml shape. Everything has a
// working default; the file only overrides.
type fileConfig struct {
	ListenAddrs    []string `yaml:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	EnableAnnounce *bool    `yaml:"enable_announce"`
	ScanWindowSecs int      `yaml:"scan_window_seconds"`
}

type Config struct {
	DataDir         string
	DBPath          string
	IdentityKeyPath string
	ListenAddrs     []string
	BootstrapPeers  []string
	EnableAnnounce  bool
	ScanWindow      time.Duration
}

func New(dataDir string) (Config, error) {
	if dataDir == "" {
		return Config{}, fmt.Errorf("data dir is required")
	}
	cfg := Config{
		DataDir:         dataDir,
		DBPath:          filepath.Join(dataDir, ".ucx", "ucx.db"),
		IdentityKeyPath: filepath.Join(dataDir, ".ucx", "identity.key"),
		EnableAnnounce:  true,
		ScanWindow:      defaultScanWindow,
	}

	raw, err := os.ReadFile(filepath.Join(dataDir, "config.yaml"))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	overrides := fileConfig{}
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if len(overrides.ListenAddrs) > 0 {
		cfg.ListenAddrs = overrides.ListenAddrs
	}
	if len(overrides.BootstrapPeers) > 0 {
		cfg.BootstrapPeers = overrides.BootstrapPeers
	}
	if overrides.EnableAnnounce != nil {
		cfg.EnableAnnounce = *overrides.EnableAnnounce
	}
	if overrides.ScanWindowSecs > 0 {
		cfg.ScanWindow = time.Duration(overrides.ScanWindowSecs) * time.Second
	}
	return cfg, nil
}
