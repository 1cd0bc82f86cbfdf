package destination

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type ConfigCache struct {
	destinationsDir string
	cache           map[string]*Config
	mu              sync.RWMutex
}

// NewConfigCache returns a cache seeded with the built-in destinations.
// Files loaded by Run override the defaults.
func NewConfigCache(destinationsDir string) *ConfigCache {
	cc := &ConfigCache{
		destinationsDir: destinationsDir,
		cache:           make(map[string]*Config),
	}
	for name, baseURL := range defaultBaseURLs {
		cc.cache[name] = &Config{
			Name:     name,
			Platform: name,
			Settings: Settings{Enabled: true, BaseURL: baseURL, Timeout: defaultTimeout},
		}
	}
	return cc
}

func (cc *ConfigCache) Run() error {
	if cc.destinationsDir == "" {
		return nil
	}
	if _, err := os.Stat(cc.destinationsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.destinationsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := cc.LoadConfig(name)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Destination loaded", "destination", name, "platform", config.Platform, "enabled", config.Settings.Enabled, "base_url", config.Settings.BaseURL)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(name string) (*Config, error) {
	configFile := filepath.Join(cc.destinationsDir, name+".yml")
	config, err := parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	config.Name = name
	if config.Platform == "" {
		config.Platform = name
	}
	if config.Settings.BaseURL == "" {
		config.Settings.BaseURL = defaultBaseURLs[config.Platform]
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[config.Name] = config

	return config, nil
}

// Set stores a config directly, bypassing the filesystem.
func (cc *ConfigCache) Set(config *Config) error {
	if config.Platform == "" {
		config.Platform = config.Name
	}
	if config.Settings.BaseURL == "" {
		config.Settings.BaseURL = defaultBaseURLs[config.Platform]
	}
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = defaultTimeout
	}
	if err := validateConfig(config); err != nil {
		return err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[config.Name] = config
	return nil
}

func (cc *ConfigCache) GetConfig(name string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	config, ok := cc.cache[name]
	if !ok {
		return nil, fmt.Errorf("destination '%s' not found", name)
	}
	return config, nil
}

// Names returns the configured destination names in sorted order.
func (cc *ConfigCache) Names() []string {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	names := make([]string, 0, len(cc.cache))
	for name := range cc.cache {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (cc *ConfigCache) GetEnabledConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabled := make(map[string]*Config)
	for k, v := range cc.cache {
		if v.Settings.Enabled {
			enabled[k] = v
		}
	}
	return enabled
}

func parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	config := Config{Settings: Settings{Enabled: true}}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = defaultTimeout
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if config.Name == "" {
		return fmt.Errorf("destination name is required")
	}
	if _, ok := defaultBaseURLs[config.Platform]; !ok {
		return fmt.Errorf("unknown platform %q", config.Platform)
	}
	if config.Settings.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if config.Settings.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}
