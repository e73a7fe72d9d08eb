package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type HighlightOptions struct {
	MaxKeywords int      `toml:"max-keywords" yaml:"max-keywords"`
	Palette     []string `toml:"palette" yaml:"palette"`
	PaletteName string   `toml:"palette-name" yaml:"palette-name"`
	StartActive *bool    `toml:"start-active" yaml:"start-active"`
}

type ServerOptions struct {
	Addr      string        `toml:"addr" yaml:"addr"`
	DBPath    string        `toml:"db-path" yaml:"db-path"`
	Retention time.Duration `toml:"retention" yaml:"retention"`
	Cleanup   time.Duration `toml:"cleanup-interval" yaml:"cleanup-interval"`
}

type FetchOptions struct {
	Mode      string        `toml:"mode" yaml:"mode"` // "http" or "browser"
	Stealth   bool          `toml:"stealth" yaml:"stealth"`
	Timeout   time.Duration `toml:"timeout" yaml:"timeout"`
	UserAgent string        `toml:"user-agent" yaml:"user-agent"`
	RemoteURL string        `toml:"remote-url" yaml:"remote-url"`
}

type Config struct {
	Highlight HighlightOptions `toml:"highlight" yaml:"highlight"`
	Server    ServerOptions    `toml:"server" yaml:"server"`
	Fetch     FetchOptions     `toml:"fetch" yaml:"fetch"`
}

// DefaultPalette holds the stock highlight colors, one per color slot.
var DefaultPalette = []string{
	"#ffeb3b", "#ff9800", "#4caf50", "#2196f3",
	"#9c27b0", "#f44336", "#00bcd4", "#795548",
}

func Default() Config {
	active := true
	return Config{
		Highlight: HighlightOptions{
			MaxKeywords: 8,
			Palette:     append([]string(nil), DefaultPalette...),
			StartActive: &active,
		},
		Server: ServerOptions{
			Addr:      "127.0.0.1:7878",
			DBPath:    "",
			Retention: 7 * 24 * time.Hour,
			Cleanup:   24 * time.Hour,
		},
		Fetch: FetchOptions{
			Mode:      "http",
			Timeout:   30 * time.Second,
			UserAgent: "Mozilla/5.0 (compatible; multifind/1.0)",
		},
	}
}

// Active reports the configured initial activation state.
func (h HighlightOptions) Active() bool {
	return h.StartActive == nil || *h.StartActive
}

func Load() (Config, error) {
	cfg := Default()
	dir, err := ConfigDir()
	if err != nil {
		return cfg, err
	}

	var userCfg Config
	found, err := decodeFile(filepath.Join(dir, "config.toml"), &userCfg)
	if err != nil {
		return cfg, err
	}
	if !found {
		found, err = decodeFile(filepath.Join(dir, "config.yaml"), &userCfg)
		if err != nil {
			return cfg, err
		}
	}
	if !found {
		return cfg, nil
	}

	merge(&cfg, userCfg)

	if cfg.Highlight.PaletteName != "" && len(userCfg.Highlight.Palette) == 0 {
		palette, err := LoadPalette(cfg.Highlight.PaletteName)
		if err != nil {
			return cfg, err
		}
		if len(palette) > 0 {
			cfg.Highlight.Palette = palette
		}
	}
	return cfg, nil
}

func decodeFile(path string, dst *Config) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if filepath.Ext(path) == ".yaml" {
		return true, yaml.Unmarshal(data, dst)
	}
	_, err = toml.Decode(string(data), dst)
	return true, err
}

func merge(cfg *Config, user Config) {
	if user.Highlight.MaxKeywords > 0 {
		cfg.Highlight.MaxKeywords = user.Highlight.MaxKeywords
	}
	if len(user.Highlight.Palette) > 0 {
		cfg.Highlight.Palette = user.Highlight.Palette
	}
	if user.Highlight.PaletteName != "" {
		cfg.Highlight.PaletteName = user.Highlight.PaletteName
	}
	if user.Highlight.StartActive != nil {
		cfg.Highlight.StartActive = user.Highlight.StartActive
	}
	if user.Server.Addr != "" {
		cfg.Server.Addr = user.Server.Addr
	}
	if user.Server.DBPath != "" {
		cfg.Server.DBPath = user.Server.DBPath
	}
	if user.Server.Retention > 0 {
		cfg.Server.Retention = user.Server.Retention
	}
	if user.Server.Cleanup > 0 {
		cfg.Server.Cleanup = user.Server.Cleanup
	}
	if user.Fetch.Mode != "" {
		cfg.Fetch.Mode = user.Fetch.Mode
	}
	if user.Fetch.Stealth {
		cfg.Fetch.Stealth = true
	}
	if user.Fetch.Timeout > 0 {
		cfg.Fetch.Timeout = user.Fetch.Timeout
	}
	if user.Fetch.UserAgent != "" {
		cfg.Fetch.UserAgent = user.Fetch.UserAgent
	}
	if user.Fetch.RemoteURL != "" {
		cfg.Fetch.RemoteURL = user.Fetch.RemoteURL
	}
}

func PalettePath(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "palette", name+".toml"), nil
}

// LoadPalette reads palette/<name>.toml. Both a bare `colors = [...]` and a
// `[palette]` table are accepted.
func LoadPalette(name string) ([]string, error) {
	path, err := PalettePath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p struct {
		Colors []string `toml:"colors"`
	}
	if _, err := toml.Decode(string(data), &p); err == nil && len(p.Colors) > 0 {
		return p.Colors, nil
	}
	var wrap struct {
		Palette struct {
			Colors []string `toml:"colors"`
		} `toml:"palette"`
	}
	if _, err := toml.Decode(string(data), &wrap); err != nil {
		return nil, err
	}
	return wrap.Palette.Colors, nil
}

func ConfigDir() (string, error) {
	if v := os.Getenv("MULTIFIND_CONFIG_HOME"); v != "" {
		return filepath.Clean(v), nil
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "multifind"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "multifind"), nil
}

// StateDir is where the saved-search database lives by default.
func StateDir() (string, error) {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		stateDir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateDir, "multifind"), nil
}
