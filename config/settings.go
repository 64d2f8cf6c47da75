// Package config loads and persists the relay's settings.json. Missing files
// are created with defaults on first load, so a fresh install needs no setup.
package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Settings is the on-disk configuration document.
type Settings struct {
	Server ServerSettings `json:"server"`
	Relay  RelaySettings  `json:"relay"`
	Tools  ToolsSettings  `json:"tools"`
	Log    LogSettings    `json:"log"`
}

// ServerSettings controls the listen address.
type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// RelaySettings controls upstream fetch behavior.
type RelaySettings struct {
	TimeoutSeconds int    `json:"timeoutSeconds"`
	MaxRedirects   int    `json:"maxRedirects"`
	UserAgent      string `json:"userAgent"`
}

// ToolsSettings locates the external media tools. Empty paths mean "resolve
// from PATH".
type ToolsSettings struct {
	FFmpegPath            string `json:"ffmpegPath"`
	FFprobePath           string `json:"ffprobePath"`
	ProbeTimeoutSeconds   int    `json:"probeTimeoutSeconds"`
	ExtractTimeoutSeconds int    `json:"extractTimeoutSeconds"`
	TempDirectory         string `json:"tempDirectory"`
}

// LogSettings configures file logging rotation. An empty File logs to stderr
// only.
type LogSettings struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`
	MaxBackups int    `json:"maxBackups"`
	MaxAge     int    `json:"maxAge"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns the configuration a fresh install starts with.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host: "0.0.0.0",
			Port: 8417,
		},
		Relay: RelaySettings{
			TimeoutSeconds: 30,
			MaxRedirects:   10,
			UserAgent:      "VLC/3.0.18 LibVLC/3.0.18",
		},
		Tools: ToolsSettings{
			FFmpegPath:            "",
			FFprobePath:           "",
			ProbeTimeoutSeconds:   60,
			ExtractTimeoutSeconds: 120,
			TempDirectory:         "",
		},
		Log: LogSettings{
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		},
	}
}

// Manager reads and writes one settings file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings from disk, creating the file with defaults if missing.
// Absent fields fall back to their defaults so older files keep working after
// new sections are added.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	settings := DefaultSettings()
	if err := json.NewDecoder(f).Decode(&settings); err != nil {
		return Settings{}, err
	}
	if settings.Relay.TimeoutSeconds <= 0 {
		settings.Relay.TimeoutSeconds = DefaultSettings().Relay.TimeoutSeconds
	}
	if settings.Relay.MaxRedirects <= 0 {
		settings.Relay.MaxRedirects = DefaultSettings().Relay.MaxRedirects
	}
	if settings.Server.Port <= 0 {
		settings.Server.Port = DefaultSettings().Server.Port
	}
	return settings, nil
}

// Save writes settings atomically via a temp file rename.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
