// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the application config and owns the instance settings file.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"text/template"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/autolimit/internal/buildinfo"
	"github.com/autobrr/autolimit/internal/domain"
)

const (
	envPrefix          = "AUTOLIMIT__"
	configFileName     = "config.toml"
	settingsFileName   = "settings.yaml"
	defaultLogMaxSize  = 50
	defaultLogBackups  = 3
	defaultMetricsPort = 9074
)

var configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7480
port = 7480

# Base URL
# Set custom baseUrl eg /autolimit/ to serve the status API under a subpath
# Default: "/"
#baseUrl = "/"

# Instance settings file (media servers and download clients)
# Relative paths resolve against the config directory
# Default: "settings.yaml" next to this file
#settingsPath = "settings.yaml"

# Timeout in seconds for every request to a media server or download client
# Default: 10
#requestTimeout = 10

# Restrict the status API to these networks. Empty allows everyone.
#statusAllowedCIDRs = ["127.0.0.1/32", "192.168.1.0/24"]

# Allowed CORS origins for the status API
#corsAllowedOrigins = ["http://localhost:3000"]

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/autolimit.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Prometheus metrics
# Default: false
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9074

# Comma separated user:password pairs protecting /metrics
#metricsBasicAuthUsers = ""
`

// AppConfig wraps the loaded config and the viper instance backing it.
type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string
	dataDir    string

	logMu   sync.Mutex
	logFile *lumberjack.Logger
}

// New loads configPath, which may be a file or a directory. An empty path uses
// the default config directory. A default config is written when none exists.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper:  viper.New(),
		Config: &domain.Config{},
	}

	configFile, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	c.configPath = configFile
	c.dataDir = filepath.Dir(configFile)

	loadDotEnv(c.dataDir)

	c.defaults()

	if err := c.writeDefaultConfig(configFile); err != nil {
		return nil, err
	}

	c.viper.SetConfigFile(configFile)
	c.viper.SetConfigType("toml")
	if err := c.viper.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "could not read config file %s", configFile)
	}

	c.bindEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal config")
	}

	c.Config.Version = buildinfo.Version
	if c.Config.DataDir == "" {
		c.Config.DataDir = c.dataDir
	}
	c.Config.SettingsPath = c.GetSettingsPath()

	if err := c.Config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return c, nil
}

func resolveConfigFile(configPath string) (string, error) {
	if configPath == "" {
		configPath = getDefaultConfigDir()
	}

	if info, err := os.Stat(configPath); err == nil && info.IsDir() {
		return filepath.Join(configPath, configFileName), nil
	}

	if filepath.Ext(configPath) != ".toml" {
		return filepath.Join(configPath, configFileName), nil
	}

	return configPath, nil
}

// loadDotEnv reads an optional .env from the working directory and the config
// directory. Already exported variables take precedence.
func loadDotEnv(dir string) {
	for _, path := range []string{".env", filepath.Join(dir, ".env")} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to load env file")
		}
	}
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if isContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7480)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", defaultLogMaxSize)
	c.viper.SetDefault("logMaxBackups", defaultLogBackups)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("settingsPath", "")
	c.viper.SetDefault("requestTimeout", 10)
	c.viper.SetDefault("statusAllowedCIDRs", []string{})
	c.viper.SetDefault("corsAllowedOrigins", []string{})
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", defaultMetricsPort)
	c.viper.SetDefault("metricsBasicAuthUsers", "")
}

// bindEnv maps camelCase keys onto AUTOLIMIT__UPPER_SNAKE variables,
// eg settingsPath is read from AUTOLIMIT__SETTINGS_PATH.
func (c *AppConfig) bindEnv() {
	for _, key := range []string{
		"host", "port", "baseUrl", "logLevel", "logPath", "logMaxSize", "logMaxBackups",
		"dataDir", "settingsPath", "requestTimeout", "statusAllowedCIDRs", "corsAllowedOrigins",
		"metricsEnabled", "metricsHost", "metricsPort", "metricsBasicAuthUsers",
	} {
		_ = c.viper.BindEnv(key, envName(key))
	}
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

func envName(key string) string {
	snake := camelBoundary.ReplaceAllString(key, "${1}_${2}")
	return envPrefix + strings.ToUpper(snake)
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "could not stat config file %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "could not create config directory %s", filepath.Dir(path))
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return errors.Wrap(err, "could not parse config template")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]string{"host": c.viper.GetString("host")}); err != nil {
		return errors.Wrap(err, "could not render config template")
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "could not write config file %s", path)
	}

	log.Info().Str("path", path).Msg("Wrote default config")
	return nil
}

// getDefaultConfigDir returns XDG_CONFIG_HOME as-is when set (containers mount
// /config there), otherwise the per-user config dir.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "autolimit")
}

func isContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// ConfigPath is the TOML file this config was loaded from.
func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

// GetSettingsPath returns the instance settings file. Relative paths resolve
// against the config directory.
func (c *AppConfig) GetSettingsPath() string {
	path := c.viper.GetString("settingsPath")
	if path == "" {
		return filepath.Join(c.dataDir, settingsFileName)
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.dataDir, path)
}

// InitLogger applies the configured level and output to the global logger.
func (c *AppConfig) InitLogger() error {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	level, err := zerolog.ParseLevel(strings.ToLower(c.Config.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.logFile != nil {
		_ = c.logFile.Close()
		c.logFile = nil
	}

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
	if c.Config.LogPath != "" {
		path := c.Config.LogPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.dataDir, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrapf(err, "could not create log directory %s", filepath.Dir(path))
		}
		c.logFile = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    c.Config.LogMaxSize,
			MaxBackups: c.Config.LogMaxBackups,
		}
		w = c.logFile
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

// UpdateLogSettings applies new log settings and persists them to config.toml.
func (c *AppConfig) UpdateLogSettings(level, path string, maxSize, maxBackups int) error {
	if maxSize <= 0 {
		maxSize = defaultLogMaxSize
	}
	if maxBackups < 0 {
		maxBackups = defaultLogBackups
	}

	c.Config.LogLevel = strings.ToUpper(level)
	c.Config.LogPath = path
	c.Config.LogMaxSize = maxSize
	c.Config.LogMaxBackups = maxBackups

	if err := c.InitLogger(); err != nil {
		return err
	}

	return c.UpdateConfig()
}

// UpdateConfig writes the mutable settings back into config.toml, keeping
// comments and layout.
func (c *AppConfig) UpdateConfig() error {
	content, err := os.ReadFile(c.configPath)
	if err != nil {
		return errors.Wrapf(err, "could not read config file %s", c.configPath)
	}

	updated := updateLogSettingsInTOML(string(content), c.Config.LogLevel, c.Config.LogPath, c.Config.LogMaxSize, c.Config.LogMaxBackups)
	if updated == string(content) {
		return nil
	}

	if err := os.WriteFile(c.configPath, []byte(updated), 0o644); err != nil {
		return errors.Wrapf(err, "could not write config file %s", c.configPath)
	}
	return nil
}

// updateLogSettingsInTOML rewrites the log keys where they already appear,
// commented or not. Missing keys are inserted before the first table so they
// stay in the root section.
func updateLogSettingsInTOML(content, level, path string, maxSize, maxBackups int) string {
	values := []struct {
		key   string
		value string
	}{
		{"logLevel", fmt.Sprintf("%q", level)},
		{"logPath", fmt.Sprintf("%q", path)},
		{"logMaxSize", fmt.Sprintf("%d", maxSize)},
		{"logMaxBackups", fmt.Sprintf("%d", maxBackups)},
	}

	lines := strings.Split(content, "\n")
	for _, kv := range values {
		if path == "" && kv.key == "logPath" {
			continue
		}

		pattern := regexp.MustCompile(`^\s*#?\s*` + kv.key + `\s*=`)
		line := kv.key + " = " + kv.value

		found := false
		for i, l := range lines {
			if isTableHeader(l) {
				break
			}
			if pattern.MatchString(l) {
				lines[i] = line
				found = true
				break
			}
		}
		if found {
			continue
		}

		insertAt := len(lines)
		for i, l := range lines {
			if isTableHeader(l) {
				insertAt = i
				break
			}
		}
		lines = append(lines[:insertAt], append([]string{line}, lines[insertAt:]...)...)
	}

	return strings.Join(lines, "\n")
}

func isTableHeader(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "[")
}
