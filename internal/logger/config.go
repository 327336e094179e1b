package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const envPrefix = "YTFETCH_LOG_"

// LogConfig is the file/env representation of logger settings.
type LogConfig struct {
	Level      string          `json:"level"`
	Format     string          `json:"format"`
	Output     string          `json:"output"`
	Components map[string]bool `json:"components"`
	ShowCaller bool            `json:"show_caller"`
	Timestamp  bool            `json:"timestamp"`
	Rotation   *RotationConfig `json:"rotation,omitempty"`
}

// RotationConfig applies to "file:" outputs only.
type RotationConfig struct {
	MaxSize    string `json:"max_size"` // e.g. "100MB", "1GiB"
	MaxAge     string `json:"max_age"`  // e.g. "7d", "24h"
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

// DefaultLogConfig mirrors DefaultConfig.
func DefaultLogConfig() *LogConfig {
	def := DefaultConfig()
	components := make(map[string]bool, len(def.Components))
	for c, on := range def.Components {
		components[string(c)] = on
	}
	return &LogConfig{
		Level:      "INFO",
		Format:     "text",
		Output:     "stderr",
		Components: components,
	}
}

// LoadConfigFromFile loads configuration from a JSON file. Missing keys keep
// their defaults.
func LoadConfigFromFile(filename string) (*LogConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	config := DefaultLogConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// SaveConfigToFile saves configuration to a JSON file
func (c *LogConfig) SaveConfigToFile(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// EnvironmentConfig starts from defaults and applies YTFETCH_LOG_* variables.
func EnvironmentConfig() *LogConfig {
	config := DefaultLogConfig()
	config.ApplyEnv(os.Getenv)
	return config
}

// ApplyEnv overrides fields from the given lookup (normally os.Getenv).
// YTFETCH_LOG_COMPONENTS enables the listed components on top of the defaults.
func (c *LogConfig) ApplyEnv(getenv func(string) string) {
	if v := getenv(envPrefix + "LEVEL"); v != "" {
		c.Level = v
	}
	if v := getenv(envPrefix + "FORMAT"); v != "" {
		c.Format = v
	}
	if v := getenv(envPrefix + "OUTPUT"); v != "" {
		c.Output = v
	}
	if v := getenv(envPrefix + "CALLER"); v != "" {
		c.ShowCaller = v == "true" || v == "1"
	}
	if v := getenv(envPrefix + "TIMESTAMP"); v != "" {
		c.Timestamp = v == "true" || v == "1"
	}
	if v := getenv(envPrefix + "COMPONENTS"); v != "" {
		if c.Components == nil {
			c.Components = make(map[string]bool)
		}
		for _, comp := range strings.Split(v, ",") {
			comp = strings.TrimSpace(comp)
			if comp == "all" {
				for _, known := range allComponents {
					c.Components[string(known)] = true
				}
				continue
			}
			if comp != "" {
				c.Components[comp] = true
			}
		}
	}
}

var allComponents = []Component{
	ComponentApp, ComponentCatalog, ComponentSelector, ComponentOrchestrator,
	ComponentPlaylist, ComponentMuxer, ComponentDownloader, ComponentCipher,
	ComponentInnerTube, ComponentClient, ComponentFormat, ComponentBotGuard,
}

// ValidateConfig validates the configuration
func (c *LogConfig) ValidateConfig() error {
	if _, err := parseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}
	if _, err := parseFormat(c.Format); err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}
	if c.Rotation != nil {
		if err := c.Rotation.Validate(); err != nil {
			return fmt.Errorf("invalid rotation config: %w", err)
		}
	}
	return nil
}

// Validate validates rotation configuration
func (r *RotationConfig) Validate() error {
	if _, err := parseSize(r.MaxSize); err != nil {
		return fmt.Errorf("invalid max_size: %w", err)
	}
	if _, err := parseDuration(r.MaxAge); err != nil {
		return fmt.Errorf("invalid max_age: %w", err)
	}
	if r.MaxBackups < 0 {
		return fmt.Errorf("max_backups must be non-negative")
	}
	return nil
}

// Build validates the configuration and opens its output.
func (c *LogConfig) Build() (*Logger, error) {
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}
	level, _ := parseLevel(c.Level)
	format, _ := parseFormat(c.Format)
	output, err := c.openOutput()
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	components := make(map[Component]bool, len(c.Components))
	for name, enabled := range c.Components {
		components[Component(name)] = enabled
	}
	return New(&Config{
		Level:      level,
		Format:     format,
		Output:     output,
		Components: components,
		ShowCaller: c.ShowCaller,
		Timestamp:  c.Timestamp,
	}), nil
}

func (c *LogConfig) openOutput() (io.Writer, error) {
	switch strings.ToLower(c.Output) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "null", "none":
		return io.Discard, nil
	}
	path, ok := strings.CutPrefix(c.Output, "file:")
	if !ok {
		return nil, fmt.Errorf("unknown output: %s", c.Output)
	}
	if c.Rotation != nil {
		maxSize, _ := parseSize(c.Rotation.MaxSize)
		maxAge, _ := parseDuration(c.Rotation.MaxAge)
		return NewRotatingWriter(path, maxSize, maxAge, c.Rotation.MaxBackups, c.Rotation.Compress)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func parseLevel(levelStr string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown level: %s", levelStr)
	}
}

func parseFormat(formatStr string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(formatStr)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "color", "colored":
		return FormatColor, nil
	default:
		return FormatText, fmt.Errorf("unknown format: %s", formatStr)
	}
}

// parseSize accepts humanized sizes ("100MB", "1GiB"); empty means no limit.
func parseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(sizeStr)
	if sizeStr == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(sizeStr)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// parseDuration extends time.ParseDuration with a day unit ("7d").
func parseDuration(durationStr string) (time.Duration, error) {
	durationStr = strings.TrimSpace(durationStr)
	if durationStr == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(durationStr, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count: %s", durationStr)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(durationStr)
}
