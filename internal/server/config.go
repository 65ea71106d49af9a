package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/canusb/internal/capture"
	"github.com/shaunagostinho/canusb/internal/serialport"
)

// Config holds all bridge configuration.
type Config struct {
	mu sync.RWMutex

	// Adapter link
	Serial SerialConfig `yaml:"serial" json:"serial"`

	// CAN bus settings
	CAN CANConfig `yaml:"can" json:"can"`

	// Monitor polling
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Frame capture
	Capture capture.Config `yaml:"capture" json:"capture"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SerialConfig struct {
	Driver     string `yaml:"driver" json:"driver"`          // "bugst", "tarm" or "sim"
	PortPath   string `yaml:"port_path" json:"portPath"`     // e.g. /dev/ttyUSB0
	BaudRate   int    `yaml:"baud_rate" json:"baudRate"`     // UART speed
	BufferSize int    `yaml:"buffer_size" json:"bufferSize"` // receive ring bytes
}

// Port returns the settings for opening the serial port.
func (s SerialConfig) Port() serialport.Config {
	return serialport.Config{
		Path:       s.PortPath,
		BaudRate:   s.BaudRate,
		BufferSize: s.BufferSize,
	}
}

type CANConfig struct {
	Bitrate    uint32 `yaml:"bitrate" json:"bitrate"`        // Hz, one of the adapter presets
	BufferSize int    `yaml:"buffer_size" json:"bufferSize"` // receive ring slots
	Filter     string `yaml:"filter" json:"filter"`          // "all" or "none" (accepted, no effect)
}

type MonitorConfig struct {
	PollHz int `yaml:"poll_hz" json:"pollHz"` // transceiver drain rate
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Driver:     "bugst",
			PortPath:   "/dev/ttyUSB0",
			BaudRate:   115200,
			BufferSize: serialport.DefaultBufferSize,
		},
		CAN: CANConfig{
			Bitrate:    500000,
			BufferSize: 32,
			Filter:     "all",
		},
		Monitor: MonitorConfig{
			PollHz: 50,
		},
		Capture: capture.Config{
			Enabled: false,
			Path:    "/var/log/canusb",
			MaxRows: 100_000,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: CANUSB_DRIVER, CANUSB_PORT, CANUSB_SERIAL_BAUD, CANUSB_RX_BUFFER,
// CAN_BITRATE, CAN_BUFFER, CAN_FILTER, POLL_HZ, CAPTURE_ENABLED,
// CAPTURE_PATH, LISTEN_ADDR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CANUSB_DRIVER"); v != "" {
		c.Serial.Driver = v
	}
	if v := os.Getenv("CANUSB_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("CANUSB_SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("CANUSB_RX_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BufferSize = n
		}
	}
	if v := os.Getenv("CAN_BITRATE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.CAN.Bitrate = uint32(n)
		}
	}
	if v := os.Getenv("CAN_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CAN.BufferSize = n
		}
	}
	if v := os.Getenv("CAN_FILTER"); v != "" {
		c.CAN.Filter = v
	}
	if v := os.Getenv("POLL_HZ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitor.PollHz = n
		}
	}
	if v := os.Getenv("CAPTURE_ENABLED"); v != "" {
		c.Capture.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("CAPTURE_PATH"); v != "" {
		c.Capture.Path = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/canusb/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
