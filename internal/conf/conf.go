// Package conf holds the process configuration: CLI flags merged onto an
// optional YAML file, the way the teacher's contrib/config layer merges
// middleware options onto global defaults with mergo.
package conf

import (
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Bootstrap is the full process configuration.
type Bootstrap struct {
	Server Server `json:"server" yaml:"server"`
	Cache  Cache  `json:"cache" yaml:"cache"`
	Reader Reader `json:"reader" yaml:"reader"`
	Worker Worker `json:"worker" yaml:"worker"`
	Logger Logger `json:"logger" yaml:"logger"`
}

type Server struct {
	Addr            string        `json:"addr" yaml:"addr"`
	Root            string        `json:"root" yaml:"root"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	Backlog         int           `json:"backlog" yaml:"backlog"`
	MetricsEnabled  bool          `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsAddr     string        `json:"metrics_addr" yaml:"metrics_addr"`
	AccessLogPath   string        `json:"access_log_path" yaml:"access_log_path"`
	AccessLogEnable bool          `json:"access_log_enable" yaml:"access_log_enable"`
}

type Cache struct {
	MaxMemory     uint64 `json:"max_memory" yaml:"max_memory"`
	MaxEntries    int    `json:"max_entries" yaml:"max_entries"`
	MaxBufferSize uint64 `json:"max_buffer_size" yaml:"max_buffer_size"`
}

type Reader struct {
	WorkerCount int `json:"worker_count" yaml:"worker_count"`
	MaxRequests int `json:"max_requests" yaml:"max_requests"`
}

type Worker struct {
	Count       int `json:"count" yaml:"count"`
	MaxRequests int `json:"max_requests" yaml:"max_requests"`
}

type Logger struct {
	Level   string `json:"level" yaml:"level"`
	Verbose bool   `json:"verbose" yaml:"verbose"`
}

// Default mirrors the CLI defaults documented in spec.md §6.
func Default() *Bootstrap {
	return &Bootstrap{
		Server: Server{
			Addr:        ":8080",
			Root:        "data",
			IdleTimeout: 30 * time.Second,
			Backlog:     1000,
			MetricsAddr: ":9090",
		},
		Cache: Cache{
			MaxMemory:     256 << 20,
			MaxEntries:    4096,
			MaxBufferSize: 16 << 20,
		},
		Reader: Reader{
			WorkerCount: 4,
			MaxRequests: 1024,
		},
		Worker: Worker{
			Count:       4,
			MaxRequests: 4096,
		},
		Logger: Logger{
			Level: "info",
		},
	}
}

// LoadFile decodes a YAML config file onto a copy of Default and returns it.
func LoadFile(path string) (*Bootstrap, error) {
	bc := Default()
	if path == "" {
		return bc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Decode to a generic map first, then through mapstructure onto
	// Bootstrap, mirroring the teacher's contrib/config decode layer
	// rather than unmarshalling straight onto the typed struct.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var fromFile Bootstrap
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		TagName:          "yaml",
		Result:           &fromFile,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}

	// non-zero file values win over the defaults; flags are applied on top
	// afterwards by cmd/staticd's applyFlagOverrides. Matches server.go's
	// mergo.WithOverride convention.
	if err := mergo.Merge(bc, fromFile, mergo.WithOverride); err != nil {
		return nil, err
	}
	return bc, nil
}
