// Package conf holds the server configuration file format.
package conf

import (
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	E "github.com/sagernet/sing-iostream/common/exceptions"
	"github.com/sagernet/sing-iostream/common/iostream"
	"github.com/sagernet/sing-iostream/transport/tcp"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Listen         string   `json:"listen,omitempty" yaml:"listen,omitempty"`
	Port           uint16   `json:"port,omitempty" yaml:"port,omitempty"`
	Backlog        int      `json:"backlog,omitempty" yaml:"backlog,omitempty"`
	ChunkSize      int      `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	MaxBufferSize  int      `json:"max_buffer_size,omitempty" yaml:"max_buffer_size,omitempty"`
	CloseTimeout   Duration `json:"close_timeout,omitempty" yaml:"close_timeout,omitempty"`
	MaxConnections int      `json:"max_connections,omitempty" yaml:"max_connections,omitempty"`
	AcceptRate     float64  `json:"accept_rate,omitempty" yaml:"accept_rate,omitempty"`
	AcceptBurst    int      `json:"accept_burst,omitempty" yaml:"accept_burst,omitempty"`
	MetricsListen  string   `json:"metrics_listen,omitempty" yaml:"metrics_listen,omitempty"`
	LogLevel       string   `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

func Default() Options {
	return Options{
		Listen:        tcp.DefaultAddress.String(),
		Port:          tcp.DefaultPort,
		Backlog:       tcp.DefaultBacklog,
		ChunkSize:     iostream.DefaultChunkSize,
		MaxBufferSize: iostream.DefaultMaxBufferSize,
		CloseTimeout:  Duration(iostream.DefaultCloseTimeout),
		LogLevel:      "info",
	}
}

// Load reads a YAML file (.yaml or .yml) or a JSON file on top of the
// defaults.
func Load(path string) (Options, error) {
	options := Default()
	content, err := os.ReadFile(path)
	if err != nil {
		return options, E.Cause(err, "read config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &options)
	default:
		err = json.Unmarshal(content, &options)
	}
	if err != nil {
		return options, E.Cause(err, "decode config file ", path)
	}
	return options, nil
}

func (o Options) ListenAddr() (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(o.Listen)
	if err != nil {
		return netip.AddrPort{}, E.Cause(err, "parse listen address")
	}
	return netip.AddrPortFrom(addr, o.Port), nil
}

func (o Options) Validate() error {
	var errs []error
	if _, err := o.ListenAddr(); err != nil {
		errs = append(errs, err)
	}
	if o.Backlog <= 0 {
		errs = append(errs, E.New("backlog must be positive"))
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, E.New("chunk_size must be positive"))
	}
	if o.MaxBufferSize <= 0 {
		errs = append(errs, E.New("max_buffer_size must be positive"))
	}
	if o.CloseTimeout <= 0 {
		errs = append(errs, E.New("close_timeout must be positive"))
	}
	if o.MaxConnections < 0 {
		errs = append(errs, E.New("max_connections must not be negative"))
	}
	if o.AcceptRate < 0 || o.AcceptBurst < 0 {
		errs = append(errs, E.New("accept_rate and accept_burst must not be negative"))
	}
	if o.LogLevel != "" {
		if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
			errs = append(errs, E.Cause(err, "log_level"))
		}
	}
	return E.Errors(errs...)
}

// Duration is a time.Duration written as "2s" or "500ms" in config files.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(content []byte) error {
	var value string
	err := json.Unmarshal(content, &value)
	if err != nil {
		return E.Cause(err, "duration must be a string")
	}
	return d.parse(value)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var value string
	err := node.Decode(&value)
	if err != nil {
		return err
	}
	return d.parse(value)
}

func (d *Duration) parse(value string) error {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return E.Cause(err, "parse duration")
	}
	*d = Duration(duration)
	return nil
}
