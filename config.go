package exporter

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/nikiz24/registry-exporter/collector"
	"github.com/nikiz24/registry-exporter/internal/logger"
	"github.com/nikiz24/registry-exporter/metric"
	"github.com/nikiz24/registry-exporter/remotewrite"
	"github.com/nikiz24/registry-exporter/server"
)

// Config holds exporter configuration.
type Config struct {
	// ListenAddress is where the HTTP surface listens. Empty disables it.
	ListenAddress string `yaml:"listen_address"`
	Namespace     string `yaml:"namespace"`
	// HelpPolicy is one of "automatic", "include" or "exclude".
	HelpPolicy string `yaml:"help_policy"`

	// GlobalLabels names the enabled global labels, e.g. ["cluster", "node"].
	GlobalLabels []string                 `yaml:"global_labels"`
	Topology     collector.StaticTopology `yaml:"topology"`

	// Exclusions are object-name patterns (containing ':') or family names.
	// Values starting with '@' name a file of exclusions.
	Exclusions []string `yaml:"exclusions"`

	RegistrationDelay      time.Duration `yaml:"registration_delay"`
	EnableCollectorTiming  bool          `yaml:"enable_collector_timing"`
	EnableRuntimeObjects   bool          `yaml:"enable_runtime_objects"`
	RuntimeRefreshInterval time.Duration `yaml:"runtime_refresh_interval"`
	// InstrumentDomain is the object-name domain of Counter, Gauge and
	// Histogram objects.
	InstrumentDomain string `yaml:"instrument_domain"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// RemoteWrite is used when RemoteWrite.URL is set.
	RemoteWrite remotewrite.Config `yaml:"remote_write"`

	Log LogConfig `yaml:"log"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Time   bool   `yaml:"time"`
}

// DefaultConfig returns default configuration values. The node address
// defaults to the outbound IPv4 address when it can be determined.
func DefaultConfig() Config {
	ip, _ := GetOutboundIPv4()
	return Config{
		ListenAddress:          ":9500",
		Namespace:              "app",
		HelpPolicy:             server.HelpAutomatic.String(),
		GlobalLabels:           []string{collector.ClusterLabel.String(), collector.NodeLabel.String()},
		Topology:               collector.StaticTopology{Node: ip},
		RegistrationDelay:      time.Second,
		EnableRuntimeObjects:   true,
		RuntimeRefreshInterval: time.Second,
		InstrumentDomain:       "app",
		ReadHeaderTimeout:      5 * time.Second,
		WriteTimeout:           30 * time.Second,
		IdleTimeout:            60 * time.Second,
		ShutdownTimeout:        10 * time.Second,
		RemoteWrite: remotewrite.Config{
			Interval: remotewrite.DefaultInterval,
			Instance: ip,
		},
		Log: LogConfig{Level: "info", Format: "json", Time: true},
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs error

	if c.Namespace != "" && !metric.ValidLabelName(c.Namespace) {
		errs = multierr.Append(errs, fmt.Errorf("invalid namespace %q", c.Namespace))
	}
	if _, err := server.ParseHelpPolicy(c.HelpPolicy); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := c.enabledGlobalLabels(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := collector.ParseExclusions(c.Exclusions); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.InstrumentDomain == "" {
		errs = multierr.Append(errs, errors.New("instrument domain cannot be empty"))
	}
	if c.RegistrationDelay < 0 {
		errs = multierr.Append(errs, fmt.Errorf("registration delay cannot be negative: %s", c.RegistrationDelay))
	}
	if c.RemoteWrite.URL != "" && c.RemoteWrite.Interval < 0 {
		errs = multierr.Append(errs, fmt.Errorf("remote write interval cannot be negative: %s", c.RemoteWrite.Interval))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := logger.ParseEncoding(c.Log.Format); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (c Config) enabledGlobalLabels() ([]collector.GlobalLabel, error) {
	var (
		out  []collector.GlobalLabel
		errs error
	)
	for _, name := range c.GlobalLabels {
		l, err := collector.ParseGlobalLabel(name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, l)
	}
	return out, errs
}

// GetOutboundIPv4 returns the local address used for outbound traffic.
func GetOutboundIPv4() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || localAddr.IP.To4() == nil {
		return "", errors.New("no outbound IPv4 address")
	}
	return localAddr.IP.String(), nil
}
