// Package main runs the registry exporter: it loads the configuration,
// applies command-line overrides and serves until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	exporter "github.com/nikiz24/registry-exporter"
	"github.com/nikiz24/registry-exporter/internal/logger"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// buildVersion falls back to the module version recorded by go install.
func buildVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}

// stringSlice collects a repeated flag.
type stringSlice []string

var errEmptyFlagValue = errors.New("empty flag value")

func (values *stringSlice) String() string { return fmt.Sprint(*values) }

func (values *stringSlice) Set(value string) error {
	if value == "" {
		return errEmptyFlagValue
	}
	*values = append(*values, value)
	return nil
}

type flags struct {
	configPath string

	listenAddr        string
	namespace         string
	helpPolicy        string
	globalLabels      stringSlice
	cluster           string
	hostID            string
	node              string
	datacenter        string
	rack              string
	exclusions        stringSlice
	registrationDelay time.Duration
	collectorTiming   bool
	runtimeObjects    bool
	remoteWriteURL    string
	remoteWriteEvery  time.Duration
	logLevel          string
	logFormat         string
	logTime           bool
}

func newFlagSet(out io.Writer) (*flag.FlagSet, *flags) {
	f := &flags{}
	fs := flag.NewFlagSet("registry-exporter", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&f.configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&f.listenAddr, "listen-addr", "", "IP address and port to bind")
	fs.StringVar(&f.namespace, "namespace", "", "Prefix of family and global label names")
	fs.StringVar(&f.helpPolicy, "help-policy", "", "Include HELP lines: automatic, include or exclude")
	fs.Var(&f.globalLabels, "global-label", "Global label to enable: cluster, host_id, node, datacenter or rack (repeatable)")
	fs.StringVar(&f.cluster, "cluster", "", "Value of the cluster global label")
	fs.StringVar(&f.hostID, "host-id", "", "Value of the host_id global label")
	fs.StringVar(&f.node, "node", "", "Value of the node global label")
	fs.StringVar(&f.datacenter, "datacenter", "", "Value of the datacenter global label")
	fs.StringVar(&f.rack, "rack", "", "Value of the rack global label")
	fs.Var(&f.exclusions, "exclude", "Object-name pattern or family name to exclude, or @file (repeatable)")
	fs.DurationVar(&f.registrationDelay, "registration-delay", 0, "Delay before registry events are applied")
	fs.BoolVar(&f.collectorTiming, "enable-collector-timing", false, "Expose the time spent collecting each family")
	fs.BoolVar(&f.runtimeObjects, "runtime-objects", true, "Register Go runtime objects")
	fs.StringVar(&f.remoteWriteURL, "remote-write-url", "", "Prometheus remote-write endpoint")
	fs.DurationVar(&f.remoteWriteEvery, "remote-write-interval", 0, "Remote-write interval")
	fs.StringVar(&f.logLevel, "log-level", "", "Either debug, info, warn, error, fatal, panic")
	fs.StringVar(&f.logFormat, "log-format", "", "Either json, text or plain")
	fs.BoolVar(&f.logTime, "log-time", false, "Include timestamp in logs")
	return fs, f
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly.
func loadConfig(fs *flag.FlagSet, f *flags) (exporter.Config, error) {
	cfg := exporter.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = exporter.LoadConfig(f.configPath); err != nil {
			return cfg, err
		}
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "listen-addr":
			cfg.ListenAddress = f.listenAddr
		case "namespace":
			cfg.Namespace = f.namespace
		case "help-policy":
			cfg.HelpPolicy = f.helpPolicy
		case "global-label":
			cfg.GlobalLabels = f.globalLabels
		case "cluster":
			cfg.Topology.Cluster = f.cluster
		case "host-id":
			cfg.Topology.Host = f.hostID
		case "node":
			cfg.Topology.Node = f.node
		case "datacenter":
			cfg.Topology.DC = f.datacenter
		case "rack":
			cfg.Topology.RackName = f.rack
		case "exclude":
			cfg.Exclusions = append(cfg.Exclusions, f.exclusions...)
		case "registration-delay":
			cfg.RegistrationDelay = f.registrationDelay
		case "enable-collector-timing":
			cfg.EnableCollectorTiming = f.collectorTiming
		case "runtime-objects":
			cfg.EnableRuntimeObjects = f.runtimeObjects
		case "remote-write-url":
			cfg.RemoteWrite.URL = f.remoteWriteURL
		case "remote-write-interval":
			cfg.RemoteWrite.Interval = f.remoteWriteEvery
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "log-format":
			cfg.Log.Format = f.logFormat
		case "log-time":
			cfg.Log.Time = f.logTime
		}
	})

	return cfg, cfg.Validate()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs, f := newFlagSet(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(fs, f)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Time)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	log.Info("registry-exporter starting",
		zap.String("version", buildVersion()),
		zap.String("commit", commit),
		zap.String("date", date))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e, err := exporter.New(cfg, log)
	if err != nil {
		log.Error("Failed to create exporter", zap.Error(err))
		return 1
	}

	if err := registerBuildInfo(e, cfg); err != nil {
		log.Warn("Failed to register build info", zap.Error(err))
	}

	if err := e.Run(ctx); err != nil {
		log.Error("Exporter failed", zap.Error(err))
		return 1
	}
	return 0
}

func registerBuildInfo(e *exporter.Exporter, cfg exporter.Config) error {
	name, err := exporter.InstrumentName(cfg.InstrumentDomain, exporter.GaugeType, "build_info",
		"version", buildInfoValue(buildVersion()),
		"commit", buildInfoValue(commit),
		"date", buildInfoValue(date))
	if err != nil {
		return err
	}
	info := &exporter.Gauge{}
	info.Set(1)
	return e.Registry().Register(name, info)
}

// buildInfoValue makes an ldflags value usable as an object-name property:
// an RFC 3339 date keeps its shape with '.' in place of ':'.
func buildInfoValue(v string) string {
	if v == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ':':
			return '.'
		case ',', '=', '"', '*', '?', '\n':
			return '_'
		}
		return r
	}, v)
}
