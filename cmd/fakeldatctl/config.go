package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// streamConfig carries every knob of the stream daemon. Per-field
// precedence: explicit flag > FAKELDAT_* environment variable > --config
// TOML file > built-in default.
type streamConfig struct {
	device          string
	baud            int
	backend         string
	listenAddr      string
	pollInterval    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	clientReadTO    time.Duration
	bannerTO        time.Duration
	csvDir          string
	mdnsEnable      bool
	mdnsName        string
	configFile      string
}

func parseStreamFlags(args []string) (*streamConfig, error) {
	cfg := &streamConfig{}
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	device := fs.String("device", "/dev/ttyACM0", "Serial device path")
	baud := fs.Int("baud", 115200, "Serial baud rate")
	backend := fs.String("backend", "serial", "Device backend: serial|sim")
	listen := fs.String("listen", ":20304", "Feed TCP listen address; empty disables the feed")
	pollEvery := fs.Duration("poll-interval", 50*time.Millisecond, "Device poll interval")
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := fs.Int("hub-buffer", 512, "Per-client feed buffer (reports)")
	hubPolicy := fs.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxClients := fs.Int("max-clients", 0, "Maximum simultaneous feed clients (0 = unlimited)")
	clientReadTO := fs.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	bannerTO := fs.Duration("banner-timeout", 3*time.Second, "Banner write timeout")
	csvDir := fs.String("csv-dir", "", "Directory for CSV capture files; empty disables recording")
	mdnsEnable := fs.Bool("mdns-enable", false, "Enable mDNS advertisement of the feed listener")
	mdnsName := fs.String("mdns-name", "", "mDNS instance name (default fakeldat-<hostname>)")
	configFile := fs.String("config", "", "TOML config file; flags and FAKELDAT_* variables win over it")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("stream takes no arguments, got %q", fs.Args())
	}

	// Track which flags were explicitly set to give them precedence over
	// env and file values.
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	cfg.device = *device
	cfg.baud = *baud
	cfg.backend = *backend
	cfg.listenAddr = *listen
	cfg.pollInterval = *pollEvery
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxClients = *maxClients
	cfg.clientReadTO = *clientReadTO
	cfg.bannerTO = *bannerTO
	cfg.csvDir = *csvDir
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.configFile = *configFile

	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, fmt.Errorf("environment override: %w", err)
	}
	if cfg.configFile != "" {
		if err := applyConfigFile(cfg, cfg.configFile, set); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values.
func (c *streamConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial", "sim":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("poll-interval must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.bannerTO <= 0 {
		return fmt.Errorf("banner-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps FAKELDAT_* environment variables to config
// fields unless a corresponding flag was explicitly set. Parsing is lax:
// empty values ignored, durations in time.ParseDuration format, booleans
// accept 1/true/yes/on. Every name it applies is added to set so the
// config file layer does not override it.
func applyEnvOverrides(c *streamConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["device"]; !ok {
		if v, ok := get("FAKELDAT_DEVICE"); ok && v != "" {
			c.device = v
			set["device"] = struct{}{}
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("FAKELDAT_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
				set["baud"] = struct{}{}
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FAKELDAT_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["backend"]; !ok {
		if v, ok := get("FAKELDAT_BACKEND"); ok && v != "" {
			c.backend = v
			set["backend"] = struct{}{}
		}
	}
	if _, ok := set["listen"]; !ok {
		// Empty is meaningful here (feed disabled), so apply even blank.
		if v, ok := get("FAKELDAT_LISTEN"); ok {
			c.listenAddr = v
			set["listen"] = struct{}{}
		}
	}
	if _, ok := set["poll-interval"]; !ok {
		if v, ok := get("FAKELDAT_POLL_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.pollInterval = d
				set["poll-interval"] = struct{}{}
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FAKELDAT_POLL_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("FAKELDAT_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
			set["log-format"] = struct{}{}
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("FAKELDAT_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
			set["log-level"] = struct{}{}
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("FAKELDAT_METRICS"); ok {
			c.metricsAddr = v
			set["metrics-addr"] = struct{}{}
		}
	}
	if _, ok := set["hub-buffer"]; !ok {
		if v, ok := get("FAKELDAT_HUB_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.hubBuffer = n
				set["hub-buffer"] = struct{}{}
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FAKELDAT_HUB_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["hub-policy"]; !ok {
		if v, ok := get("FAKELDAT_HUB_POLICY"); ok && v != "" {
			c.hubPolicy = v
			set["hub-policy"] = struct{}{}
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("FAKELDAT_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
				set["log-metrics-interval"] = struct{}{}
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FAKELDAT_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("FAKELDAT_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxClients = n
				set["max-clients"] = struct{}{}
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FAKELDAT_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("FAKELDAT_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.clientReadTO = d
				set["client-read-timeout"] = struct{}{}
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FAKELDAT_CLIENT_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["banner-timeout"]; !ok {
		if v, ok := get("FAKELDAT_BANNER_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.bannerTO = d
				set["banner-timeout"] = struct{}{}
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FAKELDAT_BANNER_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["csv-dir"]; !ok {
		if v, ok := get("FAKELDAT_CSV_DIR"); ok && v != "" {
			c.csvDir = v
			set["csv-dir"] = struct{}{}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("FAKELDAT_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
				set["mdns-enable"] = struct{}{}
			case "0", "false", "no", "off":
				c.mdnsEnable = false
				set["mdns-enable"] = struct{}{}
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("FAKELDAT_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
			set["mdns-name"] = struct{}{}
		}
	}
	return firstErr
}

// fileConfig mirrors streamConfig with TOML keys. Durations are strings
// in time.ParseDuration format.
type fileConfig struct {
	Device             string `toml:"device"`
	Baud               int    `toml:"baud"`
	Backend            string `toml:"backend"`
	Listen             string `toml:"listen"`
	PollInterval       string `toml:"poll_interval"`
	LogFormat          string `toml:"log_format"`
	LogLevel           string `toml:"log_level"`
	MetricsAddr        string `toml:"metrics_addr"`
	HubBuffer          int    `toml:"hub_buffer"`
	HubPolicy          string `toml:"hub_policy"`
	LogMetricsInterval string `toml:"log_metrics_interval"`
	MaxClients         int    `toml:"max_clients"`
	ClientReadTimeout  string `toml:"client_read_timeout"`
	BannerTimeout      string `toml:"banner_timeout"`
	CSVDir             string `toml:"csv_dir"`
	MDNSEnable         bool   `toml:"mdns_enable"`
	MDNSName           string `toml:"mdns_name"`
}

// applyConfigFile overlays values from a TOML file onto fields that were
// set by neither flag nor environment. Keys absent from the file leave
// their fields alone.
func applyConfigFile(c *streamConfig, path string, set map[string]struct{}) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}
	want := func(flagName, key string) bool {
		if _, ok := set[flagName]; ok {
			return false
		}
		return meta.IsDefined(key)
	}
	dur := func(key, val string, allowZero bool, dst *time.Duration) error {
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("config file %s: %w", key, err)
		}
		if d > 0 || (allowZero && d == 0) {
			*dst = d
		}
		return nil
	}
	if want("device", "device") {
		c.device = strings.TrimSpace(raw.Device)
	}
	if want("baud", "baud") {
		c.baud = raw.Baud
	}
	if want("backend", "backend") {
		c.backend = strings.TrimSpace(raw.Backend)
	}
	if want("listen", "listen") {
		c.listenAddr = strings.TrimSpace(raw.Listen)
	}
	if want("poll-interval", "poll_interval") {
		if err := dur("poll_interval", raw.PollInterval, false, &c.pollInterval); err != nil {
			return err
		}
	}
	if want("log-format", "log_format") {
		c.logFormat = strings.TrimSpace(raw.LogFormat)
	}
	if want("log-level", "log_level") {
		c.logLevel = strings.TrimSpace(raw.LogLevel)
	}
	if want("metrics-addr", "metrics_addr") {
		c.metricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if want("hub-buffer", "hub_buffer") {
		c.hubBuffer = raw.HubBuffer
	}
	if want("hub-policy", "hub_policy") {
		c.hubPolicy = strings.TrimSpace(raw.HubPolicy)
	}
	if want("log-metrics-interval", "log_metrics_interval") {
		if err := dur("log_metrics_interval", raw.LogMetricsInterval, true, &c.logMetricsEvery); err != nil {
			return err
		}
	}
	if want("max-clients", "max_clients") {
		c.maxClients = raw.MaxClients
	}
	if want("client-read-timeout", "client_read_timeout") {
		if err := dur("client_read_timeout", raw.ClientReadTimeout, false, &c.clientReadTO); err != nil {
			return err
		}
	}
	if want("banner-timeout", "banner_timeout") {
		if err := dur("banner_timeout", raw.BannerTimeout, false, &c.bannerTO); err != nil {
			return err
		}
	}
	if want("csv-dir", "csv_dir") {
		c.csvDir = strings.TrimSpace(raw.CSVDir)
	}
	if want("mdns-enable", "mdns_enable") {
		c.mdnsEnable = raw.MDNSEnable
	}
	if want("mdns-name", "mdns_name") {
		c.mdnsName = strings.TrimSpace(raw.MDNSName)
	}
	return nil
}

// oneShotConfig is the shared flag surface of get/set/trigger.
type oneShotConfig struct {
	device    string
	baud      int
	backend   string
	wait      time.Duration
	quiet     bool
	logFormat string
	logLevel  string
}

// parseOneShotFlags parses the flags shared by the one-shot commands and
// returns the remaining positional words. Flags come before positionals.
func parseOneShotFlags(name string, args []string) (*oneShotConfig, []string, error) {
	cfg := &oneShotConfig{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	device := fs.String("device", "/dev/ttyACM0", "Serial device path")
	baud := fs.Int("baud", 115200, "Serial baud rate")
	backend := fs.String("backend", "serial", "Device backend: serial|sim")
	wait := fs.Duration("wait", 2*time.Second, "How long to wait for the device's answer")
	quiet := fs.Bool("quiet", false, "Discard measurement reports seen while waiting")
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	logLevel := fs.String("log-level", "warn", "Log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	cfg.device = *device
	cfg.baud = *baud
	cfg.backend = *backend
	cfg.wait = *wait
	cfg.quiet = *quiet
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	if err := applyOneShotEnv(cfg, set); err != nil {
		return nil, nil, fmt.Errorf("environment override: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

// applyOneShotEnv honors the connection-related FAKELDAT_* variables so a
// device path exported once covers every invocation.
func applyOneShotEnv(c *oneShotConfig, set map[string]struct{}) error {
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["device"]; !ok {
		if v, ok := get("FAKELDAT_DEVICE"); ok && v != "" {
			c.device = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("FAKELDAT_BAUD"); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid FAKELDAT_BAUD: %w", err)
			}
			if n > 0 {
				c.baud = n
			}
		}
	}
	if _, ok := set["backend"]; !ok {
		if v, ok := get("FAKELDAT_BACKEND"); ok && v != "" {
			c.backend = v
		}
	}
	return nil
}

func (c *oneShotConfig) validate() error {
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial", "sim":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.wait <= 0 {
		return fmt.Errorf("wait must be > 0")
	}
	return nil
}
