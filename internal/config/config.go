package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Backend selection values for CaptureConfig.Backend.
const (
	BackendAuto    = "auto"
	BackendLibpcap = "libpcap"
	BackendProbe   = "probe"
	BackendNone    = "none"
)

// CaptureConfig holds the controller settings.
type CaptureConfig struct {
	// Backend is one of auto, libpcap, probe or none. "none" always uses the
	// synthetic generator.
	Backend          string `yaml:"backend"`
	TickInterval     string `yaml:"tick_interval"`
	SubscribeRetries uint   `yaml:"subscribe_retries"`
	BackendTimeout   string `yaml:"backend_timeout"`
}

// LivecapConfig holds the libpcap backend settings.
type LivecapConfig struct {
	Snaplen     int32  `yaml:"snaplen"`
	Promiscuous bool   `yaml:"promiscuous"`
	ReadTimeout string `yaml:"read_timeout"`
	// RecordDir, when set, tees raw frames into a pcap file in this directory.
	RecordDir         string `yaml:"record_dir"`
	RecordChannelSize int    `yaml:"record_channel_size"`
	// Tshark names the binary used when libpcap cannot open a device. Empty
	// disables the fallback.
	Tshark string `yaml:"tshark"`
}

// ProbeConfig holds the NATS probe transport settings, shared by the probe
// server and the client backend.
type ProbeConfig struct {
	NATSURL        string `yaml:"nats_url"`
	SubjectPrefix  string `yaml:"subject_prefix"`
	RequestTimeout string `yaml:"request_timeout"`
}

// StoreConfig holds the saved-capture store settings.
type StoreConfig struct {
	Path        string            `yaml:"path"`
	MaxFileSize datasize.ByteSize `yaml:"max_file_size"`
	SyncTimeout string            `yaml:"sync_timeout"`
}

// NATSMirrorConfig configures the NATS mirror of the store.
type NATSMirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig configures the ClickHouse mirror of the store.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MirrorConfig groups the remote mirrors. Identity keys every mirrored list.
type MirrorConfig struct {
	Identity   string           `yaml:"identity"`
	NATS       NATSMirrorConfig `yaml:"nats"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// APIConfig holds the listen addresses of the daemon.
type APIConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr"`
	GrpcListenAddr string `yaml:"grpc_listen_addr"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Livecap LivecapConfig `yaml:"livecap"`
	Probe   ProbeConfig   `yaml:"probe"`
	Store   StoreConfig   `yaml:"store"`
	Mirror  MirrorConfig  `yaml:"mirror"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// Default returns the configuration used when a field is left empty.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Backend:          BackendAuto,
			TickInterval:     "700ms",
			SubscribeRetries: 5,
			BackendTimeout:   "10s",
		},
		Livecap: LivecapConfig{
			Snaplen:           65535,
			Promiscuous:       true,
			ReadTimeout:       "1s",
			RecordChannelSize: 10000,
			Tshark:            "tshark",
		},
		Probe: ProbeConfig{
			NATSURL:        "nats://127.0.0.1:4222",
			SubjectPrefix:  "capture.probe",
			RequestTimeout: "5s",
		},
		Store: StoreConfig{
			Path:        "data/captures.json",
			MaxFileSize: 16 * datasize.MB,
			SyncTimeout: "5s",
		},
		Mirror: MirrorConfig{
			NATS: NATSMirrorConfig{
				URL:     "nats://127.0.0.1:4222",
				Subject: "capture.saves",
			},
			ClickHouse: ClickHouseConfig{
				Host:     "127.0.0.1",
				Port:     9000,
				Database: "default",
			},
		},
		API: APIConfig{
			HttpListenAddr: ":8080",
			GrpcListenAddr: ":9090",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
// Fields missing from the file keep their defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be caught by YAML decoding.
func (c *Config) Validate() error {
	switch c.Capture.Backend {
	case BackendAuto, BackendLibpcap, BackendProbe, BackendNone:
	default:
		return fmt.Errorf("unknown capture backend %q", c.Capture.Backend)
	}

	durations := map[string]string{
		"capture.tick_interval":   c.Capture.TickInterval,
		"capture.backend_timeout": c.Capture.BackendTimeout,
		"livecap.read_timeout":    c.Livecap.ReadTimeout,
		"probe.request_timeout":   c.Probe.RequestTimeout,
		"store.sync_timeout":      c.Store.SyncTimeout,
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Capture.SubscribeRetries == 0 {
		return fmt.Errorf("capture.subscribe_retries must be at least 1")
	}
	return nil
}

// TickIntervalDuration returns the synthetic generator period.
func (c CaptureConfig) TickIntervalDuration() time.Duration {
	return mustDuration(c.TickInterval)
}

// BackendTimeoutDuration bounds a single native backend call.
func (c CaptureConfig) BackendTimeoutDuration() time.Duration {
	return mustDuration(c.BackendTimeout)
}

// ReadTimeoutDuration is the libpcap read timeout.
func (c LivecapConfig) ReadTimeoutDuration() time.Duration {
	return mustDuration(c.ReadTimeout)
}

// RequestTimeoutDuration bounds a probe request/reply round trip.
func (c ProbeConfig) RequestTimeoutDuration() time.Duration {
	return mustDuration(c.RequestTimeout)
}

// SyncTimeoutDuration bounds one mirror sync.
func (c StoreConfig) SyncTimeoutDuration() time.Duration {
	return mustDuration(c.SyncTimeout)
}

// mustDuration parses a duration already checked by Validate.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
