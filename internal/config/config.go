package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var ErrUnknownKeys = errors.New("config: unknown keys")

// RadioConfig addresses the host UDP radio.
type RadioConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
	Peer   string `toml:"peer" yaml:"peer"`
}

// LinkConfig tunes send retries and receive polling. Durations are strings
// such as "100ms".
type LinkConfig struct {
	MaxRetries     int    `toml:"max_retries" yaml:"max_retries"`
	Timeout        string `toml:"timeout" yaml:"timeout"`
	BaseDelay      string `toml:"base_delay" yaml:"base_delay"`
	SettleDelay    string `toml:"settle_delay" yaml:"settle_delay"`
	PollInterval   string `toml:"poll_interval" yaml:"poll_interval"`
	MaxPacketBytes int    `toml:"max_packet_bytes" yaml:"max_packet_bytes"`
}

type BusConfig struct {
	Listen       string `toml:"listen" yaml:"listen"`
	Controller   string `toml:"controller" yaml:"controller"`
	WriteTimeout string `toml:"write_timeout" yaml:"write_timeout"`
}

type TransferConfig struct {
	PacketSize             int     `toml:"packet_size" yaml:"packet_size"`
	MaxConsecutiveFailures int     `toml:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	MaxResourceBytes       uint32  `toml:"max_resource_bytes" yaml:"max_resource_bytes"`
	MaxAttempts            int     `toml:"max_attempts" yaml:"max_attempts"`
	RequeueDelay           string  `toml:"requeue_delay" yaml:"requeue_delay"`
	RequeueMaxDelay        string  `toml:"requeue_max_delay" yaml:"requeue_max_delay"`
	RequeueMultiplier      float64 `toml:"requeue_multiplier" yaml:"requeue_multiplier"`
}

type ResourcesConfig struct {
	Dir          string   `toml:"dir" yaml:"dir"`
	Extensions   []string `toml:"extensions" yaml:"extensions"`
	LedgerPath   string   `toml:"ledger_path" yaml:"ledger_path"`
	ScanInterval string   `toml:"scan_interval" yaml:"scan_interval"`
}

type GroundSensorConfig struct {
	Path     string `toml:"path" yaml:"path"`
	Interval string `toml:"interval" yaml:"interval"`
}

type StatusConfig struct {
	Addr        string   `toml:"addr" yaml:"addr"`
	CorsOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	Token       string   `toml:"token" yaml:"token"`
}

// NodeConfig is the field node's config file.
type NodeConfig struct {
	ID                 string             `toml:"id" yaml:"id"`
	FrameMode          string             `toml:"frame_mode" yaml:"frame_mode"`
	DataTerminators    string             `toml:"data_terminators" yaml:"data_terminators"`
	CommandTerminators string             `toml:"command_terminators" yaml:"command_terminators"`
	QueueCapacity      int                `toml:"queue_capacity" yaml:"queue_capacity"`
	PollInterval       string             `toml:"poll_interval" yaml:"poll_interval"`
	Radio              RadioConfig        `toml:"radio" yaml:"radio"`
	Link               LinkConfig         `toml:"link" yaml:"link"`
	Bus                BusConfig          `toml:"bus" yaml:"bus"`
	Transfer           TransferConfig     `toml:"transfer" yaml:"transfer"`
	Resources          ResourcesConfig    `toml:"resources" yaml:"resources"`
	Ground             GroundSensorConfig `toml:"ground" yaml:"ground"`
	Status             StatusConfig       `toml:"status" yaml:"status"`
}

type AssemblyConfig struct {
	PacketSize       int    `toml:"packet_size" yaml:"packet_size"`
	MaxResourceBytes uint32 `toml:"max_resource_bytes" yaml:"max_resource_bytes"`
	Timeout          string `toml:"timeout" yaml:"timeout"`
	ExpireInterval   string `toml:"expire_interval" yaml:"expire_interval"`
}

type RelayConfig struct {
	BaseURL      string            `toml:"base_url" yaml:"base_url"`
	Endpoints    map[string]string `toml:"endpoints" yaml:"endpoints"`
	CommandPath  string            `toml:"command_path" yaml:"command_path"`
	Headers      map[string]string `toml:"headers" yaml:"headers"`
	Timeout      string            `toml:"timeout" yaml:"timeout"`
	Retries      int               `toml:"retries" yaml:"retries"`
	SpoolPath    string            `toml:"spool_path" yaml:"spool_path"`
	PollInterval string            `toml:"poll_interval" yaml:"poll_interval"`
}

type ArchiveConfig struct {
	Kind         string `toml:"kind" yaml:"kind"`
	Dir          string `toml:"dir" yaml:"dir"`
	Bucket       string `toml:"bucket" yaml:"bucket"`
	Prefix       string `toml:"prefix" yaml:"prefix"`
	Region       string `toml:"region" yaml:"region"`
	Endpoint     string `toml:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `toml:"use_path_style" yaml:"use_path_style"`
}

// GroundConfig is the ground station's config file.
type GroundConfig struct {
	ID                 string            `toml:"id" yaml:"id"`
	FrameMode          string            `toml:"frame_mode" yaml:"frame_mode"`
	DataTerminators    string            `toml:"data_terminators" yaml:"data_terminators"`
	CommandTerminators string            `toml:"command_terminators" yaml:"command_terminators"`
	StrictRecords      bool              `toml:"strict_records" yaml:"strict_records"`
	RecentRecords      int               `toml:"recent_records" yaml:"recent_records"`
	Radio              RadioConfig       `toml:"radio" yaml:"radio"`
	Link               LinkConfig        `toml:"link" yaml:"link"`
	Assembly           AssemblyConfig    `toml:"assembly" yaml:"assembly"`
	Relay              RelayConfig       `toml:"relay" yaml:"relay"`
	Commands           map[string]string `toml:"commands" yaml:"commands"`
	Archive            ArchiveConfig     `toml:"archive" yaml:"archive"`
	Status             StatusConfig      `toml:"status" yaml:"status"`
}

func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		ID:                 "field.local",
		FrameMode:          "tag",
		DataTerminators:    "#",
		CommandTerminators: "~\n",
		QueueCapacity:      10,
		PollInterval:       "20ms",
		Radio:              RadioConfig{Listen: "127.0.0.1:7001", Peer: "127.0.0.1:7002"},
		Link:               defaultLink(),
		Bus: BusConfig{
			Listen:       "127.0.0.1:7101",
			Controller:   "127.0.0.1:7102",
			WriteTimeout: "1s",
		},
		Transfer: TransferConfig{
			PacketSize:             256,
			MaxConsecutiveFailures: 3,
			MaxResourceBytes:       4 << 20,
			MaxAttempts:            3,
			RequeueDelay:           "5s",
			RequeueMaxDelay:        "2m",
			RequeueMultiplier:      2,
		},
		Resources: ResourcesConfig{
			Extensions:   []string{".jpg", ".jpeg"},
			ScanInterval: "30s",
		},
		Ground: GroundSensorConfig{Interval: "10s"},
	}
}

func DefaultGroundConfig() GroundConfig {
	return GroundConfig{
		ID:                 "ground.local",
		FrameMode:          "tag",
		DataTerminators:    "#",
		CommandTerminators: "~\n",
		RecentRecords:      128,
		Radio:              RadioConfig{Listen: "127.0.0.1:7002", Peer: "127.0.0.1:7001"},
		Link:               defaultLink(),
		Assembly: AssemblyConfig{
			PacketSize:       256,
			MaxResourceBytes: 4 << 20,
			Timeout:          "30s",
			ExpireInterval:   "1s",
		},
		Relay: RelayConfig{
			Endpoints: map[string]string{
				"telemetry": "/api/telemetry",
				"ground":    "/api/ground",
				"image":     "/api/image",
			},
			CommandPath:  "/api/command",
			Timeout:      "10s",
			Retries:      2,
			PollInterval: "5s",
		},
		Archive: ArchiveConfig{Kind: "dir", Dir: "received"},
		Status:  StatusConfig{Addr: ":9200"},
	}
}

func defaultLink() LinkConfig {
	return LinkConfig{
		MaxRetries:     3,
		Timeout:        "2s",
		BaseDelay:      "100ms",
		SettleDelay:    "50ms",
		PollInterval:   "20ms",
		MaxPacketBytes: 260,
	}
}

// LoadNode reads a node config file over the defaults and validates it.
func LoadNode(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()
	if err := decodeFile(path, &cfg); err != nil {
		return NodeConfig{}, err
	}
	if err := ValidateNode(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

// LoadGround reads a ground config file over the defaults and validates it.
func LoadGround(path string) (GroundConfig, error) {
	cfg := DefaultGroundConfig()
	if err := decodeFile(path, &cfg); err != nil {
		return GroundConfig{}, err
	}
	if err := ValidateGround(cfg); err != nil {
		return GroundConfig{}, err
	}
	return cfg, nil
}

// decodeFile overlays the file onto out. YAML is chosen by extension, TOML
// otherwise. Unknown keys are rejected in both formats.
func decodeFile(path string, out any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("config load failed (%s): %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		return nil
	default:
		meta, err := toml.DecodeFile(path, out)
		if err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return fmt.Errorf("%w in %s: %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
		}
		return nil
	}
}

func ValidateNode(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("node config missing id")
	}
	if err := validateRadio(cfg.Radio); err != nil {
		return err
	}
	if _, err := NodeService(cfg); err != nil {
		return err
	}
	return nil
}

func ValidateGround(cfg GroundConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("ground config missing id")
	}
	if err := validateRadio(cfg.Radio); err != nil {
		return err
	}
	if _, err := GroundService(cfg); err != nil {
		return err
	}
	return nil
}

func validateRadio(r RadioConfig) error {
	if strings.TrimSpace(r.Listen) == "" {
		return fmt.Errorf("radio.listen is required")
	}
	if strings.TrimSpace(r.Peer) == "" {
		return fmt.Errorf("radio.peer is required")
	}
	return nil
}
