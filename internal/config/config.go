package config

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type TransportType string

const (
	TransportSim       TransportType = "sim"
	TransportWebsocket TransportType = "ws"
	TransportZMQ       TransportType = "zmq"

	DefaultConfigPath    string = "config.json"
	DefaultBridgeAddress string = "localhost:8080"
	EnvPrefix            string = "DEPTHVIEW"

	// Target FPS bounds, matching the fastest camera mode.
	MinFPS uint = 1
	MaxFPS uint = 120
)

var TransportsList = [...]string{
	string(TransportSim),
	string(TransportWebsocket),
	string(TransportZMQ),
}

type BridgeConfig struct {
	Address          string        `json:"address" mapstructure:"address"`
	ZMQControl       string        `json:"zmq_control" mapstructure:"zmq_control"`
	ZMQData          string        `json:"zmq_data" mapstructure:"zmq_data"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" mapstructure:"handshake_timeout"`
}

type RecordConfig struct {
	Path  string  `json:"path" mapstructure:"path"`
	FPS   float64 `json:"fps" mapstructure:"fps"`
	Codec string  `json:"codec" mapstructure:"codec"`
}

type Config struct {
	mu sync.RWMutex

	Model        string  `json:"model" mapstructure:"model"`
	OverlayColor string  `json:"overlay_color" mapstructure:"overlay_color"`
	Confidence   float32 `json:"confidence" mapstructure:"confidence"`
	SyncNN       bool    `json:"sync_nn" mapstructure:"sync_nn"`
	TargetFPS    uint    `json:"target_fps" mapstructure:"target_fps"`
	QueueSize    int     `json:"queue_size" mapstructure:"queue_size"`

	Transport TransportType     `json:"transport" mapstructure:"transport"`
	Bridge    BridgeConfig      `json:"bridge" mapstructure:"bridge"`
	Blobs     map[string]string `json:"blobs" mapstructure:"blobs"`
	Record    RecordConfig      `json:"record" mapstructure:"record"`

	StatusAddr string `json:"status_addr" mapstructure:"status_addr"`
	Debug      bool   `json:"debug" mapstructure:"debug"`

	// file holds the values read from disk, before env and flag overrides.
	file *Config
}

func (c *Config) GetModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Model
}

func (c *Config) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Model = model
}

func (c *Config) GetOverlayColor() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.OverlayColor
}

func (c *Config) SetOverlayColor(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OverlayColor = name
}

func (c *Config) GetConfidence() float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Confidence
}

func (c *Config) SetConfidence(conf float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Confidence = conf
}

func (c *Config) GetFPS() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TargetFPS
}

// SetFPS clamps fps to [MinFPS, MaxFPS].
func (c *Config) SetFPS(fps uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TargetFPS = ClampFPS(fps)
}

func ClampFPS(fps uint) uint {
	return max(MinFPS, min(fps, MaxFPS))
}

// BlobFor returns the configured blob override for model, or "".
func (c *Config) BlobFor(model string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Blobs[model]
}

// Save writes the interactive settings (model, color, confidence, FPS) over the
// values LoadConfigFile read from disk. Env and flag overrides are not written.
// A Config that was not loaded is written whole.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	out := c
	if c.file != nil {
		out = c.file
		out.Model = c.Model
		out.OverlayColor = c.OverlayColor
		out.Confidence = c.Confidence
		out.TargetFPS = c.TargetFPS
	}
	data, err := json.MarshalIndent(out, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "encode config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write config %s", path)
	}
	return nil
}

func (c *Config) SaveByDefault() error {
	return c.Save(DefaultConfigPath)
}

// LoadConfigFile reads path over the defaults. A missing file yields the defaults;
// DEPTHVIEW_* environment variables override both (DEPTHVIEW_BRIDGE_ADDRESS, ...).
func LoadConfigFile(path string) (*Config, error) {
	cfg, err := load(path, true)
	if err != nil {
		return nil, err
	}
	if cfg.file, err = load(path, false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, env bool) (*Config, error) {
	cfg := NewDefaultConfig()

	v := viper.New()
	if env {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	setDefaults(v, cfg)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("model", cfg.Model)
	v.SetDefault("overlay_color", cfg.OverlayColor)
	v.SetDefault("confidence", cfg.Confidence)
	v.SetDefault("sync_nn", cfg.SyncNN)
	v.SetDefault("target_fps", cfg.TargetFPS)
	v.SetDefault("queue_size", cfg.QueueSize)
	v.SetDefault("transport", string(cfg.Transport))
	v.SetDefault("bridge.address", cfg.Bridge.Address)
	v.SetDefault("bridge.zmq_control", cfg.Bridge.ZMQControl)
	v.SetDefault("bridge.zmq_data", cfg.Bridge.ZMQData)
	v.SetDefault("bridge.handshake_timeout", cfg.Bridge.HandshakeTimeout)
	v.SetDefault("blobs", cfg.Blobs)
	v.SetDefault("record.path", cfg.Record.Path)
	v.SetDefault("record.fps", cfg.Record.FPS)
	v.SetDefault("record.codec", cfg.Record.Codec)
	v.SetDefault("status_addr", cfg.StatusAddr)
	v.SetDefault("debug", cfg.Debug)
}

func NewDefaultConfig() *Config {
	return &Config{
		Model:        "yolov8",
		OverlayColor: "Green",
		Confidence:   0.5,
		SyncNN:       true,
		TargetFPS:    30,
		QueueSize:    4,
		Transport:    TransportSim,
		Bridge: BridgeConfig{
			Address:          DefaultBridgeAddress,
			ZMQControl:       "tcp://localhost:31000",
			ZMQData:          "tcp://localhost:31001",
			HandshakeTimeout: 30 * time.Second,
		},
		Blobs: map[string]string{},
		Record: RecordConfig{
			Path:  "output.avi",
			FPS:   12,
			Codec: "XVID",
		},
	}
}
