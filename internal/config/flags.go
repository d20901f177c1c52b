package config

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

const (
	FlagConfig     = "config"
	FlagTransport  = "transport"
	FlagBridge     = "bridge"
	FlagStatusAddr = "status-addr"
	FlagDebug      = "debug"
)

// CommonFlags are shared by every command that opens a device.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagConfig,
			Aliases: []string{"c"},
			Value:   DefaultConfigPath,
			Usage:   "load configuration from `FILE`",
		},
		&cli.StringFlag{
			Name:  FlagTransport,
			Usage: "device transport: sim, ws or zmq",
		},
		&cli.StringFlag{
			Name:  FlagBridge,
			Usage: "device bridge websocket address (`HOST:PORT`)",
		},
		&cli.StringFlag{
			Name:  FlagStatusAddr,
			Usage: "serve the status API on `ADDR`",
		},
		&cli.BoolFlag{
			Name:  FlagDebug,
			Usage: "enable debug logging",
		},
	}
}

// FromCLI loads the config file named by the flags and applies flag overrides.
func FromCLI(c *cli.Context) (*Config, error) {
	cfg, err := LoadConfigFile(c.String(FlagConfig))
	if err != nil {
		return nil, err
	}

	if c.IsSet(FlagTransport) {
		cfg.Transport = TransportType(c.String(FlagTransport))
	}
	if c.IsSet(FlagBridge) {
		cfg.Bridge.Address = c.String(FlagBridge)
	}
	if c.IsSet(FlagStatusAddr) {
		cfg.StatusAddr = c.String(FlagStatusAddr)
	}
	if c.IsSet(FlagDebug) {
		cfg.Debug = c.Bool(FlagDebug)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown transports and target rates outside [MinFPS, MaxFPS].
func (c *Config) Validate() error {
	if c.TargetFPS < MinFPS || c.TargetFPS > MaxFPS {
		return errors.Errorf("target fps %d outside [%d,%d]", c.TargetFPS, MinFPS, MaxFPS)
	}
	for _, t := range TransportsList {
		if string(c.Transport) == t {
			return nil
		}
	}
	return errors.Errorf("unknown transport %q", c.Transport)
}
