package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"depthview/internal/config"
	"depthview/internal/logging"
	"depthview/internal/status"
	"depthview/internal/ui"
	"depthview/processing/device"
)

func main() {
	app := &cli.App{
		Name:   "depthview",
		Usage:  "live spatial object detection viewer for OAK-D cameras",
		Flags:  config.CommonFlags(),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromCLI(c)
	if err != nil {
		return err
	}

	log := logging.Must(cfg.Debug)
	defer log.Sync()

	src, err := device.NewSource(cfg, log)
	if err != nil {
		return err
	}

	tracker := &status.Tracker{}
	if cfg.StatusAddr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := status.Serve(ctx, cfg.StatusAddr, tracker, log); err != nil {
				log.Errorw("status api stopped", "error", err)
			}
		}()
	}

	log.Infow("starting viewer", "transport", cfg.Transport, "model", cfg.GetModel())
	ui.CreateApp(cfg, c.String(config.FlagConfig), src, tracker, log).Run()
	return nil
}
