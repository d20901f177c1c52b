// Command simbridge serves the simulated device over the bridge protocol so the
// viewers can be run against ws or zmq transports without hardware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"depthview/internal/logging"
	"depthview/processing/bridge"
	"depthview/processing/device"
)

func main() {
	app := &cli.App{
		Name:  "simbridge",
		Usage: "device bridge backed by a simulated OAK-D",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":8080", Usage: "websocket listen `ADDR`"},
			&cli.StringFlag{Name: "zmq-control", Value: "tcp://*:31000", Usage: "ZMQ control endpoint, empty to disable"},
			&cli.StringFlag{Name: "zmq-data", Value: "tcp://*:31001", Usage: "ZMQ data endpoint"},
			&cli.Float64Flag{Name: "fps", Value: 30, Usage: "simulated frame rate"},
			&cli.IntFlag{Name: "objects", Value: 3, Usage: "number of simulated objects"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "scene random seed"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := logging.Must(c.Bool("debug"))
	defer log.Sync()

	src := device.NewSimSource(device.SimConfig{
		FPS:     c.Float64("fps"),
		Objects: c.Int("objects"),
		Seed:    c.Int64("seed"),
	})
	srv := bridge.NewServer(src, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(gctx, c.String("listen"))
	})

	if control := c.String("zmq-control"); control != "" {
		z, err := srv.ListenZMQ(control, c.String("zmq-data"))
		if err != nil {
			stop()
			return multierr.Append(err, g.Wait())
		}
		g.Go(func() error {
			defer z.Close()
			return z.Serve(gctx)
		})
	}

	return g.Wait()
}
