// Command depthcv runs the standalone detection pipeline with OpenCV windows
// and records the annotated preview.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"depthview/internal/config"
	"depthview/internal/logging"
	"depthview/internal/models"
	"depthview/internal/status"
	"depthview/processing/detector"
	"depthview/processing/device"
	"depthview/processing/overlay/cvdraw"
	"depthview/processing/pipeline"
)

const (
	flagOutput   = "output"
	flagNoWindow = "no-window"
)

func main() {
	app := &cli.App{
		Name:  "depthcv",
		Usage: "standalone spatial detection with disparity view and recording",
		Flags: append(config.CommonFlags(),
			&cli.StringFlag{
				Name:    flagOutput,
				Aliases: []string{"o"},
				Usage:   "record the annotated preview to `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagNoWindow,
				Usage: "record without opening windows",
			},
		),
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
	if c.IsSet(flagOutput) {
		cfg.Record.Path = c.String(flagOutput)
	}

	log := logging.Must(cfg.Debug)
	defer log.Sync()

	src, err := device.NewSource(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess, err := detector.StartSession(ctx, cfg, src, pipeline.ModelStandalone, detector.Sequential, log, detector.WithoutOverlay())
	if err != nil {
		return err
	}
	tracker := &status.Tracker{}
	tracker.Set(sess)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.StatusAddr != "" {
		g.Go(func() error {
			return status.Serve(gctx, cfg.StatusAddr, tracker, log)
		})
	}

	// HighGUI wants the calling thread, so the display loop stays here.
	err = display(gctx, cfg, sess, !c.Bool(flagNoWindow), log)
	cancel()
	return multierr.Combine(err, sess.Close(), g.Wait())
}

func display(ctx context.Context, cfg *config.Config, sess *detector.Session, windows bool, log *zap.SugaredLogger) (err error) {
	rec := cvdraw.NewRecorder(cfg.Record.Path, cfg.Record.Codec, cfg.Record.FPS, log)
	defer func() {
		err = multierr.Append(err, rec.Close())
	}()

	var preview, disparity *gocv.Window
	if windows {
		preview = gocv.NewWindow("Preview")
		defer preview.Close()
		disparity = gocv.NewWindow("Disparity")
		defer disparity.Close()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-sess.Processor.OutImageStream:
			if !ok {
				<-sess.Done()
				return sess.Err()
			}
			quit, showErr := show(res, models.OverlayColor(cfg.GetOverlayColor()), rec, preview, disparity)
			if showErr != nil || quit {
				return showErr
			}
		}
	}
}

// show draws, records and displays one result. It reports whether q was pressed.
func show(res detector.Result, color models.OverlayColor, rec *cvdraw.Recorder, preview, disparity *gocv.Window) (bool, error) {
	frame, err := cvdraw.FrameMat(res.Frame)
	if err != nil {
		return false, err
	}
	defer frame.Close()

	cvdraw.Draw(&frame, res.Annotations, color.RGBA())
	if err := rec.Write(frame); err != nil {
		return false, err
	}
	if preview == nil {
		return false, nil
	}

	preview.IMShow(frame)
	if res.DepthGray != nil {
		depth, err := cvdraw.GrayMat(res.DepthGray, res.Frame.Bounds().Size())
		if err != nil {
			return false, err
		}
		disparity.IMShow(depth)
		depth.Close()
	}
	return preview.WaitKey(1) == 'q', nil
}
