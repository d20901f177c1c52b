package ui

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"depthview/internal/config"
	"depthview/internal/models"
	"depthview/internal/status"
	"depthview/internal/ui/cwidget"
	"depthview/processing/detector"
	"depthview/processing/device"
	"depthview/processing/pipeline"
)

const (
	windowTitle  = "OAK-D Depth Viewer"
	statInterval = 200 * time.Millisecond
)

type DetectApp struct {
	fyneApp fyne.App
	mainWin fyne.Window

	config     *config.Config
	configPath string
	source     device.Source
	tracker    *status.Tracker
	log        *zap.SugaredLogger

	mu      sync.Mutex
	current *run

	videoCanvas  *canvas.Image
	depthCanvas  *canvas.Image
	latencyLabel *widget.Label
	fpsLabel     *widget.Label
	stateLabel   *widget.Label
}

// run is one Start: it exists from the button press until Stop or the session
// ending, and owns the session once the device is open.
type run struct {
	cancel  context.CancelFunc
	session *detector.Session
}

func CreateApp(cfg *config.Config, configPath string, src device.Source, tracker *status.Tracker, log *zap.SugaredLogger) *DetectApp {
	return newDetectApp(app.New(), cfg, configPath, src, tracker, log)
}

func newDetectApp(fyneApp fyne.App, cfg *config.Config, configPath string, src device.Source, tracker *status.Tracker, log *zap.SugaredLogger) *DetectApp {
	w := fyneApp.NewWindow(windowTitle)

	w.Resize(fyne.NewSize(800, 600))

	return &DetectApp{
		fyneApp:    fyneApp,
		mainWin:    w,
		config:     cfg,
		configPath: configPath,
		source:     src,
		tracker:    tracker,
		log:        log,
	}
}

func (a *DetectApp) Run() {
	a.buildWindow()
	a.mainWin.CenterOnScreen()
	a.mainWin.ShowAndRun()
}

func (a *DetectApp) buildWindow() {
	modelSelect := widget.NewSelect(pipeline.Names(), func(s string) {
		a.config.SetModel(s)
	})
	modelSelect.SetSelected(a.config.GetModel())

	colorSelect := widget.NewSelect(models.OverlayColorsList[:], func(s string) {
		a.config.SetOverlayColor(s)
	})
	colorSelect.SetSelected(a.config.GetOverlayColor())

	confidenceInput := cwidget.NewFloatInput(
		"Confidence",
		"0.0 - 1.0",
		float64(a.config.GetConfidence()),
		0, 1,
		func(v float64) {
			a.config.SetConfidence(float32(v))
		},
	)

	fpsInput := cwidget.NewIntInput(
		"FPS",
		"Enter integer",
		int(a.config.GetFPS()),
		int(config.MinFPS), int(config.MaxFPS),
		func(i int) {
			a.config.SetFPS(uint(i))
		},
	)

	settingsLabel := widget.NewLabelWithStyle("Configuration", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})

	a.videoCanvas = canvas.NewImageFromImage(nil)
	a.videoCanvas.FillMode = canvas.ImageFillContain
	a.videoCanvas.SetMinSize(fyne.NewSize(320, 320))

	a.depthCanvas = canvas.NewImageFromImage(nil)
	a.depthCanvas.FillMode = canvas.ImageFillContain
	a.depthCanvas.SetMinSize(fyne.NewSize(320, 320))

	a.latencyLabel = widget.NewLabel(a.formatLatency(0))
	a.fpsLabel = widget.NewLabel(a.formatFPS(0))
	a.stateLabel = widget.NewLabel("Stopped")

	videoContainer := container.NewBorder(
		container.NewHBox(a.fpsLabel, widget.NewSeparator(), a.latencyLabel, widget.NewSeparator(), a.stateLabel),
		nil, nil, nil,
		container.NewGridWithColumns(2, a.videoCanvas, a.depthCanvas),
	)

	sidebar := container.NewVBox(
		settingsLabel,
		widget.NewSeparator(),
		widget.NewLabel("Model:"),
		modelSelect,
		widget.NewLabel("Overlay color:"),
		colorSelect,
		confidenceInput,
		fpsInput,
		widget.NewSeparator(),
		widget.NewButtonWithIcon("Start", theme.MediaPlayIcon(), a.StartProcessing),
		widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), a.StopProcessing),
	)

	split := container.NewHSplit(
		container.NewPadded(sidebar),
		container.NewPadded(videoContainer),
	)
	split.SetOffset(0.25)

	a.mainWin.SetContent(split)

	a.mainWin.SetCloseIntercept(func() {
		a.StopProcessing()
		if err := a.config.Save(a.configPath); err != nil {
			a.log.Errorw("save config", "error", err)
		}
		a.mainWin.Close()
	})
}

// StartProcessing opens the selected model. It does nothing while a session
// is running or starting.
func (a *DetectApp) StartProcessing() {
	a.mu.Lock()
	if a.current != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel}
	a.current = r
	a.mu.Unlock()

	model := a.config.GetModel()
	a.stateLabel.SetText("Starting " + model + "...")

	go a.start(ctx, r, model)
}

func (a *DetectApp) start(ctx context.Context, r *run, model string) {
	s, err := detector.StartSession(ctx, a.config, a.source, model, detector.PollAll, a.log)

	a.mu.Lock()
	current := a.current == r
	switch {
	case current && err == nil:
		r.session = s
		a.tracker.Set(s)
	case current:
		a.current = nil
	}
	a.mu.Unlock()

	if !current {
		// Stopped while the device was opening.
		if err == nil {
			if err := s.Close(); err != nil {
				a.log.Warnw("close session", "error", err)
			}
		}
		return
	}

	if err != nil {
		r.cancel()
		a.log.Errorw("start session", "model", model, "error", err)
		a.tracker.Clear(err)
		fyne.Do(func() {
			a.stateLabel.SetText("Stopped")
			dialog.ShowError(err, a.mainWin)
		})
		return
	}

	fyne.Do(func() {
		if a.isCurrent(r) {
			a.stateLabel.SetText("Running " + model)
		}
	})
	go a.runPlayerLoop(s)
	go a.runStatLoop(s)
	go a.watchSession(r, s)
}

func (a *DetectApp) isCurrent(r *run) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current == r
}

// StopProcessing stops the running session, or abandons one still starting.
func (a *DetectApp) StopProcessing() {
	a.mu.Lock()
	r := a.current
	a.current = nil
	var s *detector.Session
	if r != nil {
		s = r.session
	}
	a.mu.Unlock()

	if r == nil {
		return
	}
	r.cancel()
	a.stateLabel.SetText("Stopped")
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		a.log.Warnw("close session", "error", err)
	}
	a.tracker.Clear(nil)
}

// watchSession reports sessions that end on their own.
func (a *DetectApp) watchSession(r *run, s *detector.Session) {
	<-s.Done()

	a.mu.Lock()
	current := a.current == r
	if current {
		a.current = nil
	}
	a.mu.Unlock()

	if !current {
		// StopProcessing already closed it.
		return
	}

	err := s.Err()
	a.tracker.Clear(err)
	r.cancel()
	_ = s.Close()

	fyne.Do(func() {
		a.stateLabel.SetText("Stopped")
		if err != nil {
			dialog.ShowError(err, a.mainWin)
		}
	})
}

func (a *DetectApp) runStatLoop(s *detector.Session) {
	uiTicker := time.NewTicker(statInterval)
	defer uiTicker.Stop()

	for {
		select {
		case <-uiTicker.C:
			stats := s.Processor.Stats()
			fyne.Do(func() {
				a.latencyLabel.SetText(a.formatLatency(stats.Latency))
				a.fpsLabel.SetText(a.formatFPS(stats.FPS))
			})
		case <-s.Done():
			return
		}
	}
}

func (a *DetectApp) formatFPS(v uint) string {
	return fmt.Sprintf("FPS: %d", v)
}

func (a *DetectApp) formatLatency(v time.Duration) string {
	return fmt.Sprintf("Latency: %d ms", v.Milliseconds())
}

func (a *DetectApp) runPlayerLoop(s *detector.Session) {
	displayFPS := time.Duration(config.ClampFPS(a.config.GetFPS()))
	displayTicker := time.NewTicker(time.Second / displayFPS)
	defer displayTicker.Stop()

	var lastFrame, lastDepth image.Image
	fresh := false

	for {
		select {
		case res, ok := <-s.Processor.OutImageStream:
			if !ok {
				return
			}
			lastFrame, lastDepth = res.Frame, res.Depth
			fresh = true

		case <-displayTicker.C:
			if !fresh {
				continue
			}
			fresh = false
			frame, depth := lastFrame, lastDepth
			fyne.Do(func() {
				a.videoCanvas.Image = frame
				a.videoCanvas.Refresh()
				if depth != nil {
					a.depthCanvas.Image = depth
					a.depthCanvas.Refresh()
				}
			})
		}
	}
}
