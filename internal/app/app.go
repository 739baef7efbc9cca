package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"edgevision/internal/audit"
	"edgevision/internal/channel"
	"edgevision/internal/config"
	"edgevision/internal/evidence"
	"edgevision/internal/logger"
	"edgevision/internal/model"
	"edgevision/internal/recorder"
	"edgevision/internal/repository/sqlite"
	"edgevision/internal/retention"
	"edgevision/internal/routes"
	"edgevision/internal/service/ai"
	"edgevision/internal/service/websocket"
	"edgevision/internal/vault"
	"edgevision/internal/video"
)

const (
	appName         = "edgevision"
	auditFile       = "audit.log"
	shutdownTimeout = 10 * time.Second
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	audit      *audit.Trail
	db         *sqlite.DB
	recordings *sqlite.RecordingRepository
	detector   *ai.DetectorPool
	hubService *websocket.HubService
	system     *channel.System
	retention  *retention.Manager
	server     *http.Server
	sealMode   string
}

// NewApp loads the configuration and wires every service. Nothing runs
// until Run is called.
func NewApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(cfg, logger.NewLogger(cfg))
}

// New wires the services for cfg.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{config: cfg, logger: log}

	trail, err := audit.Open(filepath.Join(cfg.LogDirectory, auditFile), appName)
	if err != nil {
		return nil, err
	}
	a.audit = trail

	if err := a.prepareDirectories(); err != nil {
		a.Close()
		return nil, err
	}

	a.db, err = sqlite.New(cfg.DatabasePath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.recordings = sqlite.NewRecordingRepository(a.db)

	sealer, mode, err := selectSealer(cfg, log, trail)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sealMode = mode

	a.detector, err = ai.NewDetectorPool(cfg, len(cfg.CameraSources), log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load detector: %w", err)
	}

	a.hubService = websocket.NewHubService(video.JPEGCodec{}, log)

	channels := make([]*channel.Channel, 0, len(cfg.CameraSources))
	for i, source := range cfg.CameraSources {
		channels = append(channels, a.newChannel(i, source, sealer))
	}
	a.system = channel.NewSystem(channels, log)

	if maxBytes := cfg.MaxStorageBytes(); maxBytes > 0 {
		a.retention = &retention.Manager{
			PublicDir:     cfg.PublicRecordingsPath,
			EvidenceDir:   cfg.EvidenceRecordingsPath,
			MaxBytes:      maxBytes,
			EvictEvidence: cfg.RetentionEvictEvidence,
			Protected:     a.system.OpenFiles,
			OnRemoved:     a.forgetRecording,
			Logger:        log,
		}
	}

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: routes.SetupRoutes(cfg, log, a.system, a.hubService, a.recordings),
	}
	return a, nil
}

func (a *App) prepareDirectories() error {
	dirs := []struct {
		path string
		perm os.FileMode
	}{
		{a.config.PublicRecordingsPath, 0755},
		{a.config.EvidenceRecordingsPath, 0700},
		{filepath.Dir(a.config.DatabasePath), 0755},
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d.path, d.perm); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d.path, err)
		}
	}
	return nil
}

// newChannel builds the recorder, evidence buffer and orchestrator of
// camera i.
func (a *App) newChannel(i int, source string, sealer vault.Sealer) *channel.Channel {
	cfg := a.config
	name := fmt.Sprintf("cam%d", i)
	log := a.logger.With("camera", name)

	rec := recorder.New(recorder.Config{
		Dir:         cfg.PublicRecordingsPath,
		Prefix:      name,
		FPS:         float64(cfg.TargetFPS),
		MaxDuration: cfg.RecordingDuration(),
		Width:       cfg.FrameWidth,
		Height:      cfg.FrameHeight,
	}, video.WriterFactory{}, log)
	rec.OnFinalized = a.indexPublic

	buf := evidence.NewBuffer(evidence.Config{
		Dir:           cfg.EvidenceRecordingsPath,
		Camera:        name,
		Window:        cfg.RecordingDuration(),
		DetectionOnly: cfg.EvidenceDetectionOnly,
		PrerollFrames: cfg.PrerollFrames,
		JPEGQuality:   cfg.EvidenceJPEGQuality,
	}, video.JPEGCodec{}, sealer, log)
	buf.OnSealed = a.indexEvidence
	buf.OnSealFailed = func(path string, err error) {
		a.audit.Error(audit.EventSealFailed, err.Error(), map[string]string{
			"camera": name,
			"file":   filepath.Base(path),
		})
	}

	ch := channel.New(channel.Config{
		ID:        i,
		Name:      name,
		Source:    source,
		TargetFPS: cfg.TargetFPS,
	}, channel.Deps{
		Opener:     video.CaptureOpener{},
		Detector:   a.detector,
		Anonymizer: video.NewAnonymizer(cfg.FrameWidth, cfg.FrameHeight, cfg.BlurKernel),
		Recorder:   rec,
		Evidence:   buf,
	}, a.logger, a.audit)
	ch.OnFrame = func(_ int, frame model.Frame, detections int) {
		a.hubService.PublishFrame(name, frame, detections, ch.Snapshot().FPS)
	}
	return ch
}

// Run starts every service and blocks until ctx is cancelled or the HTTP
// server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.hubService.Run(ctx)
	a.system.Start(ctx)
	if a.retention != nil {
		if _, err := a.retention.Enforce(); err != nil {
			a.logger.Error("Initial retention pass failed: %v", err)
		}
		go a.retention.Run(ctx, a.config.RetentionInterval())
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	a.audit.Info(audit.EventSystemStart, "system started", map[string]string{
		"cameras":    fmt.Sprintf("%d", len(a.config.CameraSources)),
		"encryption": a.sealMode,
	})
	a.logger.Info("🚀 edgevision on http://localhost:%d", a.config.Port)
	a.logger.Info("📁 Public: %s", a.config.PublicRecordingsPath)
	a.logger.Info("🔒 Evidence: %s (%s)", a.config.EvidenceRecordingsPath, a.sealMode)
	a.logger.Info("🤖 AI Model: %s", a.config.ModelPath)
	if a.config.APIToken == "" {
		a.logger.Warning("⚠️  API_TOKEN is not set, every API route will answer 401")
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		a.logger.Error("HTTP server failed: %v", runErr)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warning("HTTP shutdown: %v", err)
	}

	cancel()
	a.system.Stop()

	a.audit.Info(audit.EventSystemStop, "system stopped", nil)
	a.logger.Info("🛑 System stopped")
	return runErr
}

// Close releases the detector, database and log files.
func (a *App) Close() {
	if a.detector != nil {
		a.detector.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.audit != nil {
		a.audit.Close()
	}
	if a.logger != nil {
		a.logger.Close()
	}
}
