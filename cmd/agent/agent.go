package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Chichichkin/ddlogs/internal/config"
	"github.com/Chichichkin/ddlogs/internal/daemon"
	"github.com/Chichichkin/ddlogs/internal/logging/datadog"
	"github.com/Chichichkin/ddlogs/internal/logging/loki"
	"github.com/Chichichkin/ddlogs/pkg/ddlog"
)

const shutdownGrace = 10 * time.Second

// shipper is what every backend provides: both delivery capabilities.
type shipper interface {
	ddlog.Sender
	ddlog.AsyncSender
}

func run(ctx context.Context, cfg config.AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	zlog, closeLog, err := newAgentLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	instanceID := uuid.NewString()
	zlog = zlog.With().Str("instance", instanceID).Logger()

	sender, closeSender, err := newSender(cfg)
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to create sender")
		return err
	}
	defer closeSender()

	// cancelled only after shutdownGrace, so records queued at shutdown can still ship
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	var g errgroup.Group

	logger, err := newLogger(dispatchCtx, &g, sender, cfg, "instance:"+instanceID)
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to create logger")
		return err
	}

	if ch, ok := logger.SelfLog(); ok {
		drainDone := make(chan struct{})
		defer func() {
			cancelDispatch()
			<-drainDone
		}()
		go func() {
			defer close(drainDone)
			drainSelfLog(dispatchCtx, ch, zlog)
		}()
	}

	svc, err := daemon.NewLogDaemonService(ctx, cfg.DaemonConfig(), logger, zlog)
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to create log daemon")
		_ = logger.Close()
		_ = g.Wait()
		return err
	}

	zlog.Info().
		Str("backend", cfg.Backend).
		Str("mode", cfg.Mode).
		Str("log_path", cfg.LogRootPath).
		Msg("Agent started")
	svc.Start()

	<-ctx.Done()
	zlog.Info().Msg("Received shutdown signal")

	svc.Stop()

	timer := time.AfterFunc(shutdownGrace, cancelDispatch)
	defer timer.Stop()

	_ = logger.Close()
	err = g.Wait()
	cancelDispatch()

	stats := logger.Stats()
	zlog.Info().
		Int64("enqueued", stats.Enqueued).
		Int64("dropped", stats.Dropped).
		Int64("delivered", stats.Delivered).
		Int64("failed_records", stats.FailedRecords).
		Msg("Agent stopped")

	if errors.Is(err, context.Canceled) {
		zlog.Warn().Msg("Dispatcher did not drain before the shutdown grace period")
		return nil
	}
	return err
}

func newLogger(ctx context.Context, g *errgroup.Group, sender shipper, cfg config.AppConfig, tags ...string) (*ddlog.Logger, error) {
	lc := cfg.LoggerConfig(tags...)
	if cfg.Mode == config.ModeNonBlocking {
		return ddlog.NewNonBlockingWithRuntime(ctx, g, sender, lc)
	}
	return ddlog.NewBlocking(sender, lc)
}

func newSender(cfg config.AppConfig) (shipper, func(), error) {
	switch cfg.Backend {
	case config.BackendDatadogHTTP:
		s, err := datadog.NewHTTPSender(cfg.IntakeEndpoint(), cfg.APIKey,
			datadog.WithMaxRetries(cfg.MaxRetries),
			datadog.WithGzip(cfg.Compress),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.BackendDatadogTCP:
		s, err := datadog.NewTCPSender(cfg.IntakeEndpoint(), cfg.APIKey)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendLoki:
		return loki.NewLokiSender(cfg.IntakeEndpoint(), cfg.MaxRetries), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func drainSelfLog(ctx context.Context, ch <-chan string, zlog zerolog.Logger) {
	for {
		select {
		case msg := <-ch:
			zlog.Warn().Str("component", "dispatcher").Msg(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-ch:
					zlog.Warn().Str("component", "dispatcher").Msg(msg)
				default:
					return
				}
			}
		}
	}
}

func newAgentLogger(cfg config.AppConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("setting logging level: %w", err)
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}}
	closeFn := func() {}
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
		}
		writers = append(writers, file)
		closeFn = func() { _ = file.Close() }
	}

	logger := zerolog.New(io.MultiWriter(writers...)).Level(level).With().Timestamp().Logger()
	return logger, closeFn, nil
}
