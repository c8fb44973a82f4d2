package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/app"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/config"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/server"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/dataset"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/logger"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/metrics"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/overlay"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/renderevents"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load(".env")

	source := flag.String("dataset", "", "dataset source (file path, http(s) URL or redis://host:port/key)")
	flag.Parse()

	cfg := config.FromEnv()
	if *source != "" {
		cfg.DatasetSource = strings.TrimSpace(*source)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "hexoverlay",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Path: cfg.MetricsPath,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	appLog.Info("starting hexoverlay",
		"addr", cfg.Addr,
		"version", Version,
		"dataset", cfg.DatasetSource,
		"crs", cfg.SourceCRS+"->"+cfg.TargetCRS,
		"buckets", strconv.Itoa(cfg.BucketMin)+".."+strconv.Itoa(cfg.BucketMax))

	var sink overlay.EventSink
	if cfg.Events.Enabled {
		pub, err := renderevents.NewPublisher(cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Error("render events disabled", "err", err)
		} else {
			sink = pub
			defer func() {
				if err := pub.Close(); err != nil {
					appLog.Error("render events close", "err", err)
				}
			}()
		}
	}

	a, err := app.New(cfg, appLog, sink)
	if err != nil {
		appLog.Error("app setup failed", "err", err)
		return 1
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	// the server comes up first and reports not ready until the dataset is in
	loadErr := make(chan error, 1)
	go func() {
		if err := a.Load(ctx, dataset.NewLoader()); err != nil {
			loadErr <- err
			return
		}
		if cfg.PrewarmEnabled {
			if err := a.Prewarm(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Warn("prewarm incomplete", "err", err)
			}
		}
	}()

	deps := server.Deps{
		Buckets:  a,
		Sessions: a,
		Live:     a,
		Ready:    a,
		NotReady: app.ErrNotReady,
	}
	if cfg.MetricsEnabled {
		deps.Metrics, deps.MetricsPath = p.Handler(), p.Path()
	}

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.Run(ctx, cfg, appLog, deps)
	}()

	select {
	case err := <-loadErr:
		appLog.Error("dataset load failed", "source", cfg.DatasetSource, "err", err)
		stop()
		<-srvErr
		return 1
	case err := <-srvErr:
		if err != nil {
			appLog.Error("server exited", "err", err)
			return 1
		}
	}
	appLog.Info("shutdown complete")
	return 0
}
