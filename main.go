package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/darenliang/gridstats-go/lib"
	"github.com/darenliang/gridstats-go/lib/config"
	"github.com/darenliang/gridstats-go/lib/logging"
	"github.com/darenliang/gridstats-go/lib/metrics"
	"github.com/darenliang/gridstats-go/lib/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	address        = kingpin.Arg("address", "Address for calculation nodes to connect to.").Required().String()
	configPath     = kingpin.Flag("config", "YAML file tuning persistence and node statistics.").Default("").String()
	backend        = kingpin.Flag("persistence", "Override the cost persistence backend (memory, sqlite, redis).").Default("").Enum("", config.BackendMemory, config.BackendSQLite, config.BackendRedis)
	metricsAddress = kingpin.Flag("metrics-address", "Serve Prometheus metrics on this address.").Default(":9464").String()
	debug          = kingpin.Flag("debug", "Print debug logs.").Default("false").Bool()
	version        = kingpin.CommandLine.Version(lib.Version)
)

func main() {
	kingpin.Parse()

	// init logger
	if *debug {
		logging.InitLogger(zap.DebugLevel)
	} else {
		logging.InitLogger(zap.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Logger.Fatal(err)
	}
	if *backend != "" {
		cfg.Persistence.Backend = *backend
		if err := cfg.Validate(); err != nil {
			logging.Logger.Fatal(err)
		}
	}

	// create context
	ctx, cancel := context.WithCancel(context.Background())

	// handle interrupt signal
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt)
	go func() {
		<-signalCh
		cancel()
	}()

	gateway, closeGateway, err := server.NewGateway(ctx, cfg.Persistence)
	if err != nil {
		logging.Logger.Fatal(err)
	}
	defer func() { logging.CheckError(closeGateway()) }()

	m := metrics.New()
	metricsServer := &http.Server{
		Addr:              *metricsAddress,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Error(err)
		}
	}()
	defer func() { logging.CheckError(metricsServer.Close()) }()

	s, err := server.NewServer(ctx, *address, cfg, gateway, m)
	if err != nil {
		logging.Logger.Fatal(err)
	}
	s.Run()
}
