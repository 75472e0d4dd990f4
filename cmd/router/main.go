// Command router serves GET /tables/{table} from the shard the routing
// document currently names.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getpup/shardmover/backend"
	"github.com/getpup/shardmover/config"
	"github.com/getpup/shardmover/internal/log"
	"github.com/getpup/shardmover/metrics"
	"github.com/getpup/shardmover/router"
	"github.com/getpup/shardmover/routing"
	"github.com/getpup/shardmover/routing/memory"
	"github.com/getpup/shardmover/routing/zookeeper"
	"github.com/sirupsen/logrus"
)

var flagConfig = flag.String("config", "", "path to the TOML configuration file")

func main() {
	flag.Parse()

	cfg, err := config.LoadFile(*flagConfig)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	if err := log.Configure([]*logrus.Logger{logrus.StandardLogger()}, cfg.Logging.Format, cfg.Logging.Level); err != nil {
		logrus.WithError(err).Fatal("configure logging")
	}
	if err := cfg.ValidateRouter(); err != nil {
		logrus.WithError(err).Fatal("invalid config")
	}

	var store routing.Store
	if cfg.Coordination.Driver == config.CoordinationMemory {
		store = memory.New()
	} else {
		zkStore, err := zookeeper.Dial(
			cfg.Coordination.ConnectionString,
			cfg.Coordination.SessionTimeout.Duration(),
			logrus.WithField("component", "zookeeper"),
		)
		if err != nil {
			logrus.WithError(err).Fatal("connect to zookeeper")
		}
		defer zkStore.Close()
		store = zkStore
	}

	registry := backend.NewRegistry()
	registry.Register(cfg.Source)
	registry.Register(cfg.Destination)
	defer registry.Close()

	if cfg.PrometheusListenAddr != "" {
		metricsSrv := metrics.NewServer(cfg.PrometheusListenAddr)
		metricsSrv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(ctx)
		}()
	}

	httpSrv := &http.Server{
		Addr: cfg.Router.ListenAddr,
		Handler: router.New(router.Config{
			Store:          store,
			Path:           cfg.Coordination.ConfigPath,
			Registry:       registry,
			Logger:         log.Default("router"),
			MetricsEnabled: true,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.WithField("addr", httpSrv.Addr).Info("router listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("shutdown")
	}
}
