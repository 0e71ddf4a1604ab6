// Command gridnode runs an in-memory grid node. With --registry.kind=etcd it
// registers itself so clients can discover it.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"gridclient/config"
	"gridclient/middleware"
	"gridclient/registry"
	"gridclient/server"
)

func main() {
	flags := pflag.NewFlagSet("gridnode", pflag.ExitOnError)
	configFile := flags.String("config", "", "configuration file (yaml, json or toml)")
	shutdownTimeout := flags.Duration("shutdown-timeout", 5*time.Second, "time allowed for in-flight requests on shutdown")
	flags.String("cluster", "default", "cluster name to register under")
	flags.String("node.listen", ":10800", "listen address")
	flags.String("node.advertise", "", "address published to the registry")
	flags.String("node.username", "", "require this user name in handshakes")
	flags.String("node.password", "", "require this password in handshakes")
	flags.String("registry.kind", "static", "static (no registration) or etcd")
	flags.StringSlice("registry.endpoints", []string{"127.0.0.1:2379"}, "etcd endpoints")
	flags.String("log.level", "info", "log level")
	flags.Parse(os.Args[1:])

	loader, err := config.Load(*configFile, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg := loader.Config()
	logger, level, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()
	loader.FollowLevel(level, logger)
	loader.Watch(logger)

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxFrameSize(cfg.Node.MaxFrameSize),
	}
	if cfg.Node.Username != "" {
		opts = append(opts, server.WithCredentials(cfg.Node.Username, cfg.Node.Password))
	}
	if cfg.Registry.Kind == "etcd" {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
		if err != nil {
			logger.Fatal("etcd registry", zap.Error(err))
		}
		defer reg.Close()
		opts = append(opts, server.WithRegistry(reg, cfg.Cluster, cfg.Node.Advertise, cfg.Node.LeaseTTL))
	}

	svr := server.NewServer(opts...)
	svr.Use(middleware.LoggingMiddleware(logger))

	errCh := make(chan error, 1)
	go func() { errCh <- svr.ListenAndServe("tcp", cfg.Node.Listen) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("serve", zap.Error(err))
		}
	case s := <-sig:
		logger.Info("shutting down", zap.Stringer("signal", s))
		if err := svr.Shutdown(*shutdownTimeout); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}
	logger.Info("node stopped")
}
