// Command putget runs the put/get scenario against a grid cluster: it creates
// test_cache with integer keys and string values, puts three entries in parallel,
// reads them back in order and destroys the cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"gridclient/binarytype"
	"gridclient/client"
	"gridclient/config"
	"gridclient/transport"
)

const cacheName = "test_cache"

func main() {
	flags := pflag.NewFlagSet("putget", pflag.ExitOnError)
	configFile := flags.String("config", "", "configuration file (yaml, json or toml)")
	loop := flags.Bool("loop", false, "repeat the scenario until interrupted")
	pause := flags.Duration("pause", 2*time.Second, "pause between runs with --loop")
	flags.String("cluster", "default", "cluster name nodes are registered under")
	flags.StringSlice("client.endpoints", []string{"127.0.0.1:10800"}, "node addresses")
	flags.String("client.username", "", "user name sent in the handshake")
	flags.String("client.password", "", "password sent in the handshake")
	flags.String("registry.kind", "static", "node discovery: static or etcd")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := cfg.Registry(logger)
	if err != nil {
		logger.Fatal("registry", zap.Error(err))
	}
	if closer, ok := reg.(io.Closer); ok {
		defer closer.Close()
	}
	c, err := client.Connect(ctx, cfg.ClientConfig(),
		client.WithLogger(logger),
		client.WithRegistry(reg),
		client.WithBalancer(cfg.Balancer()),
		client.WithDisconnectHandler(func(err error) {
			logger.Warn("disconnected, will reconnect on next request", zap.Error(err))
		}),
	)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer c.Close()

	for {
		if err := run(ctx, c, logger); err != nil {
			if ctx.Err() != nil {
				return
			}
			// A lost connection is retried on the next run; anything else is fatal.
			if !*loop || !errors.Is(err, transport.ErrConnectionLost) {
				logger.Fatal("scenario failed", zap.Error(err))
			}
			logger.Warn("scenario interrupted", zap.Error(err))
		}
		if !*loop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*pause):
		}
	}
}

func run(ctx context.Context, c *client.Client, logger *zap.Logger) error {
	cache, err := c.GetOrCreateCache(ctx, cacheName)
	if err != nil {
		return fmt.Errorf("get or create %s: %w", cacheName, err)
	}
	cache = cache.SetKeyType(binarytype.Integer).SetValueType(binarytype.String)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for key := int32(0); key < 3; key++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[key] = cache.Put(ctx, key, fmt.Sprintf("value%d", key))
		}()
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	logger.Info("data put", zap.Int("entries", 3))

	for key := int32(0); key < 3; key++ {
		v, err := cache.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get %d: %w", key, err)
		}
		if want := fmt.Sprintf("value%d", key); v != want {
			return fmt.Errorf("get %d: got %v, want %s", key, v, want)
		}
		fmt.Printf("  %d -> %v\n", key, v)
	}

	if err := c.DestroyCache(ctx, cacheName); err != nil {
		return fmt.Errorf("destroy %s: %w", cacheName, err)
	}
	logger.Info("cache destroyed", zap.String("cache", cacheName))
	return nil
}
