// Package client is the thin client API of the grid.
//
// A Client holds one multiplexed connection to a node chosen through a registry and a
// balancer, and reconnects lazily on the next request after the connection breaks or
// the node leaves the registry.
// Cache operations go through a middleware chain before reaching the connection:
//
//	Cache.Put → encode payload (type checks first) → Logging → Retry → Timeout
//	  → RateLimit → user middleware → ClientTransport.Send → decode result
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridclient/cacheconfig"
	"gridclient/codec"
	"gridclient/loadbalance"
	"gridclient/message"
	"gridclient/middleware"
	"gridclient/protocol"
	"gridclient/registry"
	"gridclient/transport"
)

var (
	ErrNoEndpoints  = errors.New("client: no endpoints to connect to")
	ErrClientClosed = errors.New("client: closed")
)

// Config holds connection settings. Zero durations and rates disable the matching
// middleware.
type Config struct {
	// Cluster is the registry name nodes are discovered under.
	Cluster string
	// Endpoints seed a static registry when no registry option is given.
	Endpoints []string
	Username  string
	Password  string

	DialTimeout    time.Duration
	RequestTimeout time.Duration
	MaxFrameSize   int

	Retries      int
	RetryBackoff time.Duration

	RateLimit float64
	RateBurst int
}

type options struct {
	logger       *zap.Logger
	registry     registry.Registry
	balancer     loadbalance.Balancer
	middlewares  []middleware.Middleware
	onDisconnect func(error)
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry discovers nodes through reg instead of Config.Endpoints.
func WithRegistry(reg registry.Registry) Option {
	return func(o *options) { o.registry = reg }
}

func WithBalancer(b loadbalance.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithMiddleware appends middleware that runs closest to the connection.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

// WithDisconnectHandler registers fn to be called when the connection breaks. The
// client reconnects on the next request regardless.
func WithDisconnectHandler(fn func(error)) Option {
	return func(o *options) { o.onDisconnect = fn }
}

// Client is a connection to a grid cluster. It is safe for concurrent use.
type Client struct {
	cfg     Config
	opts    options
	handler middleware.HandlerFunc

	stopWatch context.CancelFunc

	mu     sync.Mutex
	conn   *transport.ClientTransport
	addr   string // registry address of conn
	closed bool
}

// detachGrace is how long a connection to a node that left the registry may finish
// in-flight requests when no request timeout is configured.
const detachGrace = 30 * time.Second

// Connect discovers nodes and connects to the first one, in balancer order, that
// accepts the handshake.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.registry == nil {
		o.registry = registry.NewStaticRegistryFromAddrs(cfg.Cluster, cfg.Endpoints)
	}
	if o.balancer == nil {
		o.balancer = &loadbalance.RoundRobinBalancer{}
	}

	c := &Client{cfg: cfg, opts: o}

	chain := []middleware.Middleware{middleware.LoggingMiddleware(o.logger)}
	if cfg.Retries > 0 {
		chain = append(chain, middleware.RetryMiddleware(cfg.Retries, cfg.RetryBackoff, o.logger))
	}
	if cfg.RequestTimeout > 0 {
		chain = append(chain, middleware.TimeOutMiddleware(cfg.RequestTimeout))
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		chain = append(chain, middleware.RateLimitMiddleware(cfg.RateLimit, burst))
	}
	chain = append(chain, o.middlewares...)
	c.handler = middleware.Chain(chain...)(c.send)

	if _, err := c.transport(ctx); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.stopWatch = cancel
	go c.watchNodes(o.registry.Watch(watchCtx, cfg.Cluster))
	return c, nil
}

// watchNodes detaches from the current node once it is no longer registered, so the
// next request dials one that is.
func (c *Client) watchNodes(updates <-chan []registry.NodeInstance) {
	for instances := range updates {
		c.detachUnless(instances)
	}
}

func (c *Client) detachUnless(instances []registry.NodeInstance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return
	}
	for _, inst := range instances {
		if inst.Addr == c.addr {
			return
		}
	}
	c.opts.logger.Info("node left the registry, detaching", zap.String("addr", c.addr))

	old := c.conn
	c.conn, c.addr = nil, ""
	grace := c.cfg.RequestTimeout
	if grace <= 0 {
		grace = detachGrace
	}
	go func() {
		select {
		case <-old.Done():
		case <-time.After(grace):
		}
		old.Close()
	}()
}

// NodeAddr returns the registry address of the node the client is connected to, or
// "" when it has no live connection.
func (c *Client) NodeAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.Closed() {
		return ""
	}
	return c.addr
}

// transport returns the live connection, dialing a new one if the last one broke.
func (c *Client) transport(ctx context.Context) (*transport.ClientTransport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn != nil && !c.conn.Closed() {
		return c.conn, nil
	}

	instances, err := c.opts.registry.Discover(ctx, c.cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("client: discover nodes: %w", err)
	}
	ordered, err := c.opts.balancer.Order(instances)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoEndpoints, err)
	}

	var errs []error
	for _, inst := range ordered {
		t, err := transport.Dial(ctx, inst.Addr, transport.Options{
			Username:     c.cfg.Username,
			Password:     c.cfg.Password,
			DialTimeout:  c.cfg.DialTimeout,
			MaxFrameSize: c.cfg.MaxFrameSize,
			Logger:       c.opts.logger,
			OnDisconnect: c.opts.onDisconnect,
		})
		if err != nil {
			c.opts.logger.Info("node unavailable", zap.String("addr", inst.Addr), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", inst.Addr, err))
			continue
		}
		c.opts.logger.Info("connected", zap.String("addr", inst.Addr), zap.String("balancer", c.opts.balancer.Name()))
		c.conn, c.addr = t, inst.Addr
		return t, nil
	}
	return nil, fmt.Errorf("client: connect to cluster %q: %w", c.cfg.Cluster, errors.Join(errs...))
}

// send is the innermost handler of the middleware chain.
func (c *Client) send(ctx context.Context, req *message.Request) (*message.Response, error) {
	t, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := t.Send(ctx, req.Opcode, req.Payload)
	if err != nil {
		return nil, err
	}
	req.RequestID = resp.RequestID
	return resp, nil
}

// do runs one request through the chain and returns the success payload. A
// non-zero status becomes a *message.ServerError.
func (c *Client) do(ctx context.Context, op protocol.Opcode, payload []byte) (*codec.Reader, error) {
	resp, err := c.handler(ctx, &message.Request{Opcode: op, Payload: payload})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(op); err != nil {
		return nil, err
	}
	return codec.NewReader(resp.Payload), nil
}

// Close closes the connection. Later requests fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.stopWatch()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// CacheNames lists the caches on the cluster.
func (c *Client) CacheNames(ctx context.Context) ([]string, error) {
	r, err := c.do(ctx, protocol.OpCacheGetNames, nil)
	if err != nil {
		return nil, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > r.Remaining() {
		return nil, fmt.Errorf("%w: name count %d", codec.ErrInvalidLength, n)
	}
	names := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		name, err := r.ReadStringObject()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// CreateCache creates a cache; it fails if one with that name exists.
func (c *Client) CreateCache(ctx context.Context, name string) (*Cache, error) {
	return c.createByName(ctx, protocol.OpCacheCreateWithName, name)
}

// GetOrCreateCache creates a cache unless it exists.
func (c *Client) GetOrCreateCache(ctx context.Context, name string) (*Cache, error) {
	return c.createByName(ctx, protocol.OpCacheGetOrCreateWithName, name)
}

func (c *Client) createByName(ctx context.Context, op protocol.Opcode, name string) (*Cache, error) {
	if name == "" {
		return nil, errors.New("client: cache name must not be empty")
	}
	w := codec.NewWriter(len(name) + 5)
	w.WriteStringObject(name)
	if _, err := c.do(ctx, op, w.Bytes()); err != nil {
		return nil, err
	}
	return c.Cache(name), nil
}

// CreateCacheWithConfiguration creates a cache named name with cfg; it fails if the
// cache exists. name overrides any name set in cfg.
func (c *Client) CreateCacheWithConfiguration(ctx context.Context, name string, cfg *cacheconfig.Configuration) (*Cache, error) {
	return c.createWithConfig(ctx, protocol.OpCacheCreateWithConfiguration, name, cfg)
}

// GetOrCreateCacheWithConfiguration creates a cache with cfg unless it exists.
func (c *Client) GetOrCreateCacheWithConfiguration(ctx context.Context, name string, cfg *cacheconfig.Configuration) (*Cache, error) {
	return c.createWithConfig(ctx, protocol.OpCacheGetOrCreateWithConfiguration, name, cfg)
}

func (c *Client) createWithConfig(ctx context.Context, op protocol.Opcode, name string, cfg *cacheconfig.Configuration) (*Cache, error) {
	if name == "" {
		return nil, errors.New("client: cache name must not be empty")
	}
	if cfg == nil {
		cfg = cacheconfig.New()
	}
	full := cacheconfig.New().SetName(name).Merge(cfg)
	w := codec.NewWriter(128)
	full.WriteCreate(w)
	if _, err := c.do(ctx, op, w.Bytes()); err != nil {
		return nil, err
	}
	return c.Cache(name), nil
}

// Cache returns a handle to an existing cache without contacting the node.
func (c *Client) Cache(name string) *Cache {
	return newCache(c, name)
}

// DestroyCache removes a cache and its data.
func (c *Client) DestroyCache(ctx context.Context, name string) error {
	w := codec.NewWriter(4)
	w.WriteInt32(protocol.CacheID(name))
	_, err := c.do(ctx, protocol.OpCacheDestroy, w.Bytes())
	return err
}
