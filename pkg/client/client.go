// Package client is the typed facade over the dispatcher: it owns the
// transport and exposes one method per registered command.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pzhenzhou/respcmd/pkg/command"
	"github.com/pzhenzhou/respcmd/pkg/common"
	"github.com/pzhenzhou/respcmd/pkg/dispatch"
	"github.com/pzhenzhou/respcmd/pkg/metrics"
	"github.com/pzhenzhou/respcmd/pkg/transport"
)

var (
	logger = common.InitLogger().WithName("client")

	ErrClientClosed = errors.New("respcmd: client closed")
)

type Option func(*options)

type options struct {
	registry  *command.Registry
	collector metrics.Collector
	transport dispatch.Transport
}

// WithRegistry restricts the client to the given commands.
func WithRegistry(registry *command.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

func WithCollector(collector metrics.Collector) Option {
	return func(o *options) {
		o.collector = collector
	}
}

// WithTransport skips dialing and sends through t. The client does not close it.
func WithTransport(t dispatch.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// Status is what the admin server reports under /pool_status.
type Status struct {
	Transport string                `json:"transport"`
	Addr      string                `json:"addr"`
	Commands  int                   `json:"commands"`
	Ring      *transport.RingStatus `json:"ring,omitempty"`
}

type Client struct {
	cfg        *common.ClientConfig
	ring       *transport.Ring
	closer     io.Closer
	collector  metrics.Collector
	ownsMetric bool
	dispatcher *dispatch.Dispatcher
	closed     atomic.Bool
}

// New dials the configured transport. With metrics enabled in cfg and no
// WithCollector option, the client builds and owns its collector.
func New(ctx context.Context, cfg *common.ClientConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{registry: command.DefaultRegistry()}
	for _, opt := range opts {
		opt(o)
	}
	c := &Client{
		cfg:       cfg,
		collector: o.collector,
	}
	if c.collector == nil && cfg.Metrics.EnableMetrics {
		collector, err := metrics.NewCollector(metrics.NewConfig("respcmd", &cfg.Metrics))
		if err != nil {
			return nil, fmt.Errorf("init metrics collector: %w", err)
		}
		c.collector = collector
		c.ownsMetric = true
	}

	tr := o.transport
	if tr == nil {
		switch cfg.Transport {
		case common.TransportGoRedis:
			goRedis := transport.NewGoRedisFromConfig(cfg)
			tr, c.closer = goRedis, goRedis
		default:
			ring, err := transport.NewRing(ctx, transport.NewRingConfig(cfg))
			if err != nil {
				c.shutdownMetrics()
				return nil, err
			}
			c.ring = ring
			tr, c.closer = ring, ring
		}
	}

	var dispatchOpts []dispatch.Option
	if c.collector != nil {
		mw := metrics.NewClientMetricsMiddleware(c.collector)
		tr = mw.WrapTransport(tr)
		dispatchOpts = append(dispatchOpts, dispatch.WithHook(mw))
	}
	c.dispatcher = dispatch.New(o.registry, tr, dispatchOpts...)
	logger.Info("Client ready", "addr", cfg.Server.Addr, "transport", cfg.Transport,
		"commands", o.registry.Len(), "metrics", c.collector != nil)
	return c, nil
}

func (c *Client) Dispatcher() *dispatch.Dispatcher {
	return c.dispatcher
}

func (c *Client) Registry() *command.Registry {
	return c.dispatcher.Registry()
}

// Collector is nil when metrics are disabled.
func (c *Client) Collector() metrics.Collector {
	return c.collector
}

// Execute runs a command by id with untyped params.
func (c *Client) Execute(ctx context.Context, id command.ID, params any) (any, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	return c.dispatcher.Execute(ctx, id, params)
}

func do[P, R any](ctx context.Context, c *Client, cmd *command.Command[P, R], params P) (R, error) {
	if c.isClosed() {
		var zero R
		return zero, ErrClientClosed
	}
	return dispatch.Do(ctx, c.dispatcher, cmd, params)
}

func (c *Client) Status() *Status {
	status := &Status{
		Transport: c.cfg.Transport,
		Addr:      c.cfg.Server.Addr,
		Commands:  c.Registry().Len(),
	}
	if c.ring != nil {
		status.Ring = c.ring.Status()
		if c.collector != nil {
			c.collector.SetGauge("ring.live", float32(status.Ring.Live))
		}
	}
	return status
}

func (c *Client) isClosed() bool {
	return c.closed.Load()
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}
	var err error
	if c.closer != nil {
		err = c.closer.Close()
	}
	c.shutdownMetrics()
	logger.Info("Client closed", "addr", c.cfg.Server.Addr)
	return err
}

func (c *Client) shutdownMetrics() {
	if c.ownsMetric && c.collector != nil {
		c.collector.Shutdown()
	}
}

// LatencyReset clears the latency samples of the events in scope and returns
// how many event series the server reset.
func (c *Client) LatencyReset(ctx context.Context, scope command.Scope) (int64, error) {
	return do(ctx, c, command.LatencyReset, scope)
}

func (c *Client) LatencyLatest(ctx context.Context) ([]command.LatencyLatestEntry, error) {
	return do(ctx, c, command.LatencyLatest, command.NoArgs{})
}

func (c *Client) LatencyHistory(ctx context.Context, event string) ([]command.LatencyHistoryEntry, error) {
	return do(ctx, c, command.LatencyHistory, event)
}

func (c *Client) LatencyDoctor(ctx context.Context) (string, error) {
	return do(ctx, c, command.LatencyDoctor, command.NoArgs{})
}

func (c *Client) LatencyGraph(ctx context.Context, event string) (string, error) {
	return do(ctx, c, command.LatencyGraph, event)
}

func (c *Client) LatencyHistogram(ctx context.Context, commands ...string) (map[string]command.LatencyHistogram, error) {
	return do(ctx, c, command.LatencyHistogramCmd, commands)
}

func (c *Client) LatencyHelp(ctx context.Context) ([]string, error) {
	return do(ctx, c, command.LatencyHelp, command.NoArgs{})
}

func (c *Client) ConfigSet(ctx context.Context, params ...command.ConfigParam) (string, error) {
	return do(ctx, c, command.ConfigSet, params)
}

func (c *Client) ConfigGet(ctx context.Context, patterns ...string) (map[string]string, error) {
	return do(ctx, c, command.ConfigGet, patterns)
}

func (c *Client) ConfigResetStat(ctx context.Context) (string, error) {
	return do(ctx, c, command.ConfigResetStat, command.NoArgs{})
}

func (c *Client) DebugSleep(ctx context.Context, d time.Duration) (string, error) {
	return do(ctx, c, command.DebugSleep, d)
}

func (c *Client) SlowlogGet(ctx context.Context, count int) ([]command.SlowlogEntry, error) {
	return do(ctx, c, command.SlowlogGet, count)
}

func (c *Client) SlowlogLen(ctx context.Context) (int64, error) {
	return do(ctx, c, command.SlowlogLen, command.NoArgs{})
}

func (c *Client) SlowlogReset(ctx context.Context) (string, error) {
	return do(ctx, c, command.SlowlogReset, command.NoArgs{})
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	return do(ctx, c, command.Ping, "")
}

func (c *Client) Echo(ctx context.Context, message string) (string, error) {
	return do(ctx, c, command.Echo, message)
}

func (c *Client) Time(ctx context.Context) (time.Time, error) {
	return do(ctx, c, command.Time, command.NoArgs{})
}

func (c *Client) Info(ctx context.Context, sections ...string) (string, error) {
	return do(ctx, c, command.Info, sections)
}

// Get returns nil when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (*string, error) {
	return do(ctx, c, command.Get, key)
}

// Set reports false when an NX or XX condition prevented the write.
func (c *Client) Set(ctx context.Context, params command.SetParams) (bool, error) {
	return do(ctx, c, command.Set, params)
}

func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return do(ctx, c, command.Del, keys)
}

func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	return do(ctx, c, command.Exists, keys)
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return do(ctx, c, command.Incr, key)
}

func (c *Client) DBSize(ctx context.Context) (int64, error) {
	return do(ctx, c, command.DBSize, command.NoArgs{})
}
