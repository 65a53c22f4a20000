package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/soheilhy/cmux"

	"github.com/pzhenzhou/respcmd/pkg/client"
	"github.com/pzhenzhou/respcmd/pkg/command"
	"github.com/pzhenzhou/respcmd/pkg/mockserver"
	"github.com/pzhenzhou/respcmd/pkg/web_service"
)

type LatencyLatestCmd struct{}

func (c *LatencyLatestCmd) Run(r *runContext) error {
	return r.withClient(func(ctx context.Context, cli *client.Client) (any, error) {
		return cli.LatencyLatest(ctx)
	})
}

type LatencyResetCmd struct {
	Events []string `arg:"" optional:"" help:"Event names; none resets every event."`
}

func (c *LatencyResetCmd) Run(r *runContext) error {
	return r.withClient(func(ctx context.Context, cli *client.Client) (any, error) {
		n, err := cli.LatencyReset(ctx, command.EventsOf(c.Events))
		if err != nil {
			return nil, err
		}
		return map[string]int64{"reset": n}, nil
	})
}

type LatencyHistoryCmd struct {
	Event string `arg:"" help:"Event name, e.g. command or fork."`
}

func (c *LatencyHistoryCmd) Run(r *runContext) error {
	return r.withClient(func(ctx context.Context, cli *client.Client) (any, error) {
		return cli.LatencyHistory(ctx, c.Event)
	})
}

type LatencyDoctorCmd struct{}

func (c *LatencyDoctorCmd) Run(r *runContext) error {
	return r.withClient(func(ctx context.Context, cli *client.Client) (any, error) {
		return cli.LatencyDoctor(ctx)
	})
}

type LatencyGraphCmd struct {
	Event string `arg:"" help:"Event name."`
}

func (c *LatencyGraphCmd) Run(r *runContext) error {
	return r.withClient(func(ctx context.Context, cli *client.Client) (any, error) {
		return cli.LatencyGraph(ctx, c.Event)
	})
}

type LatencyHistogramCmd struct {
	Commands []string `arg:"" optional:"" help:"Command names; none shows every command."`
}

func (c *LatencyHistogramCmd) Run(r *runContext) error {
	return r.withClient(func(ctx context.Context, cli *client.Client) (any, error) {
		return cli.LatencyHistogram(ctx, c.Commands...)
	})
}

type ConfigGetCmd struct {
	Patterns []string `arg:"" help:"Glob patterns of parameter names."`
}

func (c *ConfigGetCmd) Run(r *runContext) error {
	return r.withClient(func(ctx context.Context, cli *client.Client) (any, error) {
		return cli.ConfigGet(ctx, c.Patterns...)
	})
}

type ConfigSetCmd struct {
	Params []string `arg:"" help:"Parameters as name=value."`
}

func (c *ConfigSetCmd) Run(r *runContext) error {
	params := make([]command.ConfigParam, 0, len(c.Params))
	for _, kv := range c.Params {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("parameter %q is not name=value", kv)
		}
		params = append(params, command.ConfigParam{Name: name, Value: value})
	}
	return r.withClient(func(ctx context.Context, cli *client.Client) (any, error) {
		return cli.ConfigSet(ctx, params...)
	})
}

type DebugSleepCmd struct {
	Duration time.Duration `arg:"" help:"How long the server sleeps, e.g. 100ms."`
}

func (c *DebugSleepCmd) Run(r *runContext) error {
	return r.withClient(func(ctx context.Context, cli *client.Client) (any, error) {
		return cli.DebugSleep(ctx, c.Duration)
	})
}

type SlowlogCmd struct {
	Count int  `help:"Entries to show, -1 for all." default:"10"`
	Reset bool `help:"Clear the slow log instead of showing it."`
}

func (c *SlowlogCmd) Run(r *runContext) error {
	return r.withClient(func(ctx context.Context, cli *client.Client) (any, error) {
		if c.Reset {
			return cli.SlowlogReset(ctx)
		}
		return cli.SlowlogGet(ctx, c.Count)
	})
}

type CommandsCmd struct{}

func (c *CommandsCmd) Run(_ *runContext) error {
	rows := lo.Map(command.DefaultRegistry().Definitions(), func(def command.Definition, _ int) string {
		return fmt.Sprintf("%-20s %s", def.ID(), def.Flags())
	})
	return printResult(strings.Join(rows, "\n"))
}

type MonitorCmd struct {
	Interval  time.Duration `help:"Polling interval of LATENCY LATEST." default:"1s"`
	Threshold string        `help:"Sets latency-monitor-threshold (ms) on start when not empty." name:"threshold"`
}

// Run serves the admin endpoints on the service port and logs every latency
// spike newer than the last one seen for its event.
func (c *MonitorCmd) Run(r *runContext) error {
	ctx, cancel := signalContext()
	defer cancel()
	cli, err := client.New(ctx, r.cfg)
	if err != nil {
		return err
	}
	defer cli.Close()
	if c.Threshold != "" {
		if _, err := cli.ConfigSet(ctx, command.ConfigParam{Name: "latency-monitor-threshold", Value: c.Threshold}); err != nil {
			return err
		}
	}

	srvListener, err := r.cfg.ServiceListener()
	if err != nil {
		return err
	}
	m := cmux.New(srvListener)
	httpSrv := web_service.NewWebServer(r.cfg, cli)
	errChan := make(chan error, 2)
	go func() {
		if err := httpSrv.Start(m); err != nil {
			errChan <- err
		}
	}()
	go func() {
		logger.Info("Starting cmux server...", "ServiceAddr", srvListener.Addr())
		if err := m.Serve(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			errChan <- err
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		httpSrv.Shutdown(shutdownCtx)
		m.Close()
	}()

	seen := map[string]int64{}
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case err := <-errChan:
			logger.Error(err, "Admin server failed")
			return err
		case <-ctx.Done():
			logger.Info("Received signal, shutting down...")
			return nil
		case <-ticker.C:
			entries, err := cli.LatencyLatest(ctx)
			if err != nil {
				logger.Error(err, "LATENCY LATEST failed")
				continue
			}
			for _, e := range entries {
				if e.LastTimestampSeconds <= seen[e.Event] {
					continue
				}
				seen[e.Event] = e.LastTimestampSeconds
				logger.Info("Latency spike", "event", e.Event, "latencyMs", e.LastDurationMs,
					"maxMs", e.MaxDurationMs, "at", time.Unix(e.LastTimestampSeconds, 0).UTC())
			}
		}
	}
}

type MockServerCmd struct {
	Port     int    `help:"Port to listen on, 0 picks a free one." default:"6379"`
	Password string `help:"Require AUTH with this password."`
}

func (c *MockServerCmd) Run(_ *runContext) error {
	ctx, cancel := signalContext()
	defer cancel()
	srv := mockserver.New(mockserver.Options{Port: c.Port, Password: c.Password, Multicore: true})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	return srv.Stop(stopCtx)
}
