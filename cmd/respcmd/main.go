package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/pzhenzhou/respcmd/pkg/client"
	"github.com/pzhenzhou/respcmd/pkg/common"
)

var (
	logger = common.InitLogger().WithName("main")
)

type CLI struct {
	common.ClientConfig `embed:""`

	Timeout time.Duration `help:"Timeout of a one-shot command" name:"timeout" default:"10s"`

	LatencyLatest    LatencyLatestCmd    `cmd:"" name:"latency-latest" help:"Show the latest latency spike of every event."`
	LatencyReset     LatencyResetCmd     `cmd:"" name:"latency-reset" help:"Reset latency samples of the given events, or of all events."`
	LatencyHistory   LatencyHistoryCmd   `cmd:"" name:"latency-history" help:"Show the latency samples of one event."`
	LatencyDoctor    LatencyDoctorCmd    `cmd:"" name:"latency-doctor" help:"Print the server latency report."`
	LatencyGraph     LatencyGraphCmd     `cmd:"" name:"latency-graph" help:"Print an ASCII graph of one event."`
	LatencyHistogram LatencyHistogramCmd `cmd:"" name:"latency-histogram" help:"Show per-command latency histograms."`
	ConfigGet        ConfigGetCmd        `cmd:"" name:"config-get" help:"Read server parameters matching the patterns."`
	ConfigSet        ConfigSetCmd        `cmd:"" name:"config-set" help:"Set server parameters."`
	DebugSleep       DebugSleepCmd       `cmd:"" name:"debug-sleep" help:"Make the server sleep, e.g. to produce a latency spike."`
	Slowlog          SlowlogCmd          `cmd:"" name:"slowlog" help:"Show slow log entries."`
	Commands         CommandsCmd         `cmd:"" name:"commands" help:"List the registered commands."`
	Monitor          MonitorCmd          `cmd:"" name:"monitor" help:"Poll latency spikes and serve the admin http endpoints."`
	MockServer       MockServerCmd       `cmd:"" name:"mock-server" help:"Run the in-memory RESP server."`
}

// runContext is bound into every subcommand's Run.
type runContext struct {
	cfg     *common.ClientConfig
	timeout time.Duration
}

// withClient runs fn with a connected client and a timeout bound context.
func (r *runContext) withClient(fn func(ctx context.Context, cli *client.Client) (any, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	cli, err := client.New(ctx, r.cfg)
	if err != nil {
		return err
	}
	defer cli.Close()
	out, err := fn(ctx, cli)
	if err != nil {
		return err
	}
	return printResult(out)
}

func printResult(v any) error {
	if s, ok := v.(string); ok {
		_, err := os.Stdout.WriteString(s + "\n")
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("respcmd"),
		kong.Description("Typed RESP commands against a Redis compatible server."),
		kong.UsageOnError())
	if err := cli.ClientConfig.Validate(); err != nil {
		kctx.FatalIfErrorf(err)
	}
	logger.V(1).Info("respcmd", "Config", cli.ClientConfig, "Command", kctx.Command())
	err := kctx.Run(&runContext{cfg: &cli.ClientConfig, timeout: cli.Timeout})
	kctx.FatalIfErrorf(err)
}
