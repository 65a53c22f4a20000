package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/pzhenzhou/respcmd/pkg/command"
	"github.com/pzhenzhou/respcmd/pkg/common"
	"github.com/pzhenzhou/respcmd/pkg/respio"
)

var (
	logger = common.InitLogger().WithName("dispatch")
)

// Transport sends one token sequence and returns the one fully parsed reply
// for it. Implementations own connections, pipelining and their own errors.
type Transport interface {
	Send(ctx context.Context, args command.Args) (*respio.RespPacket, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, args command.Args) (*respio.RespPacket, error)

func (f TransportFunc) Send(ctx context.Context, args command.Args) (*respio.RespPacket, error) {
	return f(ctx, args)
}

// State is the lifecycle of one dispatched call.
type State uint8

const (
	StatePending State = iota
	StateBuilding
	StateSent
	StateAwaitingReply
	StateTransforming
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateBuilding:
		return "BUILDING"
	case StateSent:
		return "SENT"
	case StateAwaitingReply:
		return "AWAITING_REPLY"
	case StateTransforming:
		return "TRANSFORMING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// CallInfo describes a finished call for hooks.
type CallInfo struct {
	Command command.ID
	// State is StateComplete or StateFailed.
	State   State
	// Stage is the last state entered before the call ended. On failure it
	// tells where: BUILDING for argument errors, SENT for transport errors,
	// AWAITING_REPLY for server error replies, TRANSFORMING for protocol mismatches.
	Stage   State
	Elapsed time.Duration
	Err     error
}

// Hook observes finished calls. It must not block.
type Hook interface {
	OnCallDone(info CallInfo)
}

type Option func(*Dispatcher)

func WithHook(hook Hook) Option {
	return func(d *Dispatcher) {
		d.hook = hook
	}
}

// Dispatcher runs build, send and transform for one command per call. It
// holds no mutable state and is safe for concurrent use.
type Dispatcher struct {
	registry  *command.Registry
	transport Transport
	hook      Hook
}

func New(registry *command.Registry, transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		transport: transport,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Registry() *command.Registry {
	return d.registry
}

// Execute is the untyped entry point: params must be the definition's
// parameter type, or nil for its zero value.
func (d *Dispatcher) Execute(ctx context.Context, id command.ID, params any) (any, error) {
	def, ok := d.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", command.ErrUnknownCommand, id)
	}
	var result any
	err := d.run(ctx, def,
		func() (command.Args, error) {
			return def.BuildAny(params)
		},
		func(reply *respio.RespPacket) error {
			var err error
			result, err = def.TransformAny(reply)
			return err
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Do is the typed entry point. cmd itself must be registered in d's registry;
// another definition under the same id does not count.
func Do[P, R any](ctx context.Context, d *Dispatcher, cmd *command.Command[P, R], params P) (R, error) {
	var result R
	if def, ok := d.registry.Lookup(cmd.ID()); !ok || def != command.Definition(cmd) {
		return result, fmt.Errorf("%w: %s", command.ErrUnknownCommand, cmd.ID())
	}
	err := d.run(ctx, cmd,
		func() (command.Args, error) {
			return cmd.Build(params)
		},
		func(reply *respio.RespPacket) error {
			var err error
			result, err = cmd.Transform(reply)
			return err
		})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}

// run drives PENDING -> BUILDING -> SENT -> AWAITING_REPLY -> TRANSFORMING -> COMPLETE.
// Transport errors are returned as they are.
func (d *Dispatcher) run(ctx context.Context, def command.Definition,
	build func() (command.Args, error), transform func(*respio.RespPacket) error) (err error) {
	c := &call{id: def.ID(), start: time.Now()}
	defer func() {
		d.finish(c, err)
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	c.enter(StateBuilding)
	args, err := build()
	if err != nil {
		return err
	}
	c.enter(StateSent)
	reply, err := d.transport.Send(command.WithDefinition(ctx, def), args)
	if err != nil {
		return err
	}
	c.enter(StateAwaitingReply)
	if reply == nil {
		return &command.ProtocolMismatchError{Command: def.ID(), Expected: "a reply", Got: "nothing"}
	}
	if reply.IsError() {
		return command.NewReplyError(def.ID(), reply)
	}
	c.enter(StateTransforming)
	if err = transform(reply); err != nil {
		return err
	}
	c.enter(StateComplete)
	return nil
}

func (d *Dispatcher) finish(c *call, err error) {
	info := CallInfo{
		Command: c.id,
		State:   c.state,
		Stage:   c.state,
		Elapsed: time.Since(c.start),
		Err:     err,
	}
	if err != nil {
		c.enter(StateFailed)
		info.State = StateFailed
		logger.V(1).Info("Dispatch failed", "command", c.id, "stage", info.Stage, "error", err)
	}
	if d.hook != nil {
		d.hook.OnCallDone(info)
	}
}

type call struct {
	id    command.ID
	state State
	start time.Time
}

func (c *call) enter(next State) {
	logger.V(2).Info("Dispatch state", "command", c.id, "from", c.state, "to", next)
	c.state = next
}
