package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pzhenzhou/respcmd/pkg/respio"
)

// ID identifies a command in the registry, e.g. LATENCY.RESET.
type ID string

// Flags are routing and caching hints. They are stored here and read by
// transports and clients; the dispatcher does not act on them.
type Flags uint8

const (
	FlagReadOnly Flags = 1 << iota
	// FlagCacheable marks replies that a client-side cache may serve.
	FlagCacheable
	// FlagNotKeyed marks commands that do not touch a key and can go to any connection.
	FlagNotKeyed
	// FlagAdmin marks server administration commands.
	FlagAdmin
)

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	var parts []string
	if f.Has(FlagReadOnly) {
		parts = append(parts, "readonly")
	}
	if f.Has(FlagCacheable) {
		parts = append(parts, "cacheable")
	}
	if f.Has(FlagNotKeyed) {
		parts = append(parts, "not-keyed")
	}
	if f.Has(FlagAdmin) {
		parts = append(parts, "admin")
	}
	return strings.Join(parts, "|")
}

// NoArgs is the parameter type of zero-arity commands.
type NoArgs struct{}

type BuildFunc[P any] func(params P) (Args, error)

type TransformFunc[R any] func(reply *respio.RespPacket) (R, error)

// Definition is the untyped view of a command used by the uniform dispatch path
// and for introspection.
type Definition interface {
	ID() ID
	Flags() Flags
	// KeyIndex is the position of the first key token in Args, or -1.
	KeyIndex() int
	BuildAny(params any) (Args, error)
	TransformAny(reply *respio.RespPacket) (any, error)
}

var _ Definition = (*Command[NoArgs, string])(nil)

// Command pairs an argument builder with a reply transformer. Values are
// immutable once created by New.
type Command[P, R any] struct {
	id        ID
	flags     Flags
	keyIndex  int
	build     BuildFunc[P]
	transform TransformFunc[R]
}

type Option func(*options)

type options struct {
	flags    Flags
	keyIndex int
}

func WithFlags(flags Flags) Option {
	return func(o *options) {
		o.flags |= flags
	}
}

func WithKeyIndex(idx int) Option {
	return func(o *options) {
		o.keyIndex = idx
	}
}

func New[P, R any](id ID, build BuildFunc[P], transform TransformFunc[R], opts ...Option) *Command[P, R] {
	o := &options{keyIndex: -1}
	for _, opt := range opts {
		opt(o)
	}
	if o.keyIndex < 0 {
		o.flags |= FlagNotKeyed
	}
	return &Command[P, R]{
		id:        id,
		flags:     o.flags,
		keyIndex:  o.keyIndex,
		build:     build,
		transform: transform,
	}
}

func (c *Command[P, R]) ID() ID {
	return c.id
}

func (c *Command[P, R]) Flags() Flags {
	return c.flags
}

func (c *Command[P, R]) KeyIndex() int {
	return c.keyIndex
}

// Build runs the argument builder. Errors are always *ArgumentError.
func (c *Command[P, R]) Build(params P) (Args, error) {
	args, err := c.build(params)
	if err != nil {
		var argErr *ArgumentError
		if errors.As(err, &argErr) {
			if argErr.Command == "" {
				argErr.Command = c.id
			}
			return nil, argErr
		}
		return nil, &ArgumentError{Command: c.id, Reason: err.Error()}
	}
	for i, tok := range args {
		if _, err := tokenBytes(tok); err != nil {
			return nil, &ArgumentError{Command: c.id, Reason: fmt.Sprintf("token %d: %v", i, err)}
		}
	}
	return args, nil
}

// Transform runs the reply transformer. Errors are always *ProtocolMismatchError.
func (c *Command[P, R]) Transform(reply *respio.RespPacket) (R, error) {
	result, err := c.transform(reply)
	if err != nil {
		var zero R
		var pmErr *ProtocolMismatchError
		if errors.As(err, &pmErr) {
			if pmErr.Command == "" {
				pmErr.Command = c.id
			}
			return zero, pmErr
		}
		return zero, &ProtocolMismatchError{Command: c.id, Expected: "valid reply", Got: err.Error()}
	}
	return result, nil
}

// BuildAny accepts P, or nil for the zero value of P.
func (c *Command[P, R]) BuildAny(params any) (Args, error) {
	if params == nil {
		var zero P
		return c.Build(zero)
	}
	typed, ok := params.(P)
	if !ok {
		var zero P
		return nil, &ArgumentError{
			Command: c.id,
			Reason:  fmt.Sprintf("expects params of type %T, got %T", zero, params),
		}
	}
	return c.Build(typed)
}

func (c *Command[P, R]) TransformAny(reply *respio.RespPacket) (any, error) {
	result, err := c.Transform(reply)
	if err != nil {
		return nil, err
	}
	return result, nil
}

type definitionKey struct{}

// WithDefinition attaches the command being sent so transports can read its flags and key index.
func WithDefinition(ctx context.Context, def Definition) context.Context {
	return context.WithValue(ctx, definitionKey{}, def)
}

func DefinitionFromContext(ctx context.Context) (Definition, bool) {
	def, ok := ctx.Value(definitionKey{}).(Definition)
	return def, ok
}

// RoutingKey returns the first key token of args, or nil when the command is not keyed.
func RoutingKey(def Definition, args Args) []byte {
	if def == nil || def.Flags().Has(FlagNotKeyed) {
		return nil
	}
	return args.Token(def.KeyIndex())
}
