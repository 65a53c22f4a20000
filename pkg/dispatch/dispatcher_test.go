package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzhenzhou/respcmd/pkg/command"
	"github.com/pzhenzhou/respcmd/pkg/respio"
)

// recordingTransport answers every call with reply and remembers what was sent.
type recordingTransport struct {
	mu    sync.Mutex
	sent  []command.Args
	defs  []command.ID
	reply *respio.RespPacket
	err   error
}

func (r *recordingTransport) Send(ctx context.Context, args command.Args) (*respio.RespPacket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, args)
	if def, ok := command.DefinitionFromContext(ctx); ok {
		r.defs = append(r.defs, def.ID())
	}
	return r.reply, r.err
}

type hookRecorder struct {
	mu    sync.Mutex
	calls []CallInfo
}

func (h *hookRecorder) OnCallDone(info CallInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, info)
}

func (h *hookRecorder) last() CallInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[len(h.calls)-1]
}

func TestDo_LatencyReset(t *testing.T) {
	tr := &recordingTransport{reply: respio.NewIntPacket(1)}
	hook := &hookRecorder{}
	d := New(command.DefaultRegistry(), tr, WithHook(hook))

	n, err := Do(context.Background(), d, command.LatencyReset, command.Events("command"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, command.Args{"LATENCY", "RESET", "command"}, tr.sent[0])
	assert.Equal(t, []command.ID{"LATENCY.RESET"}, tr.defs)

	info := hook.last()
	assert.Equal(t, StateComplete, info.State)
	assert.Equal(t, StateComplete, info.Stage)
	assert.NoError(t, info.Err)
}

func TestExecute_Untyped(t *testing.T) {
	tr := &recordingTransport{reply: respio.NewArrayPacket(respio.NewArrayPacket(
		respio.NewBulkStringPacket("command"),
		respio.NewBulkStringPacket("1700000000"),
		respio.NewBulkStringPacket("150"),
		respio.NewBulkStringPacket("150"),
	))}
	d := New(command.DefaultRegistry(), tr)

	result, err := d.Execute(context.Background(), "LATENCY.LATEST", nil)
	require.NoError(t, err)
	assert.Equal(t, []command.LatencyLatestEntry{
		{Event: "command", LastTimestampSeconds: 1700000000, LastDurationMs: 150, MaxDurationMs: 150},
	}, result)
}

func TestExecute_UnknownCommand(t *testing.T) {
	tr := &recordingTransport{reply: respio.NewIntPacket(1)}
	hook := &hookRecorder{}
	d := New(command.DefaultRegistry(), tr, WithHook(hook))

	_, err := d.Execute(context.Background(), "LATENCY.FORGET", nil)
	assert.ErrorIs(t, err, command.ErrUnknownCommand)
	assert.Empty(t, tr.sent)
	assert.Empty(t, hook.calls)

	small := New(command.MustRegistry(command.Ping), tr)
	_, err = Do(context.Background(), small, command.LatencyReset, command.AllEvents())
	assert.ErrorIs(t, err, command.ErrUnknownCommand)
	assert.Empty(t, tr.sent)
}

func TestDispatch_ArgumentErrorNeverSends(t *testing.T) {
	tr := &recordingTransport{reply: respio.NewIntPacket(1)}
	hook := &hookRecorder{}
	d := New(command.DefaultRegistry(), tr, WithHook(hook))

	_, err := Do(context.Background(), d, command.LatencyReset, command.Events(""))
	assert.ErrorIs(t, err, command.ErrArgument)

	_, err = d.Execute(context.Background(), "LATENCY.RESET", "command")
	assert.ErrorIs(t, err, command.ErrArgument)

	assert.Empty(t, tr.sent)
	info := hook.last()
	assert.Equal(t, StateFailed, info.State)
	assert.Equal(t, StateBuilding, info.Stage)
}

func TestDispatch_UnsupportedTokenFailsWhileBuilding(t *testing.T) {
	tr := &recordingTransport{reply: respio.NewStatusPacket("OK")}
	hook := &hookRecorder{}
	flag := command.New[bool, string]("FLAG.SET",
		func(on bool) (command.Args, error) {
			return command.Args{"FLAG", "SET", on}, nil
		}, command.TransformStatus)
	d := New(command.MustRegistry(flag), tr, WithHook(hook))

	_, err := Do(context.Background(), d, flag, true)
	var argErr *command.ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, flag.ID(), argErr.Command)
	assert.Contains(t, argErr.Reason, "bool")

	_, err = d.Execute(context.Background(), flag.ID(), false)
	assert.ErrorIs(t, err, command.ErrArgument)

	assert.Empty(t, tr.sent)
	info := hook.last()
	assert.Equal(t, StateFailed, info.State)
	assert.Equal(t, StateBuilding, info.Stage)
}

func TestDo_RequiresTheRegisteredDefinition(t *testing.T) {
	tr := &recordingTransport{reply: respio.NewStatusPacket("PONG")}
	impostor := command.New[string, string]("PING",
		func(string) (command.Args, error) {
			return command.Args{"FLUSHALL"}, nil
		}, command.TransformStatus)
	d := New(command.MustRegistry(command.Ping), tr)

	_, err := Do(context.Background(), d, impostor, "")
	assert.ErrorIs(t, err, command.ErrUnknownCommand)
	assert.Empty(t, tr.sent)

	pong, err := Do(context.Background(), d, command.Ping, "")
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)
	assert.Equal(t, []command.Args{{"PING"}}, tr.sent)
}

func TestDispatch_TransportErrorUnchanged(t *testing.T) {
	tr := &recordingTransport{err: io.ErrUnexpectedEOF}
	hook := &hookRecorder{}
	d := New(command.DefaultRegistry(), tr, WithHook(hook))

	_, err := Do(context.Background(), d, command.LatencyLatest, command.NoArgs{})
	assert.Same(t, io.ErrUnexpectedEOF, err)
	assert.Equal(t, StateSent, hook.last().Stage)
	assert.Len(t, tr.sent, 1)
}

func TestDispatch_ProtocolMismatch(t *testing.T) {
	tr := &recordingTransport{reply: respio.NewStatusPacket("OK")}
	hook := &hookRecorder{}
	d := New(command.DefaultRegistry(), tr, WithHook(hook))

	_, err := Do(context.Background(), d, command.LatencyReset, command.AllEvents())
	var pmErr *command.ProtocolMismatchError
	require.ErrorAs(t, err, &pmErr)
	assert.Equal(t, command.ID("LATENCY.RESET"), pmErr.Command)
	assert.Equal(t, StateTransforming, hook.last().Stage)

	tr.reply = nil
	_, err = Do(context.Background(), d, command.LatencyReset, command.AllEvents())
	assert.ErrorIs(t, err, command.ErrProtocolMismatch)
}

func TestDispatch_ReplyError(t *testing.T) {
	tr := &recordingTransport{reply: respio.NewErrorPacket("ERR DEBUG command not allowed")}
	d := New(command.DefaultRegistry(), tr)

	_, err := d.Execute(context.Background(), "DEBUG.SLEEP", nil)
	var replyErr *command.ReplyError
	require.ErrorAs(t, err, &replyErr)
	assert.Equal(t, "ERR", replyErr.Prefix())
	assert.Equal(t, command.ID("DEBUG.SLEEP"), replyErr.Command)
}

func TestDispatch_NullReplyIsEmpty(t *testing.T) {
	tr := &recordingTransport{reply: respio.NilPacket}
	d := New(command.DefaultRegistry(), tr)

	entries, err := Do(context.Background(), d, command.LatencyLatest, command.NoArgs{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestDispatch_CanceledContext(t *testing.T) {
	tr := &recordingTransport{reply: respio.NewIntPacket(1)}
	d := New(command.DefaultRegistry(), tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, d, command.LatencyReset, command.AllEvents())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tr.sent)
}

// latencyMonitor is an in-process stand-in for a server with the latency
// monitor enabled.
type latencyMonitor struct {
	mu     sync.Mutex
	events map[string][2]int64
	order  []string
}

func (m *latencyMonitor) record(event string, ts, ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = map[string][2]int64{}
	}
	if _, ok := m.events[event]; !ok {
		m.order = append(m.order, event)
	}
	m.events[event] = [2]int64{ts, ms}
}

func (m *latencyMonitor) Send(_ context.Context, args command.Args) (*respio.RespPacket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch strings.ToUpper(args.String()) {
	case "LATENCY LATEST":
		rows := make([]*respio.RespPacket, 0, len(m.order))
		for _, event := range m.order {
			e := m.events[event]
			rows = append(rows, respio.NewArrayPacket(respio.NewBulkStringPacket(event),
				respio.NewIntPacket(e[0]), respio.NewIntPacket(e[1]), respio.NewIntPacket(e[1])))
		}
		return respio.NewArrayPacket(rows...), nil
	case "LATENCY RESET":
		n := len(m.order)
		m.events, m.order = nil, nil
		return respio.NewIntPacket(int64(n)), nil
	default:
		return nil, errors.New("unexpected command " + args.String())
	}
}

func TestDispatch_ResetThenLatestIsEmpty(t *testing.T) {
	monitor := &latencyMonitor{}
	monitor.record("command", 1700000000, 150)
	d := New(command.DefaultRegistry(), monitor)
	ctx := context.Background()

	before, err := Do(ctx, d, command.LatencyLatest, command.NoArgs{})
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, "command", before[0].Event)

	reset, err := d.Execute(ctx, "LATENCY.RESET", command.AllEvents())
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	after, err := Do(ctx, d, command.LatencyLatest, command.NoArgs{})
	require.NoError(t, err)
	assert.Equal(t, []command.LatencyLatestEntry{}, after)
}

func TestDispatch_ConcurrentCalls(t *testing.T) {
	tr := &recordingTransport{reply: respio.NewIntPacket(3)}
	d := New(command.DefaultRegistry(), tr)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := Do(context.Background(), d, command.DBSize, command.NoArgs{})
			assert.NoError(t, err)
			assert.Equal(t, int64(3), n)
		}()
	}
	wg.Wait()
	assert.Len(t, tr.sent, 32)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "AWAITING_REPLY", StateAwaitingReply.String())
	assert.Equal(t, "FAILED", StateFailed.String())
	assert.Equal(t, "State(42)", State(42).String())
}
