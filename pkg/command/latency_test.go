package command

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzhenzhou/respcmd/pkg/respio"
)

func encode(t *testing.T, args Args) []byte {
	t.Helper()
	pkt, err := args.Packet()
	require.NoError(t, err)
	var buf bytes.Buffer
	w := respio.NewRespWriter(&buf)
	require.NoError(t, w.WriteAndFlush(pkt))
	return buf.Bytes()
}

func TestLatencyReset_Build(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		want  Args
	}{
		{name: "zero value", scope: Scope{}, want: Args{"LATENCY", "RESET"}},
		{name: "all", scope: AllEvents(), want: Args{"LATENCY", "RESET"}},
		{name: "empty list", scope: EventsOf([]string{}), want: Args{"LATENCY", "RESET"}},
		{name: "nil list", scope: EventsOf(nil), want: Args{"LATENCY", "RESET"}},
		{name: "one event", scope: Events("command"), want: Args{"LATENCY", "RESET", "command"}},
		{
			name:  "order kept, no dedup",
			scope: Events("fork", "command", "fork"),
			want:  Args{"LATENCY", "RESET", "fork", "command", "fork"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := LatencyReset.Build(tt.scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, args)
			assert.Len(t, args, 2+len(tt.scope.Names()))
		})
	}
}

func TestLatencyReset_OmittedEqualsEmpty(t *testing.T) {
	omitted, err := LatencyReset.BuildAny(nil)
	require.NoError(t, err)
	empty, err := LatencyReset.Build(EventsOf(nil))
	require.NoError(t, err)
	assert.Equal(t, encode(t, omitted), encode(t, empty))
	assert.Equal(t, []byte("*2\r\n$7\r\nLATENCY\r\n$5\r\nRESET\r\n"), encode(t, omitted))
}

func TestLatencyReset_Deterministic(t *testing.T) {
	scope := Events("command", "expire-cycle")
	first, err := LatencyReset.Build(scope)
	require.NoError(t, err)
	second, err := LatencyReset.Build(scope)
	require.NoError(t, err)
	assert.Equal(t, encode(t, first), encode(t, second))
}

func TestLatencyReset_ScopeIsCopied(t *testing.T) {
	names := []string{"command"}
	scope := EventsOf(names)
	names[0] = "fork"
	args, err := LatencyReset.Build(scope)
	require.NoError(t, err)
	assert.Equal(t, Args{"LATENCY", "RESET", "command"}, args)
}

func TestLatencyReset_InvalidScope(t *testing.T) {
	_, err := LatencyReset.Build(Events("command", ""))
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, LatencyReset.ID(), argErr.Command)
	assert.ErrorIs(t, err, ErrArgument)

	_, err = LatencyReset.BuildAny([]string{"command"})
	assert.ErrorIs(t, err, ErrArgument)
}

func TestLatencyReset_Transform(t *testing.T) {
	n, err := LatencyReset.Transform(respio.NewIntPacket(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = LatencyReset.Transform(respio.NewIntPacket(0))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = LatencyReset.Transform(respio.NilPacket)
	require.NoError(t, err)
	assert.Zero(t, n)

	for name, reply := range map[string]*respio.RespPacket{
		"array":         respio.NewArrayPacket(),
		"simple string": respio.NewStatusPacket("7"),
		"bulk string":   respio.NewBulkStringPacket("7"),
		"double":        {Type: respio.RespFloat, Data: []byte("7")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LatencyReset.Transform(reply)
			var pmErr *ProtocolMismatchError
			require.ErrorAs(t, err, &pmErr)
			assert.Equal(t, "integer", pmErr.Expected)
		})
	}
}

func TestLatencyLatest(t *testing.T) {
	args, err := LatencyLatest.Build(NoArgs{})
	require.NoError(t, err)
	assert.Equal(t, Args{"LATENCY", "LATEST"}, args)

	tests := []struct {
		name  string
		reply *respio.RespPacket
		want  []LatencyLatestEntry
	}{
		{
			name: "bulk string fields",
			reply: respio.NewArrayPacket(respio.NewArrayPacket(
				respio.NewBulkStringPacket("command"),
				respio.NewBulkStringPacket("1700000000"),
				respio.NewBulkStringPacket("150"),
				respio.NewBulkStringPacket("150"),
			)),
			want: []LatencyLatestEntry{
				{Event: "command", LastTimestampSeconds: 1700000000, LastDurationMs: 150, MaxDurationMs: 150},
			},
		},
		{
			name: "integer fields, server order kept",
			reply: respio.NewArrayPacket(
				respio.NewArrayPacket(
					respio.NewBulkStringPacket("fork"),
					respio.NewIntPacket(1700000100),
					respio.NewIntPacket(3),
					respio.NewIntPacket(9),
				),
				respio.NewArrayPacket(
					respio.NewBulkStringPacket("command"),
					respio.NewIntPacket(1700000000),
					respio.NewIntPacket(150),
					respio.NewIntPacket(200),
				),
			),
			want: []LatencyLatestEntry{
				{Event: "fork", LastTimestampSeconds: 1700000100, LastDurationMs: 3, MaxDurationMs: 9},
				{Event: "command", LastTimestampSeconds: 1700000000, LastDurationMs: 150, MaxDurationMs: 200},
			},
		},
		{name: "empty array", reply: respio.NewArrayPacket(), want: []LatencyLatestEntry{}},
		{name: "resp3 null", reply: respio.NilPacket, want: []LatencyLatestEntry{}},
		{name: "resp2 null array", reply: &respio.RespPacket{Type: respio.RespArray}, want: []LatencyLatestEntry{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LatencyLatest.Transform(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := LatencyLatest.Transform(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestLatencyLatest_Mismatch(t *testing.T) {
	replies := map[string]*respio.RespPacket{
		"integer":     respio.NewIntPacket(1),
		"flat array":  respio.NewArrayPacket(respio.NewBulkStringPacket("command")),
		"short tuple": respio.NewArrayPacket(respio.NewArrayPacket(respio.NewBulkStringPacket("command"))),
		"bad number": respio.NewArrayPacket(respio.NewArrayPacket(
			respio.NewBulkStringPacket("command"),
			respio.NewBulkStringPacket("yesterday"),
			respio.NewIntPacket(1),
			respio.NewIntPacket(1),
		)),
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			_, err := LatencyLatest.Transform(reply)
			var pmErr *ProtocolMismatchError
			require.ErrorAs(t, err, &pmErr)
			assert.Equal(t, LatencyLatest.ID(), pmErr.Command)
		})
	}
}

func TestLatencyHistory(t *testing.T) {
	_, err := LatencyHistory.Build("")
	assert.ErrorIs(t, err, ErrArgument)

	args, err := LatencyHistory.Build("command")
	require.NoError(t, err)
	assert.Equal(t, Args{"LATENCY", "HISTORY", "command"}, args)

	got, err := LatencyHistory.Transform(respio.NewArrayPacket(
		respio.NewArrayPacket(respio.NewIntPacket(1700000010), respio.NewIntPacket(120)),
		respio.NewArrayPacket(respio.NewIntPacket(1700000000), respio.NewIntPacket(150)),
	))
	require.NoError(t, err)
	assert.Equal(t, []LatencyHistoryEntry{
		{TimestampSeconds: 1700000010, DurationMs: 120},
		{TimestampSeconds: 1700000000, DurationMs: 150},
	}, got)
}

func TestLatencyDoctorAndGraph(t *testing.T) {
	report, err := LatencyDoctor.Transform(&respio.RespPacket{Type: respio.RespVerbatim, Data: []byte("txt:all good")})
	require.NoError(t, err)
	assert.Equal(t, "all good", report)

	report, err = LatencyDoctor.Transform(respio.NewBulkStringPacket("Dave, no latency spike"))
	require.NoError(t, err)
	assert.Equal(t, "Dave, no latency spike", report)

	for name, reply := range map[string]*respio.RespPacket{
		"integer": respio.NewIntPacket(5),
		"double":  {Type: respio.RespFloat, Data: []byte("1.5")},
		"bignum":  {Type: respio.RespBigInt, Data: []byte("12345678901234567890")},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LatencyDoctor.Transform(reply)
			assert.ErrorIs(t, err, ErrProtocolMismatch)
			_, err = LatencyGraph.Transform(reply)
			assert.ErrorIs(t, err, ErrProtocolMismatch)
		})
	}

	args, err := LatencyGraph.Build("command")
	require.NoError(t, err)
	assert.Equal(t, Args{"LATENCY", "GRAPH", "command"}, args)
}

func TestLatencyHistogram(t *testing.T) {
	args, err := LatencyHistogramCmd.Build([]string{"set", "get"})
	require.NoError(t, err)
	assert.Equal(t, Args{"LATENCY", "HISTOGRAM", "set", "get"}, args)

	args, err = LatencyHistogramCmd.BuildAny(nil)
	require.NoError(t, err)
	assert.Equal(t, Args{"LATENCY", "HISTOGRAM"}, args)

	want := map[string]LatencyHistogram{
		"set": {Calls: 3, Buckets: map[int64]int64{1: 0, 2: 1, 4: 3}},
	}
	resp3 := respio.NewMapPacket(
		respio.NewBulkStringPacket("set"),
		respio.NewMapPacket(
			respio.NewBulkStringPacket("calls"), respio.NewIntPacket(3),
			respio.NewBulkStringPacket("histogram_usec"), respio.NewMapPacket(
				respio.NewIntPacket(1), respio.NewIntPacket(0),
				respio.NewIntPacket(2), respio.NewIntPacket(1),
				respio.NewIntPacket(4), respio.NewIntPacket(3),
			),
		),
	)
	got, err := LatencyHistogramCmd.Transform(resp3)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	resp2 := respio.NewArrayPacket(
		respio.NewBulkStringPacket("set"),
		respio.NewArrayPacket(
			respio.NewBulkStringPacket("calls"), respio.NewIntPacket(3),
			respio.NewBulkStringPacket("histogram_usec"), respio.NewArrayPacket(
				respio.NewIntPacket(1), respio.NewIntPacket(0),
				respio.NewIntPacket(2), respio.NewIntPacket(1),
				respio.NewIntPacket(4), respio.NewIntPacket(3),
			),
		),
	)
	got, err = LatencyHistogramCmd.Transform(resp2)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = LatencyHistogramCmd.Transform(respio.NewArrayPacket(respio.NewBulkStringPacket("set")))
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}
