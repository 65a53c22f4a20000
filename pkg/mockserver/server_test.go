package mockserver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzhenzhou/respcmd/pkg/respio"
)

func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	srv := New(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = srv.Stop(stopCtx)
	})
	return srv
}

type rawClient struct {
	conn   net.Conn
	reader *respio.RespReader
	writer *respio.RespWriter
}

func dialRaw(t *testing.T, srv *Server) *rawClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return &rawClient{conn: conn, reader: respio.NewRespReader(conn), writer: respio.NewRespWriter(conn)}
}

func (c *rawClient) do(t *testing.T, args ...string) *respio.RespPacket {
	t.Helper()
	items := make([]*respio.RespPacket, 0, len(args))
	for _, arg := range args {
		items = append(items, respio.NewBulkStringPacket(arg))
	}
	require.NoError(t, c.writer.WriteAndFlush(respio.NewArrayPacket(items...)))
	reply, err := c.reader.Read()
	require.NoError(t, err)
	return reply
}

func TestServer_Basics(t *testing.T) {
	srv := startServer(t, Options{})
	c := dialRaw(t, srv)

	assert.Equal(t, respio.NewStatusPacket("PONG"), c.do(t, "PING"))
	assert.Equal(t, []byte("hi"), c.do(t, "ECHO", "hi").Data)
	assert.True(t, c.do(t, "HELLO", "3").IsError())
	assert.True(t, c.do(t, "NOPE").IsError())

	assert.Equal(t, respio.NewStatusPacket("OK"), c.do(t, "SET", "k", "v"))
	assert.True(t, c.do(t, "SET", "k", "w", "NX").IsNull())
	assert.Equal(t, []byte("v"), c.do(t, "GET", "k").Data)
	assert.True(t, c.do(t, "GET", "missing").IsNull())
	assert.Equal(t, []byte("1"), c.do(t, "EXISTS", "k", "missing").Data)
	assert.Equal(t, []byte("1"), c.do(t, "INCR", "n").Data)
	assert.Equal(t, []byte("2"), c.do(t, "INCR", "n").Data)
	assert.True(t, c.do(t, "INCR", "k").IsError())
	assert.Equal(t, []byte("2"), c.do(t, "DBSIZE").Data)
	assert.Equal(t, []byte("2"), c.do(t, "DEL", "k", "n", "k").Data)
	assert.Len(t, c.do(t, "TIME").Array, 2)
}

func TestServer_ExpiringKeys(t *testing.T) {
	base := time.Unix(1700000000, 0)
	var offset atomic.Int64
	srv := startServer(t, Options{Now: func() time.Time { return base.Add(time.Duration(offset.Load())) }})
	c := dialRaw(t, srv)

	assert.Equal(t, respio.NewStatusPacket("OK"), c.do(t, "SET", "k", "v", "PX", "1500"))
	assert.Equal(t, []byte("v"), c.do(t, "GET", "k").Data)
	offset.Store(int64(2 * time.Second))
	assert.True(t, c.do(t, "GET", "k").IsNull())
	assert.Equal(t, []byte("0"), c.do(t, "DBSIZE").Data)
}

func TestServer_PipelinedAndSplitFrames(t *testing.T) {
	srv := startServer(t, Options{})
	c := dialRaw(t, srv)

	frames := "*1\r\n$4\r\nPING\r\n*2\r\n$4\r\nECHO\r\n$5\r\nhello\r\n"
	_, err := c.conn.Write([]byte(frames[:20]))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = c.conn.Write([]byte(frames[20:]))
	require.NoError(t, err)

	first, err := c.reader.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("PONG"), first.Data)
	second, err := c.reader.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), second.Data)
}

func TestServer_Auth(t *testing.T) {
	srv := startServer(t, Options{Username: "ops", Password: "secret"})
	c := dialRaw(t, srv)

	reply := c.do(t, "PING")
	require.True(t, reply.IsError())
	assert.Contains(t, string(reply.Data), "NOAUTH")

	assert.True(t, c.do(t, "AUTH", "ops", "wrong").IsError())
	assert.Equal(t, respio.NewStatusPacket("OK"), c.do(t, "AUTH", "ops", "secret"))
	assert.Equal(t, respio.NewStatusPacket("PONG"), c.do(t, "PING"))
}

func TestServer_LatencyMonitor(t *testing.T) {
	srv := startServer(t, Options{})
	c := dialRaw(t, srv)

	assert.Equal(t, respio.NewStatusPacket("OK"), c.do(t, "CONFIG", "SET", "latency-monitor-threshold", "1"))
	cfg := c.do(t, "CONFIG", "GET", "latency-*")
	require.Len(t, cfg.Array, 4)
	assert.Equal(t, []byte("latency-monitor-threshold"), cfg.Array[0].Data)
	assert.Equal(t, []byte("1"), cfg.Array[1].Data)

	assert.Equal(t, respio.NewStatusPacket("OK"), c.do(t, "DEBUG", "SLEEP", "0.1"))

	latest := c.do(t, "LATENCY", "LATEST")
	require.Len(t, latest.Array, 1)
	row := latest.Array[0].Array
	require.Len(t, row, 4)
	assert.Equal(t, []byte("command"), row[0].Data)
	assert.Equal(t, []byte("100"), row[2].Data)

	history := c.do(t, "LATENCY", "HISTORY", "command")
	assert.Len(t, history.Array, 1)
	assert.Contains(t, string(c.do(t, "LATENCY", "DOCTOR").Data), "command")
	assert.Contains(t, string(c.do(t, "LATENCY", "GRAPH", "command").Data), "command")
	assert.NotEmpty(t, c.do(t, "LATENCY", "HELP").Array)

	slow := c.do(t, "SLOWLOG", "GET")
	require.Len(t, slow.Array, 1)
	assert.Len(t, slow.Array[0].Array, 6)

	assert.Equal(t, []byte("0"), c.do(t, "LATENCY", "RESET", "fork").Data)
	assert.Equal(t, []byte("1"), c.do(t, "LATENCY", "RESET").Data)
	assert.Empty(t, c.do(t, "LATENCY", "LATEST").Array)
	assert.False(t, c.do(t, "LATENCY", "LATEST").IsNull())
}

func TestServer_LatencyHistogram(t *testing.T) {
	srv := startServer(t, Options{})
	c := dialRaw(t, srv)

	c.do(t, "SET", "k", "v")
	c.do(t, "SET", "k", "w")
	reply := c.do(t, "LATENCY", "HISTOGRAM", "SET")
	require.Len(t, reply.Array, 2)
	assert.Equal(t, []byte("set"), reply.Array[0].Data)
	fields := reply.Array[1].Array
	require.Len(t, fields, 4)
	assert.Equal(t, []byte("calls"), fields[0].Data)
	assert.Equal(t, []byte("2"), fields[1].Data)
}

func TestServer_InjectedLatency(t *testing.T) {
	srv := startServer(t, Options{})
	srv.AddLatency("fork", 12)
	c := dialRaw(t, srv)

	latest := c.do(t, "LATENCY", "LATEST")
	require.Len(t, latest.Array, 1)
	assert.Equal(t, []byte("fork"), latest.Array[0].Array[0].Data)
	assert.Equal(t, []byte("12"), latest.Array[0].Array[3].Data)
}
