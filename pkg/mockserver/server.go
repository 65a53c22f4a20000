// Package mockserver is an in-memory RESP2 server on gnet. It implements the
// keyspace, CONFIG, DEBUG SLEEP, LATENCY and SLOWLOG behaviour the client is
// tested against, without a real server process.
package mockserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/panjf2000/gnet/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/pzhenzhou/respcmd/pkg/common"
	"github.com/pzhenzhou/respcmd/pkg/respio"
)

var (
	logger = common.InitLogger().WithName("mock-srv")
)

type Options struct {
	// Port 0 picks a free port.
	Port     int
	Username string
	// Password, when set, makes every command except AUTH, HELLO and QUIT
	// fail with NOAUTH until the connection authenticates.
	Password  string
	Multicore bool
	// Now replaces the wall clock, for deterministic timestamps in tests.
	Now func() time.Time
}

type session struct {
	id            string
	addr          string
	pending       []byte
	authenticated atomic.Bool
	quit          bool
}

type Server struct {
	gnet.BuiltinEventEngine
	eng      gnet.Engine
	opts     Options
	port     int
	store    *store
	sessions *xsync.MapOf[string, *session]
	ready    chan struct{}
	done     chan error
	running  atomic.Bool
}

func New(opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		opts:     opts,
		port:     opts.Port,
		store:    newStore(now),
		sessions: xsync.NewMapOf[string, *session](),
		ready:    make(chan struct{}),
		done:     make(chan error, 1),
	}
}

// Start runs the event engine in the background and returns once it accepts connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return errors.New("mock server already started")
	}
	if s.port == 0 {
		port, err := FreePort()
		if err != nil {
			return err
		}
		s.port = port
	}
	addr := fmt.Sprintf("tcp://127.0.0.1:%d", s.port)
	go func() {
		s.done <- gnet.Run(s, addr,
			gnet.WithMulticore(s.opts.Multicore),
			gnet.WithReuseAddr(true))
	}()
	select {
	case <-s.ready:
		logger.Info("Mock RESP server started", "addr", s.Addr())
		return nil
	case err := <-s.done:
		return fmt.Errorf("mock server failed to start on %s: %w", addr, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.port)
}

func (s *Server) Port() int {
	return s.port
}

// AddLatency injects a latency spike for event, as if the server had observed it.
func (s *Server) AddLatency(event string, ms int64) {
	s.store.injectLatency(event, ms)
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	select {
	case <-s.ready:
	default:
		return nil
	}
	if err := s.eng.Stop(ctx); err != nil {
		return err
	}
	select {
	case err := <-s.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	close(s.ready)
	return gnet.None
}

func (s *Server) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	addr := c.RemoteAddr().String()
	s.sessions.Store(addr, &session{
		id:   fmt.Sprintf("%d", s.sessions.Size()+1),
		addr: addr,
	})
	return nil, gnet.None
}

func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	addr := c.RemoteAddr().String()
	s.sessions.Delete(addr)
	if err != nil && !errors.Is(err, io.EOF) {
		logger.V(1).Info("Mock server connection closed", "addr", addr, "error", err)
	}
	return gnet.None
}

// OnTraffic appends the inbound bytes to the session buffer and answers every
// complete command in it. A trailing partial command stays buffered.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	sess, ok := s.sessions.Load(c.RemoteAddr().String())
	if !ok {
		return gnet.Close
	}
	data, err := c.Next(-1)
	if err != nil {
		return gnet.Close
	}
	sess.pending = append(sess.pending, data...)

	var out bytes.Buffer
	writer := respio.NewRespWriter(&out)
	src := bytes.NewReader(sess.pending)
	reader := respio.NewRespReader(src)
	consumed := 0
	action := gnet.None
	for consumed < len(sess.pending) {
		packet, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			_ = writer.Write(&respio.RespPacket{Type: respio.RespError, Data: []byte("ERR Protocol error: " + err.Error())})
			action = gnet.Close
			break
		}
		consumed = len(sess.pending) - src.Len() - reader.Buffered()
		reply := s.execute(sess, packet)
		if err := writer.Write(reply); err != nil {
			logger.Error(err, "Mock server failed to encode reply", "addr", sess.addr)
		}
		respio.ReleaseRespPacket(reply)
		if sess.quit {
			action = gnet.Close
			break
		}
	}
	sess.pending = append(sess.pending[:0], sess.pending[consumed:]...)
	if err := writer.Flush(); err != nil {
		return gnet.Close
	}
	if out.Len() > 0 {
		if _, err := c.Write(out.Bytes()); err != nil {
			return gnet.Close
		}
	}
	return action
}

func (s *Server) execute(sess *session, packet *respio.RespPacket) *respio.RespPacket {
	if packet.Type != respio.RespArray || len(packet.Array) == 0 {
		return errReply("ERR Protocol error: expected a command array")
	}
	args := make([]string, 0, len(packet.Array))
	for _, item := range packet.Array {
		if item.Type != respio.RespString || item.Data == nil {
			return errReply("ERR Protocol error: expected bulk string arguments")
		}
		args = append(args, string(item.Data))
	}
	name := strings.ToUpper(string(packet.GetCommand()))
	req := &request{name: name, args: args[1:], session: sess}
	if s.opts.Password != "" && !sess.authenticated.Load() {
		switch name {
		case "AUTH", "HELLO", "QUIT":
		default:
			return errReply("NOAUTH Authentication required.")
		}
	}
	h, ok := handlers[name]
	if !ok {
		return errReply("ERR unknown command '%s', with args beginning with: %s", args[0], quoteArgs(args[1:]))
	}
	start := time.Now()
	reply, simulated := h(s, req)
	if !reply.IsError() {
		s.store.observe(strings.ToLower(name), args, sess.addr, time.Since(start)+simulated, simulated)
	}
	return reply
}

func quoteArgs(args []string) string {
	var b strings.Builder
	for _, arg := range args {
		fmt.Fprintf(&b, "'%s' ", arg)
	}
	return b.String()
}

// FreePort asks the kernel for a free TCP port on the loopback interface.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
