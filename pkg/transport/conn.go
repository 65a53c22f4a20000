package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pzhenzhou/respcmd/pkg/common"
	"github.com/pzhenzhou/respcmd/pkg/respio"
)

var (
	logger       = common.InitLogger().WithName("transport")
	drainTimeout = 500 * time.Millisecond
)

var (
	// ErrClosed is returned for requests on a closed connection or ring.
	ErrClosed = errors.New("respcmd transport: connection is closed")
	// ErrQueueFull is returned when the write queue of a connection is full.
	ErrQueueFull = errors.New("respcmd transport: write queue is full")
)

type result struct {
	reply *respio.RespPacket
	err   error
}

type request struct {
	packet *respio.RespPacket
	// done has room for exactly one result so the loops never block on a
	// caller that already gave up.
	done chan result
}

func (r *request) complete(reply *respio.RespPacket, err error) {
	r.done <- result{reply: reply, err: err}
}

// Conn is one pipelined connection. Requests are written in order by the
// write loop and matched to replies in the same order by the read loop.
type Conn struct {
	ID     string
	conn   net.Conn
	reader *respio.RespReader
	writer *respio.RespWriter
	// pendingQ holds requests written to the server whose reply has not been read yet.
	pendingQ chan *request
	// writeQ holds requests waiting to be written.
	writeQ  chan *request
	quit    chan struct{}
	closed  atomic.Bool
	created time.Time
	usedAt  atomic.Int64
	wg      sync.WaitGroup
	onClose func(*Conn)
}

type ConnOptions struct {
	Addr        string
	DialTimeout time.Duration
	QueueSize   int
	Auth        *common.AuthInfo
	// OnClose is called once, from a connection goroutine, after the connection died or was closed.
	OnClose func(*Conn)
}

// Dial opens a connection and authenticates it before any request is accepted.
func Dial(ctx context.Context, opts ConnOptions) (*Conn, error) {
	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		logger.Error(err, "Failed to dial server", "Addr", opts.Addr)
		return nil, err
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 128
	}
	c := &Conn{
		ID:       shortuuid.New(),
		conn:     conn,
		reader:   respio.NewRespReader(conn),
		writer:   respio.NewRespWriter(conn),
		pendingQ: make(chan *request, queueSize),
		writeQ:   make(chan *request, queueSize),
		quit:     make(chan struct{}),
		created:  time.Now(),
		onClose:  opts.OnClose,
	}
	c.usedAt.Store(c.created.Unix())
	if opts.Auth != nil {
		if err := c.auth(ctx, opts.Auth, opts.DialTimeout); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// auth runs AUTH synchronously, before the loops own the socket.
func (c *Conn) auth(ctx context.Context, info *common.AuthInfo, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && (timeout <= 0 || d.Before(deadline)) {
		deadline = d
	}
	if timeout > 0 || !deadline.IsZero() {
		_ = c.conn.SetDeadline(deadline)
		defer func() {
			_ = c.conn.SetDeadline(time.Time{})
		}()
	}
	args := info.AuthArgs()
	items := make([]*respio.RespPacket, 0, len(args))
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			items = append(items, respio.NewBulkStringPacket(v))
		case []byte:
			items = append(items, respio.NewBulkPacket(v))
		}
	}
	if err := c.writer.WriteAndFlush(respio.NewArrayPacket(items...)); err != nil {
		return err
	}
	reply, err := c.reader.Read()
	if err != nil {
		return err
	}
	if reply.IsError() {
		logger.Info("Authentication rejected", "connId", c.ID, "auth", info.String())
		return fmt.Errorf("respcmd transport: auth failed: %s", reply.Data)
	}
	return nil
}

// Do sends packet and waits for its reply. A cancelled ctx abandons the wait;
// the reply is still read off the wire and discarded so the pipeline stays aligned.
func (c *Conn) Do(ctx context.Context, packet *respio.RespPacket) (*respio.RespPacket, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := &request{packet: packet, done: make(chan result, 1)}
	select {
	case c.writeQ <- req:
	case <-c.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, ErrQueueFull
	}
	c.usedAt.Store(time.Now().Unix())
	select {
	case res := <-req.done:
		return res.reply, res.err
	case <-c.quit:
		select {
		case res := <-req.done:
			return res.reply, res.err
		case <-time.After(drainTimeout):
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) writeLoop() {
	defer func() {
		c.wg.Done()
		logger.V(1).Info("Conn writeLoop done", "connId", c.ID)
	}()
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.writeQ:
			// Registered before the write so the read loop can never see a
			// reply with no matching request.
			select {
			case c.pendingQ <- req:
			case <-c.quit:
				req.complete(nil, ErrClosed)
				return
			}
			if err := c.writer.WriteAndFlush(req.packet); err != nil {
				logger.Error(err, "Conn failed to write packet", "connId", c.ID)
				c.Clear(err)
				c.drainQueues(err)
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer func() {
		c.wg.Done()
		logger.V(1).Info("Conn readLoop done", "connId", c.ID)
	}()
	for {
		packet, err := c.reader.Read()
		if err != nil {
			if !c.closed.Load() {
				logger.Info("Conn readLoop connection lost", "connId", c.ID, "error", err)
			}
			c.Clear(err)
			return
		}
		select {
		case req := <-c.pendingQ:
			req.complete(packet, nil)
		case <-c.quit:
			return
		default:
			// Push messages and replies to abandoned requests land here.
			logger.Info("Conn dropped unsolicited reply", "connId", c.ID, "packet", packet.String())
		}
	}
}

// Clear closes the connection once and fails every queued request with cause.
func (c *Conn) Clear(cause error) {
	if c.closed.Swap(true) {
		return
	}
	close(c.quit)
	closeErr := c.conn.Close()
	logger.V(1).Info("Conn closed", "connId", c.ID, "cause", cause, "error", closeErr)
	if cause == nil || errors.Is(cause, net.ErrClosed) {
		cause = ErrClosed
	}
	c.drainQueues(cause)
	if c.onClose != nil {
		c.onClose(c)
	}
}

func (c *Conn) drainQueues(cause error) {
	timeout := time.After(drainTimeout)
	for {
		select {
		case <-timeout:
			logger.Info("Conn drain timeout", "connId", c.ID)
			return
		case req := <-c.pendingQ:
			req.complete(nil, cause)
		case req := <-c.writeQ:
			req.complete(nil, cause)
		default:
			return
		}
	}
}

func (c *Conn) Close() error {
	c.Clear(nil)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		logger.Info("Conn shutdown timed out", "connId", c.ID)
	}
	return nil
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Pending is the number of requests queued or awaiting a reply.
func (c *Conn) Pending() int {
	return len(c.writeQ) + len(c.pendingQ)
}

func (c *Conn) UsedAt() time.Time {
	return time.Unix(c.usedAt.Load(), 0)
}

func (c *Conn) Created() time.Time {
	return c.created
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
