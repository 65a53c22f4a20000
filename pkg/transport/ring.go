package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buraksezer/consistent"
	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/pzhenzhou/respcmd/pkg/command"
	"github.com/pzhenzhou/respcmd/pkg/common"
	"github.com/pzhenzhou/respcmd/pkg/respio"
)

var (
	// ErrNoConn is returned when every connection of the ring is down.
	ErrNoConn = errors.New("respcmd transport: no live connection")

	redialPause = time.Second

	consistentCfg = consistent.Config{
		PartitionCount:    256,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            memberHash{},
	}
)

type slotMember string

func (m slotMember) String() string {
	return string(m)
}

type memberHash struct{}

func (h memberHash) Sum64(key []byte) uint64 {
	return xxhash.Sum64(key)
}

type RingConfig struct {
	Addr         string
	Auth         *common.AuthInfo
	Size         int
	QueueSize    int
	DialTimeout  time.Duration
	ReplyTimeout time.Duration
	// DialRetry bounds the elapsed time of the backoff used for the initial
	// dial and for every redial.
	DialRetry time.Duration
}

func NewRingConfig(cfg *common.ClientConfig) *RingConfig {
	return &RingConfig{
		Addr:         cfg.Server.Addr,
		Auth:         cfg.Server.AuthInfo(),
		Size:         cfg.Ring.Size,
		QueueSize:    cfg.Ring.QueueSize,
		DialTimeout:  cfg.Ring.DialTimeout,
		ReplyTimeout: cfg.Ring.ReplyTimeout,
		DialRetry:    cfg.Ring.DialRetry,
	}
}

type RingStatus struct {
	Addr    string       `json:"addr"`
	Size    int          `json:"size"`
	Live    int          `json:"live"`
	Sent    uint64       `json:"sent"`
	Failed  uint64       `json:"failed"`
	Redials uint64       `json:"redials"`
	Conns   []ConnStatus `json:"conns"`
}

type ConnStatus struct {
	Slot       string    `json:"slot"`
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Pending    int       `json:"pending"`
	Created    time.Time `json:"created"`
	UsedAt     time.Time `json:"used_at"`
}

// Ring keeps a fixed number of pipelined connections to one server. Keyed
// commands are routed by consistent hashing over the slots so the same key
// always uses the same connection; everything else is spread round robin.
// A dead slot is redialed in the background with exponential backoff.
type Ring struct {
	cfg     *RingConfig
	slots   []string
	onLines *xsync.MapOf[string, *Conn]
	cHasher *consistent.Consistent
	next    atomic.Uint64
	closed  atomic.Bool
	// mu orders closing against redial bookkeeping: wg.Add and slot stores
	// happen only while holding it with closed still false.
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	sent    atomic.Uint64
	failed  atomic.Uint64
	redials atomic.Uint64
}

// NewRing dials every slot and returns once all of them are connected.
func NewRing(ctx context.Context, cfg *RingConfig) (*Ring, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("invalid ring size: %d", cfg.Size)
	}
	ringCtx, cancel := context.WithCancel(context.Background())
	r := &Ring{
		cfg:     cfg,
		slots:   make([]string, cfg.Size),
		onLines: xsync.NewMapOf[string, *Conn](),
		cHasher: consistent.New(nil, consistentCfg),
		ctx:     ringCtx,
		cancel:  cancel,
	}
	for i := range r.slots {
		r.slots[i] = "slot-" + strconv.Itoa(i)
		r.cHasher.Add(slotMember(r.slots[i]))
	}
	for _, slot := range r.slots {
		conn, err := r.dialWithRetry(ctx, slot)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.onLines.Store(slot, conn)
	}
	logger.Info("Connection ring ready", "addr", cfg.Addr, "size", cfg.Size)
	return r, nil
}

func (r *Ring) dialWithRetry(ctx context.Context, slot string) (*Conn, error) {
	opts := ConnOptions{
		Addr:        r.cfg.Addr,
		DialTimeout: r.cfg.DialTimeout,
		QueueSize:   r.cfg.QueueSize,
		Auth:        r.cfg.Auth,
		OnClose: func(c *Conn) {
			r.onConnClosed(slot, c)
		},
	}
	retryOpts := []backoff.RetryOption{backoff.WithBackOff(backoff.NewExponentialBackOff())}
	if r.cfg.DialRetry > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(r.cfg.DialRetry))
	}
	return backoff.Retry[*Conn](ctx, func() (*Conn, error) {
		if r.closed.Load() {
			return nil, backoff.Permanent(ErrClosed)
		}
		conn, err := Dial(ctx, opts)
		if err != nil {
			if !common.IsConnUnavailable(err) && !isTimeout(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return conn, nil
	}, retryOpts...)
}

func (r *Ring) onConnClosed(slot string, c *Conn) {
	r.onLines.Compute(slot, func(old *Conn, loaded bool) (*Conn, bool) {
		// Only forget the slot if it still points at the dead connection.
		if loaded && old == c {
			return nil, true
		}
		return old, !loaded
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.redial(slot)
	}()
}

func (r *Ring) redial(slot string) {
	for !r.closed.Load() {
		conn, err := r.dialWithRetry(r.ctx, slot)
		if err == nil {
			if !r.storeRedialed(slot, conn) {
				_ = conn.Close()
				return
			}
			r.redials.Add(1)
			logger.Info("Connection ring slot redialed", "slot", slot, "connId", conn.ID)
			return
		}
		logger.Error(err, "Connection ring redial failed", "slot", slot)
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(redialPause):
		}
	}
}

// Send implements dispatch.Transport.
func (r *Ring) Send(ctx context.Context, args command.Args) (*respio.RespPacket, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	packet, err := args.Packet()
	if err != nil {
		return nil, err
	}
	var key []byte
	if def, ok := command.DefinitionFromContext(ctx); ok {
		key = command.RoutingKey(def, args)
	}
	conn, err := r.pick(key)
	if err != nil {
		r.failed.Add(1)
		return nil, err
	}
	if r.cfg.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ReplyTimeout)
		defer cancel()
	}
	r.sent.Add(1)
	reply, err := conn.Do(ctx, packet)
	if err != nil {
		r.failed.Add(1)
		return nil, err
	}
	return reply, nil
}

func (r *Ring) pick(key []byte) (*Conn, error) {
	if key != nil {
		member := r.cHasher.LocateKey(key)
		if member != nil {
			if conn, ok := r.onLines.Load(member.String()); ok && !conn.IsClosed() {
				return conn, nil
			}
		}
	}
	n := uint64(len(r.slots))
	start := r.next.Add(1)
	for i := uint64(0); i < n; i++ {
		if conn, ok := r.onLines.Load(r.slots[(start+i)%n]); ok && !conn.IsClosed() {
			return conn, nil
		}
	}
	return nil, ErrNoConn
}

func (r *Ring) Status() *RingStatus {
	status := &RingStatus{
		Addr:    r.cfg.Addr,
		Size:    len(r.slots),
		Sent:    r.sent.Load(),
		Failed:  r.failed.Load(),
		Redials: r.redials.Load(),
		Conns:   make([]ConnStatus, 0, len(r.slots)),
	}
	for _, slot := range r.slots {
		conn, ok := r.onLines.Load(slot)
		if !ok || conn.IsClosed() {
			continue
		}
		status.Live++
		status.Conns = append(status.Conns, ConnStatus{
			Slot:       slot,
			ID:         conn.ID,
			RemoteAddr: conn.RemoteAddr().String(),
			Pending:    conn.Pending(),
			Created:    conn.Created(),
			UsedAt:     conn.UsedAt(),
		})
	}
	return status
}

// storeRedialed puts conn back into its slot unless the ring is closed.
func (r *Ring) storeRedialed(slot string, conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return false
	}
	r.onLines.Store(slot, conn)
	return true
}

func (r *Ring) Close() error {
	r.mu.Lock()
	if r.closed.Swap(true) {
		r.mu.Unlock()
		return ErrClosed
	}
	r.mu.Unlock()
	r.cancel()
	r.onLines.Range(func(slot string, conn *Conn) bool {
		_ = conn.Close()
		return true
	})
	r.onLines.Clear()
	r.wg.Wait()
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
