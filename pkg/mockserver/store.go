package mockserver

import (
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	latencySamples = 160
	slowlogMaxLen  = 128
)

type latencySample struct {
	ts int64
	ms int64
}

type latencyEvent struct {
	samples []latencySample
	max     int64
}

type slowlogEntry struct {
	id     int64
	ts     int64
	micros int64
	args   []string
	addr   string
	name   string
}

type kvEntry struct {
	value    string
	expireAt time.Time
}

type commandStat struct {
	calls int64
	// buckets counts calls per power-of-two microsecond bound.
	buckets map[int64]int64
}

// store is the whole server state. Every method takes the lock.
type store struct {
	mu       sync.Mutex
	now      func() time.Time
	kv       map[string]kvEntry
	config   map[string]string
	events   map[string]*latencyEvent
	slowlog  []slowlogEntry
	nextSlow int64
	stats    map[string]*commandStat
}

func newStore(now func() time.Time) *store {
	return &store{
		now: now,
		kv:  map[string]kvEntry{},
		config: map[string]string{
			"latency-monitor-threshold": "0",
			"latency-tracking":          "yes",
			"slowlog-log-slower-than":   "10000",
			"slowlog-max-len":           "128",
			"maxmemory":                 "0",
			"appendonly":                "no",
		},
		events: map[string]*latencyEvent{},
		stats:  map[string]*commandStat{},
	}
}

func (s *store) configGet(patterns []string) [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := lo.Keys(s.config)
	sort.Strings(names)
	var out [][2]string
	for _, name := range names {
		for _, pattern := range patterns {
			if ok, _ := path.Match(pattern, name); ok {
				out = append(out, [2]string{name, s.config[name]})
				break
			}
		}
	}
	return out
}

func (s *store) configSet(pairs [][2]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range pairs {
		s.config[kv[0]] = kv[1]
	}
}

// observe records one executed command in the command stats. Only the
// simulated part of its duration feeds the latency monitor and the slow log,
// so real scheduling noise never shows up as a spike.
func (s *store) observe(name string, args []string, addr string, elapsed, simulated time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	micros := elapsed.Microseconds()
	stat, ok := s.stats[name]
	if !ok {
		stat = &commandStat{buckets: map[int64]int64{}}
		s.stats[name] = stat
	}
	stat.calls++
	bound := int64(1)
	for bound < micros {
		bound <<= 1
	}
	stat.buckets[bound]++

	if simulated <= 0 {
		return
	}
	ms := simulated.Milliseconds()
	threshold, _ := strconv.ParseInt(s.config["latency-monitor-threshold"], 10, 64)
	if threshold > 0 && ms >= threshold {
		s.addLatency("command", ms)
	}
	slower, _ := strconv.ParseInt(s.config["slowlog-log-slower-than"], 10, 64)
	if slower >= 0 && simulated.Microseconds() >= slower {
		s.nextSlow++
		entry := slowlogEntry{
			id:     s.nextSlow - 1,
			ts:     s.now().Unix(),
			micros: simulated.Microseconds(),
			args:   append([]string(nil), args...),
			addr:   addr,
		}
		s.slowlog = append([]slowlogEntry{entry}, s.slowlog...)
		if len(s.slowlog) > slowlogMaxLen {
			s.slowlog = s.slowlog[:slowlogMaxLen]
		}
	}
}

func (s *store) addLatency(event string, ms int64) {
	e, ok := s.events[event]
	if !ok {
		e = &latencyEvent{}
		s.events[event] = e
	}
	e.samples = append(e.samples, latencySample{ts: s.now().Unix(), ms: ms})
	if len(e.samples) > latencySamples {
		e.samples = e.samples[len(e.samples)-latencySamples:]
	}
	if ms > e.max {
		e.max = ms
	}
}

// injectLatency records a latency spike for event regardless of the threshold.
func (s *store) injectLatency(event string, ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLatency(event, ms)
}

type latestRow struct {
	event string
	ts    int64
	last  int64
	max   int64
}

func (s *store) latencyLatest() []latestRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := lo.Keys(s.events)
	sort.Strings(names)
	rows := make([]latestRow, 0, len(names))
	for _, name := range names {
		e := s.events[name]
		last := e.samples[len(e.samples)-1]
		rows = append(rows, latestRow{event: name, ts: last.ts, last: last.ms, max: e.max})
	}
	return rows
}

func (s *store) latencyHistory(event string) []latencySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[event]
	if !ok {
		return nil
	}
	return append([]latencySample(nil), e.samples...)
}

// latencyReset clears the named events, or all of them when none is named,
// and returns how many existed.
func (s *store) latencyReset(events []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(events) == 0 {
		n := len(s.events)
		s.events = map[string]*latencyEvent{}
		return int64(n)
	}
	var n int64
	for _, event := range lo.Uniq(events) {
		if _, ok := s.events[event]; ok {
			delete(s.events, event)
			n++
		}
	}
	return n
}

func (s *store) histogram(commands []string) map[string]commandStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]commandStat{}
	for name, stat := range s.stats {
		if len(commands) > 0 && !lo.Contains(commands, name) {
			continue
		}
		out[name] = commandStat{calls: stat.calls, buckets: lo.Assign(stat.buckets)}
	}
	return out
}

func (s *store) resetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = map[string]*commandStat{}
}

func (s *store) slowlogGet(count int) []slowlogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count < 0 || count > len(s.slowlog) {
		count = len(s.slowlog)
	}
	return append([]slowlogEntry(nil), s.slowlog[:count]...)
}

func (s *store) slowlogLen() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.slowlog))
}

func (s *store) slowlogReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowlog = nil
}

func (s *store) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(key)
}

// load must be called with the lock held.
func (s *store) load(key string) (string, bool) {
	e, ok := s.kv[key]
	if !ok {
		return "", false
	}
	if !e.expireAt.IsZero() && !s.now().Before(e.expireAt) {
		delete(s.kv, key)
		return "", false
	}
	return e.value, true
}

// set stores key unless the NX/XX condition fails.
func (s *store) set(key, value string, ttl time.Duration, nx, xx bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.load(key)
	if (nx && exists) || (xx && !exists) {
		return false
	}
	e := kvEntry{value: value}
	if ttl > 0 {
		e.expireAt = s.now().Add(ttl)
	}
	s.kv[key] = e
	return true
}

func (s *store) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := s.load(key); ok {
			delete(s.kv, key)
			n++
		}
	}
	return n
}

func (s *store) exists(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := s.load(key); ok {
			n++
		}
	}
	return n
}

func (s *store) incr(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if v, ok := s.load(key); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	e := s.kv[key]
	e.value = strconv.FormatInt(n, 10)
	s.kv[key] = e
	return n, nil
}

func (s *store) dbSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.kv {
		if _, ok := s.load(key); ok {
			n++
		}
	}
	return n
}
