package mockserver

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pzhenzhou/respcmd/pkg/respio"
)

// request is one parsed client command.
type request struct {
	name    string
	args    []string
	session *session
}

// handler returns the reply and, for commands that simulate work, how long
// the server pretends the command took.
type handler func(s *Server, req *request) (*respio.RespPacket, time.Duration)

var handlers map[string]handler

func init() {
	handlers = map[string]handler{
		"PING":    handlePing,
		"ECHO":    arity(1, 1, handleEcho),
		"AUTH":    arity(1, 2, handleAuth),
		"HELLO":   handleHello,
		"CLIENT":  handleClient,
		"QUIT":    handleQuit,
		"CONFIG":  arity(1, -1, handleConfig),
		"DEBUG":   arity(1, -1, handleDebug),
		"LATENCY": arity(1, -1, handleLatency),
		"SLOWLOG": arity(1, 2, handleSlowlog),
		"GET":     arity(1, 1, handleGet),
		"SET":     arity(2, -1, handleSet),
		"DEL":     arity(1, -1, handleDel),
		"EXISTS":  arity(1, -1, handleExists),
		"INCR":    arity(1, 1, handleIncr),
		"DBSIZE":  arity(0, 0, handleDBSize),
		"TIME":    arity(0, 0, handleTime),
		"INFO":    handleInfo,
	}
}

// arity checks the argument count, excluding the command name. max < 0 means unbounded.
func arity(minArgs, maxArgs int, h handler) handler {
	return func(s *Server, req *request) (*respio.RespPacket, time.Duration) {
		if len(req.args) < minArgs || (maxArgs >= 0 && len(req.args) > maxArgs) {
			return errReply("ERR wrong number of arguments for '%s' command", strings.ToLower(req.name)), 0
		}
		return h(s, req)
	}
}

func errReply(format string, args ...any) *respio.RespPacket {
	p := respio.AcquireRespPacket()
	p.Type = respio.RespError
	p.Data = []byte(fmt.Sprintf(format, args...))
	return p
}

func statusReply(s string) *respio.RespPacket {
	p := respio.AcquireRespPacket()
	p.Type = respio.RespStatus
	p.Data = []byte(s)
	return p
}

func okReply() *respio.RespPacket {
	return statusReply(string(respio.OkReply))
}

func intReply(n int64) *respio.RespPacket {
	p := respio.AcquireRespPacket()
	p.Type = respio.RespInt
	p.Data = strconv.AppendInt(nil, n, 10)
	return p
}

func bulkReply(s string) *respio.RespPacket {
	p := respio.AcquireRespPacket()
	p.Type = respio.RespString
	p.Data = []byte(s)
	return p
}

func nullBulkReply() *respio.RespPacket {
	p := respio.AcquireRespPacket()
	p.Type = respio.RespString
	return p
}

func unknownSubcommand(req *request) *respio.RespPacket {
	return errReply("ERR unknown subcommand '%s'. Try %s HELP.", req.args[0], req.name)
}

func handlePing(_ *Server, req *request) (*respio.RespPacket, time.Duration) {
	switch len(req.args) {
	case 0:
		return statusReply("PONG"), 0
	case 1:
		return bulkReply(req.args[0]), 0
	default:
		return errReply("ERR wrong number of arguments for 'ping' command"), 0
	}
}

func handleEcho(_ *Server, req *request) (*respio.RespPacket, time.Duration) {
	return bulkReply(req.args[0]), 0
}

func handleAuth(s *Server, req *request) (*respio.RespPacket, time.Duration) {
	if s.opts.Password == "" {
		return errReply("ERR AUTH <password> called without any password configured for the default user."), 0
	}
	user, pass := "default", req.args[0]
	if len(req.args) == 2 {
		user, pass = req.args[0], req.args[1]
	}
	wantUser := s.opts.Username
	if wantUser == "" {
		wantUser = "default"
	}
	if user != wantUser || pass != s.opts.Password {
		return errReply("WRONGPASS invalid username-password pair or user is disabled."), 0
	}
	req.session.authenticated.Store(true)
	return okReply(), 0
}

// handleHello refuses RESP3 so clients fall back to RESP2.
func handleHello(_ *Server, _ *request) (*respio.RespPacket, time.Duration) {
	return errReply("ERR unknown command 'HELLO', with args beginning with: "), 0
}

func handleClient(_ *Server, _ *request) (*respio.RespPacket, time.Duration) {
	return okReply(), 0
}

func handleQuit(_ *Server, req *request) (*respio.RespPacket, time.Duration) {
	req.session.quit = true
	return okReply(), 0
}

func handleConfig(s *Server, req *request) (*respio.RespPacket, time.Duration) {
	sub, rest := strings.ToUpper(req.args[0]), req.args[1:]
	switch sub {
	case "GET":
		if len(rest) == 0 {
			return errReply("ERR wrong number of arguments for 'config|get' command"), 0
		}
		reply := respio.AcquireArrayPacket()
		for _, kv := range s.store.configGet(rest) {
			reply.Array = append(reply.Array, bulkReply(kv[0]), bulkReply(kv[1]))
		}
		return reply, 0
	case "SET":
		if len(rest) == 0 || len(rest)%2 != 0 {
			return errReply("ERR wrong number of arguments for 'config|set' command"), 0
		}
		pairs := make([][2]string, 0, len(rest)/2)
		for i := 0; i < len(rest); i += 2 {
			name := strings.ToLower(rest[i])
			if name == "latency-monitor-threshold" || name == "slowlog-log-slower-than" {
				if _, err := strconv.ParseInt(rest[i+1], 10, 64); err != nil {
					return errReply("ERR CONFIG SET failed (possibly related to argument '%s') - argument couldn't be parsed into an integer", name), 0
				}
			}
			pairs = append(pairs, [2]string{name, rest[i+1]})
		}
		s.store.configSet(pairs)
		return okReply(), 0
	case "RESETSTAT":
		s.store.resetStats()
		s.store.slowlogReset()
		return okReply(), 0
	default:
		return unknownSubcommand(req), 0
	}
}

// handleDebug only knows SLEEP. It does not block the event loop; the
// requested duration is reported as the command's execution time instead.
func handleDebug(_ *Server, req *request) (*respio.RespPacket, time.Duration) {
	if strings.ToUpper(req.args[0]) != "SLEEP" {
		return unknownSubcommand(req), 0
	}
	if len(req.args) != 2 {
		return errReply("ERR wrong number of arguments for 'debug|sleep' command"), 0
	}
	secs, err := strconv.ParseFloat(req.args[1], 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return errReply("ERR value is not a valid float"), 0
	}
	if secs < 0 {
		secs = 0
	}
	return okReply(), time.Duration(secs * float64(time.Second))
}

func handleLatency(s *Server, req *request) (*respio.RespPacket, time.Duration) {
	sub, rest := strings.ToUpper(req.args[0]), req.args[1:]
	switch sub {
	case "LATEST":
		reply := respio.AcquireArrayPacket()
		for _, row := range s.store.latencyLatest() {
			reply.Array = append(reply.Array, respio.AcquireArrayPacket(
				bulkReply(row.event), intReply(row.ts), intReply(row.last), intReply(row.max)))
		}
		return reply, 0
	case "RESET":
		return intReply(s.store.latencyReset(rest)), 0
	case "HISTORY":
		if len(rest) != 1 {
			return errReply("ERR wrong number of arguments for 'latency|history' command"), 0
		}
		reply := respio.AcquireArrayPacket()
		for _, sample := range s.store.latencyHistory(rest[0]) {
			reply.Array = append(reply.Array, respio.AcquireArrayPacket(intReply(sample.ts), intReply(sample.ms)))
		}
		return reply, 0
	case "GRAPH":
		if len(rest) != 1 {
			return errReply("ERR wrong number of arguments for 'latency|graph' command"), 0
		}
		samples := s.store.latencyHistory(rest[0])
		if len(samples) == 0 {
			return errReply("ERR No samples available for event '%s'", rest[0]), 0
		}
		return bulkReply(latencyGraph(rest[0], samples)), 0
	case "DOCTOR":
		return bulkReply(latencyDoctor(s.store.latencyLatest())), 0
	case "HISTOGRAM":
		names := make([]string, 0, len(rest))
		for _, name := range rest {
			names = append(names, strings.ToLower(name))
		}
		reply := respio.AcquireArrayPacket()
		for name, stat := range s.store.histogram(names) {
			buckets := respio.AcquireArrayPacket()
			for bound, count := range stat.buckets {
				buckets.Array = append(buckets.Array, intReply(bound), intReply(count))
			}
			reply.Array = append(reply.Array, bulkReply(name), respio.AcquireArrayPacket(
				bulkReply("calls"), intReply(stat.calls), bulkReply("histogram_usec"), buckets))
		}
		return reply, 0
	case "HELP":
		reply := respio.AcquireArrayPacket()
		for _, line := range latencyHelp {
			reply.Array = append(reply.Array, statusReply(line))
		}
		return reply, 0
	default:
		return unknownSubcommand(req), 0
	}
}

var latencyHelp = []string{
	"LATENCY <subcommand> [<arg> [value] [opt] ...]. Subcommands are:",
	"DOCTOR",
	"    Return a human readable latency analysis report.",
	"GRAPH <event>",
	"    Return an ASCII latency graph for the <event> class.",
	"HISTORY <event>",
	"    Return time-latency samples for the <event> class.",
	"LATEST",
	"    Return the latest latency samples for all events.",
	"RESET [<event> ...]",
	"    Reset latency data of one or more <event> classes.",
	"    (default: reset all data for all event classes)",
	"HISTOGRAM [COMMAND ...]",
	"    Return a cumulative distribution of latencies in the format of a histogram for the specified command names.",
	"    If no commands are specified then all histograms are replied.",
	"HELP",
	"    Print this help.",
}

func latencyGraph(event string, samples []latencySample) string {
	high, low := samples[0].ms, samples[0].ms
	for _, sample := range samples {
		high = max(high, sample.ms)
		low = min(low, sample.ms)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s - high %d ms, low %d ms\n", event, high, low)
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, sample := range samples {
		width := 0
		if high > 0 {
			width = int(sample.ms * 40 / high)
		}
		fmt.Fprintf(&b, "%s %d\n", strings.Repeat("#", width+1), sample.ms)
	}
	return b.String()
}

func latencyDoctor(rows []latestRow) string {
	if len(rows) == 0 {
		return "Dave, no latency spike was observed during the lifetime of this Redis instance, not in the slightest bit. I honestly think you ought to sleep tonight.\n"
	}
	var b strings.Builder
	b.WriteString("Dave, I have observed latency spikes in this Redis instance. You don't mind talking about it, do you Dave?\n\n")
	for i, row := range rows {
		fmt.Fprintf(&b, "%d. %s: latest latency %d milliseconds, worst %d milliseconds.\n", i+1, row.event, row.last, row.max)
	}
	return b.String()
}

func handleSlowlog(s *Server, req *request) (*respio.RespPacket, time.Duration) {
	switch strings.ToUpper(req.args[0]) {
	case "GET":
		count := 10
		if len(req.args) == 2 {
			n, err := strconv.Atoi(req.args[1])
			if err != nil || n < -1 {
				return errReply("ERR count should be greater than or equal to -1"), 0
			}
			count = n
		}
		reply := respio.AcquireArrayPacket()
		for _, entry := range s.store.slowlogGet(count) {
			args := respio.AcquireArrayPacket()
			for _, arg := range entry.args {
				args.Array = append(args.Array, bulkReply(arg))
			}
			reply.Array = append(reply.Array, respio.AcquireArrayPacket(
				intReply(entry.id), intReply(entry.ts), intReply(entry.micros), args,
				bulkReply(entry.addr), bulkReply(entry.name)))
		}
		return reply, 0
	case "LEN":
		return intReply(s.store.slowlogLen()), 0
	case "RESET":
		s.store.slowlogReset()
		return okReply(), 0
	default:
		return unknownSubcommand(req), 0
	}
}

func handleGet(s *Server, req *request) (*respio.RespPacket, time.Duration) {
	if v, ok := s.store.get(req.args[0]); ok {
		return bulkReply(v), 0
	}
	return nullBulkReply(), 0
}

func handleSet(s *Server, req *request) (*respio.RespPacket, time.Duration) {
	key, value, opts := req.args[0], req.args[1], req.args[2:]
	var ttl time.Duration
	var nx, xx bool
	for i := 0; i < len(opts); i++ {
		switch strings.ToUpper(opts[i]) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "EX", "PX":
			if i+1 >= len(opts) {
				return errReply("ERR syntax error"), 0
			}
			n, err := strconv.ParseInt(opts[i+1], 10, 64)
			if err != nil || n <= 0 {
				return errReply("ERR invalid expire time in 'set' command"), 0
			}
			unit := time.Second
			if strings.ToUpper(opts[i]) == "PX" {
				unit = time.Millisecond
			}
			ttl = time.Duration(n) * unit
			i++
		default:
			return errReply("ERR syntax error"), 0
		}
	}
	if nx && xx {
		return errReply("ERR syntax error"), 0
	}
	if !s.store.set(key, value, ttl, nx, xx) {
		return nullBulkReply(), 0
	}
	return okReply(), 0
}

func handleDel(s *Server, req *request) (*respio.RespPacket, time.Duration) {
	return intReply(s.store.del(req.args)), 0
}

func handleExists(s *Server, req *request) (*respio.RespPacket, time.Duration) {
	return intReply(s.store.exists(req.args)), 0
}

func handleIncr(s *Server, req *request) (*respio.RespPacket, time.Duration) {
	n, err := s.store.incr(req.args[0])
	if err != nil {
		return errReply("ERR value is not an integer or out of range"), 0
	}
	return intReply(n), 0
}

func handleDBSize(s *Server, _ *request) (*respio.RespPacket, time.Duration) {
	return intReply(s.store.dbSize()), 0
}

func handleTime(s *Server, _ *request) (*respio.RespPacket, time.Duration) {
	now := s.store.now()
	return respio.AcquireArrayPacket(
		bulkReply(strconv.FormatInt(now.Unix(), 10)),
		bulkReply(strconv.FormatInt(int64(now.Nanosecond()/1000), 10)),
	), 0
}

func handleInfo(s *Server, _ *request) (*respio.RespPacket, time.Duration) {
	var b strings.Builder
	b.WriteString("# Server\r\nredis_version:7.2.0\r\nredis_mode:standalone\r\n")
	fmt.Fprintf(&b, "tcp_port:%d\r\n", s.port)
	fmt.Fprintf(&b, "# Clients\r\nconnected_clients:%d\r\n", s.sessions.Size())
	fmt.Fprintf(&b, "# Keyspace\r\ndb0:keys=%d,expires=0,avg_ttl=0\r\n", s.store.dbSize())
	return bulkReply(b.String()), 0
}
