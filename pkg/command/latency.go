package command

import (
	"github.com/pzhenzhou/respcmd/pkg/respio"
)

// LatencyLatestEntry is one row of LATENCY LATEST.
type LatencyLatestEntry struct {
	Event                string `json:"event"`
	LastTimestampSeconds int64  `json:"last_timestamp_seconds"`
	LastDurationMs       int64  `json:"last_duration_ms"`
	MaxDurationMs        int64  `json:"max_duration_ms"`
}

// LatencyHistoryEntry is one sample of LATENCY HISTORY <event>.
type LatencyHistoryEntry struct {
	TimestampSeconds int64 `json:"timestamp_seconds"`
	DurationMs       int64 `json:"duration_ms"`
}

// LatencyHistogram is the per-command entry of LATENCY HISTOGRAM.
// Buckets maps the upper bound in microseconds to the cumulative call count.
type LatencyHistogram struct {
	Calls   int64           `json:"calls"`
	Buckets map[int64]int64 `json:"histogram_usec"`
}

var (
	LatencyReset = New[Scope, int64]("LATENCY.RESET", buildLatencyReset, TransformInteger,
		WithFlags(FlagAdmin))
	LatencyLatest = New[NoArgs, []LatencyLatestEntry]("LATENCY.LATEST", fixed("LATENCY", "LATEST"),
		transformLatencyLatest, WithFlags(FlagAdmin|FlagReadOnly))
	LatencyHistory = New[string, []LatencyHistoryEntry]("LATENCY.HISTORY", buildLatencyEvent("HISTORY"),
		transformLatencyHistory, WithFlags(FlagAdmin|FlagReadOnly))
	LatencyDoctor = New[NoArgs, string]("LATENCY.DOCTOR", fixed("LATENCY", "DOCTOR"), TransformString,
		WithFlags(FlagAdmin|FlagReadOnly))
	LatencyGraph = New[string, string]("LATENCY.GRAPH", buildLatencyEvent("GRAPH"), TransformString,
		WithFlags(FlagAdmin|FlagReadOnly))
	LatencyHistogramCmd = New[[]string, map[string]LatencyHistogram]("LATENCY.HISTOGRAM", buildLatencyHistogram,
		transformLatencyHistogram, WithFlags(FlagAdmin|FlagReadOnly))
	LatencyHelp = New[NoArgs, []string]("LATENCY.HELP", fixed("LATENCY", "HELP"), TransformStringSlice,
		WithFlags(FlagReadOnly))
)

// fixed builds commands whose token sequence never changes.
func fixed(tokens ...any) BuildFunc[NoArgs] {
	return func(NoArgs) (Args, error) {
		args := make(Args, len(tokens))
		copy(args, tokens)
		return args, nil
	}
}

func buildLatencyReset(scope Scope) (Args, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	return scope.appendTo(Args{"LATENCY", "RESET"}), nil
}

func buildLatencyEvent(sub string) BuildFunc[string] {
	return func(event string) (Args, error) {
		if event == "" {
			return nil, invalidArg("event name is required")
		}
		return Args{"LATENCY", sub, event}, nil
	}
}

func buildLatencyHistogram(commands []string) (Args, error) {
	args := Args{"LATENCY", "HISTOGRAM"}
	for i, cmd := range commands {
		if cmd == "" {
			return nil, invalidArg("command name %d is empty", i)
		}
		args = append(args, cmd)
	}
	return args, nil
}

func transformLatencyLatest(reply *respio.RespPacket) ([]LatencyLatestEntry, error) {
	rows, err := replyArray(reply)
	if err != nil {
		return nil, err
	}
	entries := make([]LatencyLatestEntry, 0, len(rows))
	for _, row := range rows {
		fields, err := replyArray(row)
		if err != nil {
			return nil, mismatch("array of 4-element arrays", row)
		}
		if len(fields) != 4 {
			return nil, mismatchf("array of 4-element arrays", "%d-element array", len(fields))
		}
		var entry LatencyLatestEntry
		if entry.Event, err = replyString(fields[0]); err != nil {
			return nil, err
		}
		if entry.LastTimestampSeconds, err = replyInt(fields[1]); err != nil {
			return nil, err
		}
		if entry.LastDurationMs, err = replyInt(fields[2]); err != nil {
			return nil, err
		}
		if entry.MaxDurationMs, err = replyInt(fields[3]); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func transformLatencyHistory(reply *respio.RespPacket) ([]LatencyHistoryEntry, error) {
	rows, err := replyArray(reply)
	if err != nil {
		return nil, err
	}
	entries := make([]LatencyHistoryEntry, 0, len(rows))
	for _, row := range rows {
		fields, err := replyArray(row)
		if err != nil {
			return nil, mismatch("array of 2-element arrays", row)
		}
		if len(fields) != 2 {
			return nil, mismatchf("array of 2-element arrays", "%d-element array", len(fields))
		}
		var entry LatencyHistoryEntry
		if entry.TimestampSeconds, err = replyInt(fields[0]); err != nil {
			return nil, err
		}
		if entry.DurationMs, err = replyInt(fields[1]); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// transformLatencyHistogram reads
// {command: {"calls": n, "histogram_usec": {bucket: count, ...}}, ...}
// from RESP3 maps or RESP2 flat arrays at every level.
func transformLatencyHistogram(reply *respio.RespPacket) (map[string]LatencyHistogram, error) {
	commands, err := replyPairs(reply)
	if err != nil {
		return nil, err
	}
	out := make(map[string]LatencyHistogram, len(commands))
	for _, cmd := range commands {
		name, err := replyString(cmd[0])
		if err != nil {
			return nil, err
		}
		fields, err := replyPairs(cmd[1])
		if err != nil {
			return nil, err
		}
		hist := LatencyHistogram{Buckets: map[int64]int64{}}
		for _, field := range fields {
			key, err := replyString(field[0])
			if err != nil {
				return nil, err
			}
			switch key {
			case "calls":
				if hist.Calls, err = replyInt(field[1]); err != nil {
					return nil, err
				}
			case "histogram_usec":
				buckets, err := replyPairs(field[1])
				if err != nil {
					return nil, err
				}
				for _, bucket := range buckets {
					bound, err := replyInt(bucket[0])
					if err != nil {
						return nil, err
					}
					count, err := replyInt(bucket[1])
					if err != nil {
						return nil, err
					}
					hist.Buckets[bound] = count
				}
			}
		}
		out[name] = hist
	}
	return out, nil
}
