package command

import (
	"github.com/pzhenzhou/respcmd/pkg/respio"
)

type SlowlogEntry struct {
	ID               int64    `json:"id"`
	TimestampSeconds int64    `json:"timestamp_seconds"`
	DurationMicros   int64    `json:"duration_micros"`
	Args             []string `json:"args"`
	ClientAddr       string   `json:"client_addr,omitempty"`
	ClientName       string   `json:"client_name,omitempty"`
}

var (
	// SlowlogGet takes the entry count; 0 leaves it to the server default and -1 asks for all.
	SlowlogGet = New[int, []SlowlogEntry]("SLOWLOG.GET", buildSlowlogGet, transformSlowlog,
		WithFlags(FlagAdmin|FlagReadOnly))
	SlowlogLen = New[NoArgs, int64]("SLOWLOG.LEN", fixed("SLOWLOG", "LEN"), TransformInteger,
		WithFlags(FlagAdmin|FlagReadOnly))
	SlowlogReset = New[NoArgs, string]("SLOWLOG.RESET", fixed("SLOWLOG", "RESET"), TransformStatus,
		WithFlags(FlagAdmin))
)

func buildSlowlogGet(count int) (Args, error) {
	switch {
	case count == 0:
		return Args{"SLOWLOG", "GET"}, nil
	case count < -1:
		return nil, invalidArg("count %d must be -1 or positive", count)
	default:
		return Args{"SLOWLOG", "GET", count}, nil
	}
}

// transformSlowlog reads entries of 4 fields (before Redis 4.0) or 6 fields.
func transformSlowlog(reply *respio.RespPacket) ([]SlowlogEntry, error) {
	rows, err := replyArray(reply)
	if err != nil {
		return nil, err
	}
	entries := make([]SlowlogEntry, 0, len(rows))
	for _, row := range rows {
		fields, err := replyArray(row)
		if err != nil {
			return nil, mismatch("array of slowlog entries", row)
		}
		if len(fields) != 4 && len(fields) != 6 {
			return nil, mismatchf("slowlog entry of 4 or 6 fields", "%d fields", len(fields))
		}
		var entry SlowlogEntry
		if entry.ID, err = replyInt(fields[0]); err != nil {
			return nil, err
		}
		if entry.TimestampSeconds, err = replyInt(fields[1]); err != nil {
			return nil, err
		}
		if entry.DurationMicros, err = replyInt(fields[2]); err != nil {
			return nil, err
		}
		if entry.Args, err = TransformStringSlice(fields[3]); err != nil {
			return nil, err
		}
		if len(fields) == 6 {
			if entry.ClientAddr, err = replyString(fields[4]); err != nil {
				return nil, err
			}
			if entry.ClientName, err = replyString(fields[5]); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
