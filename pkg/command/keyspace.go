package command

import (
	"time"
)

type SetCondition uint8

const (
	SetAlways SetCondition = iota
	// SetNX only sets keys that do not exist.
	SetNX
	// SetXX only sets keys that already exist.
	SetXX
)

type SetParams struct {
	Key   string
	Value string
	// TTL is sent as EX when it is a whole number of seconds, PX otherwise.
	// Sub-millisecond precision is rejected. 0 means no expiry.
	TTL       time.Duration
	Condition SetCondition
}

var (
	Get = New[string, *string]("GET", buildKeyCommand("GET"), TransformNullableString,
		WithFlags(FlagReadOnly|FlagCacheable), WithKeyIndex(1))
	Set = New[SetParams, bool]("SET", buildSet, TransformOK, WithKeyIndex(1))
	Del = New[[]string, int64]("DEL", buildKeysCommand("DEL"), TransformInteger, WithKeyIndex(1))
	Exists = New[[]string, int64]("EXISTS", buildKeysCommand("EXISTS"), TransformInteger,
		WithFlags(FlagReadOnly|FlagCacheable), WithKeyIndex(1))
	Incr   = New[string, int64]("INCR", buildKeyCommand("INCR"), TransformInteger, WithKeyIndex(1))
	DBSize = New[NoArgs, int64]("DBSIZE", fixed("DBSIZE"), TransformInteger, WithFlags(FlagReadOnly))
)

func buildKeyCommand(name string) BuildFunc[string] {
	return func(key string) (Args, error) {
		if key == "" {
			return nil, invalidArg("key is required")
		}
		return Args{name, key}, nil
	}
}

func buildKeysCommand(name string) BuildFunc[[]string] {
	return func(keys []string) (Args, error) {
		if len(keys) == 0 {
			return nil, invalidArg("at least one key is required")
		}
		args := make(Args, 0, 1+len(keys))
		args = append(args, name)
		for i, key := range keys {
			if key == "" {
				return nil, invalidArg("key %d is empty", i)
			}
			args = append(args, key)
		}
		return args, nil
	}
}

func buildSet(p SetParams) (Args, error) {
	if p.Key == "" {
		return nil, invalidArg("key is required")
	}
	if p.TTL < 0 {
		return nil, invalidArg("ttl %s is negative", p.TTL)
	}
	args := Args{"SET", p.Key, p.Value}
	switch {
	case p.TTL == 0:
	case p.TTL%time.Second == 0:
		args = append(args, "EX", int64(p.TTL/time.Second))
	case p.TTL%time.Millisecond != 0:
		return nil, invalidArg("ttl %s is not a whole number of milliseconds", p.TTL)
	default:
		args = append(args, "PX", p.TTL.Milliseconds())
	}
	switch p.Condition {
	case SetAlways:
	case SetNX:
		args = append(args, "NX")
	case SetXX:
		args = append(args, "XX")
	default:
		return nil, invalidArg("unknown set condition %d", p.Condition)
	}
	return args, nil
}
