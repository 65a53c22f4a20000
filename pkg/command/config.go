package command

import (
	"math"
	"time"
)

// ConfigParam is one name/value pair of CONFIG SET.
type ConfigParam struct {
	Name  string
	Value string
}

var (
	ConfigSet = New[[]ConfigParam, string]("CONFIG.SET", buildConfigSet, TransformStatus,
		WithFlags(FlagAdmin))
	ConfigGet = New[[]string, map[string]string]("CONFIG.GET", buildConfigGet, TransformStringMap,
		WithFlags(FlagAdmin|FlagReadOnly))
	ConfigResetStat = New[NoArgs, string]("CONFIG.RESETSTAT", fixed("CONFIG", "RESETSTAT"), TransformStatus,
		WithFlags(FlagAdmin))
	DebugSleep = New[time.Duration, string]("DEBUG.SLEEP", buildDebugSleep, TransformStatus,
		WithFlags(FlagAdmin))
)

func buildConfigSet(params []ConfigParam) (Args, error) {
	if len(params) == 0 {
		return nil, invalidArg("at least one parameter is required")
	}
	args := make(Args, 0, 2+2*len(params))
	args = append(args, "CONFIG", "SET")
	for i, p := range params {
		if p.Name == "" {
			return nil, invalidArg("parameter %d has no name", i)
		}
		args = append(args, p.Name, p.Value)
	}
	return args, nil
}

func buildConfigGet(patterns []string) (Args, error) {
	if len(patterns) == 0 {
		return nil, invalidArg("at least one pattern is required")
	}
	args := make(Args, 0, 2+len(patterns))
	args = append(args, "CONFIG", "GET")
	for i, p := range patterns {
		if p == "" {
			return nil, invalidArg("pattern %d is empty", i)
		}
		args = append(args, p)
	}
	return args, nil
}

// buildDebugSleep sends the duration as fractional seconds, e.g. 100ms -> 0.1.
func buildDebugSleep(d time.Duration) (Args, error) {
	if d < 0 {
		return nil, invalidArg("sleep duration %s is negative", d)
	}
	secs := d.Seconds()
	if math.IsInf(secs, 0) || math.IsNaN(secs) {
		return nil, invalidArg("sleep duration %s is not finite", d)
	}
	return Args{"DEBUG", "SLEEP", secs}, nil
}
