package command

import (
	"time"
)

var (
	// Ping sends PING, or PING <message> when the message is not empty.
	Ping = New[string, string]("PING", buildPing, TransformString, WithFlags(FlagReadOnly))
	Echo = New[string, string]("ECHO", buildEcho, TransformString, WithFlags(FlagReadOnly))
	Time = New[NoArgs, time.Time]("TIME", fixed("TIME"), TransformTime, WithFlags(FlagReadOnly))
	Info = New[[]string, string]("INFO", buildInfo, TransformString, WithFlags(FlagReadOnly))
)

func buildPing(message string) (Args, error) {
	if message == "" {
		return Args{"PING"}, nil
	}
	return Args{"PING", message}, nil
}

func buildEcho(message string) (Args, error) {
	return Args{"ECHO", message}, nil
}

func buildInfo(sections []string) (Args, error) {
	args := Args{"INFO"}
	for i, s := range sections {
		if s == "" {
			return nil, invalidArg("section %d is empty", i)
		}
		args = append(args, s)
	}
	return args, nil
}
