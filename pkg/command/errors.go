package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pzhenzhou/respcmd/pkg/respio"
)

var (
	// ErrUnknownCommand is returned when a command id is not in the registry.
	ErrUnknownCommand = errors.New("respcmd: unknown command")
	// ErrArgument matches every *ArgumentError with errors.Is.
	ErrArgument = errors.New("respcmd: invalid argument")
	// ErrProtocolMismatch matches every *ProtocolMismatchError with errors.Is.
	ErrProtocolMismatch = errors.New("respcmd: protocol mismatch")
)

// ArgumentError is returned by builders. Nothing has been sent when it is returned.
type ArgumentError struct {
	Command ID
	Reason  string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("respcmd: %s: invalid argument: %s", e.Command, e.Reason)
}

func (e *ArgumentError) Is(target error) bool {
	return target == ErrArgument
}

// ProtocolMismatchError is returned by transformers when the reply shape is
// not one the command can legally receive.
type ProtocolMismatchError struct {
	Command  ID
	Expected string
	Got      string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("respcmd: %s: protocol mismatch: expected %s, got %s", e.Command, e.Expected, e.Got)
}

func (e *ProtocolMismatchError) Is(target error) bool {
	return target == ErrProtocolMismatch
}

// ReplyError is an error reply sent by the server (e.g. "ERR unknown subcommand").
type ReplyError struct {
	Command ID
	Message string
}

func (e *ReplyError) Error() string {
	return e.Message
}

// Prefix returns the error code, e.g. ERR or WRONGTYPE.
func (e *ReplyError) Prefix() string {
	if i := strings.IndexByte(e.Message, ' '); i > 0 {
		return e.Message[:i]
	}
	return e.Message
}

func NewReplyError(id ID, reply *respio.RespPacket) *ReplyError {
	return &ReplyError{Command: id, Message: string(reply.Data)}
}

func invalidArg(format string, args ...any) *ArgumentError {
	return &ArgumentError{Reason: fmt.Sprintf(format, args...)}
}

func mismatch(expected string, got *respio.RespPacket) *ProtocolMismatchError {
	gotName := "nil"
	if got != nil {
		gotName = respio.TypeName(got.Type)
	}
	return &ProtocolMismatchError{Expected: expected, Got: gotName}
}

func mismatchf(expected, format string, args ...any) *ProtocolMismatchError {
	return &ProtocolMismatchError{Expected: expected, Got: fmt.Sprintf(format, args...)}
}
