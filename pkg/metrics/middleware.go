package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/pzhenzhou/respcmd/pkg/command"
	"github.com/pzhenzhou/respcmd/pkg/dispatch"
	"github.com/pzhenzhou/respcmd/pkg/respio"
)

// Error classes reported in the errors counter.
const (
	ErrorArgument  = "argument"
	ErrorMismatch  = "protocol_mismatch"
	ErrorReply     = "reply"
	ErrorCanceled  = "canceled"
	ErrorTransport = "transport"
)

var _ dispatch.Hook = (*ClientMetricsMiddleware)(nil)

// ClientMetricsMiddleware feeds dispatcher hooks and transport round trips into a Collector.
type ClientMetricsMiddleware struct {
	collector            Collector
	recordCommandLatency bool
}

func NewClientMetricsMiddleware(collector Collector) *ClientMetricsMiddleware {
	return &ClientMetricsMiddleware{
		collector:            collector,
		recordCommandLatency: true,
	}
}

func NewClientMetricsMiddlewareWithOptions(collector Collector, recordCommandLatency bool) *ClientMetricsMiddleware {
	return &ClientMetricsMiddleware{
		collector:            collector,
		recordCommandLatency: recordCommandLatency,
	}
}

func (m *ClientMetricsMiddleware) GetCollector() Collector {
	return m.collector
}

func (m *ClientMetricsMiddleware) OnCallDone(info dispatch.CallInfo) {
	name := string(info.Command)
	m.collector.IncrementCommandCounter(name)
	if m.recordCommandLatency {
		m.collector.RecordCommandLatency(name, info.Elapsed)
	}
	m.collector.RecordOverallLatency(info.Elapsed)
	if info.Err != nil {
		m.collector.IncrementErrorCounter(name, ClassifyError(info.Err))
	}
}

// WrapTransport times every Send of next under the command found in the context.
func (m *ClientMetricsMiddleware) WrapTransport(next dispatch.Transport) dispatch.Transport {
	return dispatch.TransportFunc(func(ctx context.Context, args command.Args) (*respio.RespPacket, error) {
		start := time.Now()
		reply, err := next.Send(ctx, args)
		name := "unknown"
		if def, ok := command.DefinitionFromContext(ctx); ok {
			name = string(def.ID())
		}
		if m.recordCommandLatency {
			m.collector.RecordSendLatency(name, time.Since(start))
		}
		return reply, err
	})
}

func ClassifyError(err error) string {
	var replyErr *command.ReplyError
	switch {
	case errors.Is(err, command.ErrArgument):
		return ErrorArgument
	case errors.Is(err, command.ErrProtocolMismatch):
		return ErrorMismatch
	case errors.As(err, &replyErr):
		return ErrorReply
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCanceled
	default:
		return ErrorTransport
	}
}
