// Package tracing holds the span names, attribute keys and helpers shared
// by the transports.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies this module's tracer.
const InstrumentationName = "github.com/armatrix/opencode-agent-sdk-go"

// Span names.
const (
	SpanSessionCreate = "opencode.session.create"
	SpanSessionGet    = "opencode.session.get"
	SpanSessionDelete = "opencode.session.delete"
	SpanChat          = "opencode.chat"
	SpanChatStream    = "opencode.chat.stream"
	SpanMessages      = "opencode.messages"
	SpanAbort         = "opencode.abort"
	SpanPermission    = "opencode.permission.respond"
	SpanACPRequest    = "acp.request"
)

// Span attribute keys.
const (
	AttrSessionID    = "session.id"
	AttrMethod       = "rpc.method"
	AttrHTTPMethod   = "http.request.method"
	AttrHTTPPath     = "url.path"
	AttrHTTPStatus   = "http.response.status_code"
	AttrModel        = "gen_ai.request.model"
	AttrPermissionID = "opencode.permission.id"
	AttrToolName     = "tool.name"
)

// Tracer returns this module's tracer from tp, or from the global provider
// when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

// End records err on span, sets its status and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
