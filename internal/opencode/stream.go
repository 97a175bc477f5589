package opencode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/armatrix/opencode-agent-sdk-go/internal/tracing"
	"github.com/armatrix/opencode-agent-sdk-go/permission"
	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// StreamOptions carries the callbacks ChatStream invokes while a response
// is being produced.
type StreamOptions struct {
	// OnPermission decides a permission request and returns the reply
	// ("once", "always" or "reject"). Nil answers "once".
	OnPermission func(ctx context.Context, p Permission) string

	// OnToolResult is called once for every tool part that completes.
	OnToolResult func(ctx context.Context, p Part)
}

type sseItem struct {
	event Event
	err   error
}

// ChatStream sends a message and streams the reply. It subscribes to
// GET /event first, then fires the chat POST in the background, and calls
// emit for every translated message of sessionID. The stream ends with an
// aggregated ResultMessage once the session becomes idle. An error from
// emit stops the stream and is returned.
func (c *Client) ChatStream(ctx context.Context, sessionID string, req ChatRequest, opts StreamOptions, emit func(types.Message) error) (err error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanChatStream,
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, sessionID)))
	defer func() { tracing.End(span, err) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := c.openEvents(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	posted := make(chan error, 1)
	go func() {
		_, err := c.chat(ctx, c.stream, sessionID, req)
		posted <- err
	}()

	events := make(chan sseItem)
	go c.readEvents(ctx, body, events)

	tr := newStreamTranslator(sessionID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case perr := <-posted:
			posted = nil
			if perr != nil && ctx.Err() == nil {
				return chatFailed(perr)
			}

		case item, ok := <-events:
			if !ok {
				return types.NewProcessError("event stream closed before session %s became idle", sessionID)
			}
			if item.err != nil {
				return &types.ProcessError{
					Message:  fmt.Sprintf("read event stream: %v", item.err),
					ExitCode: types.ExitGeneric,
					Cause:    item.err,
				}
			}
			done, err := c.handleEvent(ctx, sessionID, item.event, tr, opts, emit)
			if err != nil || done {
				return err
			}
		}
	}
}

func chatFailed(err error) error {
	var pe *types.ProcessError
	if errors.As(err, &pe) {
		return pe
	}
	return &types.ProcessError{Message: "chat request failed: " + err.Error(), ExitCode: types.ExitGeneric, Cause: err}
}

// handleEvent processes one event. It reports true once the stream is done.
func (c *Client) handleEvent(ctx context.Context, sessionID string, ev Event, tr *streamTranslator, opts StreamOptions, emit func(types.Message) error) (bool, error) {
	switch ev.Type {
	case EventPartUpdated:
		var props partUpdated
		if err := json.Unmarshal(ev.Properties, &props); err != nil {
			c.logger.Warn("skipping malformed part update", "error", err)
			return false, nil
		}
		if props.Part.SessionID != sessionID {
			return false, nil
		}
		msg := tr.part(props.Part)
		if msg == nil {
			return false, nil
		}
		if sm, ok := msg.(*types.SystemMessage); ok && sm.Subtype == types.SubtypeToolResult && opts.OnToolResult != nil {
			opts.OnToolResult(ctx, props.Part)
		}
		return false, emit(msg)

	case EventPermissionUpdated:
		var p Permission
		if err := json.Unmarshal(ev.Properties, &p); err != nil {
			c.logger.Warn("skipping malformed permission event", "error", err)
			return false, nil
		}
		if p.SessionID != sessionID {
			return false, nil
		}
		reply := permission.ReplyOnce
		if opts.OnPermission != nil {
			reply = opts.OnPermission(ctx, p)
		}
		if err := c.RespondPermission(ctx, sessionID, p.ID, reply); err != nil {
			c.logger.Warn("permission reply failed", "permission_id", p.ID, "error", err)
		}
		return false, emit(&types.SystemMessage{Subtype: types.SubtypePermission, Data: map[string]any{
			"permission_id": p.ID,
			"tool_name":     p.Type,
			"title":         p.Title,
			"reply":         reply,
		}})

	case EventSessionIdle:
		var props sessionEvent
		if err := json.Unmarshal(ev.Properties, &props); err != nil || props.SessionID != sessionID {
			return false, nil
		}
		return true, emit(tr.result(false))

	case EventSessionError:
		var props sessionEvent
		if err := json.Unmarshal(ev.Properties, &props); err != nil || props.SessionID != sessionID {
			return false, nil
		}
		name := "UnknownError"
		if props.Error != nil && props.Error.Name != "" {
			name = props.Error.Name
		}
		return true, types.NewProcessError("Session error: %s", name)
	}

	c.logger.Debug("ignoring event", "type", ev.Type)
	return false, nil
}

func (c *Client) openEvents(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/event"), nil)
	if err != nil {
		return nil, fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, &types.ProcessError{Message: "open event stream: " + err.Error(), ExitCode: types.ExitGeneric, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &types.ProcessError{
			Message:    "open event stream: " + resp.Status,
			ExitCode:   types.ExitGeneric,
			StatusCode: resp.StatusCode,
		}
	}
	return resp.Body, nil
}

// readEvents decodes the event stream into out until EOF, an error or ctx
// cancellation. Payloads that are not valid JSON are skipped.
func (c *Client) readEvents(ctx context.Context, body io.Reader, out chan<- sseItem) {
	defer close(out)
	rd := newSSEReader(body, c.maxBuf)
	for {
		payload, err := rd.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				select {
				case out <- sseItem{err: err}:
				case <-ctx.Done():
				}
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn("skipping invalid event payload", "error", err)
			continue
		}
		c.logger.Debug("<<< event", "type", ev.Type)
		select {
		case out <- sseItem{event: ev}:
		case <-ctx.Done():
			return
		}
	}
}
