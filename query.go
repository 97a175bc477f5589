package agent

import "context"

// Query runs a one-shot prompt: it connects, sends prompt, streams the
// response and disconnects once the stream is drained. Connection errors
// are reported by the stream's Err.
func Query(ctx context.Context, prompt string, opts ...Option) *MessageStream {
	buffer := resolveOptions(opts).streamBufferSize
	if buffer <= 0 {
		buffer = DefaultStreamBufferSize
	}
	return newMessageStream(ctx, buffer, func(ctx context.Context, emit func(Message) error) error {
		c := NewClient(opts...)
		if err := c.Connect(ctx); err != nil {
			return err
		}
		defer func() {
			if err := c.Disconnect(); err != nil {
				c.logger.Debug("disconnect after query", "error", err)
			}
		}()

		if err := c.Query(ctx, prompt); err != nil {
			return err
		}
		c.mu.Lock()
		tr := c.tr
		c.mu.Unlock()
		return c.receive(ctx, tr, emit)
	})
}
