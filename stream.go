package agent

import (
	"context"
	"iter"
)

// MessageStream is an iterator over the messages of one response.
// Usage:
//
//	stream := client.ReceiveResponse(ctx)
//	for stream.Next() {
//	    switch m := stream.Current().(type) {
//	    case *agent.AssistantMessage:
//	        fmt.Print(m.Text())
//	    case *agent.ResultMessage:
//	        fmt.Println("cost:", m.TotalCostUSD)
//	    }
//	}
//	if err := stream.Err(); err != nil {
//	    // handle error
//	}
type MessageStream struct {
	messages chan Message
	current  Message
	err      error
	done     bool
	cancel   context.CancelFunc
}

// newMessageStream runs produce in a goroutine and streams what it emits.
// The error produce returns is reported by Err once the stream is drained.
func newMessageStream(ctx context.Context, buffer int, produce func(ctx context.Context, emit func(Message) error) error) *MessageStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &MessageStream{
		messages: make(chan Message, buffer),
		cancel:   cancel,
	}
	go func() {
		defer cancel()
		err := produce(ctx, func(m Message) error {
			select {
			case s.messages <- m:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		s.err = err
		close(s.messages)
	}()
	return s
}

// failedStream returns a stream that yields nothing and reports err.
func failedStream(err error) *MessageStream {
	ch := make(chan Message)
	close(ch)
	return &MessageStream{messages: ch, err: err, cancel: func() {}}
}

// Next advances to the next message. Returns false when the stream is
// exhausted or an error has occurred.
func (s *MessageStream) Next() bool {
	if s.done {
		return false
	}
	m, ok := <-s.messages
	if !ok {
		s.done = true
		return false
	}
	s.current = m
	return true
}

// Current returns the most recent message returned by Next.
func (s *MessageStream) Current() Message {
	return s.current
}

// Err returns the error that ended the stream, if any. It is only
// meaningful once Next has returned false.
func (s *MessageStream) Err() error {
	if !s.done {
		return nil
	}
	return s.err
}

// Close stops the producer and discards unread messages.
func (s *MessageStream) Close() {
	s.cancel()
	for range s.messages {
	}
	s.done = true
}

// All yields every message, then the stream error if there is one.
// Breaking out of the loop closes the stream.
func (s *MessageStream) All() iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for s.Next() {
			if !yield(s.Current(), nil) {
				s.Close()
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Collect drains the stream and returns its messages.
func (s *MessageStream) Collect() ([]Message, error) {
	var out []Message
	for s.Next() {
		out = append(out, s.Current())
	}
	return out, s.Err()
}
