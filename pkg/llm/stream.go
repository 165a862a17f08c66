package llm

import (
	"context"
)

// Stream is a running interaction seen as a chunk channel plus a result
type Stream struct {
	chunks chan Chunk
	done   chan struct{}
	result *InteractResult
	err    error
}

// Stream starts Interact in a goroutine. Chunks must be drained, or Wait
// called, for the interaction to make progress.
func (i *Interactor) Stream(ctx context.Context, req InteractRequest) *Stream {
	s := &Stream{
		chunks: make(chan Chunk, 64),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.chunks)
		s.result, s.err = i.Interact(ctx, req, func(c Chunk) {
			select {
			case s.chunks <- c:
			case <-ctx.Done():
			}
		})
	}()

	return s
}

// Chunks returns the chunk channel. It is closed when the interaction ends.
func (s *Stream) Chunks() <-chan Chunk {
	return s.chunks
}

// Wait discards any chunks not yet read and returns the outcome
func (s *Stream) Wait() (*InteractResult, error) {
	for range s.chunks {
	}
	<-s.done
	return s.result, s.err
}
