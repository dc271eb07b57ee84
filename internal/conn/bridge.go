package conn

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed is the end-of-stream signal a puller observes after the
// stream is closed for the current turn.
var ErrStreamClosed = errors.New("conn: chunk stream closed")

type pullResult struct {
	chunk Chunk
	err   error
}

// ChunkStream bridges push-delivered notifications to a pull-based
// consumer. The producer side (the connection's notification dispatch)
// calls produce; the single consumer calls Next. When a puller is waiting
// a produced chunk is handed to it directly, bypassing the queue;
// otherwise it is queued. Chunks reach the puller in exact production
// order.
type ChunkStream struct {
	mu     sync.Mutex
	queue  []Chunk
	waiter chan pullResult
	eos    bool
	err    error
}

func NewChunkStream() *ChunkStream {
	return &ChunkStream{}
}

func (s *ChunkStream) produce(chunk Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiter != nil {
		s.waiter <- pullResult{chunk: chunk}
		s.waiter = nil
		return
	}
	s.queue = append(s.queue, chunk)
}

// fail injects a terminal error delivered to the puller after all queued
// chunks have been drained.
func (s *ChunkStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiter != nil {
		s.waiter <- pullResult{err: err}
		s.waiter = nil
		return
	}
	s.err = err
}

// Close signals end-of-stream for the current turn. A suspended puller is
// woken with ErrStreamClosed; otherwise the next pull (after the queue
// drains) observes it exactly once.
func (s *ChunkStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiter != nil {
		s.waiter <- pullResult{err: ErrStreamClosed}
		s.waiter = nil
		return
	}
	s.eos = true
}

// Next returns the next chunk, suspending until one is produced, the
// stream is closed, or ctx is done. Queued chunks are always delivered
// before any end-of-stream or error signal.
func (s *ChunkStream) Next(ctx context.Context) (Chunk, error) {
	s.mu.Lock()

	if len(s.queue) > 0 {
		chunk := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return chunk, nil
	}

	if s.err != nil {
		err := s.err
		s.err = nil
		s.mu.Unlock()
		return Chunk{}, err
	}

	if s.eos {
		s.eos = false
		s.mu.Unlock()
		return Chunk{}, ErrStreamClosed
	}

	waiter := make(chan pullResult, 1)
	s.waiter = waiter
	s.mu.Unlock()

	select {
	case result := <-waiter:
		return result.chunk, result.err
	case <-ctx.Done():
		s.mu.Lock()
		if s.waiter == waiter {
			s.waiter = nil
		}
		s.mu.Unlock()
		// The producer may have raced the cancellation; recover a handed-off
		// result so nothing is dropped.
		select {
		case result := <-waiter:
			s.mu.Lock()
			switch {
			case result.err == nil:
				s.queue = append([]Chunk{result.chunk}, s.queue...)
			case errors.Is(result.err, ErrStreamClosed):
				s.eos = true
			default:
				s.err = result.err
			}
			s.mu.Unlock()
		default:
		}
		return Chunk{}, ctx.Err()
	}
}
