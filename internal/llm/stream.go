package llm

import (
	"context"
	"io"
	"sync"
)

// deltaStream bridges a producer goroutine to the pull-style Stream
// interface. The producer writes deltas to the channel and returns when
// the upstream is exhausted; its error (if any) is delivered after the
// last delta.
type deltaStream struct {
	deltas chan Delta
	errCh  chan error
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	err    error
	done   bool
}

// newDeltaStream starts produce in a goroutine and returns a Stream over
// its output. Cancelling via Close stops the producer through its
// context; producers must honor ctx to release the upstream connection.
func newDeltaStream(ctx context.Context, produce func(ctx context.Context, out chan<- Delta) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &deltaStream{
		deltas: make(chan Delta, 16),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		defer close(s.deltas)
		s.errCh <- produce(ctx, s.deltas)
	}()
	return s
}

func (s *deltaStream) Recv() (Delta, error) {
	s.mu.Lock()
	if s.done {
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return Delta{}, err
		}
		return Delta{}, io.EOF
	}
	s.mu.Unlock()

	d, ok := <-s.deltas
	if ok {
		return d, nil
	}
	err := <-s.errCh
	s.mu.Lock()
	s.done = true
	s.err = err
	s.mu.Unlock()
	if err != nil {
		return Delta{}, err
	}
	return Delta{}, io.EOF
}

func (s *deltaStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return nil
}

// CollectStream drains a stream into a ChatResponse, concatenating the
// delta text and keeping the last non-zero token counts.
func CollectStream(s Stream, provider, model string) (*ChatResponse, error) {
	defer s.Close()
	resp := &ChatResponse{Provider: provider, Model: model}
	for {
		d, err := s.Recv()
		if err == io.EOF {
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		resp.Content += d.Text
		if d.TokensIn > 0 {
			resp.TokensIn = d.TokensIn
		}
		if d.TokensOut > 0 {
			resp.TokensOut = d.TokensOut
		}
	}
}
