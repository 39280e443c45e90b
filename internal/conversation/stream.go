package conversation

import "sync/atomic"

// Stream is one in-flight request into a conversation. It owns the stop flag of that request
// only, so stopping it never affects another conversation.
type Stream struct {
	// ID is the ID of the reply message being filled.
	ID string

	stopped atomic.Bool
	done    chan struct{}
	result  Result
}

func newStream(replyID string) *Stream {
	return &Stream{
		ID:   replyID,
		done: make(chan struct{}),
	}
}

// Stop asks the stream to stop before the next fragment is applied.
func (s *Stream) Stop() {
	s.stopped.Store(true)
}

// Stopped implements Stopper.
func (s *Stream) Stopped() bool {
	return s.stopped.Load()
}

// Done is closed once the reply is final and the conversation accepts a new request.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the stream is done and returns its result.
func (s *Stream) Wait() Result {
	<-s.done
	return s.result
}
