package events

import (
	"context"
	"sync"
	"sync/atomic"

	"arbflow/logger"
	"arbflow/models"
)

type ChannelStats struct {
	Sent      int64
	Delivered int64
	Dropped   int64
	Queued    int64
}

// Stream is the multi-producer, single-consumer queue between the venue
// feeds and the coordinator. It is unbounded: a relay goroutine moves
// everything written to the input channel into a FIFO slice, so producers
// never wait on a slow consumer.
type Stream struct {
	in   chan models.Event
	out  chan models.Event
	done chan struct{}

	closeOnce sync.Once
	queued    atomic.Int64

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

// NewStream creates the stream and starts its relay goroutine. inputBuffer
// only smooths handoff to the relay; it does not bound the queue.
func NewStream(inputBuffer int) *Stream {
	if inputBuffer < 0 {
		inputBuffer = 0
	}
	log := logger.GetLogger()
	s := &Stream{
		in:   make(chan models.Event, inputBuffer),
		out:  make(chan models.Event),
		done: make(chan struct{}),
		log:  log,
	}
	go s.relay()

	log.WithComponent("event_stream").WithFields(logger.Fields{
		"input_buffer": inputBuffer,
	}).Info("event stream initialized")
	return s
}

// Send delivers the event or silently drops it when the stream is closed or
// the context is done. The result is informational; callers may ignore it.
func (s *Stream) Send(ctx context.Context, ev models.Event) bool {
	select {
	case <-s.done:
		s.incrementDropped()
		return false
	default:
	}
	select {
	case s.in <- ev:
		s.incrementSent()
		logger.RecordChannelMessage("event_stream", 1)
		return true
	case <-s.done:
	case <-ctx.Done():
	}
	s.incrementDropped()
	return false
}

// Events returns the consumer side. It is closed once the stream is closed.
func (s *Stream) Events() <-chan models.Event {
	return s.out
}

// Close stops the relay. Events still queued are discarded.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.log.WithComponent("event_stream").Info("event stream closed")
	})
}

// Len reports the number of events waiting for the consumer.
func (s *Stream) Len() int {
	return int(s.queued.Load())
}

func (s *Stream) relay() {
	defer close(s.out)
	var queue []models.Event
	for {
		var (
			out  chan models.Event
			next models.Event
		)
		if len(queue) > 0 {
			out = s.out
			next = queue[0]
		}
		select {
		case ev := <-s.in:
			queue = append(queue, ev)
			s.queued.Store(int64(len(queue)))
		case out <- next:
			queue[0] = nil
			queue = queue[1:]
			s.queued.Store(int64(len(queue)))
			s.incrementDelivered()
		case <-s.done:
			return
		}
	}
}

func (s *Stream) incrementSent() {
	s.statsMutex.Lock()
	s.stats.Sent++
	s.statsMutex.Unlock()
}

func (s *Stream) incrementDelivered() {
	s.statsMutex.Lock()
	s.stats.Delivered++
	s.statsMutex.Unlock()
}

func (s *Stream) incrementDropped() {
	s.statsMutex.Lock()
	s.stats.Dropped++
	s.statsMutex.Unlock()
}

func (s *Stream) GetStats() ChannelStats {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	stats := s.stats
	stats.Queued = s.queued.Load()
	return stats
}
