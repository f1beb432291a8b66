package transport

import "sync/atomic"

// Stats counts what the server has seen since it started.
type Stats struct {
	accepted        atomic.Int64
	open            atomic.Int64
	messagesIn      atomic.Int64
	messagesOut     atomic.Int64
	chunksIn        atomic.Int64
	chunksOut       atomic.Int64
	framingErrors   atomic.Int64
	invalidMessages atomic.Int64
	droppedMessages atomic.Int64
}

// StatsSnapshot is a point in time copy of Stats.
type StatsSnapshot struct {
	Accepted        int64 `json:"accepted"`
	Open            int64 `json:"open"`
	MessagesIn      int64 `json:"messagesIn"`
	MessagesOut     int64 `json:"messagesOut"`
	ChunksIn        int64 `json:"chunksIn"`
	ChunksOut       int64 `json:"chunksOut"`
	FramingErrors   int64 `json:"framingErrors"`
	InvalidMessages int64 `json:"invalidMessages"`
	DroppedMessages int64 `json:"droppedMessages"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:        s.accepted.Load(),
		Open:            s.open.Load(),
		MessagesIn:      s.messagesIn.Load(),
		MessagesOut:     s.messagesOut.Load(),
		ChunksIn:        s.chunksIn.Load(),
		ChunksOut:       s.chunksOut.Load(),
		FramingErrors:   s.framingErrors.Load(),
		InvalidMessages: s.invalidMessages.Load(),
		DroppedMessages: s.droppedMessages.Load(),
	}
}
