// Package session holds the per-call state owned by a relay engine.
package session

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/callrelay/internal/domain"
)

// Session is the mutable state of one relayed call.
// It is not safe for concurrent use; the relay engine is its only writer.
type Session struct {
	ID        string
	StreamSID string
	CallSID   string
	StartedAt time.Time

	latestInboundMS int64

	// turnActive guards activeItemID and turnStartMS; they are set and cleared together.
	turnActive   bool
	activeItemID string
	turnStartMS  int64

	marks    []string
	markSeq  int64
	usage    domain.Usage
	outcome  *domain.Outcome
	bargeIns int
	tools    []domain.ToolCall
}

// New creates a session stamped with the given start time.
func New(now time.Time) *Session {
	return &Session{
		ID:        "sess_" + uuid.New().String(),
		StartedAt: now,
	}
}

// Start binds the stream identifiers and resets the caller clock.
func (s *Session) Start(streamSID, callSID string) {
	s.StreamSID = streamSID
	s.CallSID = callSID
	s.latestInboundMS = 0
	s.clearTurn()
}

// AdvanceInbound moves the caller clock forward. Older timestamps are ignored.
func (s *Session) AdvanceInbound(ts int64) {
	if ts > s.latestInboundMS {
		s.latestInboundMS = ts
	}
}

// LatestInbound returns the caller clock in milliseconds.
func (s *Session) LatestInbound() int64 {
	return s.latestInboundMS
}

// BeginTurn records the start of a model turn for itemID if one is not already
// playing. A different non-empty item id starts a new turn. It reports whether a
// new turn began.
func (s *Session) BeginTurn(itemID string) bool {
	if s.turnActive && (itemID == "" || itemID == s.activeItemID) {
		return false
	}
	s.turnActive = true
	s.activeItemID = itemID
	s.turnStartMS = s.latestInboundMS
	return true
}

// ActiveTurn returns the playing item id and its caller-clock start.
func (s *Session) ActiveTurn() (itemID string, startMS int64, ok bool) {
	return s.activeItemID, s.turnStartMS, s.turnActive
}

// State reports IDLE or SPEAKING. A turn stays SPEAKING after its marks are
// acknowledged; only a barge-in or a new stream ends it.
func (s *Session) State() domain.RelayState {
	if s.turnActive {
		return domain.RelayStateSpeaking
	}
	return domain.RelayStateIdle
}

// NextMarkName returns a fresh opaque playback mark name.
func (s *Session) NextMarkName() string {
	s.markSeq++
	return "responsePart-" + strconv.FormatInt(s.markSeq, 10)
}

// EnqueueMark records one outbound chunk awaiting playback acknowledgement.
func (s *Session) EnqueueMark(name string) {
	s.marks = append(s.marks, name)
}

// AckMark removes the named mark and any queued before it, since playback is
// in order. Names that are not queued, such as echoes of cleared audio, are
// ignored.
func (s *Session) AckMark(name string) bool {
	for i, queued := range s.marks {
		if queued == name {
			s.marks = s.marks[i+1:]
			return true
		}
	}
	return false
}

// PendingMarks returns how many sent chunks are not yet confirmed as played.
func (s *Session) PendingMarks() int {
	return len(s.marks)
}

// Interruption describes what a barge-in must cut.
type Interruption struct {
	ItemID    string
	ElapsedMS int64
}

// Interrupt ends the active turn and returns what was heard of it.
// ok is false when no turn is active.
func (s *Session) Interrupt() (Interruption, bool) {
	if !s.turnActive {
		return Interruption{}, false
	}
	elapsed := s.latestInboundMS - s.turnStartMS
	if elapsed < 0 {
		elapsed = 0
	}
	in := Interruption{
		ItemID:    s.activeItemID,
		ElapsedMS: elapsed,
	}
	s.bargeIns++
	s.marks = nil
	s.clearTurn()
	return in, true
}

func (s *Session) clearTurn() {
	s.turnActive = false
	s.activeItemID = ""
	s.turnStartMS = 0
}

// AddUsage accumulates usage from a completed response.
func (s *Session) AddUsage(u domain.Usage) {
	s.usage.Add(u)
}

// Usage returns the accumulated usage totals.
func (s *Session) Usage() domain.Usage {
	return s.usage
}

// SetOutcome stores the outcome; a later call replaces an earlier one.
func (s *Session) SetOutcome(o domain.Outcome) {
	s.outcome = &o
}

// Outcome returns the recorded outcome, or nil.
func (s *Session) Outcome() *domain.Outcome {
	return s.outcome
}

// RecordToolCall appends a resolved function call to the call log.
func (s *Session) RecordToolCall(tc domain.ToolCall) {
	s.tools = append(s.tools, tc)
}

// Summary snapshots the session for the recorder.
func (s *Session) Summary(end time.Time, reason string) domain.CallSummary {
	sum := domain.CallSummary{
		SessionID: s.ID,
		CallSID:   s.CallSID,
		StreamSID: s.StreamSID,
		StartedAt: s.StartedAt,
		EndedAt:   end,
		Duration:  end.Sub(s.StartedAt),
		Usage:     s.usage,
		EndReason: reason,
		BargeIns:  s.bargeIns,
		ToolCalls: len(s.tools),
	}
	if len(s.tools) > 0 {
		sum.ToolCallLog = append([]domain.ToolCall(nil), s.tools...)
	}
	if s.outcome != nil {
		o := *s.outcome
		sum.Outcome = &o
	}
	return sum
}
