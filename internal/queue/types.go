package queue

import "time"

// Kind enumerates the QueueEvent kinds recognized by the scheduler.
type Kind string

const (
	KindFileReady          Kind = "file_ready"
	KindStopSignal         Kind = "stop_signal"
	KindHeartbeatTrigger   Kind = "heartbeat_trigger"
	KindComplexityAssessed Kind = "complexity_assessed"
)

// validKinds guards Write against malformed event kinds.
var validKinds = map[Kind]bool{
	KindFileReady:          true,
	KindStopSignal:         true,
	KindHeartbeatTrigger:   true,
	KindComplexityAssessed: true,
}

// Event is one queued unit of work.
type Event struct {
	Timestamp time.Time
	Kind      Kind
	Task      string
	File      string
	Metadata  string
}
