package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an engine.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusReady  Status = "READY"
	StatusDead   Status = "DEAD"
)

// Engine is the per-engine aggregate. All mutations are guarded by version
// monotonicity: an incoming version that is not strictly newer than the
// stored one is a silent no-op. Addr and Created are immutable after the
// first insert.
type Engine struct {
	ID      uuid.UUID
	UUID    *uuid.UUID // access key reported by the engine, may be absent
	Status  Status
	Created time.Time
	Addr    string
	Version Version

	events []Event
}

// NewEngine builds a fresh aggregate for an engine seen for the first time
// and buffers the EngineUpdated event announcing it. The initial status is
// always READY, even when the upstream reports it running: the first
// observation is treated conservatively.
func NewEngine(id uuid.UUID, key *uuid.UUID, created time.Time, addr string, version Version) *Engine {
	e := &Engine{
		ID:      id,
		UUID:    key,
		Status:  StatusReady,
		Created: created,
		Addr:    addr,
		Version: version,
	}
	e.events = append(e.events, NewEngineUpdated(id, version, key, StatusReady))
	return e
}

// PullEvents returns the buffered domain events and clears the buffer.
func (e *Engine) PullEvents() []Event {
	ev := e.events
	e.events = nil
	return ev
}

func statusFor(running bool) Status {
	if running {
		return StatusActive
	}
	return StatusReady
}

// Update applies a state report from a live engine. When the resulting
// (status, uuid) pair is unchanged the version still advances but no event
// is emitted, so heartbeat-only updates do not spam subscribers.
func (e *Engine) Update(running bool, key *uuid.UUID, version Version) {
	if !version.After(e.Version) {
		return
	}

	status := statusFor(running)
	unchanged := status == e.Status && uuidEqual(key, e.UUID)

	e.Status = status
	e.UUID = key
	e.Version = version

	if unchanged {
		return
	}
	e.events = append(e.events, NewEngineUpdated(e.ID, version, key, status))
}

// MarkDead transitions the engine to DEAD after its key expired upstream.
func (e *Engine) MarkDead(version Version) {
	if !version.After(e.Version) {
		return
	}

	e.Status = StatusDead
	e.Version = version
	e.events = append(e.events, NewEngineDead(e.ID, version))
}

// Restore moves a DEAD engine back to ACTIVE or READY.
func (e *Engine) Restore(running bool, key *uuid.UUID, version Version) {
	if !version.After(e.Version) {
		return
	}

	status := statusFor(running)
	e.Status = status
	e.UUID = key
	e.Version = version
	e.events = append(e.events, NewEngineRestored(e.ID, version, key, status))
}

func uuidEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
