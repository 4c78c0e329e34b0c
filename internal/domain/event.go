package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event type names. These are the stable wire identifiers; renaming one is
// a breaking change for every stored outbox row and every subscription.
const (
	EventTypeEngineUpdated  = "EngineUpdated"
	EventTypeEngineDead     = "EngineDead"
	EventTypeEngineRestored = "EngineRestored"
)

// registry holds every event type that may be decoded from an outbox body.
// Unknown names fail decoding loudly so a relay never silently drops an
// event it does not understand.
var registry = map[string]struct{}{}

func init() {
	RegisterEventType(EventTypeEngineUpdated)
	RegisterEventType(EventTypeEngineDead)
	RegisterEventType(EventTypeEngineRestored)
}

// RegisterEventType adds a name to the decode registry. Call from init of
// the package that defines the new event.
func RegisterEventType(name string) {
	registry[name] = struct{}{}
}

// KnownEventType reports whether name is registered.
func KnownEventType(name string) bool {
	_, ok := registry[name]
	return ok
}

// occurredAtLayout matches the upstream envelope format: ISO-8601 with
// millisecond precision and a numeric UTC offset.
const occurredAtLayout = "2006-01-02T15:04:05.000-07:00"

// Event is an immutable domain event envelope. Its ID is deterministic:
// uuid5(url namespace, "{aggregate_id}:{version}:{type}"), so replaying the
// same mutation always yields the same event identity.
type Event struct {
	Type        string
	ID          uuid.UUID
	AggregateID uuid.UUID
	Version     string
	OccurredAt  time.Time
	Payload     map[string]any
}

// EventID computes the deterministic identity of an event.
func EventID(aggregateID uuid.UUID, version, eventType string) uuid.UUID {
	name := fmt.Sprintf("%s:%s:%s", aggregateID, version, eventType)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name))
}

// OutboxRecordID computes the deterministic id of an outbox row:
// uuid5(url namespace, "{caused_by}:{event_id}"). Replays of the same
// upstream message insert the same row and are absorbed by the primary key.
func OutboxRecordID(causedBy string, eventID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(causedBy+":"+eventID.String()))
}

func newEvent(eventType string, aggregateID uuid.UUID, version Version, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	ver := version.String()
	return Event{
		Type:        eventType,
		ID:          EventID(aggregateID, ver, eventType),
		AggregateID: aggregateID,
		Version:     ver,
		OccurredAt:  time.Now().UTC(),
		Payload:     payload,
	}
}

// NewEngineUpdated reports a state/key change of a live engine.
func NewEngineUpdated(aggregateID uuid.UUID, version Version, newUUID *uuid.UUID, newStatus Status) Event {
	return newEvent(EventTypeEngineUpdated, aggregateID, version, map[string]any{
		"new_uuid":   uuidOrNil(newUUID),
		"new_status": string(newStatus),
	})
}

// NewEngineDead reports that an engine stopped heartbeating.
func NewEngineDead(aggregateID uuid.UUID, version Version) Event {
	return newEvent(EventTypeEngineDead, aggregateID, version, nil)
}

// NewEngineRestored reports a DEAD engine coming back.
func NewEngineRestored(aggregateID uuid.UUID, version Version, key *uuid.UUID, status Status) Event {
	return newEvent(EventTypeEngineRestored, aggregateID, version, map[string]any{
		"uuid":   uuidOrNil(key),
		"status": string(status),
	})
}

func uuidOrNil(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return u.String()
}

type envelope struct {
	EventType   string         `json:"event_type"`
	ID          string         `json:"id"`
	AggregateID string         `json:"aggregate_id"`
	Version     string         `json:"version"`
	OccurredAt  string         `json:"occurred_at"`
	Payload     map[string]any `json:"payload"`
}

// MarshalJSON renders the outbound envelope written to the outbox body and
// sent over the bot transport.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{
		EventType:   e.Type,
		ID:          e.ID.String(),
		AggregateID: e.AggregateID.String(),
		Version:     e.Version,
		OccurredAt:  e.OccurredAt.UTC().Format(occurredAtLayout),
		Payload:     e.Payload,
	})
}

// DecodeEvent parses an envelope produced by MarshalJSON. The event type
// must be registered.
func DecodeEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if _, ok := registry[env.EventType]; !ok {
		return Event{}, fmt.Errorf("unknown event type %q", env.EventType)
	}
	id, err := uuid.Parse(env.ID)
	if err != nil {
		return Event{}, fmt.Errorf("decode event id: %w", err)
	}
	aggregateID, err := uuid.Parse(env.AggregateID)
	if err != nil {
		return Event{}, fmt.Errorf("decode aggregate id: %w", err)
	}
	occurredAt, err := time.Parse(occurredAtLayout, env.OccurredAt)
	if err != nil {
		// Tolerate plain RFC3339 from older producers.
		occurredAt, err = time.Parse(time.RFC3339, env.OccurredAt)
		if err != nil {
			return Event{}, fmt.Errorf("decode occurred_at: %w", err)
		}
	}
	payload := env.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		Type:        env.EventType,
		ID:          id,
		AggregateID: aggregateID,
		Version:     env.Version,
		OccurredAt:  occurredAt.UTC(),
		Payload:     payload,
	}, nil
}
