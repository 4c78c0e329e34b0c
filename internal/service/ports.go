package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xrayfleet/xrayfleet/internal/domain"
)

// OutboxRecord is a claimed outbox row with its decoded event. DecodeErr is
// set when the stored body could not be decoded (corrupt body or an event
// type missing from the registry); such rows are routed to the unhandled
// partition by the relay.
type OutboxRecord struct {
	ID        uuid.UUID
	CausedBy  string
	Event     domain.Event
	Attempts  int
	DecodeErr error
}

// CreateDeliveryTask is the fan-out unit produced by the planner.
type CreateDeliveryTask struct {
	OutboxID       uuid.UUID
	SubscriptionID uuid.UUID
}

// DeliveryTask is a claimed delivery row.
type DeliveryTask struct {
	ID             uuid.UUID
	OutboxID       uuid.UUID
	SubscriptionID uuid.UUID
	Attempts       int
}

// EventRef identifies the subscription key of an event: its type name plus
// the engine it concerns.
type EventRef struct {
	EventType string
	EngineID  uuid.UUID
}

// EngineGateway is the engine aggregate repository bound to one session.
type EngineGateway interface {
	// Get returns a snapshot without any lock, or nil when absent.
	Get(ctx context.Context, id uuid.UUID) (*domain.Engine, error)
	// GetForUpdate locks the row for the current transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Engine, error)
	// Save is an idempotent upsert: insert when absent, update only when
	// the stored version is strictly older. Reports whether the row changed.
	Save(ctx context.Context, engine *domain.Engine) (bool, error)
	// RemoveDead bulk-deletes DEAD rows and returns the count.
	RemoveDead(ctx context.Context) (int64, error)
}

// OutboxGateway is the transactional outbox repository.
type OutboxGateway interface {
	Store(ctx context.Context, events []domain.Event, causedBy string) error
	ClaimBatch(ctx context.Context, limit, maxAttempts int) ([]OutboxRecord, error)
	MarkFannedOut(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error
	ExtractEvents(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Event, error)
}

// TaskGateway is the bot delivery task repository.
type TaskGateway interface {
	Store(ctx context.Context, tasks []CreateDeliveryTask) error
	ClaimBatch(ctx context.Context, limit, maxAttempts int) ([]DeliveryTask, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error
}

// SubscriptionGateway looks up who wants to hear about which events.
type SubscriptionGateway interface {
	ForEvents(ctx context.Context, refs []EventRef) (map[EventRef][]uuid.UUID, error)
	TelegramIDs(ctx context.Context, subscriptionIDs []uuid.UUID) (map[uuid.UUID]string, error)
}

// Gateways is the repository set exposed by one unit-of-work session. Each
// use case touches only the subset it needs.
type Gateways struct {
	Engines       EngineGateway
	Outbox        OutboxGateway
	Tasks         TaskGateway
	Subscriptions SubscriptionGateway
}

// UnitOfWork demarcates database sessions. InTx runs fn inside a single
// transaction, committing on nil and rolling back on error; commit and
// rollback are shielded from cancellation. Plain returns gateways bound to
// the autocommit pool for read-only lookups and single-row marks.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(ctx context.Context, g Gateways) error) error
	Plain() Gateways
}

// RestartClient issues the synchronous restart RPC to an engine address.
type RestartClient interface {
	Restart(ctx context.Context, key uuid.UUID, addr string) error
}

// Publisher delivers prepared bot messages. Results are keyed by task id so
// callers never pair outcomes positionally.
type Publisher interface {
	PublishBatch(ctx context.Context, items []PublishDeliveryTask) map[uuid.UUID]bool
}

// PublishDeliveryTask is one outbound bot message: the event to render and
// the recipient to address.
type PublishDeliveryTask struct {
	TaskID     uuid.UUID
	Event      domain.Event
	TelegramID string
}
