package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Provide(NewStreamPublisher),
)

// Event describes a gateway event to store in the outbox.
type Event struct {
	TenantID  snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// StoredEvent is a row of gateway_events awaiting relay or pruning.
type StoredEvent struct {
	ID        snowflake.ID      `gorm:"column:id"`
	TenantID  snowflake.ID      `gorm:"column:tenant_id"`
	Type      string            `gorm:"column:event_type"`
	Payload   datatypes.JSONMap `gorm:"column:payload"`
	DedupeKey *string           `gorm:"column:dedupe_key"`
	CreatedAt time.Time         `gorm:"column:created_at"`
}

// Outbox inserts gateway events into the gateway_events table.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	if event.TenantID == 0 {
		return errors.New("invalid_tenant_id")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	dedupe := strings.TrimSpace(event.DedupeKey)
	var dedupeValue any
	if dedupe != "" {
		dedupeValue = dedupe
	}

	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`INSERT INTO gateway_events (id, tenant_id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, false, ?)
		 ON CONFLICT (tenant_id, dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		event.TenantID,
		name,
		payload,
		dedupeValue,
		now,
	).Error
}

// Pending returns unpublished events in insertion order.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]StoredEvent, error) {
	if o == nil || o.db == nil {
		return nil, errors.New("outbox_unavailable")
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []StoredEvent
	err := o.db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, event_type, payload, dedupe_key, created_at
		 FROM gateway_events
		 WHERE published = false
		 ORDER BY id ASC
		 LIMIT ?`,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkPublished flags events as relayed.
func (o *Outbox) MarkPublished(ctx context.Context, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if o == nil || o.db == nil {
		return errors.New("outbox_unavailable")
	}
	return o.db.WithContext(ctx).Exec(
		`UPDATE gateway_events SET published = true WHERE id IN ?`,
		ids,
	).Error
}

// Prune deletes published events created before the cutoff.
func (o *Outbox) Prune(ctx context.Context, before time.Time) (int64, error) {
	if o == nil || o.db == nil {
		return 0, errors.New("outbox_unavailable")
	}
	result := o.db.WithContext(ctx).Exec(
		`DELETE FROM gateway_events WHERE published = true AND created_at < ?`,
		before.UTC(),
	)
	return result.RowsAffected, result.Error
}
