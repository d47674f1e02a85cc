package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/bluesky-social/flagd/models"
)

const EventFlagRecorded = "moderation.flag.recorded"

// Emitted after a flag record (and any state transition) has been committed.
type FlagEvent struct {
	Type      string                `json:"type"`
	Record    models.FlagRecordView `json:"record"`
	FlagState models.FlagState      `json:"flagState"`
	EmittedAt string                `json:"emittedAt"`
}

func NewFlagEvent(rec *models.FlagRecord, state models.FlagState) FlagEvent {
	return FlagEvent{
		Type:      EventFlagRecorded,
		Record:    rec.View(),
		FlagState: state,
		EmittedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Partition key: all events for a single target land on the same partition. Events are published concurrently, so delivery order is not guaranteed; consumers order them by the record's flaggedAt.
func (e *FlagEvent) Key() string {
	return models.TargetKey(e.Record.TargetType, e.Record.TargetID)
}

// Sink for moderation events. Publishing happens after commit, so a failure here never undoes a decision.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
	Close() error
}

func PublishFlag(ctx context.Context, p Publisher, evt FlagEvent) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.Publish(ctx, evt.Type, b, evt.Key())
}

// Writes events to the log at DEBUG level. Used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

var _ Publisher = (*LogPublisher)(nil)

func (p *LogPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.Logger.Debug("moderation event", "type", eventType, "key", partitionKey, "payload", string(payload))
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
