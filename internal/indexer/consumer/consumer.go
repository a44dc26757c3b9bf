// Package consumer applies package events from Kafka to the record store,
// and lets searcher processes react to index.synced notifications.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/recordstore"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/metrics"
)

// Runner is the blocking consume loop, normally a *kafka.Consumer.
type Runner interface {
	Start(ctx context.Context) error
}

// PackageConsumer drives the package-updates topic into the record store.
type PackageConsumer struct {
	runner Runner
	logger *slog.Logger
}

func New(runner Runner) *PackageConsumer {
	return &PackageConsumer{
		runner: runner,
		logger: slog.Default().With("component", "package-consumer"),
	}
}

// Start blocks until ctx is cancelled.
func (pc *PackageConsumer) Start(ctx context.Context) error {
	pc.logger.Info("package consumer starting")
	return pc.runner.Start(ctx)
}

// HandlePackageEvent returns a MessageHandler that applies each
// PackageEvent to store. Malformed or invalid events are logged and
// acknowledged so they cannot block the partition; store failures are
// returned so the offset is not committed and the event is redelivered.
func HandlePackageEvent(store recordstore.Store, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "package-consumer")
	count := func(action string) {
		if m != nil {
			m.IngestedEventsTotal.WithLabelValues(action).Inc()
		}
	}
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[catalog.PackageEvent](value)
		if err != nil {
			logger.Error("failed to decode package event",
				"error", err,
				"key", string(key),
			)
			count("malformed")
			return nil
		}
		if err := event.Validate(); err != nil {
			logger.Warn("dropping invalid package event",
				"id", event.TargetID(),
				"op", event.Op,
				"error", err,
			)
			count("invalid")
			return nil
		}

		switch event.Op {
		case catalog.OpUpsert:
			if err := store.Upsert(ctx, event.Record); err != nil {
				if errors.Is(err, apperrors.ErrInvalidInput) {
					logger.Warn("store rejected package", "id", event.Record.ID, "error", err)
					count("invalid")
					return nil
				}
				return fmt.Errorf("upserting %s: %w", event.Record.ID, err)
			}
			count("upsert")
			logger.Debug("package upserted", "id", event.Record.ID)
		case catalog.OpDelete:
			id := event.TargetID()
			removed, err := store.Delete(ctx, id)
			if err != nil {
				return fmt.Errorf("deleting %s: %w", id, err)
			}
			count("delete")
			logger.Debug("package deleted", "id", id, "existed", removed)
		}
		return nil
	}
}

// HandleSyncEvent returns a MessageHandler that triggers a local sync when
// another process reports a newer index cursor than ours.
func HandleSyncEvent(engine *indexer.Engine) kafka.MessageHandler {
	logger := slog.Default().With("component", "sync-listener")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.SyncEvent](value)
		if err != nil {
			logger.Error("failed to decode sync event", "error", err)
			return nil
		}
		if event.Cursor <= engine.Current().Cursor() {
			return nil
		}
		if _, err := engine.Sync(ctx); err != nil {
			logger.Warn("sync triggered by event failed", "cursor", event.Cursor, "error", err)
		}
		return nil
	}
}
