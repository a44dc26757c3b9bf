// Package publisher delivers package changes. With a Kafka producer it
// publishes PackageEvents on the package-updates topic for the indexer's
// consumer; without one it writes straight into the record store.
package publisher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/recordstore"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/kafka"
)

const (
	defaultBatchSize = 500
	maxLineBytes     = 1 << 20
)

// Publisher is safe for concurrent use.
type Publisher struct {
	producer kafka.Publisher
	store    recordstore.Store
	logger   *slog.Logger
}

// New creates a Publisher. producer takes precedence; store is used only
// when producer is nil. One of them must be set.
func New(producer kafka.Publisher, store recordstore.Store) *Publisher {
	return &Publisher{
		producer: producer,
		store:    store,
		logger:   slog.Default().With("component", "publisher"),
	}
}

func (p *Publisher) status() string {
	if p.producer != nil {
		return ingestion.StatusAccepted
	}
	return ingestion.StatusApplied
}

// Upsert validates rec and submits an upsert event for it.
func (p *Publisher) Upsert(ctx context.Context, rec *catalog.PackageRecord) (*ingestion.IngestResponse, error) {
	ev := catalog.PackageEvent{Op: catalog.OpUpsert, ID: rec.ID, Record: rec}
	if err := validator.ValidateEvent(ev); err != nil {
		return nil, err
	}
	if err := p.Submit(ctx, []catalog.PackageEvent{ev}); err != nil {
		return nil, err
	}
	return &ingestion.IngestResponse{ID: rec.ID, Op: string(catalog.OpUpsert), Status: p.status()}, nil
}

// Delete submits a delete event. Writing straight to the store, deleting an
// unknown ID fails with ErrRecordNotFound; through Kafka it is accepted and
// ignored downstream.
func (p *Publisher) Delete(ctx context.Context, id string) (*ingestion.IngestResponse, error) {
	ev := catalog.PackageEvent{Op: catalog.OpDelete, ID: id}
	if err := validator.ValidateEvent(ev); err != nil {
		return nil, err
	}
	if p.producer == nil {
		removed, err := p.store.Delete(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("deleting %s: %w", id, err)
		}
		if !removed {
			return nil, apperrors.Newf(apperrors.ErrRecordNotFound, 404, "package %q not found", id)
		}
	} else if err := p.Submit(ctx, []catalog.PackageEvent{ev}); err != nil {
		return nil, err
	}
	return &ingestion.IngestResponse{ID: id, Op: string(catalog.OpDelete), Status: p.status()}, nil
}

// Submit delivers already validated events in order.
func (p *Publisher) Submit(ctx context.Context, events []catalog.PackageEvent) error {
	if len(events) == 0 {
		return nil
	}
	if p.producer != nil {
		batch := make([]kafka.Event, len(events))
		for i, ev := range events {
			batch[i] = kafka.Event{Key: ev.TargetID(), Value: ev}
		}
		if err := p.producer.PublishBatch(ctx, batch); err != nil {
			return apperrors.Storage("publish package events", err)
		}
		return nil
	}
	for _, ev := range events {
		switch ev.Op {
		case catalog.OpUpsert:
			if err := p.store.Upsert(ctx, ev.Record); err != nil {
				return fmt.Errorf("upserting %s: %w", ev.Record.ID, err)
			}
		case catalog.OpDelete:
			if _, err := p.store.Delete(ctx, ev.TargetID()); err != nil {
				return fmt.Errorf("deleting %s: %w", ev.TargetID(), err)
			}
		}
	}
	return nil
}

// LoadDump reads a JSON-lines registry dump and submits it in batches. A
// line is either a PackageEvent (it has an "op") or a bare PackageRecord,
// which is treated as an upsert. Lines that fail to decode or validate are
// logged and skipped.
func (p *Publisher) LoadDump(ctx context.Context, r io.Reader, batchSize int) (ingestion.DumpStats, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	var stats ingestion.DumpStats
	batch := make([]catalog.PackageEvent, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.Submit(ctx, batch); err != nil {
			return fmt.Errorf("submitting batch ending at line %d: %w", stats.Lines, err)
		}
		stats.Batches++
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
	for scanner.Scan() {
		stats.Lines++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ev, err := decodeLine(line)
		if err == nil {
			err = validator.ValidateEvent(ev)
		}
		if err != nil {
			p.logger.Warn("skipping dump line", "line", stats.Lines, "error", err)
			stats.Skipped++
			continue
		}
		if ev.Op == catalog.OpDelete {
			stats.Deletes++
		} else {
			stats.Upserts++
		}
		batch = append(batch, ev)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("reading dump at line %d: %w", stats.Lines, err)
	}
	if err := flush(); err != nil {
		return stats, err
	}
	p.logger.Info("dump loaded",
		"lines", stats.Lines,
		"upserts", stats.Upserts,
		"deletes", stats.Deletes,
		"skipped", stats.Skipped,
		"batches", stats.Batches,
	)
	return stats, nil
}

func decodeLine(line []byte) (catalog.PackageEvent, error) {
	var ev catalog.PackageEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return ev, fmt.Errorf("decoding line: %w", err)
	}
	if ev.Op != "" {
		return ev, nil
	}
	var rec catalog.PackageRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return ev, fmt.Errorf("decoding record: %w", err)
	}
	return catalog.PackageEvent{Op: catalog.OpUpsert, ID: rec.ID, Record: &rec}, nil
}
