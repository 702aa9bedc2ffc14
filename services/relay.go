package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lopezpalacios/recurring-commitment/models"
)

type RelayOpts struct {
	Repository    models.CommitmentRepository
	StateDb       models.StateRepository
	Publisher     models.QueuePublisher
	IpfsApi       models.IpfsApi
	Topic         string
	Archive       models.KeyValueRepository
	MetricService models.MetricService
	Logger        models.Logger
	Tick          time.Duration
	BatchSize     int
}

// EventRelay forwards the audit log to the events queue in sequence order. IPFS broadcast and S3 archiving are optional
// and best effort. Events can be delivered more than once, consumers dedupe on seq.
//
// With several writers sharing a database, a sequence number can become visible after a higher one. The relay stops
// short of a hole in the sequence and waits for it to fill for up to models.RelayMaxGapPolls polls. A hole that outlives
// that is treated as a rolled back write and skipped.
type EventRelay struct {
	repo          models.CommitmentRepository
	stateDb       models.StateRepository
	publisher     models.QueuePublisher
	ipfsApi       models.IpfsApi
	topic         string
	archive       models.KeyValueRepository
	metricService models.MetricService
	logger        models.Logger
	tick          time.Duration
	batchSize     int
	gapAfter      uint64
	gapPolls      int
}

func NewEventRelay(opts RelayOpts) *EventRelay {
	tick := opts.Tick
	if tick <= 0 {
		tick = models.DefaultTick
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = models.DbLoadLimit
	}
	return &EventRelay{
		repo:          opts.Repository,
		stateDb:       opts.StateDb,
		publisher:     opts.Publisher,
		ipfsApi:       opts.IpfsApi,
		topic:         opts.Topic,
		archive:       opts.Archive,
		metricService: opts.MetricService,
		logger:        opts.Logger,
		tick:          tick,
		batchSize:     batchSize,
	}
}

// Run relays until ctx is cancelled.
func (r *EventRelay) Run(ctx context.Context) error {
	// Start from the last checkpoint
	checkpoint, err := r.stateDb.GetCheckpoint(ctx, models.CheckpointType_EventRelay)
	if err != nil {
		return fmt.Errorf("relay: error querying checkpoint: %w", err)
	}
	r.logger.Infof("relay: start checkpoint: %d", checkpoint)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		if nextCheckpoint, err := r.relay(ctx, checkpoint); err != nil {
			r.logger.Errorf("relay: error relaying events after %d: %v", checkpoint, err)
		} else {
			checkpoint = nextCheckpoint
		}
		// Wait even if we had errors so that we don't get stuck in a tight loop
		select {
		case <-ctx.Done():
			r.logger.Infof("relay: stopped at checkpoint %d", checkpoint)
			return nil
		case <-ticker.C:
		}
	}
}

// relay publishes one batch of events after checkpoint and returns the checkpoint that was stored. On error the
// returned checkpoint is the one passed in.
func (r *EventRelay) relay(ctx context.Context, checkpoint uint64) (uint64, error) {
	events, err := r.repo.GetEvents(ctx, checkpoint, r.batchSize)
	if err != nil {
		return checkpoint, fmt.Errorf("error loading events: %w", err)
	}
	if len(events) == 0 {
		return checkpoint, nil
	}
	r.logger.Debugf("relay: found %d events after %d", len(events), checkpoint)
	if events = r.contiguous(checkpoint, events); len(events) == 0 {
		return checkpoint, nil
	}

	numPublished := 0
	for _, event := range events {
		if _, err = r.publisher.SendMessage(ctx, event); err != nil {
			// Stop at the first failure so that the checkpoint never skips over an unpublished event
			r.metricService.Count(ctx, models.MetricName_RelayPublishFailed, 1)
			r.logger.Errorf("relay: failed to send event %d: %v", event.Seq, err)
			break
		}
		numPublished++
		r.broadcast(ctx, event)
	}
	if numPublished == 0 {
		return checkpoint, err
	}
	published := events[:numPublished]
	r.metricService.Count(ctx, models.MetricName_RelayPublished, numPublished)
	r.archiveBatch(ctx, published)

	nextCheckpoint := published[numPublished-1].Seq
	if updated, err := r.stateDb.UpdateCheckpoint(ctx, models.CheckpointType_EventRelay, nextCheckpoint); err != nil {
		return checkpoint, fmt.Errorf("error updating checkpoint %d: %w", nextCheckpoint, err)
	} else if !updated {
		// Another relay is further along, continue from wherever it got to
		if stored, err := r.stateDb.GetCheckpoint(ctx, models.CheckpointType_EventRelay); err != nil {
			return checkpoint, fmt.Errorf("error reloading checkpoint: %w", err)
		} else {
			r.logger.Warnf("relay: checkpoint %d superseded by %d", nextCheckpoint, stored)
			return stored, nil
		}
	}
	// Only update checkpoint in-memory once it's been written to DB. This means that it's possible that we might
	// republish events, but consumers can handle this.
	r.logger.Debugf("relay: old=%d, new=%d", checkpoint, nextCheckpoint)
	return nextCheckpoint, nil
}

// contiguous trims events to the run that directly follows checkpoint, unless the first hole has already been waited on
// for long enough.
func (r *EventRelay) contiguous(checkpoint uint64, events []*models.AuditEvent) []*models.AuditEvent {
	prev := checkpoint
	for i, event := range events {
		if event.Seq != prev+1 {
			if r.gapAfter != prev {
				r.gapAfter, r.gapPolls = prev, 0
			}
			r.gapPolls++
			if r.gapPolls <= models.RelayMaxGapPolls {
				r.logger.Debugf("relay: waiting on events %d-%d (poll %d)", prev+1, event.Seq-1, r.gapPolls)
				return events[:i]
			}
			r.logger.Warnf("relay: skipping missing events %d-%d", prev+1, event.Seq-1)
		}
		prev = event.Seq
	}
	return events
}

func (r *EventRelay) broadcast(ctx context.Context, event *models.AuditEvent) {
	if r.ipfsApi == nil || len(r.topic) == 0 {
		return
	}
	if data, err := json.Marshal(event); err != nil {
		r.logger.Errorf("relay: error encoding event %d: %v", event.Seq, err)
	} else if err = r.ipfsApi.Publish(ctx, r.topic, data); err != nil {
		r.logger.Warnf("relay: error broadcasting event %d: %v", event.Seq, err)
	}
}

func (r *EventRelay) archiveBatch(ctx context.Context, events []*models.AuditEvent) {
	if r.archive == nil {
		return
	}
	batch := models.EventBatch{
		FirstSeq: events[0].Seq,
		LastSeq:  events[len(events)-1].Seq,
		Events:   events,
	}
	if err := r.archive.Store(ctx, ArchiveKey(batch.FirstSeq, batch.LastSeq), batch); err != nil {
		r.logger.Warnf("relay: error archiving events %d-%d: %v", batch.FirstSeq, batch.LastSeq, err)
	}
}

// ArchiveKey zero-pads sequence numbers so that archived batches list in order.
func ArchiveKey(firstSeq, lastSeq uint64) string {
	return fmt.Sprintf("events/%020d-%020d.json", firstSeq, lastSeq)
}
