package db

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/lopezpalacios/recurring-commitment/common/loggers"
	"github.com/lopezpalacios/recurring-commitment/models"
)

// Points the repository tests at a scratch Postgres database, which is wiped before use
const envTestDbUrl = "COMMITMENTS_TEST_DB_URL"

var testStart = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

func testCommitment(id uint64) *models.Commitment {
	return &models.Commitment{
		Id:              id,
		Payer:           "payer",
		Recipient:       "recipient",
		ValueSource:     "usd",
		AmountPerPeriod: 1<<63 + 5,
		Period:          30 * 24 * time.Hour,
		StartTime:       testStart,
		EndTime:         testStart.Add(365 * 24 * time.Hour),
		LastClaimed:     testStart,
		GracePeriod:     time.Hour,
		State:           models.CommitmentState_Active,
	}
}

func repositories() map[string]func(t *testing.T) models.CommitmentRepository {
	repos := map[string]func(t *testing.T) models.CommitmentRepository{
		"memory": func(*testing.T) models.CommitmentRepository { return NewMemoryRepository() },
	}
	if url := os.Getenv(envTestDbUrl); len(url) > 0 {
		repos["postgres"] = func(t *testing.T) models.CommitmentRepository {
			cdb, err := NewCommitmentDb(context.Background(), loggers.NewTestLogger(), url)
			if err != nil {
				t.Fatalf("error connecting to test db: %v", err)
			}
			if _, err = cdb.pool.Exec(context.Background(), "TRUNCATE commitment, audit_event RESTART IDENTITY"); err != nil {
				t.Fatalf("error clearing test db: %v", err)
			}
			t.Cleanup(cdb.Close)
			return cdb
		}
	}
	return repos
}

func TestCommitmentRepository(t *testing.T) {
	for name, newRepo := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)

			if commitment, err := repo.GetCommitment(ctx, 0); err != nil || commitment != nil {
				t.Fatalf("empty repository returned %v, %v", commitment, err)
			}
			created := models.NewAuditEvent(models.EventType_CommitmentCreated, "payer", testStart).ForCommitment(0)
			if ok, err := repo.CreateCommitment(ctx, testCommitment(0), created); err != nil || !ok {
				t.Fatalf("create: ok=%t, err=%v", ok, err)
			}
			if ok, _ := repo.CreateCommitment(ctx, testCommitment(0), nil); ok {
				t.Errorf("duplicate id should not be created")
			}
			if ok, _ := repo.CreateCommitment(ctx, testCommitment(5), nil); ok {
				t.Errorf("out of sequence id should not be created")
			}
			if count, _ := repo.CommitmentCount(ctx); count != 1 {
				t.Errorf("expected 1 commitment, got %d", count)
			}
			stored, err := repo.GetCommitment(ctx, 0)
			if err != nil {
				t.Fatalf("error loading commitment: %v", err)
			}
			if !reflect.DeepEqual(stored, testCommitment(0)) {
				t.Errorf("stored commitment differs: expected %+v, got %+v", testCommitment(0), stored)
			}

			next := *stored
			next.LastClaimed = stored.LastClaimed.Add(stored.Period)
			if ok, err := repo.UpdateCommitment(ctx, &next, stored, nil); err != nil || !ok {
				t.Fatalf("update: ok=%t, err=%v", ok, err)
			}
			// stored is now stale
			paused := *stored
			paused.State = models.CommitmentState_Paused
			if ok, _ := repo.UpdateCommitment(ctx, &paused, stored, nil); ok {
				t.Errorf("update against a stale record should not apply")
			}
			paused = next
			paused.State = models.CommitmentState_Paused
			stateChanged := models.NewAuditEvent(models.EventType_CommitmentStateChanged, "arbiter", testStart).ForCommitment(0)
			stateChanged.NewState = &paused.State
			if ok, err := repo.UpdateCommitment(ctx, &paused, &next, stateChanged); err != nil || !ok {
				t.Fatalf("pause: ok=%t, err=%v", ok, err)
			}
			if current, _ := repo.GetCommitment(ctx, 0); !reflect.DeepEqual(current, &paused) {
				t.Errorf("expected %+v, got %+v", paused, current)
			}

			if err = repo.AppendEvent(ctx, models.NewAuditEvent(models.EventType_EmergencyPaused, "admin", testStart)); err != nil {
				t.Fatalf("error appending event: %v", err)
			}
			events, err := repo.GetEvents(ctx, 0, 0)
			if err != nil {
				t.Fatalf("error loading events: %v", err)
			}
			if len(events) != 3 {
				t.Fatalf("expected 3 events, got %d", len(events))
			}
			for i, event := range events {
				if event.Seq != uint64(i+1) {
					t.Errorf("event %d has seq %d", i, event.Seq)
				}
			}
			if events[0].Id != created.Id || *events[0].CommitmentId != 0 {
				t.Errorf("created event not stored as written: %+v", events[0])
			}
			if events[1].NewState == nil || *events[1].NewState != models.CommitmentState_Paused {
				t.Errorf("state change event lost its state: %+v", events[1])
			}
			if events[2].CommitmentId != nil {
				t.Errorf("global event should not reference a commitment: %+v", events[2])
			}

			if page, _ := repo.GetEvents(ctx, 1, 1); len(page) != 1 || page[0].Seq != 2 {
				t.Errorf("expected only seq 2, got %+v", page)
			}
			if page, _ := repo.GetEvents(ctx, 3, 10); len(page) != 0 {
				t.Errorf("expected no events after the last, got %+v", page)
			}
		})
	}
}
