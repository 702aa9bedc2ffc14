package db

import (
	"context"
	"sync"

	"github.com/lopezpalacios/recurring-commitment/models"
)

var _ models.CommitmentRepository = &MemoryRepository{}

// MemoryRepository keeps commitments and the audit log in process. Reads return copies so callers never observe a
// record that is not committed.
type MemoryRepository struct {
	mu          sync.RWMutex
	commitments []*models.Commitment
	events      []*models.AuditEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) CommitmentCount(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return uint64(len(m.commitments)), nil
}

func (m *MemoryRepository) GetCommitment(_ context.Context, id uint64) (*models.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id >= uint64(len(m.commitments)) {
		return nil, nil
	}
	commitment := *m.commitments[id]
	return &commitment, nil
}

// CreateCommitment only accepts the next id in sequence, ids are never skipped or reused.
func (m *MemoryRepository) CreateCommitment(_ context.Context, commitment *models.Commitment, event *models.AuditEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if commitment.Id != uint64(len(m.commitments)) {
		return false, nil
	}
	stored := *commitment
	m.commitments = append(m.commitments, &stored)
	if event != nil {
		m.appendEvent(event)
	}
	return true, nil
}

func (m *MemoryRepository) UpdateCommitment(_ context.Context, next, prev *models.Commitment, event *models.AuditEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if next.Id >= uint64(len(m.commitments)) {
		return false, nil
	}
	current := m.commitments[next.Id]
	if current.State != prev.State || !current.LastClaimed.Equal(prev.LastClaimed) {
		return false, nil
	}
	stored := *next
	m.commitments[next.Id] = &stored
	if event != nil {
		m.appendEvent(event)
	}
	return true, nil
}

func (m *MemoryRepository) AppendEvent(_ context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendEvent(event)
	return nil
}

// appendEvent assigns the next sequence number, starting at 1 so that a zero checkpoint means nothing was relayed.
func (m *MemoryRepository) appendEvent(event *models.AuditEvent) {
	event.Seq = uint64(len(m.events)) + 1
	stored := *event
	m.events = append(m.events, &stored)
}

func (m *MemoryRepository) GetEvents(_ context.Context, afterSeq uint64, limit int) ([]*models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if afterSeq >= uint64(len(m.events)) {
		return nil, nil
	}
	end := uint64(len(m.events))
	if limit > 0 && afterSeq+uint64(limit) < end {
		end = afterSeq + uint64(limit)
	}
	events := make([]*models.AuditEvent, 0, end-afterSeq)
	for _, event := range m.events[afterSeq:end] {
		e := *event
		events = append(events, &e)
	}
	return events, nil
}
