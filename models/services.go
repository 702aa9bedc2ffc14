package models

import (
	"context"
	"time"
)

// CommitmentRepository stores commitment records and the audit event log. Updates are conditional on the stored
// record still matching prev so that two processes sharing a store cannot both advance the same accrual window.
type CommitmentRepository interface {
	CommitmentCount(ctx context.Context) (uint64, error)
	GetCommitment(ctx context.Context, id uint64) (*Commitment, error)
	CreateCommitment(ctx context.Context, commitment *Commitment, event *AuditEvent) (bool, error)
	UpdateCommitment(ctx context.Context, next, prev *Commitment, event *AuditEvent) (bool, error)
	AppendEvent(ctx context.Context, event *AuditEvent) error
	GetEvents(ctx context.Context, afterSeq uint64, limit int) ([]*AuditEvent, error)
}

type StateRepository interface {
	GetCheckpoint(ctx context.Context, checkpointType CheckpointType) (uint64, error)
	UpdateCheckpoint(ctx context.Context, checkpointType CheckpointType, checkpoint uint64) (bool, error)
}

type KeyValueRepository interface {
	Store(ctx context.Context, key string, value interface{}) error
}

// ValueTransfer is the external ledger/token service backing one value source.
type ValueTransfer interface {
	BalanceOf(ctx context.Context, owner Identity) (uint64, error)
	TransferFrom(ctx context.Context, from, to Identity, amount uint64) error
}

type ValueSourceRegistry interface {
	ValueSource(name string) (ValueTransfer, error)
}

type QueuePublisher interface {
	SendMessage(ctx context.Context, event any) (string, error)
}

type Queue interface {
	Start()
	Shutdown()
	WaitForRxShutdown()
	Publisher() QueuePublisher
	Monitor() QueueMonitor
}

type QueueMonitor interface {
	GetUtilization(ctx context.Context) (int, int, error)
}

type ResourceMonitor interface {
	GetValue(ctx context.Context) (int, error)
}

type Notifier interface {
	SendAlert(title, desc string) error
}

type MetricService interface {
	Count(ctx context.Context, name MetricName, val int) error
	Gauge(ctx context.Context, name MetricName, monitor ResourceMonitor) error
	Distribution(ctx context.Context, name MetricName, val int) error
	QueueGauge(ctx context.Context, queueName string, monitor QueueMonitor) error
	Shutdown(ctx context.Context)
}

type IpfsApi interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

type Clock func() time.Time

type Logger interface {
	Debugf(template string, args ...interface{})
	Debugw(msg string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, args ...interface{})
	Warnf(template string, args ...interface{})
	Sync() error
}
