package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lopezpalacios/recurring-commitment/common/db"
	"github.com/lopezpalacios/recurring-commitment/common/loggers"
	"github.com/lopezpalacios/recurring-commitment/common/token"
	"github.com/lopezpalacios/recurring-commitment/models"
)

const (
	testDeployer  models.Identity = "deployer"
	testPayer     models.Identity = "payer"
	testRecipient models.Identity = "recipient"
	testStranger  models.Identity = "stranger"
	testSource                    = "usd"
	day                           = 24 * time.Hour
)

var testStart = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

func Assert[T comparable](t *testing.T, expected, actual T, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected=%v, actual=%v", msg, expected, actual)
	}
}

type MockMetricService struct {
	mu     sync.Mutex
	counts map[models.MetricName]int
	dists  map[models.MetricName][]int
	gauges map[models.MetricName]models.ResourceMonitor
}

func (m *MockMetricService) Count(ctx context.Context, name models.MetricName, val int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.counts == nil {
		m.counts = make(map[models.MetricName]int)
	}
	m.counts[name] += val
	return nil
}

func (m *MockMetricService) Gauge(ctx context.Context, name models.MetricName, monitor models.ResourceMonitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gauges == nil {
		m.gauges = make(map[models.MetricName]models.ResourceMonitor)
	}
	m.gauges[name] = monitor
	return nil
}

func (m *MockMetricService) Distribution(ctx context.Context, name models.MetricName, val int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dists == nil {
		m.dists = make(map[models.MetricName][]int)
	}
	m.dists[name] = append(m.dists[name], val)
	return nil
}

func (m *MockMetricService) QueueGauge(ctx context.Context, queueName string, monitor models.QueueMonitor) error {
	return nil
}

func (m *MockMetricService) Shutdown(ctx context.Context) {}

func (m *MockMetricService) count(name models.MetricName) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.counts[name]
}

type MockNotifier struct {
	mu     sync.Mutex
	alerts []string
	err    error
}

func (n *MockNotifier) SendAlert(title, desc string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, desc)
	return nil
}

func (n *MockNotifier) numAlerts() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.alerts)
}

type MockPublisher struct {
	messages    chan any
	numAttempts int
	errorOn     int
}

func (p *MockPublisher) SendMessage(ctx context.Context, event any) (string, error) {
	p.numAttempts++
	if p.numAttempts == p.errorOn {
		return "", errors.New("test error")
	}
	p.messages <- event
	return "msgId", nil
}

type MockStateRepository struct {
	mu          sync.Mutex
	checkpoints map[models.CheckpointType]uint64
	failUpdate  bool
}

func (s *MockStateRepository) GetCheckpoint(ctx context.Context, checkpointType models.CheckpointType) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkpoints[checkpointType], nil
}

func (s *MockStateRepository) UpdateCheckpoint(ctx context.Context, checkpointType models.CheckpointType, checkpoint uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpdate {
		return false, errors.New("test error")
	}
	if s.checkpoints == nil {
		s.checkpoints = make(map[models.CheckpointType]uint64)
	}
	if checkpoint <= s.checkpoints[checkpointType] {
		return false, nil
	}
	s.checkpoints[checkpointType] = checkpoint
	return true, nil
}

func (s *MockStateRepository) checkpoint(checkpointType models.CheckpointType) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkpoints[checkpointType]
}

type MockKeyValueRepository struct {
	mu     sync.Mutex
	values map[string]any
}

func (k *MockKeyValueRepository) Store(ctx context.Context, key string, value interface{}) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.values == nil {
		k.values = make(map[string]any)
	}
	k.values[key] = value
	return nil
}

type MockIpfsApi struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (i *MockIpfsApi) Publish(ctx context.Context, topic string, data []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.published == nil {
		i.published = make(map[string][][]byte)
	}
	i.published[topic] = append(i.published[topic], data)
	return nil
}

// FlakyRepository wraps a working repository and fails selected writes. With failWhenDone it behaves like a database
// driver and refuses writes on a context that has ended.
type FlakyRepository struct {
	models.CommitmentRepository
	failAppend   bool
	failUpdate   bool
	failWhenDone bool
	numUpdates   int
}

func (f *FlakyRepository) AppendEvent(ctx context.Context, event *models.AuditEvent) error {
	if f.failAppend {
		return errors.New("test error")
	}
	if f.failWhenDone && ctx.Err() != nil {
		return ctx.Err()
	}
	return f.CommitmentRepository.AppendEvent(ctx, event)
}

func (f *FlakyRepository) UpdateCommitment(ctx context.Context, next, prev *models.Commitment, event *models.AuditEvent) (bool, error) {
	f.numUpdates++
	if f.failUpdate {
		return false, errors.New("test error")
	}
	if f.failWhenDone && ctx.Err() != nil {
		return false, ctx.Err()
	}
	return f.CommitmentRepository.UpdateCommitment(ctx, next, prev, event)
}

// HookedValueTransfer runs onTransfer with the context it was called with before delegating to the pool. Tests use it
// to play a recipient whose transfer hook calls back into the ledger.
type HookedValueTransfer struct {
	*token.Pool
	onTransfer  func(ctx context.Context)
	transferErr error
}

func (h *HookedValueTransfer) TransferFrom(ctx context.Context, from, to models.Identity, amount uint64) error {
	if h.onTransfer != nil {
		h.onTransfer(ctx)
	}
	if h.transferErr != nil {
		return h.transferErr
	}
	return h.Pool.TransferFrom(ctx, from, to, amount)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testStart}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	return c.now
}

type testLedger struct {
	*CommitmentLedger
	repo          models.CommitmentRepository
	memRepo       *db.MemoryRepository
	pool          *token.Pool
	clock         *fakeClock
	metricService *MockMetricService
	notifier      *MockNotifier
}

type testLedgerOpts struct {
	repo     func(*db.MemoryRepository) models.CommitmentRepository
	source   func(*token.Pool) models.ValueTransfer
	noFunds  bool
	deployer models.Identity
}

func newTestLedger(t *testing.T, opts testLedgerOpts) *testLedger {
	t.Helper()
	memRepo := db.NewMemoryRepository()
	var repo models.CommitmentRepository = memRepo
	if opts.repo != nil {
		repo = opts.repo(memRepo)
	}
	pool := token.NewPool(testSource, testDeployer)
	if !opts.noFunds {
		pool.Mint(testPayer, 1_000_000)
		pool.Approve(testPayer, 1_000_000)
	}
	var source models.ValueTransfer = pool
	if opts.source != nil {
		source = opts.source(pool)
	}
	registry := token.NewRegistry()
	registry.Register(testSource, source)
	deployer := opts.deployer
	if deployer.IsNull() {
		deployer = testDeployer
	}
	tl := &testLedger{
		repo:          repo,
		memRepo:       memRepo,
		pool:          pool,
		clock:         newFakeClock(),
		metricService: &MockMetricService{},
		notifier:      &MockNotifier{},
	}
	ledger, err := NewCommitmentLedger(context.Background(), LedgerOpts{
		Deployer:      deployer,
		Repository:    repo,
		ValueSources:  registry,
		MetricService: tl.metricService,
		Notifier:      tl.notifier,
		Logger:        loggers.NewTestLogger(),
		Clock:         tl.clock.Now,
	})
	if err != nil {
		t.Fatalf("error creating ledger: %v", err)
	}
	tl.CommitmentLedger = ledger
	return tl
}

func defaultParams() models.CreateParams {
	return models.CreateParams{
		Recipient:       testRecipient,
		ValueSource:     testSource,
		AmountPerPeriod: 100,
		Period:          30 * day,
		Duration:        365 * day,
		GracePeriod:     day,
	}
}

func (tl *testLedger) mustCreate(t *testing.T, params models.CreateParams) uint64 {
	t.Helper()
	id, err := tl.CreateCommitment(context.Background(), testPayer, params)
	if err != nil {
		t.Fatalf("error creating commitment: %v", err)
	}
	return id
}

func (tl *testLedger) balance(t *testing.T, owner models.Identity) uint64 {
	t.Helper()
	balance, err := tl.pool.BalanceOf(context.Background(), owner)
	if err != nil {
		t.Fatalf("error reading balance: %v", err)
	}
	return balance
}

func (tl *testLedger) eventTypes(t *testing.T) []models.EventType {
	t.Helper()
	events, err := tl.memRepo.GetEvents(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("error reading events: %v", err)
	}
	eventTypes := make([]models.EventType, len(events))
	for i, event := range events {
		eventTypes[i] = event.Type
	}
	return eventTypes
}

func waitForMesssages(messageChannel chan any, n int) []any {
	messages := make([]any, n)
	for i := 0; i < n; i++ {
		messages[i] = <-messageChannel
	}
	return messages
}
