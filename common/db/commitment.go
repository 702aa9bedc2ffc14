package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lopezpalacios/recurring-commitment/common"
	"github.com/lopezpalacios/recurring-commitment/models"
)

var _ models.CommitmentRepository = &CommitmentDatabase{}

// Times are stored as unix seconds, the ledger's resolution, which covers any end time a duration can reach. Durations
// are stored as nanoseconds. Amounts are NUMERIC because they may exceed the signed 64-bit range.
const schema = `
CREATE TABLE IF NOT EXISTS commitment (
	id                BIGINT PRIMARY KEY,
	payer             TEXT NOT NULL,
	recipient         TEXT NOT NULL,
	value_source      TEXT NOT NULL,
	amount_per_period NUMERIC(20, 0) NOT NULL,
	period            BIGINT NOT NULL,
	start_time        BIGINT NOT NULL,
	end_time          BIGINT NOT NULL,
	last_claimed      BIGINT NOT NULL,
	grace_period      BIGINT NOT NULL,
	state             SMALLINT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_event (
	seq           BIGSERIAL PRIMARY KEY,
	event_id      UUID NOT NULL UNIQUE,
	type          TEXT NOT NULL,
	commitment_id BIGINT,
	created_at    BIGINT NOT NULL,
	body          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_event_commitment_idx ON audit_event (commitment_id);
`

const commitmentColumns = "id, payer, recipient, value_source, amount_per_period::text, period, start_time, end_time, last_claimed, grace_period, state"

// CommitmentDatabase is the durable CommitmentRepository. A record and the event describing its change are written in
// one transaction.
type CommitmentDatabase struct {
	pool   *pgxpool.Pool
	logger models.Logger
}

func NewCommitmentDb(ctx context.Context, logger models.Logger, connUrl string) (*CommitmentDatabase, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	pool, err := pgxpool.New(dbCtx, connUrl)
	if err != nil {
		return nil, fmt.Errorf("db: error creating pool: %w", err)
	}
	if err = pool.Ping(dbCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: error connecting: %w", err)
	}
	if _, err = pool.Exec(dbCtx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: error creating schema: %w", err)
	}
	return &CommitmentDatabase{pool, logger}, nil
}

func (cdb *CommitmentDatabase) Close() {
	cdb.pool.Close()
}

func (cdb *CommitmentDatabase) CommitmentCount(ctx context.Context) (uint64, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	var count int64
	if err := cdb.pool.QueryRow(dbCtx, "SELECT count(*) FROM commitment").Scan(&count); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

func (cdb *CommitmentDatabase) GetCommitment(ctx context.Context, id uint64) (*models.Commitment, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	row := cdb.pool.QueryRow(dbCtx, "SELECT "+commitmentColumns+" FROM commitment WHERE id = $1", int64(id))
	if commitment, err := scanCommitment(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		cdb.logger.Errorf("db: error loading commitment %d: %v", id, err)
		return nil, err
	} else {
		return commitment, nil
	}
}

// CreateCommitment inserts the commitment only if its id is the next one in sequence and not already taken.
func (cdb *CommitmentDatabase) CreateCommitment(ctx context.Context, commitment *models.Commitment, event *models.AuditEvent) (bool, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	created := false
	err := pgx.BeginFunc(dbCtx, cdb.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(
			dbCtx,
			`INSERT INTO commitment (id, payer, recipient, value_source, amount_per_period, period, start_time, end_time, last_claimed, grace_period, state)
			SELECT $1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11
			WHERE (SELECT count(*) FROM commitment) = $1
			ON CONFLICT (id) DO NOTHING`,
			commitmentValues(commitment)...,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true
		if event != nil {
			return insertEvent(dbCtx, tx, event)
		}
		return nil
	})
	if err != nil {
		cdb.logger.Errorf("db: error creating commitment %d: %v", commitment.Id, err)
		return false, err
	}
	return created, nil
}

// UpdateCommitment writes next's state and last claimed time if the stored record still has prev's. Every other field
// is fixed at creation.
func (cdb *CommitmentDatabase) UpdateCommitment(ctx context.Context, next, prev *models.Commitment, event *models.AuditEvent) (bool, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	updated := false
	err := pgx.BeginFunc(dbCtx, cdb.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(
			dbCtx,
			"UPDATE commitment SET state = $2, last_claimed = $3 WHERE id = $1 AND state = $4 AND last_claimed = $5",
			int64(next.Id),
			int16(next.State),
			next.LastClaimed.Unix(),
			int16(prev.State),
			prev.LastClaimed.Unix(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		updated = true
		if event != nil {
			return insertEvent(dbCtx, tx, event)
		}
		return nil
	})
	if err != nil {
		cdb.logger.Errorf("db: error updating commitment %d: %v", next.Id, err)
		return false, err
	}
	return updated, nil
}

func (cdb *CommitmentDatabase) AppendEvent(ctx context.Context, event *models.AuditEvent) error {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	return pgx.BeginFunc(dbCtx, cdb.pool, func(tx pgx.Tx) error {
		return insertEvent(dbCtx, tx, event)
	})
}

// GetEvents returns up to limit events with a sequence number above afterSeq, oldest first. A limit of zero or less
// returns all of them.
func (cdb *CommitmentDatabase) GetEvents(ctx context.Context, afterSeq uint64, limit int) ([]*models.AuditEvent, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	query := "SELECT seq, body FROM audit_event WHERE seq > $1 ORDER BY seq"
	args := []any{int64(afterSeq)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := cdb.pool.Query(dbCtx, query, args...)
	if err != nil {
		cdb.logger.Errorf("db: error querying events after %d: %v", afterSeq, err)
		return nil, err
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		var seq int64
		var body []byte
		if err = rows.Scan(&seq, &body); err != nil {
			return nil, err
		}
		event := new(models.AuditEvent)
		if err = json.Unmarshal(body, event); err != nil {
			return nil, fmt.Errorf("db: error decoding event %d: %w", seq, err)
		}
		event.Seq = uint64(seq)
		events = append(events, event)
	}
	return events, rows.Err()
}

func insertEvent(ctx context.Context, tx pgx.Tx, event *models.AuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var commitmentId *int64
	if event.CommitmentId != nil {
		id := int64(*event.CommitmentId)
		commitmentId = &id
	}
	var seq int64
	if err = tx.QueryRow(
		ctx,
		"INSERT INTO audit_event (event_id, type, commitment_id, created_at, body) VALUES ($1, $2, $3, $4, $5) RETURNING seq",
		event.Id,
		string(event.Type),
		commitmentId,
		event.Timestamp.Unix(),
		body,
	).Scan(&seq); err != nil {
		return err
	}
	event.Seq = uint64(seq)
	return nil
}

// commitmentValues returns the column values of a commitment in commitmentColumns order.
func commitmentValues(commitment *models.Commitment) []any {
	return []any{
		int64(commitment.Id),
		string(commitment.Payer),
		string(commitment.Recipient),
		commitment.ValueSource,
		strconv.FormatUint(commitment.AmountPerPeriod, 10),
		int64(commitment.Period),
		commitment.StartTime.Unix(),
		commitment.EndTime.Unix(),
		commitment.LastClaimed.Unix(),
		int64(commitment.GracePeriod),
		int16(commitment.State),
	}
}

func scanCommitment(row pgx.Row) (*models.Commitment, error) {
	var (
		id, period, startTime, endTime, lastClaimed, gracePeriod int64
		payer, recipient, amount                                 string
		state                                                    int16
	)
	commitment := new(models.Commitment)
	if err := row.Scan(
		&id,
		&payer,
		&recipient,
		&commitment.ValueSource,
		&amount,
		&period,
		&startTime,
		&endTime,
		&lastClaimed,
		&gracePeriod,
		&state,
	); err != nil {
		return nil, err
	}
	amountPerPeriod, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("db: invalid amount %q for commitment %d: %w", amount, id, err)
	}
	commitment.Id = uint64(id)
	commitment.Payer = models.Identity(payer)
	commitment.Recipient = models.Identity(recipient)
	commitment.AmountPerPeriod = amountPerPeriod
	commitment.Period = time.Duration(period)
	commitment.StartTime = time.Unix(startTime, 0).UTC()
	commitment.EndTime = time.Unix(endTime, 0).UTC()
	commitment.LastClaimed = time.Unix(lastClaimed, 0).UTC()
	commitment.GracePeriod = time.Duration(gracePeriod)
	commitment.State = models.CommitmentState(state)
	return commitment, nil
}
