package dataflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ProjectEKA/consent-manager-sub002/pkg/consent"
)

// ErrPersistence marks failures to write a transaction or notification.
var ErrPersistence = errors.New("dataflow: persistence failed")

var ErrNotFound = errors.New("dataflow: transaction not found")

// Record is one authorized data flow transaction.
type Record struct {
	TransactionID string
	ConsentID     string
	HIUID         string
	HIPID         string
	DateRange     consent.DateRange
	Signature     string
	Request       Request
	CreatedAt     time.Time
}

type Repository interface {
	Insert(ctx context.Context, r Record) error
	// InsertNotification reports false when requestID was already stored.
	InsertNotification(ctx context.Context, requestID, transactionID string, payload []byte) (bool, error)
	Get(ctx context.Context, transactionID string) (Record, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepository struct {
	db dbtx
}

// NewPostgresRepository accepts a *pgxpool.Pool, a *pgx.Conn or a pgx.Tx.
func NewPostgresRepository(db dbtx) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const insertDataFlowRequest = `
INSERT INTO data_flow_request
    (transaction_id, consent_id, hiu_id, hip_id, date_from, date_to, artefact_signature, data_flow_request, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("encode data flow request: %w", err)
	}
	_, err = r.db.Exec(ctx, insertDataFlowRequest,
		rec.TransactionID, rec.ConsentID, rec.HIUID, rec.HIPID,
		rec.DateRange.From.Time, rec.DateRange.To.Time,
		rec.Signature, payload, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert data_flow_request %s: %w", rec.TransactionID, err)
	}
	return nil
}

const insertNotification = `
INSERT INTO health_info_notification (request_id, transaction_id, notification_request)
VALUES ($1, $2, $3)
ON CONFLICT (request_id) DO NOTHING`

func (r *PostgresRepository) InsertNotification(ctx context.Context, requestID, transactionID string, payload []byte) (bool, error) {
	tag, err := r.db.Exec(ctx, insertNotification, requestID, transactionID, payload)
	if err != nil {
		return false, fmt.Errorf("insert health_info_notification %s: %w", requestID, err)
	}
	return tag.RowsAffected() == 1, nil
}

const selectDataFlowRequest = `
SELECT transaction_id, consent_id, hiu_id, hip_id, date_from, date_to, artefact_signature, data_flow_request, created_at
FROM data_flow_request WHERE transaction_id = $1`

func (r *PostgresRepository) Get(ctx context.Context, transactionID string) (Record, error) {
	var (
		rec      Record
		from, to time.Time
		payload  []byte
	)
	err := r.db.QueryRow(ctx, selectDataFlowRequest, transactionID).Scan(
		&rec.TransactionID, &rec.ConsentID, &rec.HIUID, &rec.HIPID,
		&from, &to, &rec.Signature, &payload, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("select data_flow_request %s: %w", transactionID, err)
	}
	rec.DateRange = consent.NewDateRange(from, to)
	if err := json.Unmarshal(payload, &rec.Request); err != nil {
		return Record{}, fmt.Errorf("decode data_flow_request %s: %w", transactionID, err)
	}
	return rec, nil
}
