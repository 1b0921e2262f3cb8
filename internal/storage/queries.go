package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrAddressIndexOverflow is returned by BumpAddressIndices when count would
// overflow the counter, distinct from any underlying database failure.
var ErrAddressIndexOverflow = errors.New("address index overflow")

// Execer is satisfied by *sql.DB and *sql.Tx, letting every query function
// below run either standalone or as part of a caller-managed transaction.
// The coordinator needs several of these functions composed into a single
// transaction per request (§4.3), which the teacher's one-method-per-call
// repository style didn't need to support.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// BeginTx starts a transaction for the coordinator to compose multiple
// query functions into one atomic unit.
func (s *Storage) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// LoadConfig returns the singleton Config row, or sql.ErrNoRows if startup
// has not seeded it yet.
func LoadConfig(ctx context.Context, q Execer) (*ConfigRow, error) {
	row := q.QueryRowContext(ctx, `SELECT threshold_colored, threshold_vanilla FROM config WHERE idx = 1`)
	var cfg ConfigRow
	if err := row.Scan(&cfg.ThresholdColored, &cfg.ThresholdVanilla); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadCosigners returns every cosigner row, ordered by idx (i.e. xpub
// registration order at first startup).
func LoadCosigners(ctx context.Context, q Execer) ([]Cosigner, error) {
	rows, err := q.QueryContext(ctx, `SELECT idx, xpub FROM cosigner ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cosigner
	for rows.Next() {
		var c Cosigner
		if err := rows.Scan(&c.Idx, &c.Xpub); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LoadAddressIndices returns the singleton NextAddressIndex row.
func LoadAddressIndices(ctx context.Context, q Execer) (*AddressIndices, error) {
	row := q.QueryRowContext(ctx, `SELECT internal, external FROM next_address_index WHERE idx = 1`)
	var a AddressIndices
	if err := row.Scan(&a.Internal, &a.External); err != nil {
		return nil, err
	}
	return &a, nil
}

// SeedFirstStart inserts the Config, NextAddressIndex and Cosigner rows on a
// daemon's very first start. Callers run this inside a transaction alongside
// their own startup validation.
func SeedFirstStart(ctx context.Context, tx *sql.Tx, cfg ConfigRow, xpubs []string) ([]Cosigner, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO config (idx, threshold_colored, threshold_vanilla) VALUES (1, ?, ?)`,
		cfg.ThresholdColored, cfg.ThresholdVanilla); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO next_address_index (idx, internal, external) VALUES (1, 0, 0)`); err != nil {
		return nil, fmt.Errorf("seed next_address_index: %w", err)
	}

	cosigners := make([]Cosigner, 0, len(xpubs))
	for _, xpub := range xpubs {
		res, err := tx.ExecContext(ctx, `INSERT INTO cosigner (xpub) VALUES (?)`, xpub)
		if err != nil {
			return nil, fmt.Errorf("seed cosigner %s: %w", xpub, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("seed cosigner %s: %w", xpub, err)
		}
		cosigners = append(cosigners, Cosigner{Idx: int(id), Xpub: xpub})
	}
	return cosigners, nil
}

// HasUnprocessedOperation reports whether cosignerIdx has any
// CosignerOpStatus row with processed_at still null.
func HasUnprocessedOperation(ctx context.Context, q Execer, cosignerIdx int) (bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cosigner_op_status WHERE cosigner_idx = ? AND processed_at IS NULL)`,
		cosignerIdx)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// PendingOperationExists reports whether any Operation is currently Pending.
func PendingOperationExists(ctx context.Context, q Execer) (bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM operation WHERE status = ?)`, StatusPending)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// InsertOperation creates a new Operation row and returns its idx.
func InsertOperation(ctx context.Context, tx *sql.Tx, opType OperationType, status OperationStatus, createdAt int64, initiatorIdx int) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO operation (type, status, created_at, initiator_idx) VALUES (?, ?, ?, ?)`,
		opType, status, createdAt, initiatorIdx)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertOpFile persists a file reference and returns its idx.
func InsertOpFile(ctx context.Context, tx *sql.Tx, fileID string, fileType OpFileType, operationIdx int64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO op_file (file_id, type, operation_idx) VALUES (?, ?, ?)`,
		fileID, fileType, operationIdx)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertCosignerOpStatus creates a CosignerOpStatus row, used both for the
// initiator's already-acked row and every other cosigner's pending row.
func InsertCosignerOpStatus(ctx context.Context, tx *sql.Tx, cosignerIdx int, operationIdx int64, ack sql.NullBool, respondedAt sql.NullInt64, psbtOpFileIdx sql.NullInt64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO cosigner_op_status (cosigner_idx, operation_idx, ack, responded_at, psbt_op_file_idx) VALUES (?, ?, ?, ?, ?)`,
		cosignerIdx, operationIdx, ack, respondedAt, psbtOpFileIdx)
	return err
}

// GetOperation loads one Operation row by idx.
func GetOperation(ctx context.Context, q Execer, operationIdx int64) (*Operation, error) {
	row := q.QueryRowContext(ctx,
		`SELECT idx, type, status, created_at, initiator_idx FROM operation WHERE idx = ?`, operationIdx)
	var op Operation
	if err := row.Scan(&op.Idx, &op.Type, &op.Status, &op.CreatedAt, &op.InitiatorIdx); err != nil {
		return nil, err
	}
	return &op, nil
}

// GetCosignerOpStatus loads a single (cosigner, operation) status row.
func GetCosignerOpStatus(ctx context.Context, q Execer, cosignerIdx int, operationIdx int64) (*CosignerOpStatus, error) {
	row := q.QueryRowContext(ctx,
		`SELECT idx, cosigner_idx, operation_idx, ack, responded_at, processed_at, psbt_op_file_idx
		 FROM cosigner_op_status WHERE cosigner_idx = ? AND operation_idx = ?`,
		cosignerIdx, operationIdx)
	var s CosignerOpStatus
	if err := row.Scan(&s.Idx, &s.CosignerIdx, &s.OperationIdx, &s.Ack, &s.RespondedAt, &s.ProcessedAt, &s.PsbtOpFileIdx); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListCosignerOpStatuses returns every response row for an operation.
func ListCosignerOpStatuses(ctx context.Context, q Execer, operationIdx int64) ([]CosignerOpStatus, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT idx, cosigner_idx, operation_idx, ack, responded_at, processed_at, psbt_op_file_idx
		 FROM cosigner_op_status WHERE operation_idx = ? ORDER BY cosigner_idx`,
		operationIdx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CosignerOpStatus
	for rows.Next() {
		var s CosignerOpStatus
		if err := rows.Scan(&s.Idx, &s.CosignerIdx, &s.OperationIdx, &s.Ack, &s.RespondedAt, &s.ProcessedAt, &s.PsbtOpFileIdx); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LastProcessedOpIdx returns the highest operation_idx among cosignerIdx's
// processed responses, or 0 if it has none.
func LastProcessedOpIdx(ctx context.Context, q Execer, cosignerIdx int) (int64, error) {
	row := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(operation_idx), 0) FROM cosigner_op_status
		 WHERE cosigner_idx = ? AND processed_at IS NOT NULL`,
		cosignerIdx)
	var idx int64
	if err := row.Scan(&idx); err != nil {
		return 0, err
	}
	return idx, nil
}

// RecordResponse sets the ack/responded_at/psbt_op_file_idx fields of an
// existing pending CosignerOpStatus row.
func RecordResponse(ctx context.Context, tx *sql.Tx, cosignerIdx int, operationIdx int64, ack bool, respondedAt int64, psbtOpFileIdx sql.NullInt64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE cosigner_op_status SET ack = ?, responded_at = ?, psbt_op_file_idx = ?
		 WHERE cosigner_idx = ? AND operation_idx = ?`,
		ack, respondedAt, psbtOpFileIdx, cosignerIdx, operationIdx)
	return err
}

// CountAcksNacks tallies ack=true and ack=false rows for an operation.
func CountAcksNacks(ctx context.Context, q Execer, operationIdx int64) (acks, nacks int, err error) {
	row := q.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN ack = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ack = 0 THEN 1 ELSE 0 END), 0)
		 FROM cosigner_op_status WHERE operation_idx = ?`,
		operationIdx)
	if err := row.Scan(&acks, &nacks); err != nil {
		return 0, 0, err
	}
	return acks, nacks, nil
}

// UpdateOperationStatus transitions an Operation's status.
func UpdateOperationStatus(ctx context.Context, tx *sql.Tx, operationIdx int64, status OperationStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE operation SET status = ? WHERE idx = ?`, status, operationIdx)
	return err
}

// MarkProcessed sets processed_at on a cosigner's response row.
func MarkProcessed(ctx context.Context, tx *sql.Tx, cosignerIdx int, operationIdx int64, processedAt int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE cosigner_op_status SET processed_at = ? WHERE cosigner_idx = ? AND operation_idx = ?`,
		processedAt, cosignerIdx, operationIdx)
	return err
}

// ListOpFiles returns every file attached to an operation.
func ListOpFiles(ctx context.Context, q Execer, operationIdx int64) ([]OpFile, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT idx, file_id, type, operation_idx FROM op_file WHERE operation_idx = ? ORDER BY idx`,
		operationIdx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OpFile
	for rows.Next() {
		var f OpFile
		if err := rows.Scan(&f.Idx, &f.FileID, &f.Type, &f.OperationIdx); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetOpFile loads a single file reference by idx.
func GetOpFile(ctx context.Context, q Execer, opFileIdx int64) (*OpFile, error) {
	row := q.QueryRowContext(ctx, `SELECT idx, file_id, type, operation_idx FROM op_file WHERE idx = ?`, opFileIdx)
	var f OpFile
	if err := row.Scan(&f.Idx, &f.FileID, &f.Type, &f.OperationIdx); err != nil {
		return nil, err
	}
	return &f, nil
}

// LastOperationIdx returns the highest Operation idx, or 0 if none exist.
func LastOperationIdx(ctx context.Context, q Execer) (int64, error) {
	row := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx), 0) FROM operation`)
	var idx int64
	if err := row.Scan(&idx); err != nil {
		return 0, err
	}
	return idx, nil
}

// BumpAddressIndices atomically advances the internal or external counter by
// count and returns the value it held before the bump.
func BumpAddressIndices(ctx context.Context, tx *sql.Tx, internal bool, count uint64) (first uint64, err error) {
	col := "external"
	if internal {
		col = "internal"
	}

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM next_address_index WHERE idx = 1`, col))
	if err := row.Scan(&first); err != nil {
		return 0, err
	}

	next := first + count
	if next < first {
		return 0, ErrAddressIndexOverflow
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE next_address_index SET %s = ? WHERE idx = 1`, col), next); err != nil {
		return 0, err
	}
	return first, nil
}
