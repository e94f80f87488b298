package recovery

import (
	"database/sql"
	"time"

	"github.com/FusionX-io/bridge-go/database"
)

var recoveryTable = `CREATE TABLE IF NOT EXISTS recovery_requests (
	id VARCHAR(64) PRIMARY KEY NOT NULL,
	orderId VARCHAR(64) NOT NULL,
	type VARCHAR(20) NOT NULL,
	status VARCHAR(12) NOT NULL,
	initiator VARCHAR(128) NOT NULL,
	reason TEXT,
	retryCount INTEGER NOT NULL DEFAULT 0,
	nextAttemptAt BIGINT NOT NULL,
	createdAt BIGINT NOT NULL,
	updatedAt BIGINT NOT NULL,
	CONSTRAINT chk_type CHECK (type IN (
		'timeout_refund', 'emergency_refund', 'public_withdrawal', 'force_recovery')),
	CONSTRAINT chk_status CHECK (status IN ('pending', 'in_progress', 'completed', 'failed'))
);`

type RequestDB struct {
	stmtCache *database.StmtCache
}

func NewRequestDB(db *sql.DB) (*RequestDB, error) {
	if _, err := db.Exec(recoveryTable); err != nil {
		return nil, err
	}
	return &RequestDB{stmtCache: database.NewStmtCache(db)}, nil
}

func (rdb *RequestDB) Close() {
	rdb.stmtCache.Clear()
}

const requestColumns = `id, orderId, type, status, initiator, reason, retryCount, nextAttemptAt, createdAt, updatedAt`

func (rdb *RequestDB) Insert(r *Request) error {
	stmt, err := rdb.stmtCache.Prepare(
		`INSERT INTO recovery_requests (` + requestColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(
		r.ID, r.OrderID, string(r.Type), string(r.Status), r.Initiator, r.Reason,
		r.RetryCount, r.NextAttemptAt.Unix(), r.CreatedAt.Unix(), r.UpdatedAt.Unix(),
	)
	return err
}

func (rdb *RequestDB) Update(r *Request) error {
	stmt, err := rdb.stmtCache.Prepare(
		`UPDATE recovery_requests SET status = ?, retryCount = ?, nextAttemptAt = ?, updatedAt = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(string(r.Status), r.RetryCount, r.NextAttemptAt.Unix(), r.UpdatedAt.Unix(), r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func scanRequests(rows *sql.Rows) ([]*Request, error) {
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		var (
			r                          Request
			rtype, status              string
			next, createdAt, updatedAt int64
			reason                     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &rtype, &status, &r.Initiator,
			&reason, &r.RetryCount, &next, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r.Type = RecoveryType(rtype)
		r.Status = RequestStatus(status)
		r.Reason = reason.String
		r.NextAttemptAt = time.Unix(next, 0).UTC()
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// HasRequest reports whether any recovery was ever recorded for the
// order; the automatic trigger fires at most once per order.
func (rdb *RequestDB) HasRequest(orderID string) (bool, error) {
	stmt, err := rdb.stmtCache.Prepare(
		`SELECT COUNT(*) FROM recovery_requests WHERE orderId = ?`)
	if err != nil {
		return false, err
	}
	var n int
	if err := stmt.QueryRow(orderID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Due returns pending requests whose next attempt time has passed.
func (rdb *RequestDB) Due(now time.Time) ([]*Request, error) {
	stmt, err := rdb.stmtCache.Prepare(
		`SELECT ` + requestColumns + ` FROM recovery_requests
		WHERE status = ? AND nextAttemptAt <= ? ORDER BY createdAt`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(string(StatusPending), now.Unix())
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (rdb *RequestDB) ListByOrder(orderID string) ([]*Request, error) {
	stmt, err := rdb.stmtCache.Prepare(
		`SELECT ` + requestColumns + ` FROM recovery_requests WHERE orderId = ? ORDER BY createdAt`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(orderID)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (rdb *RequestDB) ListByStatus(status RequestStatus) ([]*Request, error) {
	stmt, err := rdb.stmtCache.Prepare(
		`SELECT ` + requestColumns + ` FROM recovery_requests WHERE status = ? ORDER BY createdAt`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(string(status))
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}
