package model

import (
	"database/sql"
	"time"
)

// TransferRecord is the persisted audit row for one completed (or finally
// failed) transfer attempt.
type TransferRecord struct {
	ID            int64     `json:"id"`
	JobID         string    `json:"job_id"`
	Sequence      int       `json:"sequence"`
	Destination   string    `json:"destination"`
	Amount        string    `json:"amount"`
	OriginAccount string    `json:"origin_account"`
	Status        string    `json:"status"`
	ErrorKind     string    `json:"error_kind"`
	Detail        string    `json:"detail"`
	Pass          int       `json:"pass"`
	CreatedAt     time.Time `json:"created_at"`
}

func (t *TransferRecord) Create(db *sql.DB) error {
	t.CreatedAt = time.Now()

	query := `
	INSERT INTO transfers (job_id, sequence, destination, amount, origin_account, status, error_kind, detail, pass, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := db.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	res, err := stmt.Exec(
		t.JobID,
		t.Sequence,
		t.Destination,
		t.Amount,
		t.OriginAccount,
		t.Status,
		t.ErrorKind,
		t.Detail,
		t.Pass,
		t.CreatedAt,
	)
	if err != nil {
		return err
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// ListTransferRecords returns the most recent audit rows, newest first.
func ListTransferRecords(db *sql.DB, limit int) ([]TransferRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
	SELECT id, job_id, sequence, destination, amount, origin_account, status, error_kind, detail, pass, created_at
	FROM transfers ORDER BY id DESC LIMIT ?`
	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferRecord
	for rows.Next() {
		var t TransferRecord
		if err := rows.Scan(&t.ID, &t.JobID, &t.Sequence, &t.Destination, &t.Amount,
			&t.OriginAccount, &t.Status, &t.ErrorKind, &t.Detail, &t.Pass, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTransferRecordsByJob returns the audit rows of one job in insertion order.
func ListTransferRecordsByJob(db *sql.DB, jobID string) ([]TransferRecord, error) {
	query := `
	SELECT id, job_id, sequence, destination, amount, origin_account, status, error_kind, detail, pass, created_at
	FROM transfers WHERE job_id = ? ORDER BY id ASC`
	rows, err := db.Query(query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferRecord
	for rows.Next() {
		var t TransferRecord
		if err := rows.Scan(&t.ID, &t.JobID, &t.Sequence, &t.Destination, &t.Amount,
			&t.OriginAccount, &t.Status, &t.ErrorKind, &t.Detail, &t.Pass, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
