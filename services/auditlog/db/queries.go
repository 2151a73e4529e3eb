package db

import (
	"context"
	"time"
)

const insertEntry = `
INSERT INTO audit_entry (uid, account, site, message, credit_amount, source, actor, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertEntryParams struct {
	Uid          string
	Account      string
	Site         string
	Message      string
	CreditAmount int64
	Source       string
	Actor        string
	CreatedAt    time.Time
}

func (q *Queries) InsertEntry(ctx context.Context, arg InsertEntryParams) error {
	_, err := q.db.ExecContext(ctx, insertEntry,
		arg.Uid,
		arg.Account,
		arg.Site,
		arg.Message,
		arg.CreditAmount,
		arg.Source,
		arg.Actor,
		arg.CreatedAt,
	)
	return err
}

const listEntries = `
SELECT id, uid, account, site, message, credit_amount, source, actor, created_at
FROM audit_entry
WHERE uid = ?
ORDER BY id DESC
LIMIT ?
`

func (q *Queries) ListEntries(ctx context.Context, uid string, limit int64) ([]AuditEntry, error) {
	rows, err := q.db.QueryContext(ctx, listEntries, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AuditEntry
	for rows.Next() {
		var i AuditEntry
		err := rows.Scan(
			&i.ID,
			&i.Uid,
			&i.Account,
			&i.Site,
			&i.Message,
			&i.CreditAmount,
			&i.Source,
			&i.Actor,
			&i.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const trimEntries = `
DELETE FROM audit_entry
WHERE uid = ? AND id NOT IN (
    SELECT id FROM audit_entry
    WHERE uid = ?
    ORDER BY id DESC
    LIMIT ?
)
`

func (q *Queries) TrimEntries(ctx context.Context, uid string, keep int64) error {
	_, err := q.db.ExecContext(ctx, trimEntries, uid, uid, keep)
	return err
}

const countEntries = `
SELECT COUNT(*) FROM audit_entry WHERE uid = ?
`

func (q *Queries) CountEntries(ctx context.Context, uid string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countEntries, uid)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const listEntriesSince = `
SELECT id, uid, account, site, message, credit_amount, source, actor, created_at
FROM audit_entry
WHERE uid = ? AND created_at >= ?
ORDER BY id DESC
`

func (q *Queries) ListEntriesSince(ctx context.Context, uid string, since time.Time) ([]AuditEntry, error) {
	rows, err := q.db.QueryContext(ctx, listEntriesSince, uid, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AuditEntry
	for rows.Next() {
		var i AuditEntry
		err := rows.Scan(
			&i.ID,
			&i.Uid,
			&i.Account,
			&i.Site,
			&i.Message,
			&i.CreditAmount,
			&i.Source,
			&i.Actor,
			&i.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
