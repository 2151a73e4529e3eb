package db

import "time"

type AuditEntry struct {
	ID           int64
	Uid          string
	Account      string
	Site         string
	Message      string
	CreditAmount int64
	Source       string
	Actor        string
	CreatedAt    time.Time
}
