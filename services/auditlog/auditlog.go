package auditlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"renewbot-backend/lib/telemetry"
	"renewbot-backend/lib/timezone"
	"renewbot-backend/services/auditlog/db"
	"renewbot-backend/services/renewal"
	"renewbot-backend/services/sites"
)

var tracer = telemetry.Tracer("services/auditlog")

//go:embed db/schema.sql
var Schema string

// DefaultCap is the per-user retention limit.
const DefaultCap = 30

type Options struct {
	// Cap bounds the retained entries per user, oldest evicted first.
	Cap int
	// MinCredit is the value filter: only results that earned at least
	// this much credit are retained.
	MinCredit int
}

func (o *Options) fillDefaults() {
	if o.Cap <= 0 {
		o.Cap = DefaultCap
	}
	if o.MinCredit <= 0 {
		o.MinCredit = 1
	}
}

// Service keeps a capped, value-filtered history of renewal outcomes
// per user. It intentionally records only credited check-ins, not every
// attempt, so the log stays meaningful as a credit ledger.
type Service struct {
	sqldb *sql.DB
	query *db.Queries
	opts  Options
}

func NewService(sqldb *sql.DB, opts Options) *Service {
	opts.fillDefaults()
	return &Service{
		sqldb: sqldb,
		query: db.New(sqldb),
		opts:  opts,
	}
}

// Append records the result when it passes the value filter and trims
// the user's history down to the cap. Filtered-out results are a no-op,
// not an error.
func (s *Service) Append(
	ctx context.Context,
	uid string,
	result sites.RenewalResult,
	source renewal.Source,
	actor renewal.Actor,
) error {
	ctx, span := tracer.Start(ctx, "Append")
	defer span.End()

	if result.CreditAmount < s.opts.MinCredit {
		return nil
	}

	createdAt := result.Time
	if createdAt.IsZero() {
		createdAt = timezone.Now()
	}

	tx, err := s.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	query := s.query.WithTx(tx)
	err = query.InsertEntry(ctx, db.InsertEntryParams{
		Uid:          uid,
		Account:      result.Account,
		Site:         result.Site,
		Message:      result.Message,
		CreditAmount: int64(result.CreditAmount),
		Source:       string(source),
		Actor:        string(actor),
		CreatedAt:    createdAt,
	})
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	err = query.TrimEntries(ctx, uid, int64(s.opts.Cap))
	if err != nil {
		return fmt.Errorf("trim audit entries: %w", err)
	}
	return tx.Commit()
}

// Entries returns the newest retained entries for uid, newest first.
func (s *Service) Entries(ctx context.Context, uid string, limit int) ([]db.AuditEntry, error) {
	if limit <= 0 || limit > s.opts.Cap {
		limit = s.opts.Cap
	}
	return s.query.ListEntries(ctx, uid, int64(limit))
}

type CreditStats struct {
	// Total credit earned within the window.
	Total int
	// Days with at least one credited entry.
	ActiveDays int
	// DailyAverage is Total / ActiveDays, 0 when no activity.
	DailyAverage float64
}

// Stats aggregates the credit ledger over the trailing window of days.
func (s *Service) Stats(ctx context.Context, uid string, days int) (CreditStats, error) {
	ctx, span := tracer.Start(ctx, "Stats")
	defer span.End()

	if days <= 0 {
		days = 7
	}
	since := timezone.Now().AddDate(0, 0, -days)
	entries, err := s.query.ListEntriesSince(ctx, uid, since)
	if err != nil {
		return CreditStats{}, fmt.Errorf("list audit entries: %w", err)
	}

	stats := CreditStats{}
	seenDays := map[string]bool{}
	for _, entry := range entries {
		stats.Total += int(entry.CreditAmount)
		seenDays[entry.CreatedAt.In(timezone.Location).Format(time.DateOnly)] = true
	}
	stats.ActiveDays = len(seenDays)
	if stats.ActiveDays > 0 {
		stats.DailyAverage = float64(stats.Total) / float64(stats.ActiveDays)
	}
	return stats, nil
}
