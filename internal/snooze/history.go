package snooze

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Sample is one past snooze as the estimator sees it.
type Sample struct {
	ReminderID uint64
	Minutes    int
	SnoozedAt  time.Time
	HourOfDay  int
}

type History interface {
	Recent(ctx context.Context, userID uint64, since time.Time, limit int) ([]Sample, error)
}

// SQLHistory reads snooze_events over plain database/sql, typically a
// read replica.
type SQLHistory struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewSQLHistory(db *sql.DB, placeholder sq.PlaceholderFormat) *SQLHistory {
	if placeholder == nil {
		placeholder = sq.Dollar
	}
	return &SQLHistory{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

func (h *SQLHistory) Recent(ctx context.Context, userID uint64, since time.Time, limit int) ([]Sample, error) {
	query := h.sb.
		Select("reminder_id", "minutes", "snoozed_at", "hour_of_day").
		From("snooze_events").
		Where(sq.And{
			sq.Eq{"user_id": userID},
			sq.GtOrEq{"snoozed_at": since.UTC()},
		}).
		OrderBy("snoozed_at DESC", "id DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build snooze history sql: %w", err)
	}

	rows, err := h.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query snooze history: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ReminderID, &s.Minutes, &s.SnoozedAt, &s.HourOfDay); err != nil {
			return nil, fmt.Errorf("scan snooze event: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snooze history: %w", err)
	}
	return out, nil
}
