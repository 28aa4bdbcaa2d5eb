// Package clickhouse stores the append-only login audit trail. Rows are
// immutable once written; the lockout window is derived from them instead
// of a separate mutable counter.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"authcore/internal/client"
	"authcore/internal/model"
	"authcore/internal/util"
)

// LoginLogRepository appends and counts login_logs rows.
//
// Table (MergeTree, ordered by (email, created_at)):
//
//	id UUID, user_id String, email String, login_method LowCardinality(String),
//	status LowCardinality(String), failure_reason String,
//	ip_address String, user_agent String, created_at DateTime64(3, 'UTC')
type LoginLogRepository struct {
	client *client.ClickHouseClient
	logger *zap.Logger
}

func NewLoginLogRepository(ch *client.ClickHouseClient, logger *zap.Logger) *LoginLogRepository {
	return &LoginLogRepository{
		client: ch,
		logger: logger,
	}
}

// Insert appends one audit row.
func (r *LoginLogRepository) Insert(ctx context.Context, entry *model.LoginLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	err := r.client.Exec(ctx, `
        INSERT INTO login_logs (
            id, user_id, email, login_method, status, failure_reason,
            ip_address, user_agent, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Email, string(entry.LoginMethod),
		string(entry.Status), entry.FailureReason, entry.IPAddress,
		entry.UserAgent, entry.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert login log",
			util.String("email", entry.Email),
			util.String("status", string(entry.Status)),
			util.ErrorField(err))
		return fmt.Errorf("failed to insert login log: %w", err)
	}

	return nil
}

// CountFailedSince counts failed attempts for email created after since.
// The in-flight attempt is logged after the check, so the count covers
// history up to but not including it.
func (r *LoginLogRepository) CountFailedSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count uint64
	err := r.client.QueryRow(ctx, `
        SELECT count() FROM login_logs
        WHERE email = ? AND status = ? AND created_at >= ?`,
		email, string(model.LoginFailed), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed logins: %w", err)
	}

	return int(count), nil
}

// RecentByEmail returns the newest audit rows for an email, for
// operational inspection.
func (r *LoginLogRepository) RecentByEmail(ctx context.Context, email string, limit int) ([]*model.LoginLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.client.QueryRows(ctx, `
        SELECT id, user_id, email, login_method, status, failure_reason,
            ip_address, user_agent, created_at
        FROM login_logs
        WHERE email = ?
        ORDER BY created_at DESC
        LIMIT ?`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.LoginLog
	for rows.Next() {
		entry := &model.LoginLog{}
		var method, status string
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Email, &method,
			&status, &entry.FailureReason, &entry.IPAddress,
			&entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan login log: %w", err)
		}
		entry.LoginMethod = model.LoginMethod(method)
		entry.Status = model.LoginStatus(status)
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}
