package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"authcore/internal/config"
)

// PreparedStatements holds the statements used by the repositories. The
// conditional (IF ...) statements are the datastore-level exclusion this
// core relies on; no in-process locks are used anywhere.
type PreparedStatements struct {
	CreateCode      *gocql.Query
	LatestCodes     *gocql.Query
	MarkCodeUsed    *gocql.Query
	BumpAttempts    *gocql.Query
	CreateUser      *gocql.Query
	ClaimEmail      *gocql.Query
	GetUserByID     *gocql.Query
	GetEmailOwner   *gocql.Query
	UpdateLastLogin *gocql.Query
	UpdatePassword  *gocql.Query
	VerifyEmail     *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	logger       *zap.Logger
	prepareMutex sync.Mutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
		logger:  logger,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateCode = s.Session.Query(`
        INSERT INTO verification_codes (
            email, purpose, created_at, code_id, code, user_id,
            is_used, attempts, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	// Clustering order on created_at DESC makes the first rows the newest.
	prepared.LatestCodes = s.Session.Query(`
        SELECT email, purpose, created_at, code_id, code, user_id,
            is_used, attempts, expires_at
        FROM verification_codes
        WHERE email = ? AND purpose = ?
        LIMIT ?`)

	// Lightweight transaction: exactly one concurrent caller sees applied=true.
	prepared.MarkCodeUsed = s.Session.Query(`
        UPDATE verification_codes SET is_used = true
        WHERE email = ? AND purpose = ? AND created_at = ? AND code_id = ?
        IF is_used = false`)

	prepared.BumpAttempts = s.Session.Query(`
        UPDATE verification_codes SET attempts = ?
        WHERE email = ? AND purpose = ? AND created_at = ? AND code_id = ?`)

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (
            user_bucket, id, email, name, password_hash, status,
            email_verified, last_login_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        IF NOT EXISTS`)

	// The unique-email constraint: first writer claims the row.
	prepared.ClaimEmail = s.Session.Query(`
        INSERT INTO email_to_user (email, user_id, user_bucket, created_at)
        VALUES (?, ?, ?, ?)
        IF NOT EXISTS`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, id, email, name, password_hash, status,
            email_verified, last_login_at, created_at, updated_at
        FROM users WHERE user_bucket = ? AND id = ?`)

	prepared.GetEmailOwner = s.Session.Query(`
        SELECT user_id, user_bucket FROM email_to_user WHERE email = ?`)

	prepared.UpdateLastLogin = s.Session.Query(`
        UPDATE users SET last_login_at = ?, updated_at = ?
        WHERE user_bucket = ? AND id = ?`)

	prepared.UpdatePassword = s.Session.Query(`
        UPDATE users SET password_hash = ?, updated_at = ?
        WHERE user_bucket = ? AND id = ?`)

	prepared.VerifyEmail = s.Session.Query(`
        UPDATE users SET email_verified = ?, updated_at = ?
        WHERE user_bucket = ? AND id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		s.logger.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

// ExecuteWithRetry retries transient failures with a short backoff. Not
// used for conditional statements, which must execute exactly once.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
