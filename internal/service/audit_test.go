package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"authcore/internal/clock"
	"authcore/internal/model"
)

func TestRecordFansOutToAllSinks(t *testing.T) {
	logs := &fakeLogRepo{}
	publisher := &fakePublisher{}
	indexer := &fakeIndexer{}
	clk := clock.NewFixed(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	recorder := NewAuditRecorder(logs, publisher, indexer, clk, zap.NewNop(), "auth.login-events", "login-events")

	recorder.Record(context.Background(), &model.LoginLog{
		Email:       "alice@example.com",
		LoginMethod: model.MethodPassword,
		Status:      model.LoginSuccess,
	})

	entry := logs.last()
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, clk.Now(), entry.CreatedAt)
	assert.Equal(t, []string{"auth.login-events"}, publisher.topics)
	assert.Len(t, indexer.indexed, 1)
}

func TestRecordSinkFailuresNeverPropagate(t *testing.T) {
	logs := &fakeLogRepo{fail: errors.New("clickhouse down")}
	publisher := &fakePublisher{fail: errors.New("broker down")}
	indexer := &fakeIndexer{fail: errors.New("es down")}
	clk := clock.NewFixed(time.Now())
	recorder := NewAuditRecorder(logs, publisher, indexer, clk, zap.NewNop(), "auth.login-events", "login-events")

	// Record returns nothing; a panic or hang here is the failure mode
	recorder.Record(context.Background(), &model.LoginLog{
		Email:  "alice@example.com",
		Status: model.LoginFailed,
	})
}

func TestRecordWithoutOptionalSinks(t *testing.T) {
	logs := &fakeLogRepo{}
	clk := clock.NewFixed(time.Now())
	recorder := NewAuditRecorder(logs, nil, nil, clk, zap.NewNop(), "", "")

	recorder.Record(context.Background(), &model.LoginLog{
		Email:  "alice@example.com",
		Status: model.LoginSuccess,
	})

	require.NotNil(t, logs.last())
}
