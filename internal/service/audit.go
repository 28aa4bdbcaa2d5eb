package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"authcore/internal/clock"
	"authcore/internal/model"
	"authcore/internal/util"
)

// AuditRecorder fans every login event out to the analytical store, the
// event stream, and the search index. Recording is strictly best effort: a
// sink failure is logged and swallowed so the audit path can never fail a
// login.
type AuditRecorder struct {
	logs      LoginLogRepository
	publisher EventPublisher
	indexer   EventIndexer
	clock     clock.Clock
	logger    *zap.Logger
	topic     string
	index     string
}

// NewAuditRecorder wires the audit sinks. The publisher and indexer may be
// nil when the corresponding backend is not configured.
func NewAuditRecorder(
	logs LoginLogRepository,
	publisher EventPublisher,
	indexer EventIndexer,
	clk clock.Clock,
	logger *zap.Logger,
	topic, index string,
) *AuditRecorder {
	return &AuditRecorder{
		logs:      logs,
		publisher: publisher,
		indexer:   indexer,
		clock:     clk,
		logger:    logger,
		topic:     topic,
		index:     index,
	}
}

// Record stamps the entry and delivers it to every configured sink
// concurrently. It never returns an error to the caller.
func (r *AuditRecorder) Record(ctx context.Context, entry *model.LoginLog) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock.Now()
	}

	var g errgroup.Group

	g.Go(func() error {
		if err := r.logs.Insert(ctx, entry); err != nil {
			r.logger.Error("Failed to insert login log",
				util.String("email", entry.Email),
				util.ErrorField(err))
		}
		return nil
	})

	if r.publisher != nil {
		g.Go(func() error {
			payload, err := json.Marshal(entry)
			if err != nil {
				r.logger.Error("Failed to marshal login event", util.ErrorField(err))
				return nil
			}
			headers := map[string]string{"event_type": "login"}
			if err := r.publisher.ProduceMessage(ctx, r.topic, []byte(entry.Email), payload, headers); err != nil {
				r.logger.Error("Failed to publish login event",
					util.String("topic", r.topic),
					util.ErrorField(err))
			}
			return nil
		})
	}

	if r.indexer != nil {
		g.Go(func() error {
			if err := r.indexer.IndexDocument(ctx, r.index, entry.ID, entry); err != nil {
				r.logger.Error("Failed to index login event",
					util.String("index", r.index),
					util.ErrorField(err))
			}
			return nil
		})
	}

	// Worker funcs always return nil; Wait only synchronizes the fan-out.
	_ = g.Wait()
}
