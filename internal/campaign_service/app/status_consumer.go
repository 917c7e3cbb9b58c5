package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/masgolf/golang_services/internal/campaign_service/domain"
	"github.com/masgolf/golang_services/internal/platform/messagebroker"
)

// StatusCallback is the payload relayed on the status subject when a
// provider pushes a group report.
type StatusCallback struct {
	GroupID string `json:"group_id"`
	Success int    `json:"success"`
	Fail    int    `json:"fail"`
	Pending int    `json:"pending"`
	Final   bool   `json:"final"`
}

// Subscriber is satisfied by the NATS client.
type Subscriber interface {
	Subscribe(subject, queue string, handler func(messagebroker.Message)) (messagebroker.Subscription, error)
}

// StatusReconciling is the part of the Reconciler the consumer needs.
type StatusReconciling interface {
	Reconcile(ctx context.Context, groupID string, status domain.GroupStatus) error
}

// StatusConsumer feeds pushed status callbacks into the reconciler.
type StatusConsumer struct {
	subscriber Subscriber
	reconciler StatusReconciling
	logger     *slog.Logger
}

func NewStatusConsumer(sub Subscriber, rec StatusReconciling, logger *slog.Logger) *StatusConsumer {
	return &StatusConsumer{subscriber: sub, reconciler: rec, logger: logger.With("component", "status_consumer")}
}

// Start subscribes and blocks until ctx is done.
func (c *StatusConsumer) Start(ctx context.Context, subject, queue string) error {
	sub, err := c.subscriber.Subscribe(subject, queue, func(msg messagebroker.Message) {
		c.Handle(ctx, msg)
	})
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Listening for status callbacks", "subject", subject, "queue", queue)
	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		c.logger.WarnContext(ctx, "Unsubscribe failed", "error", err)
	}
	return nil
}

// Handle applies one callback. Bad payloads and orphans are logged and dropped.
func (c *StatusConsumer) Handle(ctx context.Context, msg messagebroker.Message) {
	var cb StatusCallback
	if err := json.Unmarshal(msg.Data(), &cb); err != nil || cb.GroupID == "" {
		c.logger.WarnContext(ctx, "Discarding malformed status callback", "subject", msg.Subject(), "error", err)
		return
	}
	status := domain.GroupStatus{GroupID: cb.GroupID, Success: cb.Success, Fail: cb.Fail, Pending: cb.Pending, Final: cb.Final}
	if err := c.reconciler.Reconcile(ctx, cb.GroupID, status); err != nil {
		if errors.Is(err, domain.ErrStatusReconciliationOrphan) {
			return
		}
		c.logger.ErrorContext(ctx, "Status callback not applied", "group_id", cb.GroupID, "error", err)
	}
}
