package app

import (
	"context"

	"github.com/sirupsen/logrus"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
)

// publish is fire-and-forget: a failed broadcast is logged and counted, and the
// next snapshot repairs whoever missed it. seq is zero for unordered events.
func publish(ctx context.Context, bus Bus, log logrus.FieldLogger, sessionID string, seq uint64, t domain.EventType, payload any) {
	event, err := domain.NewEvent(t, payload)
	if err != nil {
		log.WithError(err).WithField("event", t).Error("encode event failed")
		return
	}
	event.Seq = seq
	if err := bus.Publish(ctx, sessionID, event); err != nil {
		metrics.BusPublishFailed()
		log.WithError(err).WithField("event", t).Warn("publish failed")
	}
}
