package handlers

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/pkg/application"
	"github.com/spkampus/portal/pkg/composables"
	"github.com/spkampus/portal/pkg/eventbus"
)

// AuditEventsHandler writes every committed org event to the audit log.
type AuditEventsHandler struct {
	log *logrus.Logger
}

func NewAuditEventsHandler(log *logrus.Logger) *AuditEventsHandler {
	return &AuditEventsHandler{log: log}
}

// RegisterAuditEventHandlers subscribes the audit logger to every event on
// the application bus and returns the unsubscribe func.
func RegisterAuditEventHandlers(app application.Application) func() {
	h := NewAuditEventsHandler(app.Logger())
	return app.EventPublisher().Subscribe(eventbus.Wildcard, h.OnEvent)
}

func (h *AuditEventsHandler) OnEvent(ctx context.Context, ev eventbus.Event) error {
	if h == nil || h.log == nil || ev == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	fields := logrus.Fields{
		"event":   ev.EventName(),
		"payload": string(payload),
	}
	if requestID := composables.UseRequestID(ctx); requestID != "" {
		fields["request_id"] = requestID
	}
	h.log.WithFields(fields).Info("org.audit")
	return nil
}
