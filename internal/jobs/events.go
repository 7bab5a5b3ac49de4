package jobs

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"alumni/internal/errs"
	"alumni/internal/notify"
	"alumni/internal/queue"
	"alumni/internal/records"
	"alumni/internal/webhook"
)

// StudentReader looks up the student an event refers to.
type StudentReader interface {
	GetStudent(ctx context.Context, alumniID string) (records.Document, error)
}

// WebhookDispatcher delivers a payload to a college's endpoint.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, collegeID string, payload any) webhook.Result
}

// EventHandler fans student events out to the owning college's webhook.
type EventHandler struct {
	students   StudentReader
	dispatcher WebhookDispatcher
	log        *zap.Logger
}

func NewEventHandler(students StudentReader, dispatcher WebhookDispatcher, log *zap.Logger) *EventHandler {
	return &EventHandler{students: students, dispatcher: dispatcher, log: log}
}

// Handle asks for redelivery only when the student lookup fails. A failed
// dispatch is logged and the event acknowledged.
func (h *EventHandler) Handle(ctx context.Context, msg queue.Message) error {
	var evt notify.StudentEvent
	if err := decode(msg, notify.TypeStudentUpdated, &evt); err != nil {
		return err
	}
	student, err := h.students.GetStudent(ctx, evt.AlumniID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	collegeID := student.String(records.FieldCollegeID)
	if collegeID == "" {
		return nil
	}

	res := h.dispatcher.Dispatch(ctx, collegeID, evt)
	switch {
	case !res.Registered:
		h.log.Debug("no webhook registered", zap.String("collegeId", collegeID))
	case res.Err != "":
		h.log.Warn("webhook not delivered", zap.String("collegeId", collegeID), zap.String("error", res.Err))
	default:
		h.log.Info("webhook delivered", zap.String("collegeId", collegeID), zap.Int("status", res.Status))
	}
	return nil
}
