package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"alumni/internal/errs"
	"alumni/internal/mail"
	"alumni/internal/notify"
	"alumni/internal/queue"
	"alumni/internal/records"
)

// EmailStore is the part of the record store the email worker needs.
type EmailStore interface {
	GetStudent(ctx context.Context, alumniID string) (records.Document, error)
	LogEmailJob(ctx context.Context, entry records.EmailLog) error
}

// DirectSender sends to a single recipient.
type DirectSender interface {
	SendDirect(ctx context.Context, to, subject, plain, html string) (mail.DeliveryStatus, error)
}

// EmailHandler sends templated emails to students.
type EmailHandler struct {
	store  EmailStore
	sender DirectSender
	log    *zap.Logger
}

func NewEmailHandler(store EmailStore, sender DirectSender, log *zap.Logger) *EmailHandler {
	return &EmailHandler{store: store, sender: sender, log: log}
}

func (h *EmailHandler) Handle(ctx context.Context, msg queue.Message) error {
	var job notify.EmailJob
	if err := decode(msg, notify.TypeEmailJob, &job); err != nil {
		return err
	}
	student, err := h.store.GetStudent(ctx, job.AlumniID)
	if errors.Is(err, errs.ErrNotFound) {
		h.log.Info("email job for missing student", zap.String("alumniId", job.AlumniID))
		return nil
	}
	if err != nil {
		return err
	}
	to := student.String(records.FieldEmail)
	if to == "" {
		return errs.Invalid("student %s has no email", job.AlumniID)
	}

	college, _ := job.Vars["college"].(string)
	if college == "" {
		college = "College"
	}
	name, _ := job.Vars["name"].(string)
	subject := fmt.Sprintf("%s: %s", college, job.Template)
	plain := fmt.Sprintf("Hi %s,\nPlease check your profile.", name)

	status, err := h.sender.SendDirect(ctx, to, subject, plain, "")
	if err != nil {
		return err
	}
	outcome := "failed"
	switch status.Code {
	case 200, 202, 250:
		outcome = "sent"
	}
	entry := records.EmailLog{AlumniID: job.AlumniID, CollegeID: job.CollegeID, Template: job.Template, Status: outcome}
	if err := h.store.LogEmailJob(ctx, entry); err != nil {
		h.log.Warn("email job log failed", zap.String("alumniId", job.AlumniID), zap.Error(err))
	}
	return nil
}
