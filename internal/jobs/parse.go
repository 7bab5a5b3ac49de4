package jobs

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"alumni/internal/blob"
	"alumni/internal/errs"
	"alumni/internal/notify"
	"alumni/internal/queue"
	"alumni/internal/records"
	"alumni/internal/resume"
)

// parseConfidence is the fixed confidence recorded for regex extraction.
const parseConfidence = 0.7

// ResumeStore persists parse results.
type ResumeStore interface {
	SaveResume(ctx context.Context, rec records.ResumeRecord) error
}

// ParseHandler downloads an uploaded resume and records the contacts in it.
type ParseHandler struct {
	blobs         blob.Store
	store         ResumeStore
	defaultBucket string
	log           *zap.Logger
}

func NewParseHandler(blobs blob.Store, store ResumeStore, defaultBucket string, log *zap.Logger) *ParseHandler {
	return &ParseHandler{blobs: blobs, store: store, defaultBucket: defaultBucket, log: log}
}

func (h *ParseHandler) Handle(ctx context.Context, msg queue.Message) error {
	var job notify.ParseJob
	if err := decode(msg, notify.TypeParseJob, &job); err != nil {
		return err
	}
	bucket, key, err := blob.ParsePath(job.Path, h.defaultBucket)
	if err != nil {
		return err
	}
	data, err := h.blobs.Get(ctx, bucket, key)
	if errors.Is(err, errs.ErrNotFound) {
		return errs.Invalid("resume %s not found", job.Path)
	}
	if err != nil {
		return err
	}
	text, err := blob.Text(data)
	if err != nil {
		return errs.Invalid("read resume %s: %v", job.Path, err)
	}

	contacts := resume.ExtractContacts(text)
	rec := records.ResumeRecord{
		AlumniID:    job.AlumniID,
		StoragePath: job.Path,
		Parsed:      contacts.Map(),
		Confidence:  parseConfidence,
	}
	if err := h.store.SaveResume(ctx, rec); err != nil {
		return err
	}
	h.log.Info("resume parsed",
		zap.String("alumniId", job.AlumniID),
		zap.Int("emails", len(contacts.Emails)),
		zap.Int("phones", len(contacts.Phones)),
	)
	return nil
}
