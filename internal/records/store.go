package records

import (
	"context"
	"time"
)

// Store persists student and college documents and owns the versioning and
// audit side effects of every student mutation.
//
// Point lookups report absence as errs.ErrNotFound; connectivity failures are
// wrapped with errs.ErrServiceUnavailable so callers can tell them apart.
type Store interface {
	CreateStudent(ctx context.Context, fields map[string]any) (Document, error)
	CreateCollege(ctx context.Context, fields map[string]any) (Document, error)
	GetStudent(ctx context.Context, alumniID string) (Document, error)
	GetCollege(ctx context.Context, collegeID string) (Document, error)

	// PatchStudent applies changes and bumps the version by one. A positive
	// expectedVersion is compared with the stored version under the same
	// lock/transaction as the write; zero skips the check.
	PatchStudent(ctx context.Context, alumniID string, changes Changes, actor string, expectedVersion int64) (Document, error)
	LinkStudentToCollege(ctx context.Context, alumniID, collegeID, adminUID string) (Document, error)

	ListStudentsByField(ctx context.Context, field, value string) ([]Document, error)
	ListAudit(ctx context.Context, alumniID string) ([]AuditEntry, error)

	PutWebhook(ctx context.Context, reg WebhookRegistration) error
	GetWebhook(ctx context.Context, collegeID string) (WebhookRegistration, error)

	LogEmailJob(ctx context.Context, entry EmailLog) error
	SaveResume(ctx context.Context, rec ResumeRecord) error

	Ping(ctx context.Context) error
}

// Clock is overridable in tests.
var Clock = func() time.Time { return time.Now().UTC() }

func timestamp() string { return Clock().Format(time.RFC3339Nano) }

// newStudentDoc builds the document persisted by CreateStudent.
func newStudentDoc(id string, fields map[string]any) Document {
	doc := Document{FieldLinked: false}
	doc.Merge(fields)
	doc[FieldAlumniID] = id
	doc[FieldVersion] = int64(initialVersion)
	if _, ok := doc[FieldCreatedAt]; !ok {
		doc[FieldCreatedAt] = timestamp()
	}
	return doc
}

func newCollegeDoc(id string, fields map[string]any) Document {
	doc := Document{}
	doc.Merge(fields)
	doc[FieldCollegeID] = id
	doc[FieldVersion] = int64(initialVersion)
	if _, ok := doc[FieldCreatedAt]; !ok {
		doc[FieldCreatedAt] = timestamp()
	}
	return doc
}

// patchSet returns the change-set actually written for a patch: the caller's
// keys plus the system stamps, which always win.
func patchSet(changes Changes, actor string, newVersion int64) map[string]any {
	applied := make(map[string]any, len(changes)+3)
	for k, v := range changes {
		applied[k] = v
	}
	delete(applied, FieldAlumniID)
	applied[FieldVersion] = newVersion
	applied[FieldLastUpdatedAt] = timestamp()
	applied[FieldLastUpdatedBy] = actor
	return applied
}

func linkSet(collegeID, adminUID string, newVersion int64) map[string]any {
	return map[string]any{
		FieldCollegeID:    collegeID,
		FieldLinked:       true,
		FieldLastLinkedAt: timestamp(),
		FieldLastLinkedBy: adminUID,
		FieldVersion:      newVersion,
	}
}
