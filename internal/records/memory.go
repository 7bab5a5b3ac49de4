package records

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"alumni/internal/errs"
)

// Memory is a process-local Store for development and tests.
type Memory struct {
	mu       sync.Mutex
	students map[string]Document
	order    []string
	colleges map[string]Document
	audit    []AuditEntry
	webhooks map[string]WebhookRegistration
	emails   []EmailLog
	resumes  []ResumeRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		students: make(map[string]Document),
		colleges: make(map[string]Document),
		webhooks: make(map[string]WebhookRegistration),
	}
}

func (m *Memory) CreateStudent(_ context.Context, fields map[string]any) (Document, error) {
	id := uuid.NewString()
	doc := newStudentDoc(id, fields)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[id] = doc
	m.order = append(m.order, id)
	return doc.Clone(), nil
}

func (m *Memory) CreateCollege(_ context.Context, fields map[string]any) (Document, error) {
	id := uuid.NewString()
	doc := newCollegeDoc(id, fields)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.colleges[id] = doc
	return doc.Clone(), nil
}

func (m *Memory) GetStudent(_ context.Context, alumniID string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.students[alumniID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *Memory) GetCollege(_ context.Context, collegeID string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.colleges[collegeID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *Memory) PatchStudent(_ context.Context, alumniID string, changes Changes, actor string, expectedVersion int64) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.students[alumniID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	current := doc.Version()
	if expectedVersion > 0 && expectedVersion != current {
		return nil, &errs.ConflictError{Current: current}
	}
	applied := patchSet(changes, actor, current+1)
	doc.Merge(applied)
	m.audit = append(m.audit, AuditEntry{
		ID:        uuid.NewString(),
		AlumniID:  alumniID,
		Actor:     actor,
		Changes:   applied,
		CreatedAt: Clock(),
	})
	return doc.Clone(), nil
}

func (m *Memory) LinkStudentToCollege(_ context.Context, alumniID, collegeID, adminUID string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.students[alumniID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	doc.Merge(linkSet(collegeID, adminUID, doc.Version()+1))
	m.audit = append(m.audit, AuditEntry{
		ID:        uuid.NewString(),
		AlumniID:  alumniID,
		Actor:     adminUID,
		Action:    ActionLinkToCollege,
		CollegeID: collegeID,
		CreatedAt: Clock(),
	})
	return doc.Clone(), nil
}

func (m *Memory) ListStudentsByField(_ context.Context, field, value string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for _, id := range m.order {
		doc := m.students[id]
		if doc.String(field) == value {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (m *Memory) ListAudit(_ context.Context, alumniID string) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.audit {
		if e.AlumniID == alumniID {
			if e.Changes != nil {
				e.Changes = Document(e.Changes).Clone()
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) PutWebhook(_ context.Context, reg WebhookRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[reg.CollegeID] = reg
	return nil
}

func (m *Memory) GetWebhook(_ context.Context, collegeID string) (WebhookRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.webhooks[collegeID]
	if !ok {
		return WebhookRegistration{}, errs.ErrNotFound
	}
	return reg, nil
}

func (m *Memory) LogEmailJob(_ context.Context, entry EmailLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = append(m.emails, entry)
	return nil
}

// EmailLogs returns a copy of the logged email jobs.
func (m *Memory) EmailLogs() []EmailLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmailLog(nil), m.emails...)
}

func (m *Memory) SaveResume(_ context.Context, rec ResumeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumes = append(m.resumes, rec)
	return nil
}

// Resumes returns a copy of the saved resume records.
func (m *Memory) Resumes() []ResumeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ResumeRecord(nil), m.resumes...)
}

func (m *Memory) Ping(context.Context) error { return nil }
