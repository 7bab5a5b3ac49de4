package records

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"alumni/internal/auth"
	"alumni/internal/errs"
	"alumni/internal/mail"
	"alumni/internal/metrics"
	"alumni/internal/notify"
	"alumni/internal/resume"
)

// PreviewLimit caps the recipient addresses echoed by a bulk email preview.
const PreviewLimit = 50

// Notifier receives the best-effort side effects of accepted mutations.
// Implementations must not block or fail the caller.
type Notifier interface {
	EnqueueEmail(job notify.EmailJob)
	EnqueueParse(job notify.ParseJob)
	StudentUpdated(alumniID string, changes map[string]any)
}

// Mailer sends one message to many undisclosed recipients.
type Mailer interface {
	SendBulk(ctx context.Context, to []string, subject, plain, html string) (mail.DeliveryStatus, error)
}

// Service enforces the role, ownership and version rules on top of a Store.
type Service struct {
	store    Store
	notifier Notifier
	mailer   Mailer
	log      *zap.Logger
}

// NewService wires the update protocol.
func NewService(store Store, notifier Notifier, mailer Mailer, log *zap.Logger) *Service {
	return &Service{store: store, notifier: notifier, mailer: mailer, log: log}
}

func requireAdmin(p auth.Principal) error {
	if !p.Admin {
		return errs.Forbidden("not allowed")
	}
	return nil
}

func isOwner(p auth.Principal, doc Document) bool {
	owner := doc.String(FieldAuthUID)
	return owner != "" && owner == p.UID
}

// CreateStudent stores a new student and queues the onboarding email.
func (s *Service) CreateStudent(ctx context.Context, p auth.Principal, fields map[string]any) (Document, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	for _, f := range []string{FieldFirstName, FieldLastName, FieldEmail} {
		if v, _ := fields[f].(string); strings.TrimSpace(v) == "" {
			return nil, errs.Invalid("%s is required", f)
		}
	}
	return s.create(ctx, fields)
}

func (s *Service) create(ctx context.Context, fields map[string]any) (Document, error) {
	doc, err := s.store.CreateStudent(ctx, fields)
	if err != nil {
		return nil, err
	}
	metrics.RecordMutations.WithLabelValues("create_student").Inc()

	id := doc.String(FieldAlumniID)
	s.notifier.EnqueueEmail(notify.EmailJob{
		AlumniID:  id,
		CollegeID: doc.String(FieldCollegeID),
		Template:  notify.TemplateOnboarding,
		Vars:      map[string]any{"name": doc.String(FieldFirstName), "alumniId": id},
	})
	return doc, nil
}

// CreateBulk creates one student per row, each stamped with collegeID.
// Rows are independent: a failure stops the batch and returns the ids
// already created, which stay committed.
func (s *Service) CreateBulk(ctx context.Context, p auth.Principal, rows []map[string]any, collegeID string) ([]string, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for i, row := range rows {
		fields := make(map[string]any, len(row)+1)
		for k, v := range row {
			fields[k] = v
		}
		fields[FieldCollegeID] = collegeID

		doc, err := s.create(ctx, fields)
		if err != nil {
			s.log.Warn("bulk create stopped", zap.Int("row", i), zap.Int("created", len(ids)), zap.Error(err))
			return ids, err
		}
		ids = append(ids, doc.String(FieldAlumniID))
	}
	return ids, nil
}

// CreateCollege stores a college created by p.
func (s *Service) CreateCollege(ctx context.Context, p auth.Principal, fields map[string]any) (Document, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if name, _ := fields["name"].(string); strings.TrimSpace(name) == "" {
		return nil, errs.Invalid("name is required")
	}
	withActor := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		withActor[k] = v
	}
	withActor[FieldCreatedBy] = p.UID
	doc, err := s.store.CreateCollege(ctx, withActor)
	if err != nil {
		return nil, err
	}
	metrics.RecordMutations.WithLabelValues("create_college").Inc()
	return doc, nil
}

// GetStudent returns a student to any authenticated caller.
func (s *Service) GetStudent(ctx context.Context, _ auth.Principal, alumniID string) (Document, error) {
	return s.store.GetStudent(ctx, alumniID)
}

// PatchStudent applies a caller-versioned change-set. Owners may edit their
// record only once it is linked to a college; admins may always edit.
func (s *Service) PatchStudent(ctx context.Context, p auth.Principal, alumniID string, changes Changes, expectedVersion int64) (Document, error) {
	current, err := s.store.GetStudent(ctx, alumniID)
	if err != nil {
		return nil, err
	}
	if isOwner(p, current) {
		if !current.Bool(FieldLinked) {
			return nil, errs.Forbidden("profile read-only until linked to college")
		}
	} else if !p.Admin {
		return nil, errs.Forbidden("not allowed")
	}
	if v := current.Version(); expectedVersion != v {
		metrics.VersionConflicts.Inc()
		return nil, &errs.ConflictError{Current: v}
	}
	if err := changes.Validate(); err != nil {
		return nil, err
	}

	doc, err := s.store.PatchStudent(ctx, alumniID, changes, p.UID, expectedVersion)
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			metrics.VersionConflicts.Inc()
		}
		return nil, err
	}
	metrics.RecordMutations.WithLabelValues("patch_student").Inc()
	s.notifier.StudentUpdated(alumniID, changes)
	return doc, nil
}

// LinkStudent attaches a student to a college.
func (s *Service) LinkStudent(ctx context.Context, p auth.Principal, alumniID, collegeID string) (Document, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	doc, err := s.store.LinkStudentToCollege(ctx, alumniID, collegeID, p.UID)
	if err != nil {
		return nil, err
	}
	metrics.RecordMutations.WithLabelValues("link_student").Inc()
	s.notifier.StudentUpdated(alumniID, map[string]any{FieldCollegeID: collegeID, FieldLinked: true})
	return doc, nil
}

// ListAudit returns the audit history of a student to admins.
func (s *Service) ListAudit(ctx context.Context, p auth.Principal, alumniID string) ([]AuditEntry, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if _, err := s.store.GetStudent(ctx, alumniID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, alumniID)
}

// BulkEmailRequest selects the students of one school or college.
type BulkEmailRequest struct {
	Subject     string `json:"subject" binding:"required"`
	Body        string `json:"body" binding:"required"`
	Scope       string `json:"scope" binding:"required"`
	TargetID    string `json:"targetId"`
	HTMLBody    string `json:"htmlBody"`
	PreviewOnly bool   `json:"previewOnly"`
}

// BulkEmailResult reports either a preview or a send.
type BulkEmailResult struct {
	OK             bool
	Message        string
	Preview        bool
	Recipients     []string
	RecipientCount int
	Sent           int
	Skipped        int
	Status         int
}

// BulkEmail resolves the recipients of req, de-duplicated by address in
// first-seen order, and either previews or sends to them.
func (s *Service) BulkEmail(ctx context.Context, p auth.Principal, req BulkEmailRequest) (BulkEmailResult, error) {
	var field string
	switch strings.ToLower(strings.TrimSpace(req.Scope)) {
	case "school":
		field = FieldSchoolID
	case "college":
		field = FieldCollegeID
	default:
		return BulkEmailResult{}, errs.Invalid("invalid scope")
	}
	target := p.UID
	if p.Admin && req.TargetID != "" {
		target = req.TargetID
	}
	if target == "" {
		return BulkEmailResult{}, errs.Invalid("missing targetId")
	}

	docs, err := s.store.ListStudentsByField(ctx, field, target)
	if err != nil {
		return BulkEmailResult{}, err
	}
	seen := make(map[string]struct{}, len(docs))
	emails := make([]string, 0, len(docs))
	for _, d := range docs {
		e := d.String(FieldEmail)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		emails = append(emails, e)
	}

	if req.PreviewOnly {
		shown := emails
		if len(shown) > PreviewLimit {
			shown = shown[:PreviewLimit]
		}
		return BulkEmailResult{OK: true, Preview: true, Recipients: shown, RecipientCount: len(emails)}, nil
	}
	if len(emails) == 0 {
		return BulkEmailResult{Message: "No recipient emails found"}, nil
	}

	status, err := s.mailer.SendBulk(ctx, emails, strings.TrimSpace(req.Subject), req.Body, req.HTMLBody)
	if err != nil {
		return BulkEmailResult{}, err
	}
	return BulkEmailResult{
		OK:      true,
		Sent:    len(emails),
		Skipped: len(docs) - len(emails),
		Status:  status.Code,
	}, nil
}

// ParseResult is the outcome of a resume text parse.
type ParseResult struct {
	OK      bool
	Message string
	Student Document
	Parsed  resume.Parsed
}

// ParseResume extracts profile fields from text and merges the fields found
// into the student. It is a trusted internal write and skips the version check.
// Owners may parse into their record before it is linked to a college.
func (s *Service) ParseResume(ctx context.Context, p auth.Principal, alumniID, text string) (ParseResult, error) {
	current, err := s.store.GetStudent(ctx, alumniID)
	if err != nil {
		return ParseResult{}, err
	}
	if !isOwner(p, current) && !p.Admin {
		return ParseResult{}, errs.Forbidden("not allowed")
	}

	parsed := resume.Extract(text)
	changes := Changes(parsed.Changes())
	if len(changes) == 0 {
		return ParseResult{Message: "No structured info found", Parsed: parsed}, nil
	}
	doc, err := s.store.PatchStudent(ctx, alumniID, changes, p.UID, 0)
	if err != nil {
		return ParseResult{}, err
	}
	metrics.RecordMutations.WithLabelValues("parse_resume").Inc()
	s.notifier.StudentUpdated(alumniID, changes)
	return ParseResult{OK: true, Student: doc, Parsed: parsed}, nil
}

// SubmitResume queues an uploaded resume for contact extraction by the worker.
func (s *Service) SubmitResume(ctx context.Context, p auth.Principal, alumniID, path string) error {
	current, err := s.store.GetStudent(ctx, alumniID)
	if err != nil {
		return err
	}
	if !isOwner(p, current) && !p.Admin {
		return errs.Forbidden("not allowed")
	}
	if strings.TrimSpace(path) == "" {
		return errs.Invalid("path is required")
	}
	s.notifier.EnqueueParse(notify.ParseJob{AlumniID: alumniID, Path: path})
	return nil
}

// RegisterWebhook creates or replaces a college's webhook endpoint.
func (s *Service) RegisterWebhook(ctx context.Context, p auth.Principal, reg WebhookRegistration) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if reg.CollegeID == "" || reg.HMACSecret == "" {
		return errs.Invalid("collegeId and hmacSecret are required")
	}
	u, err := url.Parse(reg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errs.Invalid("url must be an absolute http(s) URL")
	}
	return s.store.PutWebhook(ctx, reg)
}
