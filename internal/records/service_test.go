package records

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"alumni/internal/auth"
	"alumni/internal/errs"
	"alumni/internal/mail"
	"alumni/internal/notify"
)

type recordingNotifier struct {
	mu      sync.Mutex
	emails  []notify.EmailJob
	parses  []notify.ParseJob
	updates []string
}

func (n *recordingNotifier) EnqueueEmail(job notify.EmailJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, job)
}

func (n *recordingNotifier) EnqueueParse(job notify.ParseJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parses = append(n.parses, job)
}

func (n *recordingNotifier) StudentUpdated(alumniID string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, alumniID)
}

type recordingMailer struct {
	calls [][]string
	err   error
}

func (m *recordingMailer) SendBulk(_ context.Context, to []string, _, _, _ string) (mail.DeliveryStatus, error) {
	m.calls = append(m.calls, append([]string(nil), to...))
	if m.err != nil {
		return mail.DeliveryStatus{}, m.err
	}
	return mail.DeliveryStatus{Code: 202, Transport: "test"}, nil
}

var (
	admin = auth.Principal{UID: "admin-1", Admin: true}
	owner = auth.Principal{UID: "owner-1"}
)

type fixture struct {
	store    *Memory
	notifier *recordingNotifier
	mailer   *recordingMailer
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{store: NewMemory(), notifier: &recordingNotifier{}, mailer: &recordingMailer{}}
	f.svc = NewService(f.store, f.notifier, f.mailer, zaptest.NewLogger(t))
	return f
}

func studentFields(extra map[string]any) map[string]any {
	fields := map[string]any{"firstName": "Asha", "lastName": "Rao", "email": "asha@example.edu"}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

func TestService_CreatePatchPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.svc.CreateStudent(ctx, admin, studentFields(map[string]any{"collegeId": "c-1"}))
	require.NoError(t, err)
	id := s.String(FieldAlumniID)
	require.Len(t, f.notifier.emails, 1)
	require.Equal(t, notify.EmailJob{
		AlumniID:  id,
		CollegeID: "c-1",
		Template:  notify.TemplateOnboarding,
		Vars:      map[string]any{"name": "Asha", "alumniId": id},
	}, f.notifier.emails[0])

	_, err = f.svc.PatchStudent(ctx, admin, id, Changes{"phone": "111"}, 1)
	require.NoError(t, err)
	doc, err := f.svc.PatchStudent(ctx, admin, id, Changes{"phone": "222"}, 2)
	require.NoError(t, err)

	require.Equal(t, int64(3), doc.Version())
	require.Equal(t, "222", doc.String("phone"))
	entries, err := f.store.ListAudit(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []string{id, id}, f.notifier.updates)
}

func TestService_CreateStudentRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateStudent(ctx, owner, studentFields(nil))
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = f.svc.CreateStudent(ctx, admin, map[string]any{"firstName": "A", "lastName": "B"})
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Empty(t, f.notifier.emails)
}

func TestService_OwnerReadOnlyUntilLinked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.CreateStudent(ctx, admin, studentFields(map[string]any{"authUid": owner.UID}))
	require.NoError(t, err)
	id := s.String(FieldAlumniID)

	_, err = f.svc.PatchStudent(ctx, owner, id, Changes{"phone": "1"}, 1)
	var forbidden *errs.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	require.Contains(t, forbidden.Reason, "read-only until linked")

	linked, err := f.svc.LinkStudent(ctx, admin, id, "c-9")
	require.NoError(t, err)
	require.True(t, linked.Bool(FieldLinked))
	require.Equal(t, int64(2), linked.Version())

	doc, err := f.svc.PatchStudent(ctx, owner, id, Changes{"phone": "1"}, 2)
	require.NoError(t, err)
	require.Equal(t, "1", doc.String("phone"))
	require.Equal(t, owner.UID, doc.String(FieldLastUpdatedBy))
}

func TestService_PatchByStranger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.svc.CreateStudent(ctx, admin, studentFields(map[string]any{"authUid": "someone", "linkedToCollege": true}))

	_, err := f.svc.PatchStudent(ctx, owner, s.String(FieldAlumniID), Changes{"phone": "1"}, 1)
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestService_PatchConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.svc.CreateStudent(ctx, admin, studentFields(nil))
	id := s.String(FieldAlumniID)

	_, err := f.svc.PatchStudent(ctx, admin, id, Changes{"phone": "1"}, 4)
	var conflict *errs.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(1), conflict.Current)

	doc, _ := f.store.GetStudent(ctx, id)
	require.Equal(t, int64(1), doc.Version())
	require.Empty(t, doc.String("phone"))
	entries, _ := f.store.ListAudit(ctx, id)
	require.Empty(t, entries)
	require.Empty(t, f.notifier.updates)
}

func TestService_PatchMissingAndInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PatchStudent(ctx, admin, "nope", Changes{"a": "b"}, 1)
	require.ErrorIs(t, err, errs.ErrNotFound)

	s, _ := f.svc.CreateStudent(ctx, admin, studentFields(nil))
	_, err = f.svc.PatchStudent(ctx, admin, s.String(FieldAlumniID), Changes{"address": map[string]any{"city": "x"}}, 1)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestService_LinkMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.LinkStudent(context.Background(), admin, "ghost", "c-1")
	require.ErrorIs(t, err, errs.ErrNotFound)
	entries, _ := f.store.ListAudit(context.Background(), "ghost")
	require.Empty(t, entries)
	require.Empty(t, f.notifier.updates)

	_, err = f.svc.LinkStudent(context.Background(), owner, "ghost", "c-1")
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func seedEmails(t *testing.T, f *fixture, field, value string, emails ...string) {
	t.Helper()
	for _, e := range emails {
		fields := map[string]any{field: value}
		if e != "" {
			fields[FieldEmail] = e
		}
		_, err := f.store.CreateStudent(context.Background(), fields)
		require.NoError(t, err)
	}
}

func TestService_BulkEmailDedup(t *testing.T) {
	f := newFixture(t)
	seedEmails(t, f, FieldCollegeID, "c-1", "a@x.io", "b@x.io", "a@x.io", "c@x.io", "")
	seedEmails(t, f, FieldCollegeID, "c-2", "z@x.io")

	res, err := f.svc.BulkEmail(context.Background(), admin, BulkEmailRequest{
		Subject: "  Reunion ", Body: "See you", Scope: "College", TargetID: "c-1",
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 3, res.Sent)
	require.Equal(t, 2, res.Skipped)
	require.Equal(t, 202, res.Status)
	require.Equal(t, [][]string{{"a@x.io", "b@x.io", "c@x.io"}}, f.mailer.calls)
}

func TestService_BulkEmailPreview(t *testing.T) {
	f := newFixture(t)
	var emails []string
	for i := 0; i < 60; i++ {
		emails = append(emails, fmt.Sprintf("s%02d@x.io", i))
	}
	seedEmails(t, f, FieldSchoolID, "school-1", emails...)

	res, err := f.svc.BulkEmail(context.Background(), auth.Principal{UID: "school-1"}, BulkEmailRequest{
		Subject: "s", Body: "b", Scope: "school", TargetID: "ignored-for-non-admin", PreviewOnly: true,
	})
	require.NoError(t, err)
	require.True(t, res.Preview)
	require.Equal(t, 60, res.RecipientCount)
	require.Equal(t, emails[:PreviewLimit], res.Recipients)
	require.Empty(t, f.mailer.calls)
}

func TestService_BulkEmailEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BulkEmail(ctx, admin, BulkEmailRequest{Subject: "s", Body: "b", Scope: "district"})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.svc.BulkEmail(ctx, auth.Principal{}, BulkEmailRequest{Subject: "s", Body: "b", Scope: "school"})
	require.ErrorIs(t, err, errs.ErrValidation)

	res, err := f.svc.BulkEmail(ctx, admin, BulkEmailRequest{Subject: "s", Body: "b", Scope: "college", TargetID: "empty"})
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "No recipient emails found", res.Message)
	require.Empty(t, f.mailer.calls)

	seedEmails(t, f, FieldCollegeID, "c-1", "a@x.io")
	f.mailer.err = &errs.SendError{Reason: "smtp down"}
	_, err = f.svc.BulkEmail(ctx, admin, BulkEmailRequest{Subject: "s", Body: "b", Scope: "college", TargetID: "c-1"})
	require.ErrorIs(t, err, errs.ErrSendFailed)
}

type failingCreateStore struct {
	*Memory
	failAt int
	calls  int
}

func (s *failingCreateStore) CreateStudent(ctx context.Context, fields map[string]any) (Document, error) {
	s.calls++
	if s.calls == s.failAt {
		return nil, errs.Unavailable(errors.New("connection reset"))
	}
	return s.Memory.CreateStudent(ctx, fields)
}

func TestService_CreateBulk(t *testing.T) {
	f := newFixture(t)
	rows := []map[string]any{{"firstName": "A"}, {"firstName": "B", "collegeId": "other"}}

	ids, err := f.svc.CreateBulk(context.Background(), admin, rows, "c-7")
	require.NoError(t, err)
	require.Len(t, ids, 2)
	for _, id := range ids {
		doc, err := f.store.GetStudent(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, "c-7", doc.String(FieldCollegeID))
	}
	require.Len(t, f.notifier.emails, 2)
	require.Equal(t, "c-7", f.notifier.emails[1].CollegeID)
	require.Equal(t, "B", f.notifier.emails[1].Vars["name"])
	_, ok := rows[0][FieldCollegeID]
	require.False(t, ok, "input rows are not mutated")
}

func TestService_CreateBulkStopsAtFailure(t *testing.T) {
	store := &failingCreateStore{Memory: NewMemory(), failAt: 3}
	n := &recordingNotifier{}
	svc := NewService(store, n, &recordingMailer{}, zaptest.NewLogger(t))
	rows := []map[string]any{{"firstName": "1"}, {"firstName": "2"}, {"firstName": "3"}, {"firstName": "4"}}

	ids, err := svc.CreateBulk(context.Background(), admin, rows, "c-1")
	require.ErrorIs(t, err, errs.ErrServiceUnavailable)
	require.Len(t, ids, 2)
	for _, id := range ids {
		_, err := store.GetStudent(context.Background(), id)
		require.NoError(t, err, "earlier rows stay committed")
	}
	require.Len(t, n.emails, 2)

	_, err = svc.CreateBulk(context.Background(), owner, rows, "c-1")
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestService_CreateCollege(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.CreateCollege(context.Background(), admin, map[string]any{"name": "IIT", "domain": "iit.ac.in"})
	require.NoError(t, err)
	require.Equal(t, admin.UID, c.String(FieldCreatedBy))
	require.NotEmpty(t, c.String(FieldCollegeID))
	require.Equal(t, int64(1), c.Version())

	_, err = f.svc.CreateCollege(context.Background(), admin, map[string]any{"domain": "x"})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestService_ParseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.svc.CreateStudent(ctx, admin, studentFields(map[string]any{"authUid": owner.UID}))
	id := s.String(FieldAlumniID)

	res, err := f.svc.ParseResume(ctx, owner, id, "nothing useful here")
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "No structured info found", res.Message)
	doc, _ := f.store.GetStudent(ctx, id)
	require.Equal(t, int64(1), doc.Version())

	require.False(t, doc.Bool(FieldLinked))
	res, err = f.svc.ParseResume(ctx, owner, id, "Graduated 2019. React, Docker. B.Tech Computer")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, int64(2), res.Student.Version())
	require.Equal(t, "btech", res.Student.String("course"))
	require.Equal(t, 2019, *res.Parsed.GraduationYear)
	require.Equal(t, []string{id}, f.notifier.updates)

	_, err = f.svc.ParseResume(ctx, auth.Principal{UID: "stranger"}, id, "2019")
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestService_SubmitResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.svc.CreateStudent(ctx, admin, studentFields(nil))
	id := s.String(FieldAlumniID)

	require.ErrorIs(t, f.svc.SubmitResume(ctx, admin, id, " "), errs.ErrValidation)
	require.NoError(t, f.svc.SubmitResume(ctx, admin, id, "s3://cv/resumes/"+id+"/cv.pdf"))
	require.Equal(t, []notify.ParseJob{{AlumniID: id, Path: "s3://cv/resumes/" + id + "/cv.pdf"}}, f.notifier.parses)
	require.ErrorIs(t, f.svc.SubmitResume(ctx, owner, id, "x"), errs.ErrForbidden)
}

func TestService_RegisterWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := WebhookRegistration{CollegeID: "c-1", URL: "https://hooks.example.edu/scl", HMACSecret: "k"}

	require.ErrorIs(t, f.svc.RegisterWebhook(ctx, owner, reg), errs.ErrForbidden)
	bad := reg
	bad.URL = "/relative"
	require.ErrorIs(t, f.svc.RegisterWebhook(ctx, admin, bad), errs.ErrValidation)

	require.NoError(t, f.svc.RegisterWebhook(ctx, admin, reg))
	got, err := f.store.GetWebhook(ctx, "c-1")
	require.NoError(t, err)
	require.Equal(t, reg, got)
}

func TestService_ListAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.svc.CreateStudent(ctx, admin, studentFields(nil))
	id := s.String(FieldAlumniID)
	_, err := f.svc.LinkStudent(ctx, admin, id, "c-1")
	require.NoError(t, err)

	entries, err := f.svc.ListAudit(ctx, admin, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, ActionLinkToCollege, entries[0].Action)
	require.Equal(t, "c-1", entries[0].CollegeID)

	_, err = f.svc.ListAudit(ctx, owner, id)
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.svc.ListAudit(ctx, admin, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
