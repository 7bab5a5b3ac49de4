package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"alumni/internal/blob"
	"alumni/internal/errs"
	"alumni/internal/mail"
	"alumni/internal/notify"
	"alumni/internal/queue"
	"alumni/internal/records"
	"alumni/internal/webhook"
)

func message(t *testing.T, typ string, body any) queue.Message {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return queue.Message{Type: typ, Body: raw}
}

type sentMail struct{ to, subject, plain string }

type fakeSender struct {
	sent []sentMail
	code int
	err  error
}

func (f *fakeSender) SendDirect(_ context.Context, to, subject, plain, _ string) (mail.DeliveryStatus, error) {
	if f.err != nil {
		return mail.DeliveryStatus{}, f.err
	}
	f.sent = append(f.sent, sentMail{to, subject, plain})
	return mail.DeliveryStatus{Code: f.code, Transport: "test"}, nil
}

func TestEmailHandler(t *testing.T) {
	store := records.NewMemory()
	ctx := context.Background()
	s, err := store.CreateStudent(ctx, map[string]any{"email": "asha@example.edu"})
	require.NoError(t, err)
	id := s.String(records.FieldAlumniID)
	sender := &fakeSender{code: 202}
	h := NewEmailHandler(store, sender, zaptest.NewLogger(t))

	err = h.Handle(ctx, message(t, notify.TypeEmailJob, notify.EmailJob{
		AlumniID: id, CollegeID: "c-1", Template: "onboarding",
		Vars: map[string]any{"name": "Asha", "college": "IIT Delhi"},
	}))
	require.NoError(t, err)
	require.Equal(t, []sentMail{{"asha@example.edu", "IIT Delhi: onboarding", "Hi Asha,\nPlease check your profile."}}, sender.sent)
	require.Equal(t, []records.EmailLog{{AlumniID: id, CollegeID: "c-1", Template: "onboarding", Status: "sent"}}, store.EmailLogs())

	err = h.Handle(ctx, message(t, notify.TypeEmailJob, notify.EmailJob{AlumniID: id, Template: "reminder"}))
	require.NoError(t, err)
	require.Equal(t, "College: reminder", sender.sent[1].subject)
}

func TestEmailHandler_MissingStudentIsAcked(t *testing.T) {
	sender := &fakeSender{code: 202}
	h := NewEmailHandler(records.NewMemory(), sender, zaptest.NewLogger(t))
	require.NoError(t, h.Handle(context.Background(), message(t, notify.TypeEmailJob, notify.EmailJob{AlumniID: "gone"})))
	require.Empty(t, sender.sent)
}

func TestEmailHandler_SendFailureIsRetryable(t *testing.T) {
	store := records.NewMemory()
	s, _ := store.CreateStudent(context.Background(), map[string]any{"email": "a@x.io"})
	h := NewEmailHandler(store, &fakeSender{err: &errs.SendError{Reason: "timeout"}}, zaptest.NewLogger(t))

	err := h.Handle(context.Background(), message(t, notify.TypeEmailJob, notify.EmailJob{AlumniID: s.String(records.FieldAlumniID)}))
	require.ErrorIs(t, err, errs.ErrSendFailed)
	require.NotErrorIs(t, err, errs.ErrValidation)
	require.Empty(t, store.EmailLogs())
}

func TestParseHandler(t *testing.T) {
	blobs := blob.NewMemory()
	blobs.Put("cv", "resumes/a1/cv.txt", []byte("Asha Rao\nasha@example.edu\n+919876543210\n"))
	store := records.NewMemory()
	h := NewParseHandler(blobs, store, "cv", zaptest.NewLogger(t))

	err := h.Handle(context.Background(), message(t, notify.TypeParseJob, notify.ParseJob{AlumniID: "a1", Path: "resumes/a1/cv.txt"}))
	require.NoError(t, err)
	require.Equal(t, []records.ResumeRecord{{
		AlumniID:    "a1",
		StoragePath: "resumes/a1/cv.txt",
		Parsed:      map[string]any{"emails": []any{"asha@example.edu"}, "phones": []any{"+919876543210"}},
		Confidence:  0.7,
	}}, store.Resumes())

	err = h.Handle(context.Background(), message(t, notify.TypeParseJob, notify.ParseJob{AlumniID: "a1", Path: "s3://cv/missing.pdf"}))
	require.ErrorIs(t, err, errs.ErrValidation)
}

type fakeDispatcher struct {
	colleges []string
	payloads []any
}

func (f *fakeDispatcher) Dispatch(_ context.Context, collegeID string, payload any) webhook.Result {
	f.colleges = append(f.colleges, collegeID)
	f.payloads = append(f.payloads, payload)
	return webhook.Result{Registered: true, Status: 200}
}

func TestEventHandler(t *testing.T) {
	store := records.NewMemory()
	ctx := context.Background()
	linked, _ := store.CreateStudent(ctx, map[string]any{"collegeId": "c-1"})
	loose, _ := store.CreateStudent(ctx, map[string]any{})
	d := &fakeDispatcher{}
	h := NewEventHandler(store, d, zaptest.NewLogger(t))

	evt := notify.StudentEvent{Event: notify.TypeStudentUpdated, AlumniID: linked.String(records.FieldAlumniID), Changes: map[string]any{"phone": "1"}}
	require.NoError(t, h.Handle(ctx, message(t, notify.TypeStudentUpdated, evt)))
	require.NoError(t, h.Handle(ctx, message(t, notify.TypeStudentUpdated, notify.StudentEvent{AlumniID: loose.String(records.FieldAlumniID)})))
	require.NoError(t, h.Handle(ctx, message(t, notify.TypeStudentUpdated, notify.StudentEvent{AlumniID: "gone"})))

	require.Equal(t, []string{"c-1"}, d.colleges)
	require.Equal(t, evt, d.payloads[0])

	err := h.Handle(ctx, queue.Message{Type: notify.TypeEmailJob, Body: []byte(`{}`)})
	require.ErrorIs(t, err, errs.ErrValidation)
}

type flakyHandler struct {
	mu       sync.Mutex
	failures int
	seen     []int
}

func (f *flakyHandler) Handle(_ context.Context, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, msg.Attempts)
	if len(f.seen) <= f.failures {
		return errors.New("transient")
	}
	return nil
}

func (f *flakyHandler) attempts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.seen...)
}

func runUntil(t *testing.T, c *Consumer, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = c.Run(ctx)
	}()
	require.Eventually(t, done, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-finished
}

func TestConsumer_RetriesUntilSuccess(t *testing.T) {
	q := queue.NewInMemory(8)
	h := &flakyHandler{failures: 2}
	require.NoError(t, q.Publish(context.Background(), queue.Message{Type: "x"}))

	c := &Consumer{Topic: "test", Queue: q, Handler: h, MaxAttempts: 5, Log: zaptest.NewLogger(t)}
	runUntil(t, c, func() bool { return len(h.attempts()) == 3 })
	require.Equal(t, []int{0, 1, 2}, h.attempts())
}

func TestConsumer_GivesUpAfterMaxAttempts(t *testing.T) {
	q := queue.NewInMemory(8)
	h := &flakyHandler{failures: 100}
	require.NoError(t, q.Publish(context.Background(), queue.Message{Type: "x"}))

	c := &Consumer{Topic: "test", Queue: q, Handler: h, MaxAttempts: 3, Log: zaptest.NewLogger(t)}
	runUntil(t, c, func() bool { return len(h.attempts()) == 3 })
	require.Zero(t, q.Len())
	require.Equal(t, []int{0, 1, 2}, h.attempts())
}

type invalidHandler struct{ calls atomic.Int32 }

func (h *invalidHandler) Handle(context.Context, queue.Message) error {
	h.calls.Add(1)
	return errs.Invalid("bad body")
}

func TestConsumer_DropsInvalidMessages(t *testing.T) {
	q := queue.NewInMemory(8)
	h := &invalidHandler{}
	require.NoError(t, q.Publish(context.Background(), queue.Message{Type: "x"}))

	c := &Consumer{Topic: "test", Queue: q, Handler: h, MaxAttempts: 5, Log: zaptest.NewLogger(t)}
	runUntil(t, c, func() bool { return h.calls.Load() == 1 })
	require.Zero(t, q.Len())
}
