package records

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"alumni/internal/errs"
	"alumni/internal/store"
)

func newPG(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewPostgres(&store.DB{Pool: mock}), mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func dataRows(docs ...string) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"data"})
	for _, d := range docs {
		rows.AddRow([]byte(d))
	}
	return rows
}

func TestPostgres_CreateStudent(t *testing.T) {
	p, mock := newPG(t)
	defer mock.Close()

	mock.ExpectExec(q(insStudent)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	doc, err := p.CreateStudent(context.Background(), map[string]any{"firstName": "Asha", "version": 9})
	require.NoError(t, err)
	require.NotEmpty(t, doc.String(FieldAlumniID))
	require.Equal(t, int64(1), doc.Version())
	require.False(t, doc.Bool(FieldLinked))
	require.Equal(t, "Asha", doc.String(FieldFirstName))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateStudent_Unavailable(t *testing.T) {
	p, mock := newPG(t)
	defer mock.Close()

	mock.ExpectExec(q(insStudent)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(1)).
		WillReturnError(errors.New("connection refused"))

	_, err := p.CreateStudent(context.Background(), map[string]any{})
	require.ErrorIs(t, err, errs.ErrServiceUnavailable)
}

func TestPostgres_GetStudent(t *testing.T) {
	p, mock := newPG(t)
	defer mock.Close()
	ctx := context.Background()

	mock.ExpectQuery(q(selStudent)).WithArgs("a1").
		WillReturnRows(dataRows(`{"alumniId":"a1","version":4,"email":"a@x.io"}`))
	doc, err := p.GetStudent(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, int64(4), doc.Version())
	require.Equal(t, "a@x.io", doc.String(FieldEmail))

	mock.ExpectQuery(q(selStudent)).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = p.GetStudent(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPostgres_PatchStudent_OK(t *testing.T) {
	p, mock := newPG(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockStudent)).WithArgs("a1").
		WillReturnRows(dataRows(`{"alumniId":"a1","version":2}`))
	mock.ExpectQuery(q(mergeStudent)).WithArgs("a1", pgxmock.AnyArg(), int64(3)).
		WillReturnRows(dataRows(`{"alumniId":"a1","version":3,"phone":"123"}`))
	mock.ExpectExec(q(insAudit)).
		WithArgs(pgxmock.AnyArg(), "a1", "admin", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	doc, err := p.PatchStudent(context.Background(), "a1", Changes{"phone": "123"}, "admin", 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), doc.Version())
	require.Equal(t, "123", doc.String("phone"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PatchStudent_Conflict(t *testing.T) {
	p, mock := newPG(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockStudent)).WithArgs("a1").
		WillReturnRows(dataRows(`{"alumniId":"a1","version":2}`))
	mock.ExpectRollback()

	_, err := p.PatchStudent(context.Background(), "a1", Changes{"phone": "123"}, "admin", 5)
	var conflict *errs.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(2), conflict.Current)
	require.ErrorIs(t, err, errs.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LinkStudent_NotFound(t *testing.T) {
	p, mock := newPG(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockStudent)).WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := p.LinkStudentToCollege(context.Background(), "nope", "c1", "admin")
	require.ErrorIs(t, err, errs.ErrNotFound)
	// no audit insert was expected, so any extra statement would fail here
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LinkStudent_OK(t *testing.T) {
	p, mock := newPG(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockStudent)).WithArgs("a1").
		WillReturnRows(dataRows(`{"alumniId":"a1","version":1}`))
	mock.ExpectQuery(q(mergeStudent)).WithArgs("a1", pgxmock.AnyArg(), int64(2)).
		WillReturnRows(dataRows(`{"alumniId":"a1","version":2,"collegeId":"c1","linkedToCollege":true}`))
	mock.ExpectExec(q(insAudit)).
		WithArgs(pgxmock.AnyArg(), "a1", "admin", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	doc, err := p.LinkStudentToCollege(context.Background(), "a1", "c1", "admin")
	require.NoError(t, err)
	require.True(t, doc.Bool(FieldLinked))
	require.Equal(t, "c1", doc.String(FieldCollegeID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListStudentsByField(t *testing.T) {
	p, mock := newPG(t)
	defer mock.Close()

	mock.ExpectQuery(q(selByField)).WithArgs("collegeId", "c1").
		WillReturnRows(dataRows(`{"alumniId":"a1","email":"a@x.io"}`, `{"alumniId":"a2","email":"b@x.io"}`))

	docs, err := p.ListStudentsByField(context.Background(), "collegeId", "c1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "b@x.io", docs[1].String(FieldEmail))
}

func TestPostgres_Webhook(t *testing.T) {
	p, mock := newPG(t)
	defer mock.Close()
	ctx := context.Background()
	reg := WebhookRegistration{CollegeID: "c1", URL: "https://c1.example/hook", HMACSecret: "s"}

	mock.ExpectExec(q(upsertHook)).WithArgs("c1", reg.URL, "s").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, p.PutWebhook(ctx, reg))

	mock.ExpectQuery(q(selHook)).WithArgs("c1").
		WillReturnRows(pgxmock.NewRows([]string{"college_id", "url", "hmac_secret"}).AddRow("c1", reg.URL, "s"))
	got, err := p.GetWebhook(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, reg, got)

	mock.ExpectQuery(q(selHook)).WithArgs("c2").WillReturnError(pgx.ErrNoRows)
	_, err = p.GetWebhook(ctx, "c2")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
