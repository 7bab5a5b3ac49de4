package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"alumni/internal/errs"
	"alumni/internal/store"
)

// Postgres stores each collection as a table of JSONB documents.
type Postgres struct {
	db *store.DB
}

// NewPostgres creates a repository backed by db.
func NewPostgres(db *store.DB) *Postgres {
	return &Postgres{db: db}
}

const (
	insStudent   = `INSERT INTO scl_students (id, data, version) VALUES ($1, $2, $3)`
	insCollege   = `INSERT INTO colleges (id, data) VALUES ($1, $2)`
	selStudent   = `SELECT data FROM scl_students WHERE id = $1`
	selCollege   = `SELECT data FROM colleges WHERE id = $1`
	lockStudent  = `SELECT data FROM scl_students WHERE id = $1 FOR UPDATE`
	mergeStudent = `UPDATE scl_students SET data = data || $2, version = $3 WHERE id = $1 RETURNING data`
	insAudit     = `INSERT INTO audit_logs (id, alumni_id, actor, action, college_id, changes) VALUES ($1, $2, $3, $4, $5, $6)`
	selByField   = `SELECT data FROM scl_students WHERE data->>$1 = $2 ORDER BY created_at, id`
	selAudit     = `SELECT id, alumni_id, actor, COALESCE(action, ''), COALESCE(college_id, ''), changes, created_at FROM audit_logs WHERE alumni_id = $1 ORDER BY created_at, id`
	upsertHook   = `INSERT INTO webhook_registrations (college_id, url, hmac_secret) VALUES ($1, $2, $3)
ON CONFLICT (college_id) DO UPDATE SET url = EXCLUDED.url, hmac_secret = EXCLUDED.hmac_secret, updated_at = NOW()`
	selHook   = `SELECT college_id, url, hmac_secret FROM webhook_registrations WHERE college_id = $1`
	insEmail  = `INSERT INTO email_jobs (alumni_id, college_id, template, status) VALUES ($1, $2, $3, $4)`
	insResume = `INSERT INTO resumes (alumni_id, storage_path, parsed, confidence, accepted) VALUES ($1, $2, $3, $4, $5)`
)

func (p *Postgres) CreateStudent(ctx context.Context, fields map[string]any) (Document, error) {
	id := uuid.NewString()
	doc := newStudentDoc(id, fields)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errs.Invalid("encode student: %v", err)
	}
	if _, err := p.db.Pool.Exec(ctx, insStudent, id, data, int64(initialVersion)); err != nil {
		return nil, errs.Unavailable(err)
	}
	return doc, nil
}

func (p *Postgres) CreateCollege(ctx context.Context, fields map[string]any) (Document, error) {
	id := uuid.NewString()
	doc := newCollegeDoc(id, fields)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errs.Invalid("encode college: %v", err)
	}
	if _, err := p.db.Pool.Exec(ctx, insCollege, id, data); err != nil {
		return nil, errs.Unavailable(err)
	}
	return doc, nil
}

func (p *Postgres) GetStudent(ctx context.Context, alumniID string) (Document, error) {
	return p.getDoc(ctx, selStudent, alumniID)
}

func (p *Postgres) GetCollege(ctx context.Context, collegeID string) (Document, error) {
	return p.getDoc(ctx, selCollege, collegeID)
}

func (p *Postgres) getDoc(ctx context.Context, q, id string) (Document, error) {
	var raw []byte
	if err := p.db.Pool.QueryRow(ctx, q, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Unavailable(err)
	}
	return decodeDoc(raw)
}

// PatchStudent locks the row so the version check and the write form one
// compare-and-swap.
func (p *Postgres) PatchStudent(ctx context.Context, alumniID string, changes Changes, actor string, expectedVersion int64) (doc Document, err error) {
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockedDoc(ctx, tx, alumniID)
		if err != nil {
			return err
		}
		ver := current.Version()
		if expectedVersion > 0 && expectedVersion != ver {
			return &errs.ConflictError{Current: ver}
		}
		applied := patchSet(changes, actor, ver+1)
		if doc, err = merge(ctx, tx, alumniID, applied, ver+1); err != nil {
			return err
		}
		return audit(ctx, tx, AuditEntry{AlumniID: alumniID, Actor: actor, Changes: applied})
	})
	return doc, err
}

func (p *Postgres) LinkStudentToCollege(ctx context.Context, alumniID, collegeID, adminUID string) (doc Document, err error) {
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockedDoc(ctx, tx, alumniID)
		if err != nil {
			return err
		}
		next := current.Version() + 1
		if doc, err = merge(ctx, tx, alumniID, linkSet(collegeID, adminUID, next), next); err != nil {
			return err
		}
		return audit(ctx, tx, AuditEntry{
			AlumniID:  alumniID,
			Actor:     adminUID,
			Action:    ActionLinkToCollege,
			CollegeID: collegeID,
		})
	})
	return doc, err
}

func (p *Postgres) inTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := p.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errs.Unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = errs.Unavailable(e)
		}
	}()
	return fn(tx)
}

func lockedDoc(ctx context.Context, tx pgx.Tx, id string) (Document, error) {
	var raw []byte
	if err := tx.QueryRow(ctx, lockStudent, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Unavailable(err)
	}
	return decodeDoc(raw)
}

func merge(ctx context.Context, tx pgx.Tx, id string, set map[string]any, version int64) (Document, error) {
	data, err := json.Marshal(set)
	if err != nil {
		return nil, errs.Invalid("encode changes: %v", err)
	}
	var raw []byte
	if err := tx.QueryRow(ctx, mergeStudent, id, data, version).Scan(&raw); err != nil {
		return nil, errs.Unavailable(err)
	}
	return decodeDoc(raw)
}

func audit(ctx context.Context, tx pgx.Tx, e AuditEntry) error {
	var changes []byte
	if e.Changes != nil {
		var err error
		if changes, err = json.Marshal(e.Changes); err != nil {
			return errs.Invalid("encode audit: %v", err)
		}
	}
	_, err := tx.Exec(ctx, insAudit, uuid.NewString(), e.AlumniID, e.Actor, nullable(e.Action), nullable(e.CollegeID), changes)
	if err != nil {
		return errs.Unavailable(err)
	}
	return nil
}

func (p *Postgres) ListStudentsByField(ctx context.Context, field, value string) ([]Document, error) {
	rows, err := p.db.Pool.Query(ctx, selByField, field, value)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Unavailable(err)
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, errs.Unavailable(rows.Err())
}

func (p *Postgres) ListAudit(ctx context.Context, alumniID string) ([]AuditEntry, error) {
	rows, err := p.db.Pool.Query(ctx, selAudit, alumniID)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e   AuditEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.AlumniID, &e.Actor, &e.Action, &e.CollegeID, &raw, &e.CreatedAt); err != nil {
			return nil, errs.Unavailable(err)
		}
		if len(raw) > 0 {
			changes, err := decodeDoc(raw)
			if err != nil {
				return nil, err
			}
			e.Changes = changes
		}
		out = append(out, e)
	}
	return out, errs.Unavailable(rows.Err())
}

func (p *Postgres) PutWebhook(ctx context.Context, reg WebhookRegistration) error {
	if _, err := p.db.Pool.Exec(ctx, upsertHook, reg.CollegeID, reg.URL, reg.HMACSecret); err != nil {
		return errs.Unavailable(err)
	}
	return nil
}

func (p *Postgres) GetWebhook(ctx context.Context, collegeID string) (WebhookRegistration, error) {
	var reg WebhookRegistration
	err := p.db.Pool.QueryRow(ctx, selHook, collegeID).Scan(&reg.CollegeID, &reg.URL, &reg.HMACSecret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WebhookRegistration{}, errs.ErrNotFound
		}
		return WebhookRegistration{}, errs.Unavailable(err)
	}
	return reg, nil
}

func (p *Postgres) LogEmailJob(ctx context.Context, e EmailLog) error {
	if _, err := p.db.Pool.Exec(ctx, insEmail, e.AlumniID, nullable(e.CollegeID), e.Template, e.Status); err != nil {
		return errs.Unavailable(err)
	}
	return nil
}

func (p *Postgres) SaveResume(ctx context.Context, r ResumeRecord) error {
	parsed, err := json.Marshal(r.Parsed)
	if err != nil {
		return errs.Invalid("encode resume: %v", err)
	}
	if _, err := p.db.Pool.Exec(ctx, insResume, r.AlumniID, r.StoragePath, parsed, r.Confidence, r.Accepted); err != nil {
		return errs.Unavailable(err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return errs.Unavailable(p.db.Pool.Ping(ctx))
}

func decodeDoc(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
