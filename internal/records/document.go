package records

import (
	"encoding/json"
	"time"

	"alumni/internal/errs"
)

// Field names shared by the store, the update protocol and the worker.
const (
	FieldAlumniID      = "alumniId"
	FieldCollegeID     = "collegeId"
	FieldSchoolID      = "schoolId"
	FieldLinked        = "linkedToCollege"
	FieldAuthUID       = "authUid"
	FieldVersion       = "version"
	FieldEmail         = "email"
	FieldFirstName     = "firstName"
	FieldLastName      = "lastName"
	FieldCreatedAt     = "createdAt"
	FieldCreatedBy     = "createdBy"
	FieldLastUpdatedAt = "lastUpdatedAt"
	FieldLastUpdatedBy = "lastUpdatedBy"
	FieldLastLinkedAt  = "lastLinkedAt"
	FieldLastLinkedBy  = "lastLinkedBy"

	ActionLinkToCollege = "link_to_college"

	initialVersion = 1
)

// Document is a schemaless record as persisted in a collection.
type Document map[string]any

// String returns the string stored under key, or "".
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Bool returns the bool stored under key, or false.
func (d Document) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

// Int returns the integer stored under key. JSON numbers decode as float64
// or json.Number depending on the decoder, so all numeric kinds are accepted.
func (d Document) Int(key string) (int64, bool) {
	switch v := d[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// Version returns the stored version; documents written before versioning count as 1.
func (d Document) Version() int64 {
	if v, ok := d.Int(FieldVersion); ok {
		return v
	}
	return initialVersion
}

// Clone returns a shallow copy; list values are copied so callers may mutate them.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		if list, ok := v.([]any); ok {
			v = append([]any(nil), list...)
		}
		out[k] = v
	}
	return out
}

// Merge writes every key of src into d, overwriting existing values.
func (d Document) Merge(src map[string]any) {
	for k, v := range src {
		d[k] = v
	}
}

// Changes is a change-set merged blindly into a student document.
// Values are restricted to strings, numbers, bools, null and flat lists of those.
type Changes map[string]any

// Validate rejects values outside the permitted union. Keys are deliberately
// not checked against a schema.
func (c Changes) Validate() error {
	for k, v := range c {
		if k == "" {
			return errs.Invalid("empty change key")
		}
		if !scalar(v) {
			list, ok := v.([]any)
			if !ok {
				if strs, ok := v.([]string); ok {
					list = make([]any, len(strs))
					for i, s := range strs {
						list[i] = s
					}
				} else {
					return errs.Invalid("unsupported value for %q", k)
				}
			}
			for _, item := range list {
				if !scalar(item) {
					return errs.Invalid("unsupported list element for %q", k)
				}
			}
		}
	}
	return nil
}

func scalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, json.Number:
		return true
	}
	return false
}

// AuditEntry is an append-only record of one mutation.
type AuditEntry struct {
	ID        string         `json:"id"`
	AlumniID  string         `json:"alumniId"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action,omitempty"`
	CollegeID string         `json:"collegeId,omitempty"`
	Changes   map[string]any `json:"changes,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// WebhookRegistration is a college-owned signed webhook endpoint.
type WebhookRegistration struct {
	CollegeID  string `json:"collegeId"`
	URL        string `json:"url"`
	HMACSecret string `json:"hmacSecret"`
}

// EmailLog records the outcome of one worker-sent email job.
type EmailLog struct {
	AlumniID  string `json:"alumniId"`
	CollegeID string `json:"collegeId"`
	Template  string `json:"template"`
	Status    string `json:"status"`
}

// ResumeRecord stores contacts extracted from an uploaded resume.
type ResumeRecord struct {
	AlumniID    string         `json:"alumniId"`
	StoragePath string         `json:"storagePath"`
	Parsed      map[string]any `json:"parsedJson"`
	Confidence  float64        `json:"confidence"`
	Accepted    bool           `json:"accepted"`
}
