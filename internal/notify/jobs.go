package notify

// Topic names are configuration; these are the logical roles.
const (
	TopicEmail  = "email"
	TopicParse  = "parse"
	TopicEvents = "events"
)

// Message types carried in queue envelopes.
const (
	TypeEmailJob       = "email_job"
	TypeParseJob       = "parse_job"
	TypeStudentUpdated = "student.updated"
)

// TemplateOnboarding is the email template queued for new students.
const TemplateOnboarding = "onboarding"

// EmailJob asks the worker to email one student.
type EmailJob struct {
	AlumniID  string         `json:"alumniId"`
	CollegeID string         `json:"collegeId"`
	Template  string         `json:"template"`
	Vars      map[string]any `json:"vars"`
}

// ParseJob asks the worker to extract contacts from an uploaded resume.
type ParseJob struct {
	AlumniID string `json:"alumniId"`
	Path     string `json:"path"`
}

// StudentEvent is published after every accepted student mutation.
type StudentEvent struct {
	Event    string         `json:"event"`
	AlumniID string         `json:"alumniId"`
	Changes  map[string]any `json:"changes"`
}
