package domain

import "strings"

// SoapNote holds the four free-text sections of a clinical note. All sections
// are individually optional, but a submittable draft needs at least one of
// them filled in.
type SoapNote struct {
	Subjective string `json:"s"`
	Objective  string `json:"o"`
	Assessment string `json:"a"`
	Plan       string `json:"p"`
}

// IsEmpty reports whether every section is blank.
func (n SoapNote) IsEmpty() bool {
	return strings.TrimSpace(n.Subjective) == "" &&
		strings.TrimSpace(n.Objective) == "" &&
		strings.TrimSpace(n.Assessment) == "" &&
		strings.TrimSpace(n.Plan) == ""
}

// Route is an administration route for a medication entry.
type Route string

const (
	RouteOral          Route = "PO"
	RouteIntramuscular Route = "IM"
	RouteIntravenous   Route = "IV"
	RouteSubcutaneous  Route = "SC"
)

// Valid reports whether the route is one of the known administration routes.
// The empty route means "not specified" and is accepted.
func (r Route) Valid() bool {
	switch r {
	case "", RouteOral, RouteIntramuscular, RouteIntravenous, RouteSubcutaneous:
		return true
	}
	return false
}

// MedicationEntry is one administered or prescribed medication.
type MedicationEntry struct {
	Name  string `json:"name"`
	Dose  string `json:"dose,omitempty"`
	Route Route  `json:"route,omitempty"`
}

// MedicationPatch carries partial edits for an existing medication entry.
// Nil fields are left untouched.
type MedicationPatch struct {
	Name  *string
	Dose  *string
	Route *Route
}

// ImageSource distinguishes where an image artifact came from. The per-file
// size cap only applies to file-sourced images; camera captures are produced
// locally at a controlled resolution.
type ImageSource string

const (
	ImageSourceCamera ImageSource = "camera"
	ImageSourceFile   ImageSource = "file"
)

// Limits on the draft image set.
const (
	MaxImages         = 10
	MaxFileImageBytes = 5 * 1024 * 1024
)

// ImageArtifact is an opaque captured or selected image.
type ImageArtifact struct {
	Name        string      `json:"name"`
	ContentType string      `json:"contentType"`
	Data        []byte      `json:"data"`
	Source      ImageSource `json:"source"`
}

// AudioArtifact is a recorded or imported audio payload awaiting
// transcription.
type AudioArtifact struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// NextVisit is the optional follow-up appointment proposal. A time without a
// date is invalid; a date without a time is allowed.
type NextVisit struct {
	Date string `json:"date,omitempty"`
	Time string `json:"time,omitempty"`
}

// Appointment is one existing booking on a clinic day, as supplied by the
// external appointment index.
type Appointment struct {
	Time  string `json:"time"`
	Label string `json:"label"`
}

// AppointmentIndex maps an ISO date (YYYY-MM-DD) to that day's appointments.
// It is supplied externally and read-only to this layer.
type AppointmentIndex map[string][]Appointment

// DraftRecord is the in-progress aggregate being composed. It is owned and
// mutated by a single composer instance for the lifetime of the editing
// session.
type DraftRecord struct {
	Soap        SoapNote
	Transcript  string
	Medications []MedicationEntry
	Score       *int
	Images      []ImageArtifact
	NextVisit   NextVisit
}

// RecordID identifies a persisted record.
type RecordID string

// RecordSnapshot is the immutable payload handed to the persistence service.
// Empty collections and unset scalars are omitted, matching the stored row
// layout.
type RecordSnapshot struct {
	Soap          SoapNote          `json:"soap"`
	Medications   []MedicationEntry `json:"medications,omitempty"`
	NosaiPoints   *int              `json:"nosai_points,omitempty"`
	Images        []ImageArtifact   `json:"images,omitempty"`
	NextVisitDate string            `json:"next_visit_date,omitempty"`
	NextVisitTime string            `json:"next_visit_time,omitempty"`
}

// Snapshot freezes the draft into the persistence payload. Slices are copied
// so later draft edits cannot leak into an in-flight save.
func (d DraftRecord) Snapshot() RecordSnapshot {
	snap := RecordSnapshot{
		Soap:          d.Soap,
		NextVisitDate: d.NextVisit.Date,
		NextVisitTime: d.NextVisit.Time,
	}
	if len(d.Medications) > 0 {
		snap.Medications = append([]MedicationEntry(nil), d.Medications...)
	}
	if len(d.Images) > 0 {
		snap.Images = append([]ImageArtifact(nil), d.Images...)
	}
	if d.Score != nil {
		score := *d.Score
		snap.NosaiPoints = &score
	}
	return snap
}
