package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"vetchart/internal/domain"
	"vetchart/internal/i18n"
	"vetchart/internal/ports"
)

var (
	// ErrValidationFailed means submit was blocked by draft violations.
	ErrValidationFailed = errors.New("draft failed validation")
	// ErrEmptyTranscript means conversion was requested with no text.
	ErrEmptyTranscript = errors.New("transcript is empty")
	// ErrImageLimit means an image addition would exceed the draft capacity.
	ErrImageLimit = errors.New("image limit reached")
	// ErrIndexOutOfRange means a list mutator was given a bad index.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// SoapSection identifies one of the four note sections for field-level edits.
type SoapSection string

const (
	SectionSubjective SoapSection = "s"
	SectionObjective  SoapSection = "o"
	SectionAssessment SoapSection = "a"
	SectionPlan       SoapSection = "p"
)

// Composer owns the draft record and drives the capture-and-compose workflow:
// it merges session results into the draft, validates cross-field rules, and
// issues the single persistence call per submission. One composer instance is
// the only writer of its draft.
type Composer struct {
	store     ports.RecordStore
	generator ports.NoteGenerator
	events    ports.EventSink
	labels    *i18n.Catalog
	logger    *zap.Logger

	audio  *AudioController
	camera *CameraController

	mu         sync.Mutex
	draft      domain.DraftRecord
	submitting bool
	lastErrors []string
}

func NewComposer(
	store ports.RecordStore,
	generator ports.NoteGenerator,
	events ports.EventSink,
	labels *i18n.Catalog,
	logger *zap.Logger,
) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		store:     store,
		generator: generator,
		events:    events,
		labels:    labels,
		logger:    logger,
	}
}

// AttachSessions wires the capture controllers so a successful submission or
// reset can force them closed.
func (c *Composer) AttachSessions(audio *AudioController, camera *CameraController) {
	c.audio = audio
	c.camera = camera
	if audio != nil {
		audio.SetTranscriptSink(c)
	}
}

// Draft returns a copy of the current draft.
func (c *Composer) Draft() domain.DraftRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	draft := c.draft
	draft.Medications = append([]domain.MedicationEntry(nil), c.draft.Medications...)
	draft.Images = append([]domain.ImageArtifact(nil), c.draft.Images...)
	if c.draft.Score != nil {
		score := *c.draft.Score
		draft.Score = &score
	}
	return draft
}

// LastErrors returns the error list from the most recent user action.
func (c *Composer) LastErrors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lastErrors...)
}

// Submitting reports whether a persistence call is in flight.
func (c *Composer) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// SetSoapSection edits one note section in place.
func (c *Composer) SetSoapSection(section SoapSection, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch section {
	case SectionSubjective:
		c.draft.Soap.Subjective = text
	case SectionObjective:
		c.draft.Soap.Objective = text
	case SectionAssessment:
		c.draft.Soap.Assessment = text
	case SectionPlan:
		c.draft.Soap.Plan = text
	default:
		return errors.New("unknown soap section")
	}
	return nil
}

// AddMedication appends an entry, preserving insertion order.
func (c *Composer) AddMedication(entry domain.MedicationEntry) error {
	if !entry.Route.Valid() {
		return errors.New("unknown administration route")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Medications = append(c.draft.Medications, entry)
	return nil
}

// EditMedication patches the entry at index in place.
func (c *Composer) EditMedication(index int, patch domain.MedicationPatch) error {
	if patch.Route != nil && !patch.Route.Valid() {
		return errors.New("unknown administration route")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.draft.Medications) {
		return ErrIndexOutOfRange
	}
	entry := &c.draft.Medications[index]
	if patch.Name != nil {
		entry.Name = *patch.Name
	}
	if patch.Dose != nil {
		entry.Dose = *patch.Dose
	}
	if patch.Route != nil {
		entry.Route = *patch.Route
	}
	return nil
}

// RemoveMedication deletes the entry at index, keeping the rest in order.
func (c *Composer) RemoveMedication(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.draft.Medications) {
		return ErrIndexOutOfRange
	}
	c.draft.Medications = append(c.draft.Medications[:index], c.draft.Medications[index+1:]...)
	return nil
}

// AddImagesFromFiles merges selected files into the image set. Non-image and
// oversized files are dropped; if the remaining batch would push the set past
// capacity the whole batch is rejected and nothing is added.
func (c *Composer) AddImagesFromFiles(files []domain.ImageArtifact) error {
	accepted := make([]domain.ImageArtifact, 0, len(files))
	for _, file := range files {
		if !strings.HasPrefix(file.ContentType, "image/") {
			continue
		}
		if len(file.Data) > domain.MaxFileImageBytes {
			continue
		}
		file.Source = domain.ImageSourceFile
		accepted = append(accepted, file)
	}

	c.mu.Lock()
	if len(accepted)+len(c.draft.Images) > domain.MaxImages {
		c.mu.Unlock()
		c.fail(domain.ErrorCodeCapture, c.labels.Lookup(i18n.KeyErrMaxImagesSelected))
		return ErrImageLimit
	}
	c.draft.Images = append(c.draft.Images, accepted...)
	c.mu.Unlock()

	c.clearErrors()
	return nil
}

// CaptureImage samples the camera preview into the image set. The capacity
// check lives here, not in the camera session, so file and camera additions
// share one authoritative limit.
func (c *Composer) CaptureImage() error {
	c.mu.Lock()
	full := len(c.draft.Images) >= domain.MaxImages
	c.mu.Unlock()

	if full {
		// No-op by contract; the existing set is untouched.
		c.fail(domain.ErrorCodeCapture, c.labels.Lookup(i18n.KeyErrMaxImages))
		return ErrImageLimit
	}

	artifact, err := c.camera.Capture()
	if err != nil {
		switch {
		case errors.Is(err, ErrPreviewNotReady):
			c.fail(domain.ErrorCodeCapture, c.labels.Lookup(i18n.KeyErrVideoNotReady))
		case errors.Is(err, ErrCameraClosed):
			c.fail(domain.ErrorCodeCapture, c.labels.Lookup(i18n.KeyErrCameraAccess))
		default:
			c.fail(domain.ErrorCodeCapture, c.labels.Lookup(i18n.KeyErrImagePrepFailed)+": "+err.Error())
		}
		return err
	}

	c.mu.Lock()
	c.draft.Images = append(c.draft.Images, artifact)
	c.mu.Unlock()

	c.clearErrors()
	return nil
}

// RemoveImage deletes the image at index.
func (c *Composer) RemoveImage(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.draft.Images) {
		return ErrIndexOutOfRange
	}
	c.draft.Images = append(c.draft.Images[:index], c.draft.Images[index+1:]...)
	return nil
}

// SetScore sets or clears the optional treatment score.
func (c *Composer) SetScore(score *int) error {
	if score != nil && *score < 0 {
		return errors.New("score must not be negative")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if score == nil {
		c.draft.Score = nil
		return nil
	}
	value := *score
	c.draft.Score = &value
	return nil
}

// SetNextVisit sets the optional follow-up proposal. Pairing rules are
// enforced at submit time, not here, so partial input can be corrected.
func (c *Composer) SetNextVisit(date string, timeOption string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.NextVisit = domain.NextVisit{Date: date, Time: timeOption}
}

// SetTranscript is the manual transcript edit path.
func (c *Composer) SetTranscript(text string) {
	c.events.TranscriptChanged(c.ReplaceTranscript(text))
}

// Transcript returns the current transcript text.
func (c *Composer) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft.Transcript
}

// ReplaceTranscript implements TranscriptSink for whole-result updates.
func (c *Composer) ReplaceTranscript(text string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Transcript = text
	return c.draft.Transcript
}

// AppendTranscript implements TranscriptSink for incremental updates.
func (c *Composer) AppendTranscript(text string) string {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if text == "" {
		return c.draft.Transcript
	}
	if c.draft.Transcript == "" {
		c.draft.Transcript = text
	} else {
		c.draft.Transcript += " " + text
	}
	return c.draft.Transcript
}

// ConvertTranscriptToSoap asks the generation service to structure the
// transcript and replaces the whole note with the result. The existing note
// survives any failure untouched.
func (c *Composer) ConvertTranscriptToSoap(ctx context.Context) error {
	text := strings.TrimSpace(c.Transcript())
	if text == "" {
		c.fail(domain.ErrorCodeGeneration, c.labels.Lookup(i18n.KeyErrNoText))
		return ErrEmptyTranscript
	}

	note, err := c.generator.GenerateFromText(ctx, text, string(c.labels.Lang()))
	if err != nil {
		c.fail(domain.ErrorCodeGeneration, c.labels.Lookup(i18n.KeyErrAutoConvert)+": "+err.Error())
		return err
	}

	// Full replacement by contract; sections are never merged.
	c.mu.Lock()
	c.draft.Soap = note
	c.mu.Unlock()

	c.clearErrors()
	return nil
}

// Validate returns the violated submission constraints as user-visible
// messages. An empty slice means the draft is submittable.
func (c *Composer) Validate() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateLocked()
}

func (c *Composer) validateLocked() []string {
	var violations []string

	if c.draft.Soap.IsEmpty() {
		violations = append(violations, c.labels.Lookup(i18n.KeyErrSoapRequired))
	}
	if c.draft.NextVisit.Time != "" && c.draft.NextVisit.Date == "" {
		violations = append(violations, c.labels.Lookup(i18n.KeyErrTimeRequiresDate))
	}
	// The symmetric rule (a date requires a time) was considered and
	// deliberately left inactive: a follow-up day without a committed time
	// slot is a valid booking request.
	// if c.draft.NextVisit.Date != "" && c.draft.NextVisit.Time == "" {
	// 	violations = append(violations, c.labels.Lookup(i18n.KeyErrDateRequiresTime))
	// }

	return violations
}

// Submit validates the draft and, when clean, hands an immutable snapshot to
// the persistence service exactly once. While a save is in flight further
// submits are ignored. Success clears the whole workflow; failure leaves the
// draft intact for correction.
func (c *Composer) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.submitting {
		// Re-entrant submit while processing; deliberately ignored.
		c.mu.Unlock()
		return nil
	}
	if violations := c.validateLocked(); len(violations) > 0 {
		c.lastErrors = violations
		c.mu.Unlock()
		c.events.ActionErrors(domain.ErrorCodeValidation, violations)
		return ErrValidationFailed
	}
	c.submitting = true
	snapshot := c.draft.Snapshot()
	c.mu.Unlock()

	id, err := c.store.SaveRecord(ctx, snapshot)
	if err != nil {
		c.logger.Error("record save failed", zap.Error(err))
		c.fail(domain.ErrorCodeSave, c.labels.Lookup(i18n.KeyErrSaveFailed)+": "+err.Error())
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
		return err
	}

	c.logger.Info("record submitted", zap.String("record_id", string(id)))
	c.events.RecordSaved(id)

	// Exactly once per save, whether or not a time was chosen with the date.
	if snapshot.NextVisitDate != "" {
		c.events.AppointmentsChanged()
	}

	c.cleanupAfterSubmit()

	c.mu.Lock()
	c.submitting = false
	c.mu.Unlock()
	return nil
}

// Reset is the user-triggered equivalent of the post-success cleanup.
func (c *Composer) Reset() {
	c.cleanupAfterSubmit()
}

func (c *Composer) cleanupAfterSubmit() {
	c.mu.Lock()
	c.draft = domain.DraftRecord{}
	c.lastErrors = nil
	c.mu.Unlock()

	if c.camera != nil {
		c.camera.Close()
	}
	if c.audio != nil {
		c.audio.Shutdown()
	}
	c.events.TranscriptChanged("")
}

// fail replaces the previous action's error list with this action's.
func (c *Composer) fail(code domain.ErrorCode, messages ...string) {
	c.mu.Lock()
	c.lastErrors = messages
	c.mu.Unlock()
	c.events.ActionErrors(code, messages)
}

func (c *Composer) clearErrors() {
	c.mu.Lock()
	c.lastErrors = nil
	c.mu.Unlock()
}
