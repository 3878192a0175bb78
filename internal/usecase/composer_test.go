package usecase

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"vetchart/internal/domain"
	"vetchart/internal/ports"
)

func newTestComposer(store *fakeStore, generator *fakeGenerator, events *fakeEventSink) *Composer {
	return NewComposer(store, generator, events, testLabels(), nil)
}

func intPtr(v int) *int { return &v }

func TestComposerMedicationLifecycle(t *testing.T) {
	t.Parallel()

	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, &fakeEventSink{})

	if err := composer.AddMedication(domain.MedicationEntry{Name: "amoxicillin", Dose: "500mg", Route: domain.RouteOral}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := composer.AddMedication(domain.MedicationEntry{Name: "ketoprofen", Route: domain.RouteIntramuscular}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	newDose := "3mg/kg"
	if err := composer.EditMedication(1, domain.MedicationPatch{Dose: &newDose}); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	draft := composer.Draft()
	if len(draft.Medications) != 2 {
		t.Fatalf("expected 2 medications, got %d", len(draft.Medications))
	}
	if draft.Medications[0].Name != "amoxicillin" || draft.Medications[1].Name != "ketoprofen" {
		t.Fatalf("insertion order not preserved: %+v", draft.Medications)
	}
	if draft.Medications[1].Dose != "3mg/kg" || draft.Medications[1].Route != domain.RouteIntramuscular {
		t.Fatalf("patch did not apply in place: %+v", draft.Medications[1])
	}

	if err := composer.RemoveMedication(0); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	draft = composer.Draft()
	if len(draft.Medications) != 1 || draft.Medications[0].Name != "ketoprofen" {
		t.Fatalf("unexpected medications after remove: %+v", draft.Medications)
	}
}

func TestComposerMedicationBadInput(t *testing.T) {
	t.Parallel()

	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, &fakeEventSink{})

	if err := composer.AddMedication(domain.MedicationEntry{Name: "x", Route: "inhaled"}); err == nil {
		t.Fatalf("expected unknown route to be rejected")
	}
	if err := composer.EditMedication(0, domain.MedicationPatch{}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected index error, got %v", err)
	}
	if err := composer.RemoveMedication(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected index error, got %v", err)
	}
}

func TestComposerAddImagesFiltersInvalidFiles(t *testing.T) {
	t.Parallel()

	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, &fakeEventSink{})

	files := []domain.ImageArtifact{
		{Name: "ok.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")},
		{Name: "notes.pdf", ContentType: "application/pdf", Data: []byte("pdf")},
		{Name: "huge.png", ContentType: "image/png", Data: bytes.Repeat([]byte("x"), domain.MaxFileImageBytes+1)},
	}
	if err := composer.AddImagesFromFiles(files); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	draft := composer.Draft()
	if len(draft.Images) != 1 || draft.Images[0].Name != "ok.jpg" {
		t.Fatalf("expected only the valid image, got %+v", draft.Images)
	}
	if draft.Images[0].Source != domain.ImageSourceFile {
		t.Fatalf("expected file source, got %s", draft.Images[0].Source)
	}
}

func TestComposerAddImagesRejectsWholeBatchOverLimit(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, events)

	var existing []domain.ImageArtifact
	for i := 0; i < domain.MaxImages-1; i++ {
		existing = append(existing, domain.ImageArtifact{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("x")})
	}
	if err := composer.AddImagesFromFiles(existing); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	batch := []domain.ImageArtifact{
		{Name: "b.jpg", ContentType: "image/jpeg", Data: []byte("x")},
		{Name: "c.jpg", ContentType: "image/jpeg", Data: []byte("x")},
	}
	if err := composer.AddImagesFromFiles(batch); !errors.Is(err, ErrImageLimit) {
		t.Fatalf("expected limit error, got %v", err)
	}

	// Whole batch rejected, not partially applied.
	if got := len(composer.Draft().Images); got != domain.MaxImages-1 {
		t.Fatalf("expected %d images, got %d", domain.MaxImages-1, got)
	}
	errs := events.snapshotErrors()
	if len(errs) == 0 || errs[len(errs)-1].code != domain.ErrorCodeCapture {
		t.Fatalf("expected capture error event, got %+v", errs)
	}
}

func TestComposerCaptureImageAtLimitIsNoOp(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, events)

	session := &fakeCameraSession{frame: []byte("frame")}
	camera := NewCameraController(testGuard(), &fakeCameraCapture{sessions: []ports.CameraSession{session}}, events, testLabels(), cameraTestConfig(), nil)
	composer.AttachSessions(nil, camera)

	var full []domain.ImageArtifact
	for i := 0; i < domain.MaxImages; i++ {
		full = append(full, domain.ImageArtifact{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("x")})
	}
	if err := composer.AddImagesFromFiles(full); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := composer.CaptureImage(); !errors.Is(err, ErrImageLimit) {
		t.Fatalf("expected limit error, got %v", err)
	}
	if got := len(composer.Draft().Images); got != domain.MaxImages {
		t.Fatalf("image set changed at limit: %d", got)
	}
}

func TestComposerCaptureImageAppendsFrame(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	session := &fakeCameraSession{frame: []byte("frame")}
	camera := NewCameraController(testGuard(), &fakeCameraCapture{sessions: []ports.CameraSession{session}}, events, testLabels(), cameraTestConfig(), nil)

	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, events)
	composer.AttachSessions(nil, camera)

	if err := camera.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := composer.CaptureImage(); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	draft := composer.Draft()
	if len(draft.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(draft.Images))
	}
	img := draft.Images[0]
	if img.Source != domain.ImageSourceCamera || img.ContentType != "image/jpeg" {
		t.Fatalf("unexpected capture artifact: %+v", img)
	}
	if img.Name == "" {
		t.Fatalf("expected generated name")
	}
}

func TestComposerCaptureImageWithoutPreview(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	camera := NewCameraController(testGuard(), &fakeCameraCapture{}, events, testLabels(), cameraTestConfig(), nil)
	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, events)
	composer.AttachSessions(nil, camera)

	if err := composer.CaptureImage(); !errors.Is(err, ErrCameraClosed) {
		t.Fatalf("expected camera closed, got %v", err)
	}
}

func TestComposerSetScore(t *testing.T) {
	t.Parallel()

	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, &fakeEventSink{})

	if err := composer.SetScore(intPtr(-1)); err == nil {
		t.Fatalf("expected negative score rejection")
	}
	if err := composer.SetScore(intPtr(85)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if got := composer.Draft().Score; got == nil || *got != 85 {
		t.Fatalf("unexpected score: %v", got)
	}
	if err := composer.SetScore(nil); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if composer.Draft().Score != nil {
		t.Fatalf("expected score cleared")
	}
}

func TestComposerTranscriptSink(t *testing.T) {
	t.Parallel()

	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, &fakeEventSink{})

	if got := composer.ReplaceTranscript("first pass"); got != "first pass" {
		t.Fatalf("unexpected transcript: %q", got)
	}
	if got := composer.AppendTranscript("second pass"); got != "first pass second pass" {
		t.Fatalf("unexpected appended transcript: %q", got)
	}
	if got := composer.AppendTranscript("   "); got != "first pass second pass" {
		t.Fatalf("blank append should be a no-op, got %q", got)
	}
}

func TestComposerConvertEmptyTranscriptSkipsGenerator(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{}
	events := &fakeEventSink{}
	composer := newTestComposer(&fakeStore{}, generator, events)

	err := composer.ConvertTranscriptToSoap(context.Background())
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected empty transcript error, got %v", err)
	}
	if generator.callCount() != 0 {
		t.Fatalf("generator must not be called for empty text")
	}
	errs := events.snapshotErrors()
	if len(errs) == 0 || errs[0].code != domain.ErrorCodeGeneration {
		t.Fatalf("expected generation error event")
	}
}

func TestComposerConvertReplacesWholeNote(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{note: domain.SoapNote{Subjective: "limping", Plan: "rest"}}
	composer := newTestComposer(&fakeStore{}, generator, &fakeEventSink{})

	composer.ReplaceTranscript("cow limping on left hind leg")
	if err := composer.SetSoapSection(SectionObjective, "temp 39.1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if err := composer.ConvertTranscriptToSoap(context.Background()); err != nil {
		t.Fatalf("convert failed: %v", err)
	}

	// Full replacement: the manually entered section is overwritten too.
	draft := composer.Draft()
	if draft.Soap.Objective != "" || draft.Soap.Subjective != "limping" || draft.Soap.Plan != "rest" {
		t.Fatalf("expected full note replacement, got %+v", draft.Soap)
	}
}

func TestComposerConvertFailureKeepsNote(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{err: errors.New("model down")}
	composer := newTestComposer(&fakeStore{}, generator, &fakeEventSink{})

	composer.ReplaceTranscript("some text")
	if err := composer.SetSoapSection(SectionAssessment, "mastitis"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if err := composer.ConvertTranscriptToSoap(context.Background()); err == nil {
		t.Fatalf("expected conversion failure")
	}
	if got := composer.Draft().Soap.Assessment; got != "mastitis" {
		t.Fatalf("note must survive a failed conversion, got %q", got)
	}
}

func TestComposerValidate(t *testing.T) {
	t.Parallel()

	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, &fakeEventSink{})

	if got := composer.Validate(); len(got) != 1 {
		t.Fatalf("expected soap-required violation, got %v", got)
	}

	if err := composer.SetSoapSection(SectionSubjective, "off feed"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if got := composer.Validate(); len(got) != 0 {
		t.Fatalf("expected clean draft, got %v", got)
	}

	composer.SetNextVisit("", "10:00")
	if got := composer.Validate(); len(got) != 1 {
		t.Fatalf("expected time-requires-date violation, got %v", got)
	}

	// A date without a time is a valid booking request.
	composer.SetNextVisit("2026-09-15", "")
	if got := composer.Validate(); len(got) != 0 {
		t.Fatalf("date without time must be allowed, got %v", got)
	}
}

func TestComposerSubmitValidationAbortsWithoutSave(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	events := &fakeEventSink{}
	composer := newTestComposer(store, &fakeGenerator{}, events)

	err := composer.Submit(context.Background())
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if calls, _ := store.saved(); calls != 0 {
		t.Fatalf("store must not be called on validation failure")
	}
	errs := events.snapshotErrors()
	if len(errs) == 0 || errs[0].code != domain.ErrorCodeValidation {
		t.Fatalf("expected validation error event")
	}
	if len(composer.LastErrors()) == 0 {
		t.Fatalf("expected violations retained for the surface")
	}
}

func TestComposerSubmitSuccessResetsWorkflow(t *testing.T) {
	t.Parallel()

	store := &fakeStore{id: "rec-42"}
	events := &fakeEventSink{}
	composer := newTestComposer(store, &fakeGenerator{}, events)

	if err := composer.SetSoapSection(SectionPlan, "recheck in 7 days"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := composer.AddMedication(domain.MedicationEntry{Name: "oxytetracycline", Route: domain.RouteIntravenous}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := composer.SetScore(intPtr(70)); err != nil {
		t.Fatalf("score failed: %v", err)
	}
	composer.SetNextVisit("2026-09-15", "10:30")

	if err := composer.Submit(context.Background()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	calls, snapshot := store.saved()
	if calls != 1 {
		t.Fatalf("expected exactly one save, got %d", calls)
	}
	if snapshot.Soap.Plan != "recheck in 7 days" || len(snapshot.Medications) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.NosaiPoints == nil || *snapshot.NosaiPoints != 70 {
		t.Fatalf("score missing from snapshot")
	}
	if snapshot.NextVisitDate != "2026-09-15" || snapshot.NextVisitTime != "10:30" {
		t.Fatalf("next visit missing from snapshot: %+v", snapshot)
	}

	ids := events.recordIDs()
	if len(ids) != 1 || ids[0] != "rec-42" {
		t.Fatalf("expected record saved event, got %v", ids)
	}
	if events.appointmentChanges() != 1 {
		t.Fatalf("expected exactly one appointments-changed notification")
	}

	draft := composer.Draft()
	if !draft.Soap.IsEmpty() || len(draft.Medications) != 0 || draft.Score != nil || draft.NextVisit.Date != "" {
		t.Fatalf("expected full reset after submit, got %+v", draft)
	}
	if composer.Submitting() {
		t.Fatalf("submitting flag must clear")
	}
}

func TestComposerSubmitWithoutNextVisitSkipsAppointmentNotice(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	composer := newTestComposer(&fakeStore{}, &fakeGenerator{}, events)

	if err := composer.SetSoapSection(SectionAssessment, "healthy"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := composer.Submit(context.Background()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if events.appointmentChanges() != 0 {
		t.Fatalf("no appointments-changed expected without a follow-up date")
	}
}

func TestComposerSubmitFailureKeepsDraft(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("service unavailable")}
	events := &fakeEventSink{}
	composer := newTestComposer(store, &fakeGenerator{}, events)

	if err := composer.SetSoapSection(SectionSubjective, "coughing"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := composer.Submit(context.Background()); err == nil {
		t.Fatalf("expected save failure")
	}

	if got := composer.Draft().Soap.Subjective; got != "coughing" {
		t.Fatalf("draft must survive a failed save, got %q", got)
	}
	if composer.Submitting() {
		t.Fatalf("submitting flag must clear after failure")
	}
	errs := events.snapshotErrors()
	if len(errs) == 0 || errs[len(errs)-1].code != domain.ErrorCodeSave {
		t.Fatalf("expected save error event")
	}

	// The draft is still submittable once the service recovers.
	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	if err := composer.Submit(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestComposerSubmitWhileSaveInFlightIsIgnored(t *testing.T) {
	t.Parallel()

	store := &fakeStore{id: "rec-7", block: make(chan struct{})}
	events := &fakeEventSink{}
	composer := newTestComposer(store, &fakeGenerator{}, events)

	if err := composer.SetSoapSection(SectionPlan, "antibiotics for five days"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() { firstDone <- composer.Submit(context.Background()) }()
	waitUntil(t, composer.Submitting)

	// A second submit while the save is in flight is a silent no-op.
	if err := composer.Submit(context.Background()); err != nil {
		t.Fatalf("in-flight submit must be ignored, got %v", err)
	}

	close(store.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	calls, _ := store.saved()
	if calls != 1 {
		t.Fatalf("expected exactly one save, got %d", calls)
	}
	if got := events.recordIDs(); len(got) != 1 || got[0] != "rec-7" {
		t.Fatalf("expected a single saved record, got %v", got)
	}
	if composer.Submitting() {
		t.Fatalf("submitting flag must clear")
	}
}
