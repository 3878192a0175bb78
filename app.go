package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"vetchart/internal/bootstrap"
	"vetchart/internal/domain"
	"vetchart/internal/i18n"
	"vetchart/internal/schedule"
	"vetchart/internal/usecase"
)

// App binds the composer and capture sessions to the HTTP surface. Handlers
// are thin passthroughs; every invariant lives in the usecase layer.
type App struct {
	echo     *echo.Echo
	svc      bootstrap.Services
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewApp(svc bootstrap.Services, hub *Hub) *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	app := &App{
		echo: e,
		svc:  svc,
		hub:  hub,
		upgrader: websocket.Upgrader{
			// Single-operator device surface; no cross-origin policy needed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	app.routes()
	return app
}

func (a *App) routes() {
	e := a.echo

	e.GET("/status", a.status)
	e.GET("/ws", a.eventStream)
	e.PUT("/language", a.setLanguage)

	e.POST("/session/audio/start", a.audioStart)
	e.POST("/session/audio/stop", a.audioStop)
	e.POST("/session/audio/import", a.audioImport)
	e.POST("/session/audio/transcribe", a.audioTranscribe)
	e.POST("/session/audio/remove", a.audioRemove)

	e.POST("/session/camera/open", a.cameraOpen)
	e.POST("/session/camera/capture", a.cameraCapture)
	e.POST("/session/camera/close", a.cameraClose)

	e.GET("/draft", a.getDraft)
	e.PUT("/draft/soap", a.putSoap)
	e.POST("/draft/medications", a.addMedication)
	e.PUT("/draft/medications/:index", a.editMedication)
	e.DELETE("/draft/medications/:index", a.removeMedication)
	e.POST("/draft/images", a.addImages)
	e.DELETE("/draft/images/:index", a.removeImage)
	e.PUT("/draft/score", a.putScore)
	e.PUT("/draft/next-visit", a.putNextVisit)
	e.PUT("/draft/transcript", a.putTranscript)
	e.POST("/draft/convert", a.convert)
	e.POST("/draft/submit", a.submit)
	e.POST("/draft/reset", a.reset)

	e.GET("/schedule/slots", a.scheduleSlots)
	e.GET("/schedule/day", a.scheduleDay)
}

// Start runs the HTTP server until Shutdown.
func (a *App) Start(addr string) error {
	return a.echo.Start(addr)
}

// Shutdown stops the server and tears down active capture sessions.
func (a *App) Shutdown(ctx context.Context) error {
	a.svc.Audio.Shutdown()
	a.svc.Camera.Close()
	return a.echo.Shutdown(ctx)
}

func (a *App) status(c echo.Context) error {
	return c.JSON(http.StatusOK, domain.Status{
		Audio:      a.svc.Audio.State(),
		Camera:     a.svc.Camera.State(),
		Submitting: a.svc.Composer.Submitting(),
		Message:    a.statusMessage(),
	})
}

// statusMessage maps the audio session phase to a display string.
func (a *App) statusMessage() string {
	switch {
	case a.svc.Audio.State() == domain.AudioStateListening:
		return a.svc.Labels.Lookup(i18n.KeyStatusListening)
	case a.svc.Audio.StateReason() == domain.ReasonTranscribing:
		return a.svc.Labels.Lookup(i18n.KeyStatusProcessing)
	}
	return ""
}

func (a *App) eventStream(c echo.Context) error {
	conn, err := a.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	a.hub.Add(conn)

	// Reads are discarded; the socket exists to push events out. The read
	// loop notices the peer going away.
	go func() {
		defer func() {
			a.hub.Remove(conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (a *App) setLanguage(c echo.Context) error {
	var req struct {
		Lang string `json:"lang"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	lang := i18n.Lang(req.Lang)
	if !lang.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown language")
	}
	a.svc.Labels.SetLang(lang)
	return c.NoContent(http.StatusNoContent)
}

func (a *App) audioStart(c echo.Context) error {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var err error
	switch req.Mode {
	case "listening":
		err = a.svc.Audio.StartListening(c.Request().Context())
	case "", "recording":
		err = a.svc.Audio.StartRecording(c.Request().Context())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown audio mode")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *App) audioStop(c echo.Context) error {
	if err := a.svc.Audio.Stop(c.Request().Context()); err != nil {
		if errors.Is(err, usecase.ErrNoActiveAudioSession) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (a *App) audioImport(c echo.Context) error {
	header, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio file is required")
	}
	file, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	artifact := domain.AudioArtifact{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	if err := a.svc.Audio.ImportFile(c.Request().Context(), artifact); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (a *App) audioTranscribe(c echo.Context) error {
	if err := a.svc.Audio.Transcribe(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (a *App) audioRemove(c echo.Context) error {
	a.svc.Audio.Remove()
	return c.NoContent(http.StatusNoContent)
}

func (a *App) cameraOpen(c echo.Context) error {
	if err := a.svc.Camera.Open(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (a *App) cameraCapture(c echo.Context) error {
	if err := a.svc.Composer.CaptureImage(); err != nil {
		switch {
		case errors.Is(err, usecase.ErrImageLimit):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, usecase.ErrPreviewNotReady), errors.Is(err, usecase.ErrCameraClosed):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (a *App) cameraClose(c echo.Context) error {
	a.svc.Camera.Close()
	return c.NoContent(http.StatusNoContent)
}

// draftView is the surface projection of the draft; image bytes stay server
// side and only metadata crosses the wire.
type draftView struct {
	Soap        domain.SoapNote          `json:"soap"`
	Transcript  string                   `json:"transcript"`
	Medications []domain.MedicationEntry `json:"medications"`
	Score       *int                     `json:"score,omitempty"`
	Images      []imageView              `json:"images"`
	NextVisit   domain.NextVisit         `json:"nextVisit"`
	HasAudio    bool                     `json:"hasAudio"`
}

type imageView struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Source      string `json:"source"`
	Bytes       int    `json:"bytes"`
}

func (a *App) getDraft(c echo.Context) error {
	draft := a.svc.Composer.Draft()

	view := draftView{
		Soap:        draft.Soap,
		Transcript:  draft.Transcript,
		Medications: draft.Medications,
		Score:       draft.Score,
		Images:      make([]imageView, 0, len(draft.Images)),
		NextVisit:   draft.NextVisit,
		HasAudio:    a.svc.Audio.Artifact() != nil,
	}
	for _, img := range draft.Images {
		view.Images = append(view.Images, imageView{
			Name:        img.Name,
			ContentType: img.ContentType,
			Source:      string(img.Source),
			Bytes:       len(img.Data),
		})
	}
	return c.JSON(http.StatusOK, view)
}

func (a *App) putSoap(c echo.Context) error {
	var req struct {
		Section string `json:"section"`
		Text    string `json:"text"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := a.svc.Composer.SetSoapSection(usecase.SoapSection(req.Section), req.Text); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) addMedication(c echo.Context) error {
	var entry domain.MedicationEntry
	if err := c.Bind(&entry); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := a.svc.Composer.AddMedication(entry); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (a *App) editMedication(c echo.Context) error {
	index, err := pathIndex(c)
	if err != nil {
		return err
	}
	var req struct {
		Name  *string       `json:"name"`
		Dose  *string       `json:"dose"`
		Route *domain.Route `json:"route"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patch := domain.MedicationPatch{Name: req.Name, Dose: req.Dose, Route: req.Route}
	if err := a.svc.Composer.EditMedication(index, patch); err != nil {
		if errors.Is(err, usecase.ErrIndexOutOfRange) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) removeMedication(c echo.Context) error {
	index, err := pathIndex(c)
	if err != nil {
		return err
	}
	if err := a.svc.Composer.RemoveMedication(index); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) addImages(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	files := make([]domain.ImageArtifact, 0, len(form.File["files"]))
	for _, header := range form.File["files"] {
		file, err := header.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		files = append(files, domain.ImageArtifact{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	if err := a.svc.Composer.AddImagesFromFiles(files); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (a *App) removeImage(c echo.Context) error {
	index, err := pathIndex(c)
	if err != nil {
		return err
	}
	if err := a.svc.Composer.RemoveImage(index); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) putScore(c echo.Context) error {
	var req struct {
		Score *int `json:"score"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := a.svc.Composer.SetScore(req.Score); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) putNextVisit(c echo.Context) error {
	var req struct {
		Date string `json:"date"`
		Time string `json:"time"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.svc.Composer.SetNextVisit(req.Date, req.Time)
	return c.NoContent(http.StatusNoContent)
}

func (a *App) putTranscript(c echo.Context) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.svc.Composer.SetTranscript(req.Text)
	return c.NoContent(http.StatusNoContent)
}

func (a *App) convert(c echo.Context) error {
	if err := a.svc.Composer.ConvertTranscriptToSoap(c.Request().Context()); err != nil {
		if errors.Is(err, usecase.ErrEmptyTranscript) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (a *App) submit(c echo.Context) error {
	if err := a.svc.Composer.Submit(c.Request().Context()); err != nil {
		if errors.Is(err, usecase.ErrValidationFailed) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"errors": a.svc.Composer.LastErrors(),
			})
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": a.svc.Labels.Lookup(i18n.KeyMsgSaveSuccess),
	})
}

func (a *App) reset(c echo.Context) error {
	a.svc.Composer.Reset()
	return c.NoContent(http.StatusNoContent)
}

// slotView decorates a slot with the booked marker for display.
type slotView struct {
	Time   string `json:"time"`
	Booked bool   `json:"booked"`
	Label  string `json:"label,omitempty"`
}

func (a *App) scheduleSlots(c echo.Context) error {
	date := c.QueryParam("date")
	index, err := a.dayIndex(c, date)
	if err != nil {
		return err
	}

	slots := schedule.DaySlots(date, index)
	views := make([]slotView, 0, len(slots))
	for _, slot := range slots {
		view := slotView{Time: slot.Time, Booked: slot.Booked}
		if slot.Booked {
			view.Label = a.svc.Labels.Lookup(i18n.KeyStatusBooked)
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, views)
}

func (a *App) scheduleDay(c echo.Context) error {
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	index, err := a.dayIndex(c, date)
	if err != nil {
		return err
	}

	day := schedule.DayAppointments(date, index)
	response := map[string]any{"appointments": day}
	if len(day) == 0 {
		response["message"] = a.svc.Labels.Lookup(i18n.KeyMsgNoAppointments)
	}
	return c.JSON(http.StatusOK, response)
}

func (a *App) dayIndex(c echo.Context, date string) (domain.AppointmentIndex, error) {
	if date == "" {
		return domain.AppointmentIndex{}, nil
	}
	index, err := a.svc.Appointments.Appointments(c.Request().Context(), date, date)
	if err != nil {
		a.svc.Logger.Warn("appointment lookup failed", zap.Error(err))
		a.hub.ActionErrors(domain.ErrorCodeAppointments, []string{err.Error()})
		return nil, echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return index, nil
}

func pathIndex(c echo.Context) (int, error) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "index must be an integer")
	}
	return index, nil
}
