package bootstrap

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vetchart/internal/audio"
	"vetchart/internal/camera"
	"vetchart/internal/config"
	"vetchart/internal/i18n"
	"vetchart/internal/media"
	"vetchart/internal/ports"
	"vetchart/internal/providers/clinicapi"
	"vetchart/internal/providers/deepgram"
	"vetchart/internal/providers/soapai"
	"vetchart/internal/rules"
	"vetchart/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config       *config.Config
	Logger       *zap.Logger
	Labels       *i18n.Catalog
	Audio        *usecase.AudioController
	Camera       *usecase.CameraController
	Composer     *usecase.Composer
	Appointments ports.AppointmentSource
}

// Build wires all backend dependencies for the current runtime.
func Build(events ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return Services{}, err
	}

	labels := i18n.NewCatalog(i18n.Lang(cfg.DefaultLanguage))

	rulesEngine, err := rules.NewEngine(cfg.RulesPath, cfg.RulesPassLimit)
	if err != nil {
		return Services{}, fmt.Errorf("load transcript rules: %w", err)
	}

	guard := media.NewGuard(logger.Named("media"))

	speech := deepgram.NewProvider(deepgram.Config{
		APIKey:      cfg.DeepgramAPIKey,
		APIBaseURL:  cfg.DeepgramBaseURL,
		Model:       cfg.DeepgramModel,
		Language:    cfg.DeepgramLanguage,
		SmartFormat: cfg.DeepgramSmartFormat,
	}, logger.Named("deepgram"))

	generator := soapai.NewClient(cfg.SoapAIBaseURL, cfg.SoapAIAPIKey, logger.Named("soapai"))
	clinic := clinicapi.NewClient(cfg.ClinicAPIBaseURL, cfg.ClinicAPIKey, logger.Named("clinicapi"))

	audioCtrl := usecase.NewAudioController(
		guard,
		audio.NewMicrophone(cfg.FFmpegCommand, logger.Named("microphone")),
		speech,
		speech,
		rulesEngine,
		events,
		labels,
		usecase.AudioSessionConfig{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.AudioSampleRate,
				Channels:    cfg.AudioChannels,
				InputFormat: cfg.AudioInputFormat,
				InputDevice: cfg.AudioInputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.AudioSampleRate,
				Channels:       cfg.AudioChannels,
				Encoding:       "linear16",
				InterimResults: true,
			},
			ChunkSize:      cfg.AudioChunkSize,
			StreamingGrace: cfg.StreamingGrace(),
		},
		logger.Named("audio"),
	)

	cameraCtrl := usecase.NewCameraController(
		guard,
		camera.NewCamera(cfg.FFmpegCommand, logger.Named("camera")),
		events,
		labels,
		ports.CameraConfig{
			InputFormat: cfg.CameraInputFormat,
			InputDevice: cfg.CameraInputDevice,
			Width:       cfg.CameraWidth,
			Height:      cfg.CameraHeight,
			FrameRate:   cfg.CameraFrameRate,
		},
		logger.Named("camera"),
	)

	composer := usecase.NewComposer(clinic, generator, events, labels, logger.Named("composer"))
	composer.AttachSessions(audioCtrl, cameraCtrl)

	return Services{
		Config:       cfg,
		Logger:       logger,
		Labels:       labels,
		Audio:        audioCtrl,
		Camera:       cameraCtrl,
		Composer:     composer,
		Appointments: clinic,
	}, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
