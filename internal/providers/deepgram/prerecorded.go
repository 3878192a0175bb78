package deepgram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"vetchart/internal/domain"
)

// Transcribe posts a complete audio artifact to the prerecorded listen
// endpoint and returns the top transcript.
func (p *Provider) Transcribe(ctx context.Context, artifact domain.AudioArtifact) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", errors.New("DEEPGRAM_API_KEY is not configured")
	}
	if len(artifact.Data) == 0 {
		return "", errors.New("audio artifact is empty")
	}

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	query := map[string]string{
		"model":        p.cfg.Model,
		"smart_format": fmt.Sprintf("%t", p.cfg.SmartFormat),
	}
	if p.cfg.Language != "" {
		query["language"] = p.cfg.Language
	}

	p.logger.Info("transcribing audio artifact",
		zap.String("name", artifact.Name),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(artifact.Data)),
	)

	var response listenResponse
	resp, err := p.restClient().R().
		SetContext(ctx).
		SetQueryParams(query).
		SetHeader("Content-Type", contentType).
		SetBody(artifact.Data).
		SetResult(&response).
		Post("/listen")
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("transcription request failed: %s", resp.Status())
	}

	text := response.transcript()
	if text == "" {
		return "", errors.New("no transcript in transcription response")
	}
	return text, nil
}

func (p *Provider) restClient() *resty.Client {
	p.restMu.Lock()
	defer p.restMu.Unlock()
	if p.rest == nil {
		p.rest = resty.New().
			SetBaseURL(strings.TrimRight(p.cfg.APIBaseURL, "/")).
			SetTimeout(60 * time.Second).
			SetHeader("Authorization", "Token "+p.cfg.APIKey).
			SetHeader("Accept", "application/json")
	}
	return p.rest
}
