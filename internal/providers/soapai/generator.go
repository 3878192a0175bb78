// Package soapai calls the AI note-generation service that structures a
// dictated transcript into a SOAP note. The result always replaces the whole
// note; merging is the caller's non-goal by contract.
package soapai

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

// Client implements ports.NoteGenerator over the generation REST API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func NewClient(baseURL string, apiKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(60 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		http.SetAuthToken(apiKey)
	}

	return &Client{http: http, logger: logger}
}

type generateRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// The service historically answered either {"soap_notes": {...}} or the bare
// note object; accept both.
type generateResponse struct {
	SoapNotes *domain.SoapNote `json:"soap_notes"`
	domain.SoapNote
}

func (r generateResponse) note() domain.SoapNote {
	if r.SoapNotes != nil {
		return *r.SoapNotes
	}
	return r.SoapNote
}

// GenerateFromText converts free text into a structured SOAP note in the
// requested display language.
func (c *Client) GenerateFromText(ctx context.Context, text string, language string) (domain.SoapNote, error) {
	if strings.TrimSpace(text) == "" {
		return domain.SoapNote{}, errors.New("generation input is empty")
	}

	c.logger.Info("generating SOAP note from text",
		zap.Int("chars", len(text)),
		zap.String("language", language),
	)

	var response generateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(generateRequest{Text: text, Language: language}).
		SetResult(&response).
		Post("/generate-soap")
	if err != nil {
		return domain.SoapNote{}, fmt.Errorf("generation request failed: %w", err)
	}
	if resp.IsError() {
		return domain.SoapNote{}, fmt.Errorf("generation request failed: %s", resp.Status())
	}

	note := response.note()
	if note.IsEmpty() {
		return domain.SoapNote{}, errors.New("generation response contained an empty note")
	}
	return note, nil
}
