// Package clinicapi talks to the clinic records service: it persists
// completed record snapshots and supplies the read-only appointment index
// used to flag booked follow-up slots.
package clinicapi

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

// Client implements ports.RecordStore and ports.AppointmentSource.
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
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		http.SetAuthToken(apiKey)
	}

	return &Client{http: http, logger: logger}
}

type saveResponse struct {
	ID string `json:"id"`
}

// SaveRecord persists a snapshot and returns the new record's id. The call is
// all-or-nothing; the caller keeps its draft on failure.
func (c *Client) SaveRecord(ctx context.Context, snapshot domain.RecordSnapshot) (domain.RecordID, error) {
	c.logger.Info("saving record",
		zap.Int("images", len(snapshot.Images)),
		zap.Int("medications", len(snapshot.Medications)),
		zap.Bool("has_next_visit", snapshot.NextVisitDate != ""),
	)

	var response saveResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(snapshot).
		SetResult(&response).
		Post("/records")
	if err != nil {
		return "", fmt.Errorf("save request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("save request failed: %s", resp.Status())
	}
	if response.ID == "" {
		return "", errors.New("save response missing record id")
	}

	c.logger.Info("record saved", zap.String("record_id", response.ID))
	return domain.RecordID(response.ID), nil
}

type appointmentRow struct {
	Time       string `json:"time"`
	AnimalName string `json:"animal_name"`
	FarmID     string `json:"farm_id"`
}

// Appointments fetches the date-keyed appointment index for the given
// inclusive range. Each entry carries only the time and a display label.
func (c *Client) Appointments(ctx context.Context, from string, to string) (domain.AppointmentIndex, error) {
	var rows map[string][]appointmentRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("from", from).
		SetQueryParam("to", to).
		SetResult(&rows).
		Get("/appointments")
	if err != nil {
		return nil, fmt.Errorf("appointments request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("appointments request failed: %s", resp.Status())
	}

	index := make(domain.AppointmentIndex, len(rows))
	for date, day := range rows {
		entries := make([]domain.Appointment, 0, len(day))
		for _, row := range day {
			entries = append(entries, domain.Appointment{Time: row.Time, Label: rowLabel(row)})
		}
		index[date] = entries
	}
	return index, nil
}

func rowLabel(row appointmentRow) string {
	if row.FarmID == "" {
		return row.AnimalName
	}
	if row.AnimalName == "" {
		return row.FarmID
	}
	return row.AnimalName + " / " + row.FarmID
}
