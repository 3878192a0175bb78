// Package schedule owns the clinic's bookable time grid and the read-only
// conflict lookup used to disable already-booked follow-up slots. It never
// blocks a booking; enforcement belongs to the records service.
package schedule

import (
	"sort"

	"vetchart/internal/domain"
)

// TimeOptions is the fixed half-hour grid the clinic books against.
var TimeOptions = []string{
	"09:00", "09:30",
	"10:00", "10:30",
	"11:00", "11:30",
	"12:00", "12:30",
	"13:00", "13:30",
	"14:00", "14:30",
	"15:00", "15:30",
	"16:00", "16:30",
	"17:00",
}

// Slot is one clinic time option with its booking status for a given date.
type Slot struct {
	Time   string `json:"time"`
	Booked bool   `json:"booked"`
}

// DaySlots marks each clinic time option as booked when the date already has
// an appointment at exactly that time. An empty date yields an all-free grid,
// matching a not-yet-chosen follow-up day.
func DaySlots(date string, index domain.AppointmentIndex) []Slot {
	var day []domain.Appointment
	if date != "" {
		day = index[date]
	}

	slots := make([]Slot, 0, len(TimeOptions))
	for _, option := range TimeOptions {
		slots = append(slots, Slot{Time: option, Booked: isBooked(day, option)})
	}
	return slots
}

// IsBooked reports whether the date already has an appointment at the exact
// time string.
func IsBooked(date string, timeOption string, index domain.AppointmentIndex) bool {
	if date == "" {
		return false
	}
	return isBooked(index[date], timeOption)
}

func isBooked(day []domain.Appointment, timeOption string) bool {
	for _, appointment := range day {
		if appointment.Time == timeOption {
			return true
		}
	}
	return false
}

// DayAppointments returns the date's appointments ordered by time, the order
// the expanded schedule list displays.
func DayAppointments(date string, index domain.AppointmentIndex) []domain.Appointment {
	day := append([]domain.Appointment(nil), index[date]...)
	sort.SliceStable(day, func(i, j int) bool {
		return day[i].Time < day[j].Time
	})
	return day
}
