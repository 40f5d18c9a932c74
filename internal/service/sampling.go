package service

import (
	"fmt"
	"time"

	"github.com/rentscope/api/internal/model"
)

const (
	sampleLeadDays    = 30
	sampleNights      = 7
	sampleSpacingDays = 30
	sampleSlots       = 12
)

// SamplingPlanner derives the stay windows that price samples are taken for.
// Windows are calendar dates in UTC, relative to the injected clock.
type SamplingPlanner struct {
	now func() time.Time
}

func NewSamplingPlanner(now func() time.Time) *SamplingPlanner {
	if now == nil {
		now = time.Now
	}
	return &SamplingPlanner{now: now}
}

func (p *SamplingPlanner) today() time.Time {
	y, m, d := p.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DefaultWindow is the week starting thirty days from today.
func (p *SamplingPlanner) DefaultWindow() model.TimeWindow {
	return window(p.today(), 0)
}

// SamplingSchedule returns the twelve monthly sample windows.
func (p *SamplingPlanner) SamplingSchedule() []model.TimeWindow {
	today := p.today()
	windows := make([]model.TimeWindow, 0, sampleSlots)
	for i := 0; i < sampleSlots; i++ {
		windows = append(windows, window(today, i))
	}
	return windows
}

// Slot returns window i of the schedule.
func (p *SamplingPlanner) Slot(i int) (model.TimeWindow, error) {
	if i < 0 || i >= sampleSlots {
		return model.TimeWindow{}, model.NewValidationError(fmt.Sprintf("sampling slot must be between 0 and %d", sampleSlots-1))
	}
	return window(p.today(), i), nil
}

// SlotCount is the number of windows in the schedule.
func (p *SamplingPlanner) SlotCount() int {
	return sampleSlots
}

func window(today time.Time, slot int) model.TimeWindow {
	start := today.AddDate(0, 0, sampleLeadDays+slot*sampleSpacingDays)
	return model.TimeWindow{
		Start:  start,
		End:    start.AddDate(0, 0, sampleNights),
		Nights: sampleNights,
	}
}
