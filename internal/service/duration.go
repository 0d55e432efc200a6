package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spec-kit/case-timeline-service/internal/domain"
)

// StageDuration is one row of a duration summary breakdown.
type StageDuration struct {
	Stage     domain.Stage `json:"stage"`
	Label     string       `json:"label"`
	Minutes   int64        `json:"minutes"`
	Formatted string       `json:"formatted"`
}

// DurationSummary is the per-stage time accounting of a case.
type DurationSummary struct {
	CaseID                string          `json:"case_id"`
	TotalMinutes          int64           `json:"total_minutes"`
	TotalFormatted        string          `json:"total_formatted"`
	Stages                []StageDuration `json:"stages"`
	CurrentStage          domain.Stage    `json:"current_stage"`
	CurrentStageMinutes   int64           `json:"current_stage_minutes"`
	CurrentStageFormatted string          `json:"current_stage_formatted"`
	EventCount            int             `json:"event_count"`
	EscalationCount       int             `json:"escalation_count"`
	IsClosed              bool            `json:"is_closed"`
}

// wholeMinutes floors d to whole minutes, rounding negative values away from zero.
func wholeMinutes(d time.Duration) int64 {
	return int64(math.Floor(d.Minutes()))
}

func nonNegativeMinutes(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return wholeMinutes(d)
}

// StageEntryTime returns when the case entered stage, i.e. the first event of the trailing
// run of events in that stage. Earlier visits to the same stage are not counted. A run that
// spans the whole log started at case creation unless its first event records a stage
// transition. When the log is empty or does not end in stage, fallback is returned.
func StageEntryTime(events []domain.TimelineEvent, stage domain.Stage, createdAt, fallback time.Time) time.Time {
	if len(events) == 0 || events[len(events)-1].Stage != stage {
		return fallback
	}
	i := len(events) - 1
	for i > 0 && events[i-1].Stage == stage {
		i--
	}
	if i == 0 && events[0].PreviousStage == nil && createdAt.Before(events[0].EventAt) {
		return createdAt
	}
	return events[i].EventAt
}

// caseEndTime is the instant case durations are measured to: resolution time once closed, now otherwise.
func caseEndTime(c *domain.Case, events []domain.TimelineEvent, now time.Time) time.Time {
	if !c.IsClosed() {
		return now
	}
	if c.ResolvedAt != nil {
		return *c.ResolvedAt
	}
	if len(events) > 0 {
		return events[len(events)-1].EventAt
	}
	return now
}

// BuildDurationSummary walks the ordered event log once. The interval from case creation to
// the first event is attributed to the stage that event left, or to its own stage. The trailing open interval is
// only counted while the case is not closed.
func BuildDurationSummary(c *domain.Case, events []domain.TimelineEvent, now time.Time) DurationSummary {
	end := caseEndTime(c, events, now)
	current := domain.StageForStatus(c.Status)
	closed := c.IsClosed()

	totals := map[domain.Stage]time.Duration{}
	var order []domain.Stage
	add := func(stage domain.Stage, d time.Duration) {
		if _, seen := totals[stage]; !seen {
			order = append(order, stage)
		}
		if d < 0 {
			d = 0
		}
		totals[stage] += d
	}

	runStage := current
	if len(events) > 0 {
		runStage = events[0].Stage
		if events[0].PreviousStage != nil {
			runStage = *events[0].PreviousStage
		}
	}
	runStart := c.CreatedAt
	escalations := 0

	for _, e := range events {
		if e.IsEscalation {
			escalations++
		}
		if e.Stage == runStage {
			continue
		}
		add(runStage, e.EventAt.Sub(runStart))
		runStage = e.Stage
		runStart = e.EventAt
	}
	if closed {
		add(runStage, 0)
	} else {
		add(runStage, end.Sub(runStart))
	}

	summary := DurationSummary{
		CaseID:          c.ID,
		TotalMinutes:    nonNegativeMinutes(end.Sub(c.CreatedAt)),
		CurrentStage:    current,
		EventCount:      len(events),
		EscalationCount: escalations,
		IsClosed:        closed,
	}
	summary.TotalFormatted = FormatMinutes(summary.TotalMinutes)
	for _, stage := range order {
		minutes := nonNegativeMinutes(totals[stage])
		summary.Stages = append(summary.Stages, StageDuration{
			Stage:     stage,
			Label:     stage.Label(),
			Minutes:   minutes,
			Formatted: FormatMinutes(minutes),
		})
	}

	entered := StageEntryTime(events, current, c.CreatedAt, c.CreatedAt)
	summary.CurrentStageMinutes = nonNegativeMinutes(end.Sub(entered))
	summary.CurrentStageFormatted = FormatMinutes(summary.CurrentStageMinutes)
	return summary
}

// FormatMinutes renders minutes as "1d 2h 5m", omitting zero parts.
func FormatMinutes(minutes int64) string {
	if minutes <= 0 {
		return "0m"
	}
	days := minutes / (24 * 60)
	hours := (minutes % (24 * 60)) / 60
	mins := minutes % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	return strings.Join(parts, " ")
}
