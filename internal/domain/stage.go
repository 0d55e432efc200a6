package domain

import "sort"

// Stage is the canonical pipeline bucket a case status belongs to.
type Stage string

const (
	StageSubmission    Stage = "submission"
	StageTriage        Stage = "triage"
	StageAssignment    Stage = "assignment"
	StageInvestigation Stage = "investigation"
	StageResolution    Stage = "resolution"
	StageClosed        Stage = "closed"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageSubmission,
	StageTriage,
	StageAssignment,
	StageInvestigation,
	StageResolution,
	StageClosed,
}

var statusStages = map[CaseStatus]Stage{
	CaseStatusNew:              StageSubmission,
	CaseStatusOpen:             StageSubmission,
	CaseStatusSubmitted:        StageSubmission,
	CaseStatusPending:          StageTriage,
	CaseStatusUnderReview:      StageTriage,
	CaseStatusReopened:         StageTriage,
	CaseStatusAssigned:         StageAssignment,
	CaseStatusInProgress:       StageInvestigation,
	CaseStatusInvestigating:    StageInvestigation,
	CaseStatusAwaitingResponse: StageInvestigation,
	CaseStatusOnHold:           StageInvestigation,
	CaseStatusResolved:         StageResolution,
	CaseStatusClosed:           StageClosed,
	CaseStatusRejected:         StageClosed,
	CaseStatusArchived:         StageClosed,
}

// StageForStatus maps a case status to its stage. Unknown statuses land in submission.
func StageForStatus(status CaseStatus) Stage {
	if stage, ok := statusStages[status]; ok {
		return stage
	}
	return StageSubmission
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// Label returns the human-readable stage name.
func (s Stage) Label() string {
	switch s {
	case StageSubmission:
		return "Submission"
	case StageTriage:
		return "Triage"
	case StageAssignment:
		return "Assignment"
	case StageInvestigation:
		return "Investigation"
	case StageResolution:
		return "Resolution"
	case StageClosed:
		return "Closed"
	default:
		return string(s)
	}
}

// StatusesInStage lists the statuses that map to stage, sorted.
func StatusesInStage(stage Stage) []CaseStatus {
	var out []CaseStatus
	for status, s := range statusStages {
		if s == stage {
			out = append(out, status)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
