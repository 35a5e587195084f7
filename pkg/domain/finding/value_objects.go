package finding

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vexscan/api/pkg/domain/shared"
)

// Status is the lifecycle status of a finding.
type Status string

const (
	StatusOpen          Status = "Open"
	StatusInProgress    Status = "In Progress"
	StatusWaiting       Status = "Waiting"
	StatusMitigated     Status = "Mitigated"
	StatusAcceptedRisk  Status = "Accepted Risk"
	StatusFalsePositive Status = "False Positive"
	StatusNotObserved   Status = "Not Observed"
)

// MinJustificationLength is the minimum comment length, in characters, for
// statuses that close a finding.
const MinJustificationLength = 10

// AllStatuses returns all valid statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusOpen,
		StatusInProgress,
		StatusWaiting,
		StatusMitigated,
		StatusAcceptedRisk,
		StatusFalsePositive,
		StatusNotObserved,
	}
}

// ClosingStatuses returns the statuses that need a written justification.
func ClosingStatuses() []Status {
	return []Status{
		StatusMitigated,
		StatusAcceptedRisk,
		StatusFalsePositive,
		StatusNotObserved,
	}
}

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	return slices.Contains(AllStatuses(), s)
}

// RequiresJustification reports whether entering s needs a comment of at
// least MinJustificationLength characters.
func (s Status) RequiresJustification() bool {
	return slices.Contains(ClosingStatuses(), s)
}

// RequiresEvidence reports whether entering s needs at least one active
// evidence bundle on the finding.
func (s Status) RequiresEvidence() bool {
	return s == StatusMitigated
}

// IsClosed reports whether the finding no longer needs work in this status.
func (s Status) IsClosed() bool {
	return s.RequiresJustification()
}

// String returns the string representation.
func (s Status) String() string {
	return string(s)
}

// ParseStatus parses a status name, ignoring case and surrounding spaces.
// Snake case forms such as "accepted_risk" are accepted as well.
func ParseStatus(s string) (Status, error) {
	norm := strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	for _, st := range AllStatuses() {
		if strings.EqualFold(string(st), norm) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: invalid status: %q", shared.ErrValidation, s)
}

// Severity is the impact rating of a finding.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

// AllSeverities returns all valid severities, most severe first.
func AllSeverities() []Severity {
	return []Severity{
		SeverityCritical,
		SeverityHigh,
		SeverityMedium,
		SeverityLow,
		SeverityInfo,
	}
}

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	return slices.Contains(AllSeverities(), s)
}

// String returns the string representation.
func (s Severity) String() string {
	return string(s)
}

// ParseSeverity parses a severity name, ignoring case.
func ParseSeverity(s string) (Severity, error) {
	norm := strings.TrimSpace(s)
	for _, sev := range AllSeverities() {
		if strings.EqualFold(string(sev), norm) {
			return sev, nil
		}
	}
	return "", fmt.Errorf("%w: invalid severity: %q", shared.ErrValidation, s)
}
