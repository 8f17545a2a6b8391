package models

import (
	"fmt"
	"strings"
)

// ValidationStatus is the coarse workflow state of a user record. Values only
// ever move one step forward through the sequence below.
type ValidationStatus int

const (
	StatusUnknown ValidationStatus = iota
	StatusIncomplete
	StatusCampaignProcessing
	StatusCampaignReady
	StatusAdProcessing
	StatusAdReady
)

// canonical spellings as written to the record store
var statusNames = map[ValidationStatus]string{
	StatusIncomplete:         "incomplete",
	StatusCampaignProcessing: "campaign processing",
	StatusCampaignReady:      "Campaign Ready",
	StatusAdProcessing:       "Ad Processing",
	StatusAdReady:            "Ad Ready",
}

// transitions is the only place where the workflow order is defined.
var transitions = map[ValidationStatus]ValidationStatus{
	StatusIncomplete:         StatusCampaignProcessing,
	StatusCampaignProcessing: StatusCampaignReady,
	StatusCampaignReady:      StatusAdProcessing,
	StatusAdProcessing:       StatusAdReady,
}

// String returns the canonical store spelling.
func (s ValidationStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseValidationStatus accepts any casing and surrounding whitespace.
func ParseValidationStatus(raw string) (ValidationStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	for s, name := range statusNames {
		if strings.ToLower(name) == norm {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Next returns the status that follows s, if any.
func (s ValidationStatus) Next() (ValidationStatus, bool) {
	n, ok := transitions[s]
	return n, ok
}

// CanTransition reports whether s may advance directly to to.
func (s ValidationStatus) CanTransition(to ValidationStatus) bool {
	n, ok := transitions[s]
	return ok && n == to
}

// Advance returns the next status or ErrInvalidTransition when s is terminal or unknown.
func (s ValidationStatus) Advance() (ValidationStatus, error) {
	n, ok := s.Next()
	if !ok {
		return StatusUnknown, fmt.Errorf("%w: from %q", ErrInvalidTransition, s.String())
	}
	return n, nil
}
