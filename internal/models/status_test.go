package models

import (
	"errors"
	"testing"
)

func TestParseValidationStatus(t *testing.T) {
	tests := []struct {
		in   string
		want ValidationStatus
	}{
		{"incomplete", StatusIncomplete},
		{"Incomplete ", StatusIncomplete},
		{"campaign processing", StatusCampaignProcessing},
		{"Campaign Processing", StatusCampaignProcessing},
		{"Campaign Ready", StatusCampaignReady},
		{"campaign ready", StatusCampaignReady},
		{"AD PROCESSING", StatusAdProcessing},
		{"Ad Ready", StatusAdReady},
	}
	for _, tt := range tests {
		got, err := ParseValidationStatus(tt.in)
		if err != nil {
			t.Errorf("ParseValidationStatus(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseValidationStatus(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseValidationStatus("done"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestValidationStatusTransitions(t *testing.T) {
	order := []ValidationStatus{
		StatusIncomplete, StatusCampaignProcessing, StatusCampaignReady, StatusAdProcessing, StatusAdReady,
	}
	for i := 0; i < len(order)-1; i++ {
		if !order[i].CanTransition(order[i+1]) {
			t.Errorf("%v should advance to %v", order[i], order[i+1])
		}
		next, err := order[i].Advance()
		if err != nil || next != order[i+1] {
			t.Errorf("Advance(%v) = %v, %v", order[i], next, err)
		}
		if order[i+1].CanTransition(order[i]) {
			t.Errorf("%v must not go back to %v", order[i+1], order[i])
		}
	}
	if StatusIncomplete.CanTransition(StatusCampaignReady) {
		t.Error("skipping a step must not be allowed")
	}
	if _, err := StatusAdReady.Advance(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition from terminal state, got %v", err)
	}
}

func TestValidationStatusString(t *testing.T) {
	if StatusCampaignReady.String() != "Campaign Ready" {
		t.Errorf("unexpected spelling %q", StatusCampaignReady.String())
	}
	if StatusCampaignProcessing.String() != "campaign processing" {
		t.Errorf("unexpected spelling %q", StatusCampaignProcessing.String())
	}
}
