package models

import (
	"fmt"
	"strings"
)

// Record store column names. These are a stable external contract.
const (
	ColNumber           = "Number"
	ColCustomerID       = "Customer ID"
	ColCampaignName     = "Campaign Name"
	ColCampaignID       = "Campaign ID"
	ColRequestedBudget  = "Requested Budget"
	ColAssignedBudget   = "Assigned Budget"
	ColCampaignStatus   = "Campaign Status"
	ColTotalSpend       = "Total Spend (BOB)"
	ColAdGroupID        = "Ad Group ID"
	ColAdGroupName      = "Ad Group Name"
	ColAdGroupStatus    = "Ad Group Status"
	ColTitles           = "Titles"
	ColDescriptions     = "Descriptions"
	ColKeywords         = "Keywords"
	ColSegmentation     = "Segmentation"
	ColStartDate        = "Start Date"
	ColEndDate          = "End Date"
	ColValidationStatus = "Validation Status"
	ColCampaignState    = "Estado Campana"
	ColAdState          = "Estado Anuncio"
)

// Columns lists every known column in sheet order.
var Columns = []string{
	ColNumber, ColCustomerID, ColCampaignName, ColCampaignID, ColRequestedBudget,
	ColAssignedBudget, ColCampaignStatus, ColTotalSpend, ColAdGroupID, ColAdGroupName,
	ColAdGroupStatus, ColTitles, ColDescriptions, ColKeywords, ColSegmentation,
	ColStartDate, ColEndDate, ColValidationStatus, ColCampaignState, ColAdState,
}

// CampaignInputColumns are the five fields the campaign agent collects.
var CampaignInputColumns = []string{
	ColCampaignName, ColTitles, ColDescriptions, ColKeywords, ColRequestedBudget,
}

// Initial values for a row created on first contact.
const (
	DefaultCustomerID    = "8829466542"
	InitialCampaignState = "no iniciada"
	InitialAdState       = "no iniciado"
)

// UserRecord is one row of the record store, keyed by phone number.
type UserRecord struct {
	Number           string `json:"number"`
	CustomerID       string `json:"customer_id"`
	CampaignName     string `json:"campaign_name"`
	CampaignID       string `json:"campaign_id"`
	RequestedBudget  string `json:"requested_budget"`
	AssignedBudget   string `json:"assigned_budget"`
	CampaignStatus   string `json:"campaign_status"`
	TotalSpend       string `json:"total_spend"`
	AdGroupID        string `json:"ad_group_id"`
	AdGroupName      string `json:"ad_group_name"`
	AdGroupStatus    string `json:"ad_group_status"`
	Titles           string `json:"titles"`
	Descriptions     string `json:"descriptions"`
	Keywords         string `json:"keywords"`
	Segmentation     string `json:"segmentation"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	ValidationStatus string `json:"validation_status"`
	CampaignState    string `json:"campaign_state"`
	AdState          string `json:"ad_state"`
}

// NewUserRecord returns the skeleton row written on first contact.
func NewUserRecord(phone, customerID string) UserRecord {
	if customerID == "" {
		customerID = DefaultCustomerID
	}
	return UserRecord{
		Number:           phone,
		CustomerID:       customerID,
		ValidationStatus: StatusIncomplete.String(),
		CampaignState:    InitialCampaignState,
		AdState:          InitialAdState,
	}
}

func (r *UserRecord) field(col string) (*string, bool) {
	switch col {
	case ColNumber:
		return &r.Number, true
	case ColCustomerID:
		return &r.CustomerID, true
	case ColCampaignName:
		return &r.CampaignName, true
	case ColCampaignID:
		return &r.CampaignID, true
	case ColRequestedBudget:
		return &r.RequestedBudget, true
	case ColAssignedBudget:
		return &r.AssignedBudget, true
	case ColCampaignStatus:
		return &r.CampaignStatus, true
	case ColTotalSpend:
		return &r.TotalSpend, true
	case ColAdGroupID:
		return &r.AdGroupID, true
	case ColAdGroupName:
		return &r.AdGroupName, true
	case ColAdGroupStatus:
		return &r.AdGroupStatus, true
	case ColTitles:
		return &r.Titles, true
	case ColDescriptions:
		return &r.Descriptions, true
	case ColKeywords:
		return &r.Keywords, true
	case ColSegmentation:
		return &r.Segmentation, true
	case ColStartDate:
		return &r.StartDate, true
	case ColEndDate:
		return &r.EndDate, true
	case ColValidationStatus:
		return &r.ValidationStatus, true
	case ColCampaignState:
		return &r.CampaignState, true
	case ColAdState:
		return &r.AdState, true
	}
	return nil, false
}

// Field returns the value stored under a column name.
func (r UserRecord) Field(col string) (string, error) {
	p, ok := r.field(col)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownColumn, col)
	}
	return *p, nil
}

// Set writes a value under a column name.
func (r *UserRecord) Set(col, value string) error {
	p, ok := r.field(col)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, col)
	}
	*p = value
	return nil
}

// Values returns the row in Columns order.
func (r UserRecord) Values() []string {
	out := make([]string, len(Columns))
	for i, col := range Columns {
		out[i], _ = r.Field(col)
	}
	return out
}

// IsKnownColumn reports whether col is part of the record schema.
func IsKnownColumn(col string) bool {
	var r UserRecord
	_, ok := r.field(col)
	return ok
}

// CampaignInputsComplete reports whether all five agent-collected fields are
// non-empty after trimming.
func (r UserRecord) CampaignInputsComplete() bool {
	for _, col := range CampaignInputColumns {
		v, _ := r.Field(col)
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// Ad copy bounds checked before an ad is created.
const (
	MinTitles         = 3
	MaxTitles         = 15
	MinDescriptions   = 2
	MaxDescriptions   = 4
	MaxKeywords       = 10
	MaxTitleLen       = 30
	MaxDescriptionLen = 90
)
