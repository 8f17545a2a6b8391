package ads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

// Campaign creation constants.
const (
	DefaultBudgetMicros    = 1_000_000
	CPCBidCeilingMicros    = 1_000_000
	LocationFractionMicros = 1_000_000
	CampaignDurationDays   = 1
	FinalURL               = "https://www.chatbotadsmanager.com/"

	microsPerUnit = 1_000_000
	dateLayout    = "2006-01-02"
)

var (
	// ErrCampaignNotFound is returned when no campaign has the requested name.
	ErrCampaignNotFound = errors.New("ads: campaign not found")
	// ErrInvalidAd is returned when the ad assets break the count bounds.
	ErrInvalidAd = errors.New("ads: invalid ad assets")
)

// CreateCampaignBudget creates a non-shared budget and returns its resource name.
func (c *Client) CreateCampaignBudget(ctx context.Context, customerID, name string, amountMicros int64) (string, error) {
	return c.mutate(ctx, customerID, "campaignBudgets", map[string]interface{}{
		"name":             name,
		"amountMicros":     strconv.FormatInt(amountMicros, 10),
		"explicitlyShared": false,
	})
}

// CreateCampaign creates a paused search campaign running from start to
// start+CampaignDurationDays, bidding for top-of-page impression share.
func (c *Client) CreateCampaign(ctx context.Context, customerID, name, budgetResource string, start time.Time) (string, error) {
	end := start.AddDate(0, 0, CampaignDurationDays)
	return c.mutate(ctx, customerID, "campaigns", map[string]interface{}{
		"name":                           name,
		"advertisingChannelType":         "SEARCH",
		"status":                         "PAUSED",
		"campaignBudget":                 budgetResource,
		"containsEuPoliticalAdvertising": "DOES_NOT_CONTAIN_EU_POLITICAL_ADVERTISING",
		"targetImpressionShare": map[string]interface{}{
			"location":               "TOP_OF_PAGE",
			"cpcBidCeilingMicros":    strconv.FormatInt(CPCBidCeilingMicros, 10),
			"locationFractionMicros": strconv.FormatInt(LocationFractionMicros, 10),
		},
		"startDate": start.Format(dateLayout),
		"endDate":   end.Format(dateLayout),
	})
}

// AddLocationCriterion targets the campaign at a geo target constant.
func (c *Client) AddLocationCriterion(ctx context.Context, customerID, campaignResource, geoID string) (string, error) {
	return c.mutate(ctx, customerID, "campaignCriteria", map[string]interface{}{
		"campaign": campaignResource,
		"location": map[string]interface{}{"geoTargetConstant": "geoTargetConstants/" + geoID},
	})
}

// CreateAdGroup creates an enabled standard search ad group.
func (c *Client) CreateAdGroup(ctx context.Context, customerID, campaignID, name string) (string, error) {
	cid := NormalizeCustomerID(customerID)
	return c.mutate(ctx, cid, "adGroups", map[string]interface{}{
		"name":     name,
		"campaign": fmt.Sprintf("customers/%s/campaigns/%s", cid, campaignID),
		"status":   "ENABLED",
		"type":     "SEARCH_STANDARD",
	})
}

// CreateResponsiveSearchAd creates a paused responsive search ad.
func (c *Client) CreateResponsiveSearchAd(ctx context.Context, customerID, adGroupResource string, titles, descriptions []string) (string, error) {
	return c.mutate(ctx, customerID, "adGroupAds", map[string]interface{}{
		"status":  "PAUSED",
		"adGroup": adGroupResource,
		"ad": map[string]interface{}{
			"finalUrls": []string{FinalURL},
			"responsiveSearchAd": map[string]interface{}{
				"headlines":    textAssets(titles),
				"descriptions": textAssets(descriptions),
			},
		},
	})
}

// AddKeyword adds an enabled exact-match keyword.
func (c *Client) AddKeyword(ctx context.Context, customerID, adGroupResource, text string) (string, error) {
	return c.mutate(ctx, customerID, "adGroupCriteria", map[string]interface{}{
		"adGroup": adGroupResource,
		"status":  "ENABLED",
		"keyword": map[string]interface{}{"text": text, "matchType": "EXACT"},
	})
}

func textAssets(items []string) []map[string]string {
	out := make([]map[string]string, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]string{"text": it})
	}
	return out
}

// CampaignDetails is the reporting view of one campaign.
type CampaignDetails struct {
	ID                string
	Name              string
	Status            string
	ChannelType       string
	StartDate         string
	EndDate           string
	AssignedBudget    float64
	Spend             float64
	BiddingStrategy   string
	ServingStatus     string
	OptimizationScore float64
}

// TotalSpend is the assigned daily budget times the number of campaign days,
// both ends included.
func (d CampaignDetails) TotalSpend() (float64, error) {
	start, err := time.Parse(dateLayout, d.StartDate)
	if err != nil {
		return 0, fmt.Errorf("ads: parse start date %q: %w", d.StartDate, err)
	}
	end, err := time.Parse(dateLayout, d.EndDate)
	if err != nil {
		return 0, fmt.Errorf("ads: parse end date %q: %w", d.EndDate, err)
	}
	days := int(end.Sub(start).Hours() / 24)
	return d.AssignedBudget * float64(days+1), nil
}

// CampaignDetails returns the first campaign named name.
func (c *Client) CampaignDetails(ctx context.Context, customerID, name string) (CampaignDetails, error) {
	query := `SELECT campaign.id, campaign.name, campaign.status, campaign.advertising_channel_type,
  campaign.start_date, campaign.end_date, campaign_budget.amount_micros,
  campaign.bidding_strategy_type, campaign.serving_status, campaign.optimization_score,
  metrics.cost_micros
FROM campaign WHERE campaign.name = ` + quoteGAQL(name)
	rows, err := c.search(ctx, customerID, query)
	if err != nil {
		return CampaignDetails{}, err
	}
	if len(rows) == 0 {
		return CampaignDetails{}, fmt.Errorf("%w: %q", ErrCampaignNotFound, name)
	}
	r := rows[0]
	return CampaignDetails{
		ID:                r.Get("campaign.id").String(),
		Name:              r.Get("campaign.name").String(),
		Status:            r.Get("campaign.status").String(),
		ChannelType:       r.Get("campaign.advertisingChannelType").String(),
		StartDate:         r.Get("campaign.startDate").String(),
		EndDate:           r.Get("campaign.endDate").String(),
		AssignedBudget:    float64(r.Get("campaignBudget.amountMicros").Int()) / microsPerUnit,
		Spend:             float64(r.Get("metrics.costMicros").Int()) / microsPerUnit,
		BiddingStrategy:   r.Get("campaign.biddingStrategyType").String(),
		ServingStatus:     r.Get("campaign.servingStatus").String(),
		OptimizationScore: r.Get("campaign.optimizationScore").Float(),
	}, nil
}

// AdGroup is the reporting view of one ad group.
type AdGroup struct {
	ID     string
	Name   string
	Status string
}

// AdGroups lists the ad groups of a campaign.
func (c *Client) AdGroups(ctx context.Context, customerID, campaignID string) ([]AdGroup, error) {
	cid := NormalizeCustomerID(customerID)
	query := fmt.Sprintf(`SELECT ad_group.id, ad_group.name, ad_group.status FROM ad_group
WHERE ad_group.campaign = 'customers/%s/campaigns/%s'`, cid, campaignID)
	rows, err := c.search(ctx, cid, query)
	if err != nil {
		return nil, err
	}
	groups := make([]AdGroup, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, AdGroup{
			ID:     r.Get("adGroup.id").String(),
			Name:   r.Get("adGroup.name").String(),
			Status: r.Get("adGroup.status").String(),
		})
	}
	return groups, nil
}

// CampaignResult identifies what AddCampaign created.
type CampaignResult struct {
	BudgetResource   string
	CampaignResource string
	CampaignID       string
	AssignedBudget   float64
}

// AddCampaign creates the budget, the paused campaign and its location
// criterion. Resources created before a failing step are not rolled back.
func (c *Client) AddCampaign(ctx context.Context, customerID, name, geoID string) (CampaignResult, error) {
	res := CampaignResult{AssignedBudget: float64(DefaultBudgetMicros) / microsPerUnit}
	slog.Info("ads.AddCampaign: creating campaign", "customer_id", customerID, "campaign", name,
		"geo_id", geoID, "assigned_budget", res.AssignedBudget)

	budget, err := c.CreateCampaignBudget(ctx, customerID, name+" Budget", DefaultBudgetMicros)
	if err != nil {
		return res, fmt.Errorf("create budget: %w", err)
	}
	res.BudgetResource = budget

	campaign, err := c.CreateCampaign(ctx, customerID, name, budget, c.now())
	if err != nil {
		return res, fmt.Errorf("create campaign: %w", err)
	}
	res.CampaignResource = campaign
	res.CampaignID = ResourceID(campaign)
	slog.Info("ads.AddCampaign: campaign created", "campaign_id", res.CampaignID)

	if _, err := c.AddLocationCriterion(ctx, customerID, campaign, geoID); err != nil {
		return res, fmt.Errorf("add location criterion: %w", err)
	}
	return res, nil
}

// AdRequest describes one ad group with its responsive search ad and keywords.
type AdRequest struct {
	CustomerID   string
	CampaignID   string
	AdGroupName  string
	Titles       []string
	Descriptions []string
	Keywords     []string
}

// Normalize trims the asset lists and drops empty entries.
func (r AdRequest) Normalize() AdRequest {
	r.Titles = cleanItems(r.Titles)
	r.Descriptions = cleanItems(r.Descriptions)
	r.Keywords = cleanItems(r.Keywords)
	return r
}

func cleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// Validate checks the asset count bounds.
func (r AdRequest) Validate() error {
	if n := len(r.Titles); n < models.MinTitles || n > models.MaxTitles {
		return fmt.Errorf("%w: %d-%d titles required, got %d", ErrInvalidAd, models.MinTitles, models.MaxTitles, n)
	}
	if n := len(r.Descriptions); n < models.MinDescriptions || n > models.MaxDescriptions {
		return fmt.Errorf("%w: %d-%d descriptions required, got %d", ErrInvalidAd, models.MinDescriptions, models.MaxDescriptions, n)
	}
	if n := len(r.Keywords); n > models.MaxKeywords {
		return fmt.Errorf("%w: at most %d keywords allowed, got %d", ErrInvalidAd, models.MaxKeywords, n)
	}
	return nil
}

// AdResult identifies what AddAdToCampaign created.
type AdResult struct {
	AdGroupResource  string
	AdResource       string
	KeywordResources []string
}

// AddAdToCampaign creates the ad group, the responsive search ad and one
// exact-match criterion per keyword. Assets are validated before any call.
func (c *Client) AddAdToCampaign(ctx context.Context, req AdRequest) (AdResult, error) {
	req = req.Normalize()
	var res AdResult
	if err := req.Validate(); err != nil {
		return res, err
	}

	group, err := c.CreateAdGroup(ctx, req.CustomerID, req.CampaignID, req.AdGroupName)
	if err != nil {
		return res, fmt.Errorf("create ad group: %w", err)
	}
	res.AdGroupResource = group
	slog.Info("ads.AddAdToCampaign: ad group created", "resource", group)

	ad, err := c.CreateResponsiveSearchAd(ctx, req.CustomerID, group, req.Titles, req.Descriptions)
	if err != nil {
		return res, fmt.Errorf("create responsive search ad: %w", err)
	}
	res.AdResource = ad

	for _, kw := range req.Keywords {
		crit, err := c.AddKeyword(ctx, req.CustomerID, group, kw)
		if err != nil {
			return res, fmt.Errorf("add keyword %q: %w", kw, err)
		}
		res.KeywordResources = append(res.KeywordResources, crit)
		slog.Debug("ads.AddAdToCampaign: keyword added", "keyword", kw)
	}
	return res, nil
}
