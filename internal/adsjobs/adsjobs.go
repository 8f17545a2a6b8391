// Package adsjobs moves user records through the campaign workflow. Each job
// is one pass over the record store: it picks the rows sitting in its source
// validation status, performs the matching Google Ads step, and advances the
// status one step on success.
package adsjobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/chatbotadsmanager/adsmanager/internal/ads"
	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
	"github.com/chatbotadsmanager/adsmanager/internal/util"
)

// AdsAPI is the slice of the ads client the jobs drive.
type AdsAPI interface {
	AddCampaign(ctx context.Context, customerID, name, geoID string) (ads.CampaignResult, error)
	CampaignDetails(ctx context.Context, customerID, name string) (ads.CampaignDetails, error)
	AddAdToCampaign(ctx context.Context, req ads.AdRequest) (ads.AdResult, error)
	AdGroups(ctx context.Context, customerID, campaignID string) ([]ads.AdGroup, error)
}

// Job names one batch pass.
type Job string

const (
	JobIncomplete         Job = "incomplete"
	JobCampaignProcessing Job = "campaign-processing"
	JobCampaignReady      Job = "campaign-ready"
	JobAdProcessing       Job = "ad-processing"
)

// AllJobs lists the passes in workflow order.
var AllJobs = []Job{JobIncomplete, JobCampaignProcessing, JobCampaignReady, JobAdProcessing}

// ErrUnknownJob is returned for a job name outside AllJobs.
var ErrUnknownJob = errors.New("adsjobs: unknown job")

// ParseJob validates a job name.
func ParseJob(name string) (Job, error) {
	for _, j := range AllJobs {
		if string(j) == strings.TrimSpace(name) {
			return j, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJob, name)
}

// CityGeoIDs maps Bolivian departments to their geo target constants.
var CityGeoIDs = map[string]string{
	"la paz":     "20084",
	"cochabamba": "20083",
	"santa cruz": "20085",
	"potosi":     "9069868",
	"beni":       "9069869",
	"chuquisaca": "9069870",
	"pando":      "9069871",
	"oruro":      "9069872",
	"tarija":     "9075434",
}

// DefaultCity is used when a row's segmentation is empty or unknown.
const DefaultCity = "la paz"

// MaxAssignedBudget is the largest assigned budget, in Bs, an ad is created for.
const MaxAssignedBudget = 5.0

// requiredCampaignStatus is the platform status a campaign must have before an ad is attached.
const requiredCampaignStatus = "PAUSED"

// ResolveGeo maps a segmentation value to a city and its geo target id.
func ResolveGeo(segmentation string) (city, geoID string) {
	city = strings.ToLower(strings.TrimSpace(segmentation))
	if id, ok := CityGeoIDs[city]; ok {
		return city, id
	}
	return DefaultCity, CityGeoIDs[DefaultCity]
}

// Report summarizes one pass.
type Report struct {
	RunID     string
	Job       Job
	Scanned   int
	Matched   int
	Advanced  int
	Skipped   int
	Failed    int
	APIErrors int
}

// HasAPIErrors reports whether any row failed on an ads platform error.
func (r Report) HasAPIErrors() bool { return r.APIErrors > 0 }

// Opts holds configuration for the runner.
type Opts struct {
	AdGroupName func(campaignName string) string
}

// Option configures the runner.
type Option func(*Opts)

// WithAdGroupNamer overrides how ad group names are built.
func WithAdGroupNamer(fn func(string) string) Option {
	return func(o *Opts) { o.AdGroupName = fn }
}

// Runner executes the jobs against a record store and the ads API.
type Runner struct {
	records     store.RecordStore
	ads         AdsAPI
	adGroupName func(string) string
}

// NewRunner creates a runner.
func NewRunner(records store.RecordStore, api AdsAPI, opts ...Option) *Runner {
	cfg := Opts{AdGroupName: util.AdGroupName}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runner{records: records, ads: api, adGroupName: cfg.AdGroupName}
}

// rowOutcome is what a job step did with one row.
type rowOutcome int

const (
	outcomeSkipped rowOutcome = iota
	outcomeAdvanced
)

type step struct {
	from, to models.ValidationStatus
	handle   func(r *Runner, ctx context.Context, rec models.UserRecord, next models.ValidationStatus) (rowOutcome, error)
}

var steps = map[Job]step{
	JobIncomplete:         {models.StatusIncomplete, models.StatusCampaignProcessing, (*Runner).createCampaign},
	JobCampaignProcessing: {models.StatusCampaignProcessing, models.StatusCampaignReady, (*Runner).recordCampaign},
	JobCampaignReady:      {models.StatusCampaignReady, models.StatusAdProcessing, (*Runner).createAd},
	JobAdProcessing:       {models.StatusAdProcessing, models.StatusAdReady, (*Runner).recordAdGroup},
}

// Run performs one pass of job. A store failure on listing aborts the pass;
// per-row failures are logged, counted, and the pass continues.
func (r *Runner) Run(ctx context.Context, job Job) (Report, error) {
	st, ok := steps[job]
	if !ok {
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	if !st.from.CanTransition(st.to) {
		return Report{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, st.from, st.to)
	}
	report := Report{RunID: uuid.NewString(), Job: job}
	log := slog.With("job", string(job), "run_id", report.RunID)

	rows, err := r.records.List(ctx)
	if err != nil {
		return report, fmt.Errorf("adsjobs: list records: %w", err)
	}
	log.Info("Runner.Run: pass started", "rows", len(rows))

	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		status, err := models.ParseValidationStatus(rec.ValidationStatus)
		if err != nil || status != st.from {
			continue
		}
		report.Matched++

		outcome, err := st.handle(r, ctx, rec, st.to)
		switch {
		case err != nil:
			report.Failed++
			var apiErr *ads.APIError
			if errors.As(err, &apiErr) {
				report.APIErrors++
			}
			log.Error("Runner.Run: row failed", "number", rec.Number, "campaign", rec.CampaignName, "error", err)
		case outcome == outcomeAdvanced:
			report.Advanced++
			log.Info("Runner.Run: row advanced", "number", rec.Number, "campaign", rec.CampaignName, "status", st.to.String())
		default:
			report.Skipped++
		}
	}
	log.Info("Runner.Run: pass finished", "matched", report.Matched, "advanced", report.Advanced,
		"skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// RunAll runs every job in workflow order. It stops at the first pass that
// cannot complete.
func (r *Runner) RunAll(ctx context.Context) ([]Report, error) {
	reports := make([]Report, 0, len(AllJobs))
	for _, job := range AllJobs {
		rep, err := r.Run(ctx, job)
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// createCampaign handles rows in "incomplete" that carry every campaign input.
func (r *Runner) createCampaign(ctx context.Context, rec models.UserRecord, next models.ValidationStatus) (rowOutcome, error) {
	if missing := missingFields(rec, models.ColNumber, models.ColCustomerID, models.ColCampaignName, models.ColRequestedBudget); len(missing) > 0 {
		slog.Debug("Runner.createCampaign: inputs not collected yet", "number", rec.Number, "missing", missing)
		return outcomeSkipped, nil
	}
	city, geoID := ResolveGeo(rec.Segmentation)
	res, err := r.ads.AddCampaign(ctx, strings.TrimSpace(rec.CustomerID), strings.TrimSpace(rec.CampaignName), geoID)
	if err != nil {
		return outcomeSkipped, err
	}
	slog.Info("Runner.createCampaign: campaign created", "number", rec.Number, "campaign_id", res.CampaignID, "city", city, "geo_id", geoID)
	return r.advance(ctx, rec, next, nil)
}

// recordCampaign copies the platform's view of the campaign into the row.
func (r *Runner) recordCampaign(ctx context.Context, rec models.UserRecord, next models.ValidationStatus) (rowOutcome, error) {
	if missing := missingFields(rec, models.ColNumber, models.ColCustomerID, models.ColCampaignName, models.ColRequestedBudget); len(missing) > 0 {
		return outcomeSkipped, nil
	}
	d, err := r.ads.CampaignDetails(ctx, strings.TrimSpace(rec.CustomerID), strings.TrimSpace(rec.CampaignName))
	if errors.Is(err, ads.ErrCampaignNotFound) {
		slog.Warn("Runner.recordCampaign: campaign not found yet", "campaign", rec.CampaignName)
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, err
	}
	total, err := d.TotalSpend()
	if err != nil {
		return outcomeSkipped, err
	}
	return r.advance(ctx, rec, next, map[string]string{
		models.ColCampaignID:     d.ID,
		models.ColAssignedBudget: formatAmount(d.AssignedBudget),
		models.ColCampaignStatus: d.Status,
		models.ColTotalSpend:     formatAmount(total),
		models.ColStartDate:      d.StartDate,
		models.ColEndDate:        d.EndDate,
	})
}

// createAd attaches the ad group, ad and keywords to a ready campaign.
func (r *Runner) createAd(ctx context.Context, rec models.UserRecord, next models.ValidationStatus) (rowOutcome, error) {
	req, reason := r.adRequest(rec)
	if reason != "" {
		slog.Warn("Runner.createAd: row skipped", "number", rec.Number, "campaign", rec.CampaignName, "reason", reason)
		return outcomeSkipped, nil
	}
	if _, err := r.ads.AddAdToCampaign(ctx, req); err != nil {
		return outcomeSkipped, err
	}
	return r.advance(ctx, rec, next, nil)
}

// adRequest validates a Campaign Ready row. A non-empty reason means skip.
func (r *Runner) adRequest(rec models.UserRecord) (ads.AdRequest, string) {
	if missing := missingFields(rec, models.ColCustomerID, models.ColCampaignID, models.ColCampaignName, models.ColTitles,
		models.ColDescriptions, models.ColKeywords, models.ColAssignedBudget, models.ColCampaignStatus); len(missing) > 0 {
		return ads.AdRequest{}, "missing fields: " + strings.Join(missing, ", ")
	}
	customerID := strings.TrimSpace(rec.CustomerID)
	campaignID := strings.TrimSpace(rec.CampaignID)
	if !isDigits(customerID) || len(customerID) != 10 {
		return ads.AdRequest{}, "invalid customer id " + customerID
	}
	if !isDigits(campaignID) {
		return ads.AdRequest{}, "invalid campaign id " + campaignID
	}
	budget, err := strconv.ParseFloat(strings.TrimSpace(rec.AssignedBudget), 64)
	if err != nil {
		return ads.AdRequest{}, "assigned budget is not a number"
	}
	if budget > MaxAssignedBudget {
		return ads.AdRequest{}, fmt.Sprintf("assigned budget %v exceeds %v", budget, MaxAssignedBudget)
	}
	req := ads.AdRequest{
		CustomerID:   customerID,
		CampaignID:   campaignID,
		AdGroupName:  r.adGroupName(strings.TrimSpace(rec.CampaignName)),
		Titles:       util.SplitItems(rec.Titles, util.TextItemSeps),
		Descriptions: util.SplitItems(rec.Descriptions, util.TextItemSeps),
		Keywords:     util.SplitItems(rec.Keywords, util.KeywordItemSeps),
	}
	if err := req.Validate(); err != nil {
		return ads.AdRequest{}, err.Error()
	}
	if status := strings.TrimSpace(rec.CampaignStatus); status != requiredCampaignStatus {
		return ads.AdRequest{}, "campaign status is " + status
	}
	return req, ""
}

// recordAdGroup copies the first ad group of the campaign into the row.
func (r *Runner) recordAdGroup(ctx context.Context, rec models.UserRecord, next models.ValidationStatus) (rowOutcome, error) {
	customerID := strings.TrimSpace(rec.CustomerID)
	campaignID := strings.TrimSpace(rec.CampaignID)
	if !isDigits(customerID) || len(customerID) != 10 || !isDigits(campaignID) {
		slog.Warn("Runner.recordAdGroup: invalid ids", "number", rec.Number, "customer_id", customerID, "campaign_id", campaignID)
		return outcomeSkipped, nil
	}
	groups, err := r.ads.AdGroups(ctx, customerID, campaignID)
	if err != nil {
		return outcomeSkipped, err
	}
	if len(groups) == 0 {
		slog.Info("Runner.recordAdGroup: no ad groups yet", "campaign_id", campaignID)
		return outcomeSkipped, nil
	}
	g := groups[0]
	return r.advance(ctx, rec, next, map[string]string{
		models.ColAdGroupID:     g.ID,
		models.ColAdGroupName:   g.Name,
		models.ColAdGroupStatus: g.Status,
	})
}

// advance writes fields together with the next validation status in one call.
func (r *Runner) advance(ctx context.Context, rec models.UserRecord, next models.ValidationStatus, fields map[string]string) (rowOutcome, error) {
	current, err := models.ParseValidationStatus(rec.ValidationStatus)
	if err != nil {
		return outcomeSkipped, err
	}
	if !current.CanTransition(next) {
		return outcomeSkipped, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, next)
	}
	values := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values[models.ColValidationStatus] = next.String()
	if err := r.records.SetFields(ctx, rec.Number, values); err != nil {
		return outcomeSkipped, fmt.Errorf("adsjobs: update row %s: %w", rec.Number, err)
	}
	return outcomeAdvanced, nil
}

func missingFields(rec models.UserRecord, cols ...string) []string {
	var missing []string
	for _, col := range cols {
		v, err := rec.Field(col)
		if err != nil || strings.TrimSpace(v) == "" {
			missing = append(missing, col)
		}
	}
	return missing
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
