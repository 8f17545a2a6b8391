package ads

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

type recorded struct {
	Path    string
	Body    string
	Headers http.Header
}

// fakeAds answers mutate calls with a resource name per resource type and
// search calls with canned bodies.
type fakeAds struct {
	mu       sync.Mutex
	requests []recorded
	search   []string
	failOn   string
}

func (f *fakeAds) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{Path: r.URL.Path, Body: string(body), Headers: r.Header.Clone()})
	var next string
	isSearch := strings.HasSuffix(r.URL.Path, "googleAds:search")
	if isSearch && len(f.search) > 0 {
		next, f.search = f.search[0], f.search[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.failOn != "" && strings.Contains(r.URL.Path, f.failOn) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Request contains an invalid argument.","status":"INVALID_ARGUMENT",
			"details":[{"@type":"type.googleapis.com/google.ads.googleads.v21.errors.GoogleAdsFailure",
			"errors":[{"errorCode":{"campaignError":"DUPLICATE_CAMPAIGN_NAME"},"message":"A campaign with this name already exists.",
			"location":{"fieldPathElements":[{"fieldName":"operations","index":0},{"fieldName":"create"},{"fieldName":"name"}]}}],
			"requestId":"req-42"}]}}`))
		return
	}
	if isSearch {
		if next == "" {
			next = `{}`
		}
		_, _ = w.Write([]byte(next))
		return
	}
	resource := strings.TrimSuffix(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], ":mutate")
	_, _ = w.Write([]byte(`{"results":[{"resourceName":"customers/8829466542/` + resource + `/101"}]}`))
}

func (f *fakeAds) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Path)
	}
	return out
}

func (f *fakeAds) body(i int) gjson.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gjson.Parse(f.requests[i].Body)
}

func newTestClient(t *testing.T, fake *fakeAds) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	now := func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	c, err := NewClient(context.Background(),
		WithEndpoint(srv.URL),
		WithDeveloperToken("dev-token"),
		WithLoginCustomerID("123-456-7890"),
		WithHTTPClient(srv.Client()),
		WithClock(now))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClient_Credentials(t *testing.T) {
	if _, err := NewClient(context.Background()); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials without developer token, got %v", err)
	}
	if _, err := NewClient(context.Background(), WithDeveloperToken("x")); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials without oauth, got %v", err)
	}
	if _, err := NewClient(context.Background(), WithDeveloperToken("x"), WithOAuth("id", "secret", "refresh")); err != nil {
		t.Errorf("unexpected error with full credentials: %v", err)
	}
}

func TestAddCampaign(t *testing.T) {
	fake := &fakeAds{}
	c := newTestClient(t, fake)

	res, err := c.AddCampaign(context.Background(), "882-946-6542", "Ferretería El Tornillo", "20084")
	if err != nil {
		t.Fatalf("AddCampaign failed: %v", err)
	}
	if res.CampaignID != "101" || res.AssignedBudget != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	want := []string{
		"/v21/customers/8829466542/campaignBudgets:mutate",
		"/v21/customers/8829466542/campaigns:mutate",
		"/v21/customers/8829466542/campaignCriteria:mutate",
	}
	got := fake.paths()
	if len(got) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	budget := fake.body(0).Get("operations.0.create")
	if budget.Get("name").String() != "Ferretería El Tornillo Budget" || budget.Get("amountMicros").String() != "1000000" {
		t.Errorf("unexpected budget %s", budget.Raw)
	}
	campaign := fake.body(1).Get("operations.0.create")
	checks := map[string]string{
		"status":                                       "PAUSED",
		"advertisingChannelType":                       "SEARCH",
		"campaignBudget":                               "customers/8829466542/campaignBudgets/101",
		"targetImpressionShare.location":               "TOP_OF_PAGE",
		"targetImpressionShare.cpcBidCeilingMicros":    "1000000",
		"targetImpressionShare.locationFractionMicros": "1000000",
		"startDate":                                    "2025-03-10",
		"endDate":                                      "2025-03-11",
	}
	for path, want := range checks {
		if got := campaign.Get(path).String(); got != want {
			t.Errorf("campaign %s: expected %q, got %q", path, want, got)
		}
	}
	if geo := fake.body(2).Get("operations.0.create.location.geoTargetConstant").String(); geo != "geoTargetConstants/20084" {
		t.Errorf("unexpected geo target %q", geo)
	}

	fake.mu.Lock()
	h := fake.requests[0].Headers
	fake.mu.Unlock()
	if h.Get("developer-token") != "dev-token" || h.Get("login-customer-id") != "1234567890" {
		t.Errorf("missing ads headers: %v", h)
	}
}

func TestAddCampaign_APIError(t *testing.T) {
	fake := &fakeAds{failOn: "campaigns:mutate"}
	c := newTestClient(t, fake)

	res, err := c.AddCampaign(context.Background(), "8829466542", "Duplicada", "20084")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.RequestID != "req-42" || apiErr.Status != "INVALID_ARGUMENT" || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected error fields %+v", apiErr)
	}
	if len(apiErr.Details) != 1 || apiErr.Details[0].Code != "DUPLICATE_CAMPAIGN_NAME" {
		t.Fatalf("unexpected details %+v", apiErr.Details)
	}
	if fp := strings.Join(apiErr.Details[0].FieldPath, "."); fp != "operations.create.name" {
		t.Errorf("unexpected field path %q", fp)
	}
	if res.BudgetResource == "" || res.CampaignID != "" {
		t.Errorf("budget is kept, campaign is not: %+v", res)
	}
	if n := len(fake.paths()); n != 2 {
		t.Errorf("expected to stop after the failing call, got %d calls", n)
	}

	var out bytes.Buffer
	apiErr.Report(&out)
	for _, want := range []string{`Request con ID "req-42"`, "A campaign with this name already exists.", "En el campo: name"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("report missing %q:\n%s", want, out.String())
		}
	}
}

func TestAddAdToCampaign(t *testing.T) {
	fake := &fakeAds{}
	c := newTestClient(t, fake)

	res, err := c.AddAdToCampaign(context.Background(), AdRequest{
		CustomerID:   "8829466542",
		CampaignID:   "22323091843",
		AdGroupName:  "Ferretería_QQP",
		Titles:       []string{"Clavos", " Cemento ", "Herramientas", ""},
		Descriptions: []string{"Todo para tu obra", "Atención rápida"},
		Keywords:     []string{"ferretería", "cemento"},
	})
	if err != nil {
		t.Fatalf("AddAdToCampaign failed: %v", err)
	}
	if len(res.KeywordResources) != 2 {
		t.Errorf("expected 2 keywords, got %+v", res)
	}
	paths := fake.paths()
	if len(paths) != 4 {
		t.Fatalf("expected 4 calls, got %v", paths)
	}

	group := fake.body(0).Get("operations.0.create")
	if group.Get("campaign").String() != "customers/8829466542/campaigns/22323091843" ||
		group.Get("status").String() != "ENABLED" || group.Get("type").String() != "SEARCH_STANDARD" {
		t.Errorf("unexpected ad group %s", group.Raw)
	}
	ad := fake.body(1).Get("operations.0.create")
	if ad.Get("status").String() != "PAUSED" || ad.Get("ad.finalUrls.0").String() != FinalURL {
		t.Errorf("unexpected ad %s", ad.Raw)
	}
	if n := len(ad.Get("ad.responsiveSearchAd.headlines").Array()); n != 3 {
		t.Errorf("expected 3 headlines after trimming, got %d", n)
	}
	if ad.Get("ad.responsiveSearchAd.headlines.1.text").String() != "Cemento" {
		t.Errorf("headline not trimmed: %s", ad.Raw)
	}
	kw := fake.body(2).Get("operations.0.create.keyword")
	if kw.Get("matchType").String() != "EXACT" || kw.Get("text").String() != "ferretería" {
		t.Errorf("unexpected keyword %s", kw.Raw)
	}
}

func TestAddAdToCampaign_ValidatesFirst(t *testing.T) {
	tests := []struct {
		name string
		req  AdRequest
	}{
		{"too few titles", AdRequest{Titles: []string{"a", "b"}, Descriptions: []string{"d1", "d2"}}},
		{"too many titles", AdRequest{Titles: make16("t"), Descriptions: []string{"d1", "d2"}}},
		{"too few descriptions", AdRequest{Titles: []string{"a", "b", "c"}, Descriptions: []string{"d1"}}},
		{"too many keywords", AdRequest{Titles: []string{"a", "b", "c"}, Descriptions: []string{"d1", "d2"}, Keywords: make16("k")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAds{}
			c := newTestClient(t, fake)
			_, err := c.AddAdToCampaign(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidAd) {
				t.Errorf("expected ErrInvalidAd, got %v", err)
			}
			if n := len(fake.paths()); n != 0 {
				t.Errorf("no API call may happen on invalid assets, got %d", n)
			}
		})
	}
}

func make16(prefix string) []string {
	out := make([]string, 16)
	for i := range out {
		out[i] = prefix + string(rune('a'+i))
	}
	return out
}

func TestCampaignDetails(t *testing.T) {
	fake := &fakeAds{search: []string{`{"results":[{"campaign":{"resourceName":"customers/1/campaigns/555",
		"id":"555","name":"O'Brien","status":"PAUSED","advertisingChannelType":"SEARCH",
		"startDate":"2025-03-10","endDate":"2025-03-11","biddingStrategyType":"TARGET_IMPRESSION_SHARE",
		"servingStatus":"SERVING","optimizationScore":0.8},
		"campaignBudget":{"amountMicros":"1000000"},"metrics":{"costMicros":"250000"}}]}`}}
	c := newTestClient(t, fake)

	d, err := c.CampaignDetails(context.Background(), "8829466542", "O'Brien")
	if err != nil {
		t.Fatalf("CampaignDetails failed: %v", err)
	}
	if d.ID != "555" || d.Status != "PAUSED" || d.AssignedBudget != 1 || d.Spend != 0.25 {
		t.Errorf("unexpected details %+v", d)
	}
	total, err := d.TotalSpend()
	if err != nil || total != 2 {
		t.Errorf("expected total spend 2, got %v, %v", total, err)
	}
	if q := fake.body(0).Get("query").String(); !strings.Contains(q, `campaign.name = 'O\'Brien'`) {
		t.Errorf("name not quoted in query: %s", q)
	}
}

func TestCampaignDetails_NotFound(t *testing.T) {
	c := newTestClient(t, &fakeAds{search: []string{`{}`}})
	if _, err := c.CampaignDetails(context.Background(), "8829466542", "nada"); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("expected ErrCampaignNotFound, got %v", err)
	}
}

func TestAdGroups_Paging(t *testing.T) {
	fake := &fakeAds{search: []string{
		`{"results":[{"adGroup":{"id":"1","name":"Camp_ABC","status":"ENABLED"}}],"nextPageToken":"p2"}`,
		`{"results":[{"adGroup":{"id":"2","name":"Camp_XYZ","status":"PAUSED"}}]}`,
	}}
	c := newTestClient(t, fake)

	groups, err := c.AdGroups(context.Background(), "8829466542", "555")
	if err != nil {
		t.Fatalf("AdGroups failed: %v", err)
	}
	if len(groups) != 2 || groups[0].Name != "Camp_ABC" || groups[1].Status != "PAUSED" {
		t.Errorf("unexpected groups %+v", groups)
	}
	if tok := fake.body(1).Get("pageToken").String(); tok != "p2" {
		t.Errorf("expected page token on second call, got %q", tok)
	}
}

func TestTotalSpend_BadDates(t *testing.T) {
	if _, err := (CampaignDetails{StartDate: "ayer", EndDate: "2025-01-01"}).TotalSpend(); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseAPIError_NonJSON(t *testing.T) {
	e := parseAPIError(http.StatusBadGateway, []byte("upstream down"))
	if e.Status != "HTTP_502" || e.Message != "upstream down" {
		t.Errorf("unexpected error %+v", e)
	}
}
