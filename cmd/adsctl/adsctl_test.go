package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/chatbotadsmanager/adsmanager/internal/ads"
	"github.com/chatbotadsmanager/adsmanager/internal/adsjobs"
	"github.com/chatbotadsmanager/adsmanager/internal/export"
	"github.com/chatbotadsmanager/adsmanager/internal/models"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
)

type fakeAds struct {
	customerIDs []string
	geoIDs      []string
	adRequests  []ads.AdRequest
	err         error
	calls       int
}

func (f *fakeAds) AddCampaign(_ context.Context, customerID, _, geoID string) (ads.CampaignResult, error) {
	f.calls++
	if f.err != nil {
		return ads.CampaignResult{}, f.err
	}
	f.customerIDs = append(f.customerIDs, customerID)
	f.geoIDs = append(f.geoIDs, geoID)
	return ads.CampaignResult{CampaignID: "777"}, nil
}

func (f *fakeAds) CampaignDetails(context.Context, string, string) (ads.CampaignDetails, error) {
	f.calls++
	return ads.CampaignDetails{}, ads.ErrCampaignNotFound
}

func (f *fakeAds) AddAdToCampaign(_ context.Context, req ads.AdRequest) (ads.AdResult, error) {
	f.calls++
	if f.err != nil {
		return ads.AdResult{}, f.err
	}
	f.adRequests = append(f.adRequests, req)
	res := ads.AdResult{AdGroupResource: "customers/1/adGroups/9", AdResource: "customers/1/adGroupAds/9~1"}
	for range req.Keywords {
		res.KeywordResources = append(res.KeywordResources, "customers/1/adGroupCriteria/9~2")
	}
	return res, nil
}

func (f *fakeAds) AdGroups(context.Context, string, string) ([]ads.AdGroup, error) {
	f.calls++
	return nil, f.err
}

type harness struct {
	app   *app
	ads   *fakeAds
	store *store.InMemoryStore
	state string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{ads: &fakeAds{}, store: store.NewInMemoryStore(), state: t.TempDir()}
	h.app = newApp(viper.New())
	h.app.newAds = func(context.Context) (adsjobs.AdsAPI, error) { return h.ads, nil }
	h.app.openRecords = func(context.Context) (store.RecordStore, closer, error) { return h.store, func() {}, nil }
	h.app.openConversations = func(context.Context) (store.ConversationStore, closer, error) {
		return h.store, func() {}, nil
	}
	return h
}

func (h *harness) run(args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(h.app)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--state-dir", h.state, "--log-level", "error"}, args...))
	code := execute(context.Background(), cmd)
	return code, out.String(), errOut.String()
}

func TestAddCampaign(t *testing.T) {
	h := newHarness(t)
	code, out, errOut := h.run("add-campaign", "-c", "882-946-6542", "-n", "Panadería Doña Rosa", "-l", "Cochabamba")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	if len(h.ads.geoIDs) != 1 || h.ads.geoIDs[0] != "20083" {
		t.Errorf("expected cochabamba geo id, got %v", h.ads.geoIDs)
	}
	if h.ads.customerIDs[0] != "8829466542" {
		t.Errorf("expected normalized customer id, got %q", h.ads.customerIDs[0])
	}
	for _, want := range []string{
		"Creando campaña con:",
		"   - Assigned Budget: 1 Bs",
		"Campaña creada con éxito: ID 777",
		"Segmentación geográfica aplicada para Segmentation ID: 20083",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAddCampaign_APIError(t *testing.T) {
	h := newHarness(t)
	h.ads.err = &ads.APIError{
		StatusCode: 400,
		Status:     "INVALID_ARGUMENT",
		RequestID:  "req-1",
		Details:    []ads.ErrorDetail{{Message: "Nombre duplicado", FieldPath: []string{"operations", "create", "name"}}},
	}
	code, out, _ := h.run("add-campaign", "-c", "8829466542", "-n", "X", "-l", "20084")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	for _, want := range []string{
		`Request con ID "req-1" falló con estado "INVALID_ARGUMENT"`,
		`Error con mensaje "Nombre duplicado".`,
		"En el campo: name",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAddCampaign_MissingFlags(t *testing.T) {
	h := newHarness(t)
	if code, _, errOut := h.run("add-campaign", "-c", "8829466542"); code != 1 || !strings.Contains(errOut, "required") {
		t.Errorf("expected required flag error, got %d %q", code, errOut)
	}
	if h.ads.calls != 0 {
		t.Error("ads API must not be called")
	}
}

func TestAddAd(t *testing.T) {
	h := newHarness(t)
	code, out, errOut := h.run("add-ad",
		"-c", "8829466542", "-n", "22323091843", "-g", "Panadería_ABC",
		"-t", "Pan fresco|Tortas|Delivery", "-d", "Pan de batalla|Tortas por encargo",
		"-k", "pan| tortas |")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	if len(h.ads.adRequests) != 1 {
		t.Fatalf("expected one request, got %d", len(h.ads.adRequests))
	}
	req := h.ads.adRequests[0]
	if len(req.Titles) != 3 || len(req.Descriptions) != 2 || len(req.Keywords) != 2 || req.Keywords[1] != "tortas" {
		t.Errorf("unexpected request %+v", req)
	}
	for _, want := range []string{
		"Grupo de anuncios creado con éxito: customers/1/adGroups/9",
		"Anuncio creado con éxito: customers/1/adGroupAds/9~1",
		"Palabra clave agregada: pan",
		"Palabra clave agregada: tortas",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAddAd_InvalidAssets(t *testing.T) {
	h := newHarness(t)
	code, _, errOut := h.run("add-ad",
		"-c", "8829466542", "-n", "1", "-g", "G",
		"-t", "Solo|Dos", "-d", "D1|D2", "-k", "k")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut, "titles") {
		t.Errorf("expected title bound error, got %q", errOut)
	}
	if h.ads.calls != 0 {
		t.Error("invalid assets must not reach the API")
	}
}

func TestMonitor(t *testing.T) {
	h := newHarness(t)
	rec := models.NewUserRecord("59170000001", "8829466542")
	rec.CampaignName = "Ferretería El Tornillo"
	rec.RequestedBudget = "5"
	rec.Segmentation = "Santa Cruz"
	if _, err := h.store.CreateIfAbsent(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := h.run("monitor", "incomplete")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	if !strings.Contains(out, "incomplete: revisadas 1, pendientes 1, avanzadas 1") {
		t.Errorf("unexpected report %q", out)
	}
	got, _ := h.store.GetField(context.Background(), "59170000001", models.ColValidationStatus)
	if got != models.StatusCampaignProcessing.String() {
		t.Errorf("expected row advanced, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(h.state, "adsjobs.lock")); !os.IsNotExist(err) {
		t.Errorf("lock file must be released, stat err=%v", err)
	}
}

func TestMonitor_APIErrorExitCode(t *testing.T) {
	h := newHarness(t)
	rec := models.NewUserRecord("59170000002", "8829466542")
	rec.CampaignName = "Tienda"
	rec.RequestedBudget = "5"
	if _, err := h.store.CreateIfAbsent(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	h.ads.err = &ads.APIError{StatusCode: 500, Status: "INTERNAL", RequestID: "r"}

	code, out, errOut := h.run("monitor", "incomplete")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out, "fallidas 1 (API 1)") || !strings.Contains(errOut, errAPIFailures.Error()) {
		t.Errorf("unexpected output %q / %q", out, errOut)
	}
}

func TestMonitor_UnknownJob(t *testing.T) {
	h := newHarness(t)
	if code, _, errOut := h.run("monitor", "todo"); code != 1 || !strings.Contains(errOut, "unknown job") {
		t.Errorf("expected unknown job error, got %d %q", code, errOut)
	}
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	msg := models.Message{Role: models.RoleUser, Content: "hola", Timestamp: models.FormatTimestamp(time.Now())}
	if err := h.store.Append(context.Background(), "59170000003", msg); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "out")

	code, out, errOut := h.run("export", "--out", dir)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Exportadas 1 conversaciones") {
		t.Errorf("unexpected output %q", out)
	}
	for _, name := range []string{"59170000003.json", export.ManifestName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}

func TestExport_TargetRequired(t *testing.T) {
	h := newHarness(t)
	if code, _, _ := h.run("export"); code != 1 {
		t.Errorf("expected exit 1 without target, got %d", code)
	}
	if code, _, _ := h.run("export", "--out", t.TempDir(), "--s3-bucket", "b"); code != 1 {
		t.Errorf("expected exit 1 with two targets, got %d", code)
	}
}

func TestExport_S3(t *testing.T) {
	h := newHarness(t)
	var gotBucket, gotPrefix string
	dir := t.TempDir()
	h.app.newS3Sink = func(_ context.Context, bucket, prefix string) (export.Sink, error) {
		gotBucket, gotPrefix = bucket, prefix
		return export.NewDirSink(dir)
	}
	if code, _, errOut := h.run("export", "--s3-bucket", "conversaciones", "--s3-prefix", "2026/"); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errOut)
	}
	if gotBucket != "conversaciones" || gotPrefix != "2026/" {
		t.Errorf("unexpected S3 target %q %q", gotBucket, gotPrefix)
	}
}

func TestWatch_InvalidCron(t *testing.T) {
	h := newHarness(t)
	if code, _, errOut := h.run("watch", "--cron", "cada rato"); code != 1 || !strings.Contains(errOut, "invalid expression") {
		t.Errorf("expected cron error, got %d %q", code, errOut)
	}
}

func TestWatch_RunsPassAndStops(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	cmd := newRootCmd(h.app)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--state-dir", h.state, "--log-level", "error", "watch", "--cron", "@hourly", "--now"})
	if code := execute(ctx, cmd); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	for _, job := range adsjobs.AllJobs {
		if !strings.Contains(out.String(), string(job)+": revisadas 0") {
			t.Errorf("missing report for %s in %q", job, out.String())
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ADS_DEVELOPER_TOKEN", "dev-token")
	t.Setenv("ADS_API_VERSION", "v20")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/ads")
	a := newApp(viper.New())
	cmd := newRootCmd(a)
	cmd.SetArgs([]string{"--login-customer-id", "123-456-7890"})
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := a.v.GetString("developer-token"); got != "dev-token" {
		t.Errorf("developer-token = %q", got)
	}
	if got := a.v.GetString("api-version"); got != "v20" {
		t.Errorf("api-version = %q", got)
	}
	if got := a.v.GetString("login-customer-id"); got != "123-456-7890" {
		t.Errorf("login-customer-id = %q", got)
	}
	if got := a.databaseURL(); got != "postgres://u:p@localhost/ads" {
		t.Errorf("databaseURL = %q", got)
	}
}

func TestAdsClient_MissingCredentials(t *testing.T) {
	a := newApp(viper.New())
	newRootCmd(a)
	if _, err := a.adsClient(context.Background()); !errors.Is(err, ads.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestResolveLocation(t *testing.T) {
	tests := map[string]string{
		"20085":       "20085",
		" 9075434 ":   "9075434",
		"Oruro":       "9069872",
		"desconocida": "20084",
	}
	for in, want := range tests {
		if got := resolveLocation(in); got != want {
			t.Errorf("resolveLocation(%q) = %q, want %q", in, got, want)
		}
	}
}
