// Command adsctl drives the Google Ads side of the ads manager: one-off
// campaign and ad creation, the batch monitors that walk user records through
// the campaign workflow, and conversation exports.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chatbotadsmanager/adsmanager/internal/ads"
	"github.com/chatbotadsmanager/adsmanager/internal/adsjobs"
	"github.com/chatbotadsmanager/adsmanager/internal/export"
	"github.com/chatbotadsmanager/adsmanager/internal/sheets"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
	"github.com/chatbotadsmanager/adsmanager/internal/util"
)

const (
	defaultStateDir   = "/var/lib/adsmanager"
	defaultDBFileName = "adsmanager.db"
	defaultCustomerID = "8829466542"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, newRootCmd(newApp(viper.New())))
	stop()
	os.Exit(code)
}

// execute runs the command tree and maps failures to an exit code. Ads API
// failures are printed in their detailed layout.
func execute(ctx context.Context, cmd *cobra.Command) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var apiErr *ads.APIError
	if errors.As(err, &apiErr) {
		apiErr.Report(cmd.OutOrStdout())
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return 1
}

// closer releases a store opened by the app.
type closer func()

// app holds the configuration and the factories used by the commands.
type app struct {
	v *viper.Viper

	newAds            func(ctx context.Context) (adsjobs.AdsAPI, error)
	openRecords       func(ctx context.Context) (store.RecordStore, closer, error)
	openConversations func(ctx context.Context) (store.ConversationStore, closer, error)
	newS3Sink         func(ctx context.Context, bucket, prefix string) (export.Sink, error)
}

func newApp(v *viper.Viper) *app {
	a := &app{v: v}
	a.newAds = a.adsClient
	a.openRecords = a.recordStore
	a.openConversations = a.conversationStore
	a.newS3Sink = s3Sink
	return a
}

// configFlag is a persistent flag bound to viper. Env lists extra variable
// names read besides the ADS_ prefixed one.
type configFlag struct {
	name  string
	def   string
	usage string
	env   []string
}

var configFlags = []configFlag{
	{name: "developer-token", usage: "Google Ads developer token"},
	{name: "client-id", usage: "OAuth client id"},
	{name: "client-secret", usage: "OAuth client secret"},
	{name: "refresh-token", usage: "OAuth refresh token"},
	{name: "login-customer-id", usage: "manager account used for access"},
	{name: "api-version", def: ads.DefaultAPIVersion, usage: "Google Ads REST API version"},
	{name: "endpoint", def: ads.DefaultEndpoint, usage: "Google Ads API host"},
	{name: "state-dir", def: defaultStateDir, usage: "state directory holding the job lock", env: []string{"ADSMANAGER_STATE_DIR"}},
	{name: "database-url", usage: "Postgres DSN or SQLite path (default <state-dir>/adsmanager.db)", env: []string{"DATABASE_URL"}},
	{name: "storage-backend", def: "sql", usage: "conversation storage: sql or dynamodb", env: []string{"STORAGE_BACKEND"}},
	{name: "dynamodb-table", usage: "DynamoDB table name", env: []string{"DYNAMODB_TABLE"}},
	{name: "record-backend", def: "sql", usage: "user record storage: sql or sheets", env: []string{"RECORD_BACKEND"}},
	{name: "sheets-id", usage: "Google Sheets spreadsheet id", env: []string{"SHEETS_SPREADSHEET_ID"}},
	{name: "sheets-worksheet", usage: "worksheet title", env: []string{"SHEETS_WORKSHEET"}},
	{name: "google-credentials", usage: "service account JSON file", env: []string{"GOOGLE_CREDENTIALS_FILE"}},
	{name: "default-customer-id", def: defaultCustomerID, usage: "ads customer id for new records", env: []string{"DEFAULT_CUSTOMER_ID"}},
	{name: "log-level", def: "info", usage: "debug, info, warn or error", env: []string{"LOG_LEVEL"}},
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "adsctl",
		Short:         "Google Ads operations for the ads manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: util.ParseLogLevel(a.v.GetString("log-level")),
			}))
			slog.SetDefault(logger)
		},
	}

	a.v.SetEnvPrefix("ads")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	for _, f := range configFlags {
		root.PersistentFlags().String(f.name, f.def, f.usage)
		if err := a.v.BindPFlag(f.name, root.PersistentFlags().Lookup(f.name)); err != nil {
			panic(err)
		}
		if len(f.env) > 0 {
			envNames := append([]string{f.name, "ADS_" + strings.ToUpper(strings.ReplaceAll(f.name, "-", "_"))}, f.env...)
			if err := a.v.BindEnv(envNames...); err != nil {
				panic(err)
			}
		}
	}

	root.AddCommand(
		newAddCampaignCmd(a),
		newAddAdCmd(a),
		newMonitorCmd(a),
		newWatchCmd(a),
		newExportCmd(a),
	)
	return root
}

func (a *app) stateDir() string { return a.v.GetString("state-dir") }

func (a *app) databaseURL() string {
	if dsn := a.v.GetString("database-url"); dsn != "" {
		return dsn
	}
	return filepath.Join(a.stateDir(), defaultDBFileName)
}

func (a *app) adsClient(ctx context.Context) (adsjobs.AdsAPI, error) {
	opts := []ads.Option{
		ads.WithDeveloperToken(a.v.GetString("developer-token")),
		ads.WithOAuth(a.v.GetString("client-id"), a.v.GetString("client-secret"), a.v.GetString("refresh-token")),
		ads.WithAPIVersion(a.v.GetString("api-version")),
		ads.WithEndpoint(a.v.GetString("endpoint")),
	}
	if id := a.v.GetString("login-customer-id"); id != "" {
		opts = append(opts, ads.WithLoginCustomerID(id))
	}
	c, err := ads.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a *app) openSQL() (store.SQLStore, closer, error) {
	s, err := store.OpenSQL(a.databaseURL(), store.WithDefaultCustomerID(a.v.GetString("default-customer-id")))
	if err != nil {
		return nil, nil, fmt.Errorf("open sql store: %w", err)
	}
	return s, func() { s.Close() }, nil
}

func (a *app) recordStore(ctx context.Context) (store.RecordStore, closer, error) {
	switch backend := a.v.GetString("record-backend"); backend {
	case "sheets":
		opts := []sheets.Option{
			sheets.WithSpreadsheetID(a.v.GetString("sheets-id")),
			sheets.WithDefaultCustomerID(a.v.GetString("default-customer-id")),
		}
		if ws := a.v.GetString("sheets-worksheet"); ws != "" {
			opts = append(opts, sheets.WithWorksheet(ws))
		}
		if cred := a.v.GetString("google-credentials"); cred != "" {
			opts = append(opts, sheets.WithCredentialsFile(cred))
		}
		rs, err := sheets.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open sheets records: %w", err)
		}
		return rs, func() {}, nil
	case "sql":
		return a.openSQL()
	default:
		return nil, nil, fmt.Errorf("unknown record backend %q", backend)
	}
}

func (a *app) conversationStore(ctx context.Context) (store.ConversationStore, closer, error) {
	switch backend := a.v.GetString("storage-backend"); backend {
	case "dynamodb":
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load AWS config: %w", err)
		}
		ds, err := store.NewDynamoStore(dynamodb.NewFromConfig(cfg), store.WithDynamoTable(a.v.GetString("dynamodb-table")))
		if err != nil {
			return nil, nil, err
		}
		return ds, func() {}, nil
	case "sql":
		return a.openSQL()
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func s3Sink(ctx context.Context, bucket, prefix string) (export.Sink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return export.NewS3Sink(s3.NewFromConfig(cfg), bucket, prefix), nil
}
