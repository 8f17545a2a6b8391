package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/chatbotadsmanager/adsmanager/internal/agent"
	"github.com/chatbotadsmanager/adsmanager/internal/api"
	"github.com/chatbotadsmanager/adsmanager/internal/flow"
	"github.com/chatbotadsmanager/adsmanager/internal/genai"
	"github.com/chatbotadsmanager/adsmanager/internal/intent"
	"github.com/chatbotadsmanager/adsmanager/internal/lockfile"
	"github.com/chatbotadsmanager/adsmanager/internal/messaging"
	"github.com/chatbotadsmanager/adsmanager/internal/paramstore"
	"github.com/chatbotadsmanager/adsmanager/internal/prompts"
	"github.com/chatbotadsmanager/adsmanager/internal/sheets"
	"github.com/chatbotadsmanager/adsmanager/internal/store"
	"github.com/chatbotadsmanager/adsmanager/internal/twiliowhatsapp"
	"github.com/chatbotadsmanager/adsmanager/internal/util"
	"github.com/chatbotadsmanager/adsmanager/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ads manager state data
	DefaultStateDir = "/var/lib/adsmanager"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "adsmanager.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultCustomerID is the ads account written into new user records
	DefaultCustomerID = "8829466542"
)

// Backend and provider names accepted in configuration.
const (
	BackendSQL       = "sql"
	BackendDynamoDB  = "dynamodb"
	BackendSheets    = "sheets"
	ProviderCloudAPI = "cloudapi"
	ProviderTwilio   = "twilio"
	ProviderWhatsApp = "whatsmeow"
)

func main() {
	// Initialize structured logger; the level is refined once flags are parsed
	initializeLogger(slog.LevelDebug)

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	initializeLogger(util.ParseLogLevel(*flags.logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping ads manager with configured modules")
	if err := run(ctx, flags); err != nil {
		slog.Error("Ads manager failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Ads manager exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir          string
	DatabaseURL       string
	StorageBackend    string
	DynamoTable       string
	RecordBackend     string
	SpreadsheetID     string
	Worksheet         string
	CredentialsFile   string
	Provider          string
	VerifyToken       string
	AccessToken       string
	PhoneNumberID     string
	OpenAIKey         string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	WhatsAppDBDSN     string
	APIAddr           string
	PromptsFile       string
	DefaultCustomerID string
	SSMPrefix         string
	LogLevel          string
}

// Flags holds command line flag values
type Flags struct {
	stateDir          *string
	dbDSN             *string
	storageBackend    *string
	dynamoTable       *string
	recordBackend     *string
	spreadsheetID     *string
	worksheet         *string
	credentialsFile   *string
	provider          *string
	verifyToken       *string
	accessToken       *string
	phoneNumberID     *string
	openaiKey         *string
	twilioAccountSID  *string
	twilioAuthToken   *string
	twilioFromNumber  *string
	waDBDSN           *string
	qrOutput          *string
	numeric           *bool
	apiAddr           *string
	promptsFile       *string
	defaultCustomerID *string
	ssmPrefix         *string
	logLevel          *string
}

// initializeLogger sets up structured text logging at the given level
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:          util.EnvOrDefault("ADSMANAGER_STATE_DIR", DefaultStateDir),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StorageBackend:    strings.ToLower(util.EnvOrDefault("STORAGE_BACKEND", BackendSQL)),
		DynamoTable:       os.Getenv("DYNAMODB_TABLE"),
		RecordBackend:     strings.ToLower(util.EnvOrDefault("RECORD_BACKEND", BackendSQL)),
		SpreadsheetID:     os.Getenv("SHEETS_SPREADSHEET_ID"),
		Worksheet:         os.Getenv("SHEETS_WORKSHEET"),
		CredentialsFile:   os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		Provider:          strings.ToLower(util.EnvOrDefault("MESSAGING_PROVIDER", ProviderCloudAPI)),
		VerifyToken:       os.Getenv("VERIFY_TOKEN"),
		AccessToken:       os.Getenv("ACCESS_TOKEN"),
		PhoneNumberID:     os.Getenv("PHONE_NUMBER_ID"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  os.Getenv("TWILIO_FROM_NUMBER"),
		WhatsAppDBDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:           util.EnvOrDefault("API_ADDR", api.DefaultServerAddress),
		PromptsFile:       os.Getenv("PROMPTS_FILE"),
		DefaultCustomerID: util.EnvOrDefault("DEFAULT_CUSTOMER_ID", DefaultCustomerID),
		SSMPrefix:         os.Getenv("SSM_PARAMETER_PREFIX"),
		LogLevel:          util.EnvOrDefault("LOG_LEVEL", "debug"),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}

	slog.Debug("environment variables loaded",
		"ADSMANAGER_STATE_DIR", config.StateDir,
		"STORAGE_BACKEND", config.StorageBackend,
		"RECORD_BACKEND", config.RecordBackend,
		"MESSAGING_PROVIDER", config.Provider,
		"DYNAMODB_TABLE", config.DynamoTable,
		"SHEETS_SPREADSHEET_ID_SET", config.SpreadsheetID != "",
		"VERIFY_TOKEN_SET", config.VerifyToken != "",
		"ACCESS_TOKEN_SET", config.AccessToken != "",
		"PHONE_NUMBER_ID_SET", config.PhoneNumberID != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioAuthToken != "",
		"API_ADDR", config.APIAddr,
		"PROMPTS_FILE", config.PromptsFile,
		"SSM_PARAMETER_PREFIX", config.SSMPrefix)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:          fs.String("state-dir", config.StateDir, "state directory for ads manager data (overrides $ADSMANAGER_STATE_DIR)"),
		dbDSN:             fs.String("db-dsn", config.DatabaseURL, "Postgres DSN or SQLite path (overrides $DATABASE_URL)"),
		storageBackend:    fs.String("storage-backend", config.StorageBackend, "conversation storage: sql or dynamodb (overrides $STORAGE_BACKEND)"),
		dynamoTable:       fs.String("dynamodb-table", config.DynamoTable, "DynamoDB table name (overrides $DYNAMODB_TABLE)"),
		recordBackend:     fs.String("record-backend", config.RecordBackend, "user record storage: sql or sheets (overrides $RECORD_BACKEND)"),
		spreadsheetID:     fs.String("sheets-id", config.SpreadsheetID, "Google Sheets spreadsheet id (overrides $SHEETS_SPREADSHEET_ID)"),
		worksheet:         fs.String("sheets-worksheet", config.Worksheet, "worksheet title (overrides $SHEETS_WORKSHEET)"),
		credentialsFile:   fs.String("google-credentials", config.CredentialsFile, "service account JSON file (overrides $GOOGLE_CREDENTIALS_FILE)"),
		provider:          fs.String("messaging-provider", config.Provider, "cloudapi, twilio or whatsmeow (overrides $MESSAGING_PROVIDER)"),
		verifyToken:       fs.String("verify-token", config.VerifyToken, "webhook verification token (overrides $VERIFY_TOKEN)"),
		accessToken:       fs.String("access-token", config.AccessToken, "WhatsApp Cloud API access token (overrides $ACCESS_TOKEN)"),
		phoneNumberID:     fs.String("phone-number-id", config.PhoneNumberID, "WhatsApp Cloud API phone number id (overrides $PHONE_NUMBER_ID)"),
		openaiKey:         fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		twilioAccountSID:  fs.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioAuthToken:   fs.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFromNumber:  fs.String("twilio-from", config.TwilioFromNumber, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		waDBDSN:           fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:          fs.String("qr-output", "", "path to write login QR code"),
		numeric:           fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		apiAddr:           fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		promptsFile:       fs.String("prompts-file", config.PromptsFile, "YAML prompt overrides (overrides $PROMPTS_FILE)"),
		defaultCustomerID: fs.String("default-customer-id", config.DefaultCustomerID, "ads customer id for new records (overrides $DEFAULT_CUSTOMER_ID)"),
		ssmPrefix:         fs.String("ssm-prefix", config.SSMPrefix, "SSM parameter prefix for secrets (overrides $SSM_PARAMETER_PREFIX)"),
		logLevel:          fs.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"storageBackend", *flags.storageBackend,
		"recordBackend", *flags.recordBackend,
		"provider", *flags.provider,
		"apiAddr", *flags.apiAddr,
		"logLevel", *flags.logLevel)

	// Follow a moved state directory when the SQLite path was left at its default
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if *flags.dbDSN == defaultDSN && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags, validateFlags(flags)
}

// validateFlags rejects unknown backend and provider names.
func validateFlags(flags Flags) error {
	switch *flags.storageBackend {
	case BackendSQL:
	case BackendDynamoDB:
		if *flags.dynamoTable == "" {
			return errors.New("dynamodb storage requires -dynamodb-table or $DYNAMODB_TABLE")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", *flags.storageBackend)
	}
	switch *flags.recordBackend {
	case BackendSQL:
	case BackendSheets:
		if *flags.spreadsheetID == "" {
			return errors.New("sheets records require -sheets-id or $SHEETS_SPREADSHEET_ID")
		}
	default:
		return fmt.Errorf("unknown record backend %q", *flags.recordBackend)
	}
	switch *flags.provider {
	case ProviderCloudAPI, ProviderTwilio, ProviderWhatsApp:
	default:
		return fmt.Errorf("unknown messaging provider %q", *flags.provider)
	}
	return nil
}

// awsLoader loads the shared AWS configuration at most once.
type awsLoader struct {
	cfg    *awsClients
	loaded bool
}

type awsClients struct {
	ssm    *ssm.Client
	dynamo *dynamodb.Client
}

func (l *awsLoader) load(ctx context.Context) (*awsClients, error) {
	if l.loaded {
		return l.cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	l.cfg = &awsClients{ssm: ssm.NewFromConfig(cfg), dynamo: dynamodb.NewFromConfig(cfg)}
	l.loaded = true
	return l.cfg, nil
}

// resolveSecrets fills empty secrets from SSM Parameter Store when a prefix is configured.
func resolveSecrets(ctx context.Context, flags Flags, aws *awsLoader) error {
	if *flags.ssmPrefix == "" {
		return nil
	}
	clients, err := aws.load(ctx)
	if err != nil {
		return err
	}
	resolver, err := paramstore.New(clients.ssm, *flags.ssmPrefix)
	if err != nil {
		return err
	}
	filled, err := resolver.Fill(ctx, secretTargets(flags))
	if err != nil {
		return fmt.Errorf("resolve secrets: %w", err)
	}
	slog.Debug("Secrets resolved from SSM", "prefix", *flags.ssmPrefix, "filled", filled)
	return nil
}

func secretTargets(flags Flags) map[string]*string {
	return map[string]*string{
		"VERIFY_TOKEN":      flags.verifyToken,
		"ACCESS_TOKEN":      flags.accessToken,
		"OPENAI_API_KEY":    flags.openaiKey,
		"TWILIO_AUTH_TOKEN": flags.twilioAuthToken,
	}
}

// backends groups the storage contracts used by the server.
type backends struct {
	dedup   store.DedupGate
	history store.ConversationStore
	records store.RecordStore
	closers []func() error
}

func (b *backends) Close() {
	for _, c := range b.closers {
		if err := c(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}
}

// openBackends opens the stores selected by the storage and record backend flags.
func openBackends(ctx context.Context, flags Flags, aws *awsLoader) (*backends, error) {
	b := &backends{}
	storeOpts := buildStoreOptions(flags)

	var sqlStore store.SQLStore
	if *flags.storageBackend == BackendSQL || *flags.recordBackend == BackendSQL {
		s, err := store.OpenSQL(*flags.dbDSN, storeOpts...)
		if err != nil {
			return nil, fmt.Errorf("open sql store: %w", err)
		}
		sqlStore = s
		b.closers = append(b.closers, s.Close)
		slog.Debug("SQL store opened", "dsn_type", store.DetectDSNType(*flags.dbDSN))
	}

	if *flags.storageBackend == BackendDynamoDB {
		clients, err := aws.load(ctx)
		if err != nil {
			b.Close()
			return nil, err
		}
		ds, err := store.NewDynamoStore(clients.dynamo, append(storeOpts, store.WithDynamoTable(*flags.dynamoTable))...)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.dedup, b.history = ds, ds
	} else {
		b.dedup, b.history = sqlStore, sqlStore
	}

	if *flags.recordBackend == BackendSheets {
		rs, err := sheets.New(ctx, buildSheetsOptions(flags)...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open sheets records: %w", err)
		}
		b.records = rs
	} else {
		b.records = sqlStore
	}
	return b, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.defaultCustomerID != "" {
		storeOpts = append(storeOpts, store.WithDefaultCustomerID(*flags.defaultCustomerID))
	}
	return storeOpts
}

// buildSheetsOptions constructs Google Sheets record store options
func buildSheetsOptions(flags Flags) []sheets.Option {
	opts := []sheets.Option{sheets.WithSpreadsheetID(*flags.spreadsheetID)}
	if *flags.worksheet != "" {
		opts = append(opts, sheets.WithWorksheet(*flags.worksheet))
	}
	if *flags.credentialsFile != "" {
		opts = append(opts, sheets.WithCredentialsFile(*flags.credentialsFile))
	}
	if *flags.defaultCustomerID != "" {
		opts = append(opts, sheets.WithDefaultCustomerID(*flags.defaultCustomerID))
	}
	return opts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildWhatsAppOptions constructs whatsmeow configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDBDSN))
	}
	return waOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.verifyToken != "" {
		apiOpts = append(apiOpts, api.WithVerifyToken(*flags.verifyToken))
	}
	if *flags.defaultCustomerID != "" {
		apiOpts = append(apiOpts, api.WithDefaultCustomerID(*flags.defaultCustomerID))
	}
	return apiOpts
}

// openMessaging builds the configured transport. The Twilio service doubles
// as the parser for its webhook.
func openMessaging(ctx context.Context, flags Flags) (messaging.Service, api.WebhookParser, error) {
	switch *flags.provider {
	case ProviderTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(*flags.twilioAccountSID),
			twiliowhatsapp.WithAuthToken(*flags.twilioAuthToken),
			twiliowhatsapp.WithFromWhats(*flags.twilioFromNumber),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	case ProviderWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, nil, fmt.Errorf("whatsmeow client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	default:
		svc, err := messaging.NewCloudAPIService(
			messaging.WithAccessToken(*flags.accessToken),
			messaging.WithPhoneNumberID(*flags.phoneNumberID),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("cloud api service: %w", err)
		}
		return svc, nil, nil
	}
}

// run wires every module and serves until ctx is canceled.
func run(ctx context.Context, flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	lock, err := lockfile.Acquire(*flags.stateDir, lockfile.ServerLockName)
	if err != nil {
		return err
	}
	defer lock.Release()

	aws := &awsLoader{}
	if err := resolveSecrets(ctx, flags, aws); err != nil {
		return err
	}

	stores, err := openBackends(ctx, flags, aws)
	if err != nil {
		return err
	}
	defer stores.Close()

	catalog, err := prompts.Load(*flags.promptsFile)
	if err != nil {
		return err
	}
	llm, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}

	svc, parser, err := openMessaging(ctx, flags)
	if err != nil {
		return err
	}

	campaignAgent := agent.New(stores.records, llm, catalog)
	router := intent.NewRouter(llm, catalog)
	orchestrator := flow.NewOrchestrator(stores.history, campaignAgent, router, llm, catalog)

	apiOpts := buildAPIOptions(flags)
	if parser != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(parser))
	}
	server, err := api.NewServer(api.Deps{
		Sender:    svc,
		Dedup:     stores.dedup,
		History:   stores.history,
		Records:   stores.records,
		Responder: orchestrator,
		Catalog:   catalog,
	}, apiOpts...)
	if err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}
	defer svc.Stop()

	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"storage_backend", *flags.storageBackend,
		"record_backend", *flags.recordBackend,
		"provider", *flags.provider,
		"api_addr", *flags.apiAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return server.ConsumeInbound(gctx, svc.Inbound()) })
	return g.Wait()
}
