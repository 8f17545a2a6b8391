package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatbotadsmanager/adsmanager/internal/ads"
	"github.com/chatbotadsmanager/adsmanager/internal/adsjobs"
	"github.com/chatbotadsmanager/adsmanager/internal/export"
	"github.com/chatbotadsmanager/adsmanager/internal/lockfile"
	"github.com/chatbotadsmanager/adsmanager/internal/scheduler"
	"github.com/chatbotadsmanager/adsmanager/internal/util"
)

// DefaultWatchSchedule runs the monitors every five minutes.
const DefaultWatchSchedule = "*/5 * * * *"

// listSeps separates titles, descriptions and keywords on the command line.
const listSeps = "|"

// errAPIFailures is returned by monitor when a row failed on an ads API error.
var errAPIFailures = errors.New("one or more rows failed with a Google Ads API error")

func newAddCampaignCmd(a *app) *cobra.Command {
	var customerID, name, location string
	cmd := &cobra.Command{
		Use:   "add-campaign",
		Short: "Create a paused search campaign with budget and location targeting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			geoID := resolveLocation(location)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Creando campaña con:")
			fmt.Fprintf(out, "   - Customer ID: %s\n", customerID)
			fmt.Fprintf(out, "   - Campaign Name: %s\n", name)
			fmt.Fprintf(out, "   - City ID (Segmentación): %s\n", geoID)
			fmt.Fprintf(out, "   - Assigned Budget: %g Bs\n", float64(ads.DefaultBudgetMicros)/1e6)

			client, err := a.newAds(cmd.Context())
			if err != nil {
				return err
			}
			res, err := client.AddCampaign(cmd.Context(), ads.NormalizeCustomerID(customerID), name, geoID)
			if res.CampaignID != "" {
				fmt.Fprintf(out, "Campaña creada con éxito: ID %s\n", res.CampaignID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Segmentación geográfica aplicada para Segmentation ID: %s\n", geoID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&customerID, "customer-id", "c", "", "Google Ads customer id")
	cmd.Flags().StringVarP(&name, "campaign-name", "n", "", "name of the campaign to create")
	cmd.Flags().StringVarP(&location, "city-id", "l", "", "geo target id or Bolivian department name")
	for _, f := range []string{"customer-id", "campaign-name", "city-id"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// resolveLocation accepts a numeric geo target id as is and maps anything
// else through the department table.
func resolveLocation(location string) string {
	location = strings.TrimSpace(location)
	if _, err := strconv.ParseUint(location, 10, 64); err == nil {
		return location
	}
	_, geoID := adsjobs.ResolveGeo(location)
	return geoID
}

func newAddAdCmd(a *app) *cobra.Command {
	var customerID, campaignID, adGroup, titles, descriptions, keywords string
	cmd := &cobra.Command{
		Use:   "add-ad",
		Short: "Create an ad group with a responsive search ad and exact-match keywords",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := ads.AdRequest{
				CustomerID:   ads.NormalizeCustomerID(customerID),
				CampaignID:   strings.TrimSpace(campaignID),
				AdGroupName:  strings.TrimSpace(adGroup),
				Titles:       util.SplitItems(titles, listSeps),
				Descriptions: util.SplitItems(descriptions, listSeps),
				Keywords:     util.SplitItems(keywords, listSeps),
			}.Normalize()
			if err := req.Validate(); err != nil {
				return err
			}

			client, err := a.newAds(cmd.Context())
			if err != nil {
				return err
			}
			res, err := client.AddAdToCampaign(cmd.Context(), req)
			printAdResult(cmd.OutOrStdout(), req, res)
			return err
		},
	}
	cmd.Flags().StringVarP(&customerID, "customer-id", "c", "", "Google Ads customer id")
	cmd.Flags().StringVarP(&campaignID, "campaign-id", "n", "", "campaign receiving the ad")
	cmd.Flags().StringVarP(&adGroup, "ad-group-name", "g", "", "name of the ad group")
	cmd.Flags().StringVarP(&titles, "titles", "t", "", "titles separated by '|'")
	cmd.Flags().StringVarP(&descriptions, "descriptions", "d", "", "descriptions separated by '|'")
	cmd.Flags().StringVarP(&keywords, "keywords", "k", "", "keywords separated by '|'")
	for _, f := range []string{"customer-id", "campaign-id", "ad-group-name", "titles", "descriptions", "keywords"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// printAdResult prints whatever part of the ad was created.
func printAdResult(w io.Writer, req ads.AdRequest, res ads.AdResult) {
	if res.AdGroupResource != "" {
		fmt.Fprintf(w, "Grupo de anuncios creado con éxito: %s\n", res.AdGroupResource)
	}
	if res.AdResource != "" {
		fmt.Fprintf(w, "Anuncio creado con éxito: %s\n", res.AdResource)
	}
	for i := range res.KeywordResources {
		if i < len(req.Keywords) {
			fmt.Fprintf(w, "Palabra clave agregada: %s\n", req.Keywords[i])
		}
	}
}

func newMonitorCmd(a *app) *cobra.Command {
	jobNames := make([]string, len(adsjobs.AllJobs))
	for i, j := range adsjobs.AllJobs {
		jobNames[i] = string(j)
	}
	return &cobra.Command{
		Use:       "monitor <job>",
		Short:     "Run one batch pass: " + strings.Join(jobNames, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := adsjobs.ParseJob(args[0])
			if err != nil {
				return err
			}
			runner, done, err := a.runner(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			var report adsjobs.Report
			err = lockfile.WithLock(a.stateDir(), lockfile.JobsLockName, func() error {
				var runErr error
				report, runErr = runner.Run(cmd.Context(), job)
				return runErr
			})
			if report.RunID != "" {
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}
			if report.HasAPIErrors() {
				return errAPIFailures
			}
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var expr string
	var now bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run every batch pass in workflow order on a cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			runner, done, err := a.runner(ctx)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			pass := func(ctx context.Context) {
				err := lockfile.WithLock(a.stateDir(), lockfile.JobsLockName, func() error {
					reports, err := runner.RunAll(ctx)
					for _, r := range reports {
						printReport(out, r)
					}
					return err
				})
				if err != nil {
					slog.Error("adsctl watch: pass failed", "error", err)
				}
			}

			sched := scheduler.NewScheduler()
			if err := sched.AddJob(ctx, "adsjobs", expr, pass); err != nil {
				return err
			}
			if now {
				pass(ctx)
			}
			slog.Info("adsctl watch: scheduled", "cron", expr, "state_dir", a.stateDir())
			sched.Run(ctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&expr, "cron", DefaultWatchSchedule, "cron expression (5 fields or @descriptor)")
	cmd.Flags().BoolVar(&now, "now", false, "run one pass immediately before waiting for the schedule")
	return cmd
}

// runner opens the record store and the ads client for the batch commands.
func (a *app) runner(ctx context.Context) (*adsjobs.Runner, closer, error) {
	records, done, err := a.openRecords(ctx)
	if err != nil {
		return nil, nil, err
	}
	client, err := a.newAds(ctx)
	if err != nil {
		done()
		return nil, nil, err
	}
	return adsjobs.NewRunner(records, client), done, nil
}

func printReport(w io.Writer, r adsjobs.Report) {
	fmt.Fprintf(w, "%s: revisadas %d, pendientes %d, avanzadas %d, omitidas %d, fallidas %d (API %d)\n",
		r.Job, r.Scanned, r.Matched, r.Advanced, r.Skipped, r.Failed, r.APIErrors)
}

func newExportCmd(a *app) *cobra.Command {
	var dir, bucket, prefix string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every conversation as <user>.json to a directory or S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (dir == "") == (bucket == "") {
				return errors.New("exactly one of --out or --s3-bucket is required")
			}
			ctx := cmd.Context()

			var sink export.Sink
			var err error
			if dir != "" {
				sink, err = export.NewDirSink(dir)
			} else {
				sink, err = a.newS3Sink(ctx, bucket, prefix)
			}
			if err != nil {
				return err
			}

			conversations, done, err := a.openConversations(ctx)
			if err != nil {
				return err
			}
			defer done()

			m, err := export.NewExporter(conversations, sink).Export(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exportadas %d conversaciones a %s\n", len(m.Files), sink.Describe())
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "out", "", "directory receiving the JSON files")
	cmd.Flags().StringVar(&bucket, "s3-bucket", "", "S3 bucket receiving the JSON files")
	cmd.Flags().StringVar(&prefix, "s3-prefix", "", "key prefix inside the bucket")
	return cmd
}
