// Package app wires the attendee pipeline end to end: read the roster,
// process every attendee, write the workbook, CSV backups and progress
// file.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/crowdsift/attendee-pipeline/internal/apollo"
	"github.com/crowdsift/attendee-pipeline/internal/attendee"
	"github.com/crowdsift/attendee-pipeline/internal/classify"
	"github.com/crowdsift/attendee-pipeline/internal/config"
	"github.com/crowdsift/attendee-pipeline/internal/crm"
	"github.com/crowdsift/attendee-pipeline/internal/discover"
	"github.com/crowdsift/attendee-pipeline/internal/pipeline"
	"github.com/crowdsift/attendee-pipeline/internal/pipeline/worker"
	"github.com/crowdsift/attendee-pipeline/internal/progress"
	"github.com/crowdsift/attendee-pipeline/internal/redact"
	"github.com/crowdsift/attendee-pipeline/internal/report"
	"github.com/crowdsift/attendee-pipeline/internal/salesforce"
	"github.com/crowdsift/attendee-pipeline/internal/webresearch"
)

// Run processes the roster at inputPath using cfg and writes all outputs
// under cfg.OutputDir.
func Run(ctx context.Context, cfg config.Config, inputPath string, log zerolog.Logger) error {
	start := time.Now()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tracker := progress.New(filepath.Join(cfg.OutputDir, cfg.ProgressFile))
	log = log.With().Str("run_id", tracker.RunID()).Logger()

	err := run(ctx, cfg, inputPath, log, tracker, start)
	if err != nil {
		if ferr := tracker.Failed(redact.Secrets(err.Error())); ferr != nil {
			log.Warn().Err(ferr).Msg("could not record failure state")
		}
	}
	return err
}

func run(ctx context.Context, cfg config.Config, inputPath string, log zerolog.Logger, tracker *progress.Tracker, start time.Time) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	attendees, err := attendee.ReadCSV(in)
	closeErr := in.Close()
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close input: %w", closeErr)
	}
	log.Info().Int("attendees", len(attendees)).Str("input", inputPath).Msg("roster loaded")

	deps, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}

	if err := tracker.Begin(len(attendees)); err != nil {
		return fmt.Errorf("progress: %w", err)
	}

	opts := worker.Options{
		Workers:        cfg.Workers,
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		FailFast:       cfg.FailFast,
	}
	rows, summary, runErr := pipeline.Process(ctx, deps, attendees, opts, func(row pipeline.Row) {
		if perr := tracker.Record(row.Classification, row.Email != ""); perr != nil {
			log.Warn().Err(perr).Msg("progress write failed")
		}
	})
	if runErr != nil {
		// An interrupted run still writes what it finished. Reports for
		// the completed rows land on disk before the error goes up.
		if len(rows) > 0 {
			if workbookPath, werr := report.WriteWorkbook(cfg.OutputDir, rows); werr != nil {
				log.Warn().Err(werr).Msg("partial workbook write failed")
			} else {
				csvPaths, cerr := report.WriteCSVBackups(cfg.OutputDir, rows)
				if cerr != nil {
					log.Warn().Err(cerr).Msg("partial csv write failed")
				}
				log.Warn().
					Int("rows", len(rows)).
					Int("of", len(attendees)).
					Str("workbook", workbookPath).
					Int("csv_files", len(csvPaths)).
					Msg("run interrupted, partial reports written")
			}
		}
		return fmt.Errorf("process attendees: %w", runErr)
	}

	if err := tracker.Reporting(); err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	workbookPath, err := report.WriteWorkbook(cfg.OutputDir, rows)
	if err != nil {
		return err
	}
	csvPaths, err := report.WriteCSVBackups(cfg.OutputDir, rows)
	if err != nil {
		return err
	}
	if err := tracker.Done(); err != nil {
		return fmt.Errorf("progress: %w", err)
	}

	logSummary(log, summary, workbookPath, len(csvPaths), time.Since(start))
	return nil
}

func buildDeps(ctx context.Context, cfg config.Config, log zerolog.Logger) (pipeline.Deps, error) {
	apolloClient, err := apollo.New(apollo.Config{
		BaseURL: cfg.ApolloBaseURL,
		APIKey:  cfg.ApolloAPIKey,
	})
	if err != nil {
		return pipeline.Deps{}, err
	}
	directory := discover.NewRemoteDirectory(apolloClient)

	strategies := []discover.Strategy{
		discover.Provided{},
		discover.RemoteMatch{Client: directory, MinConfidence: cfg.MinRemoteConfidence},
		discover.RemotePattern{Client: directory, PeerLimit: cfg.PeerSearchLimit},
	}
	if cfg.WebResearchEnabled() {
		researcher, err := webresearch.New(ctx, webresearch.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		})
		if err != nil {
			return pipeline.Deps{}, err
		}
		strategies = append(strategies, discover.WebResearch{Researcher: researcher})
		log.Info().Str("model", cfg.GeminiModel).Msg("web research strategy enabled")
	}
	strategies = append(strategies, discover.PatternFallback{})

	sfClient, err := salesforce.New(salesforce.Config{
		LoginURL:      cfg.SalesforceLoginURL,
		Username:      cfg.SalesforceUsername,
		Password:      cfg.SalesforcePassword,
		SecurityToken: cfg.SalesforceSecurityToken,
		InstanceURL:   cfg.SalesforceInstanceURL,
	})
	if err != nil {
		return pipeline.Deps{}, err
	}

	var qualifier classify.Qualifier
	if len(cfg.QualifiedTitleKeywords) > 0 {
		qualifier = classify.TitleKeywordQualifier(cfg.QualifiedTitleKeywords)
	}

	return pipeline.Deps{
		Discoverer: discover.NewChain(log, strategies...),
		Relations:  crm.NewLookup(sfClient, log),
		Classifier: classify.New(classify.Windows{
			ActivityDays: cfg.ActivityWindowDays,
			ModifiedDays: cfg.ModifiedWindowDays,
		}, qualifier),
		Log: log,
	}, nil
}

func logSummary(log zerolog.Logger, s pipeline.Summary, workbookPath string, csvFiles int, elapsed time.Duration) {
	ev := log.Info().
		Int("total", s.Total).
		Int("emails_found", s.EmailsFound).
		Int("emails_missing", s.EmailsMissing).
		Int("discovery_fallbacks", s.DiscoveryFallbacks).
		Int("crm_failures", s.CRMFailures).
		Str("workbook", workbookPath).
		Int("csv_files", csvFiles).
		Dur("elapsed", elapsed)
	for _, c := range attendee.Classifications() {
		ev = ev.Int("bucket_"+string(c), s.Buckets[c])
	}
	ev.Msg("run complete")
}
