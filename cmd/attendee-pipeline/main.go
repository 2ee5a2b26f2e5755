package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crowdsift/attendee-pipeline/internal/app"
	"github.com/crowdsift/attendee-pipeline/internal/config"
	"github.com/crowdsift/attendee-pipeline/internal/redact"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "process":
		os.Exit(runProcess(os.Args[2:]))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func runProcess(args []string) int {
	// The overrides file must be known before the rest of the flags can
	// take their defaults from the loaded config, so find it first.
	overridesPath := peekFlag(args, "overrides")

	cfg, err := config.Load(overridesPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inputPath string
	fs.StringVar(&inputPath, "input", "", "Attendee roster CSV (columns: First Name, Last Name, Company, Job Title, optional Email)")
	fs.String("overrides", overridesPath, "Optional YAML tuning overrides file")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for reports and progress (env: OUTPUT_DIR)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent attendee workers (env: WORKERS)")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Max retries per attendee for transient failures (env: MAX_RETRIES)")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Per-attendee request timeout (env: REQUEST_TIMEOUT)")
	fs.Float64Var(&cfg.RateLimitRPS, "rate-limit-rps", cfg.RateLimitRPS, "Global request rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	fs.BoolVar(&cfg.FailFast, "fail-fast", cfg.FailFast, "Stop the run on the first attendee error (env: FAIL_FAST)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inputPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "process requires --input")
		return 2
	}

	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	log := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := app.Run(ctx, cfg, inputPath, log); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("run failed")
		return 1
	}
	return 0
}

// peekFlag extracts one string flag value without consuming the args.
func peekFlag(args []string, name string) string {
	long := "--" + name
	short := "-" + name
	for i, a := range args {
		if a == long || a == short {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		for _, prefix := range []string{long + "=", short + "="} {
			if len(a) > len(prefix) && a[:len(prefix)] == prefix {
				return a[len(prefix):]
			}
		}
	}
	return ""
}

func usage(w *os.File) {
	_, _ = fmt.Fprintln(w, `attendee-pipeline - conference attendee email discovery and outreach classification

Usage:
  attendee-pipeline process --input attendees.csv [--overrides tuning.yaml]
  attendee-pipeline help

Configuration comes from the environment (.env supported); see --overrides
for per-run tuning. Required settings: APOLLO_API_KEY, SALESFORCE_USERNAME,
SALESFORCE_PASSWORD.`)
}
