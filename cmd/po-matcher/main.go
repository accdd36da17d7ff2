package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/po-matcher/internal/console"
	"github.com/zombor/po-matcher/internal/intake"
	"github.com/zombor/po-matcher/internal/lifecycle"
	"github.com/zombor/po-matcher/internal/remote"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// Exit codes
const (
	exitMatched    = 0
	exitFailure    = 1
	exitNotMatched = 2
)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	_ = godotenv.Load()

	fs := ff.NewFlagSet("po-matcher")
	var (
		backendURL   = fs.StringLong("backend", "http://localhost:8000", "Matching backend base URL")
		invoicePath  = fs.StringLong("invoice", "", "Invoice file (PDF or image)")
		poPath       = fs.StringLong("po", "", "Purchase order file (PDF or image)")
		timeout      = fs.DurationLong("timeout", 5*time.Minute, "Give up on the job after this long")
		pollInterval = fs.DurationLong("poll-interval", lifecycle.DefaultPollInterval, "Delay between status checks")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		verbose      = fs.BoolLong("verbose", "Log client activity to stderr")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PO_MATCHER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitFailure)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *invoicePath == "" || *poPath == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: both --invoice and --po are required")
		os.Exit(exitFailure)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, logger, config{
		backendURL:   *backendURL,
		invoicePath:  *invoicePath,
		poPath:       *poPath,
		timeout:      *timeout,
		pollInterval: *pollInterval,
		authUser:     *authUser,
		authPass:     *authPass,
	})
	stop()
	os.Exit(code)
}

type config struct {
	backendURL   string
	invoicePath  string
	poPath       string
	timeout      time.Duration
	pollInterval time.Duration
	authUser     string
	authPass     string
}

func run(ctx context.Context, logger *slog.Logger, cfg config) int {
	opts := []remote.Option{}
	if cfg.authUser != "" || cfg.authPass != "" {
		opts = append(opts, remote.WithBasicAuth(cfg.authUser, cfg.authPass))
	}
	client, err := remote.NewClient(cfg.backendURL, opts...)
	if err != nil {
		logger.Error("Invalid backend URL", "error", err)
		return exitFailure
	}

	renderer := console.New(os.Stdout)

	shown := make(chan struct{})
	controller := lifecycle.New(client,
		lifecycle.WithListener(renderer.Job),
		lifecycle.WithResultHook(func(o lifecycle.Outcome) {
			renderer.Result(o)
			close(shown)
		}),
		lifecycle.WithPollInterval(cfg.pollInterval),
		lifecycle.WithLogger(logger),
	)
	defer controller.Dispose()

	tracker := intake.New(client,
		intake.WithSubmissionGate(controller.Active),
		intake.WithListener(renderer.Intake),
		intake.WithLogger(logger),
	)
	defer tracker.Close()

	for _, sel := range []struct {
		slot intake.Slot
		path string
	}{
		{intake.SlotInvoice, cfg.invoicePath},
		{intake.SlotPurchaseOrder, cfg.poPath},
	} {
		file, err := remote.FileFromPath(sel.path)
		if err != nil {
			logger.Error("Failed to read file", "slot", sel.slot, "error", err)
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
		if err := tracker.SelectFile(sel.slot, file); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
		tracker.Wait()
	}

	snapshot := tracker.Snapshot()
	if !snapshot.Ready() {
		fmt.Fprintln(os.Stderr, "error: both documents must be extracted before matching")
		return exitFailure
	}

	if err := controller.Submit(snapshot.Invoice, snapshot.PurchaseOrder); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	state, err := controller.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintln(os.Stderr, "error: timed out waiting for the job")
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return exitFailure
	}

	if state.Phase != lifecycle.PhaseSucceeded {
		return exitFailure
	}

	select {
	case <-shown:
	case <-ctx.Done():
		return exitFailure
	}
	if state.Outcome != nil && state.Outcome.Matched {
		return exitMatched
	}
	return exitNotMatched
}
