package main

import (
	"context"
	_ "embed"
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
	"github.com/zombor/po-matcher/internal/backend"
	"github.com/zombor/po-matcher/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	_ = godotenv.Load()

	fs := ff.NewFlagSet("matchd")
	var (
		port        = fs.IntLong("port", 8000, "HTTP server port")
		cachePath   = fs.StringLong("cache", "", "Extraction cache database path (optional)")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'static'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name")
		staticDelay = fs.DurationLong("static-delay", time.Second, "Simulated extraction time of the static scanner")
		attempts    = fs.IntLong("attempts", scanning.DefaultAttempts, "Extraction attempts when the provider is overloaded")
		retention   = fs.DurationLong("retention", backend.DefaultRetention, "How long finished jobs stay queryable")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("MATCHD"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := checkAttempts(*attempts); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize scanner based on type
	var (
		scanner scanning.Scanner
		err     error
	)
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Warn("No Gemini API key configured, using static extraction")
			scanner = scanning.NewStatic(*staticDelay)
			break
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	case "static":
		slog.Info("Initializing static scanner...", "delay", *staticDelay)
		scanner = scanning.NewStatic(*staticDelay)
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini, ollama or static")
		os.Exit(1)
	}
	scanner = scanning.NewRetrying(scanner, scanning.WithAttempts(uint64(*attempts)))
	defer scanner.Close()

	// Initialize cache
	var cache backend.Cache
	if *cachePath != "" {
		slog.Info("Initializing extraction cache...", "path", *cachePath)
		boltCache, err := backend.NewBoltCache(*cachePath)
		if err != nil {
			slog.Error("Failed to initialize cache", "error", err)
			os.Exit(1)
		}
		defer boltCache.Close()
		cache = boltCache
	}

	service := backend.NewService(scanner, cache)
	service.SetRetention(*retention)
	defer service.Close()

	basicAuth := backend.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := backend.NewServer(service, basicAuth)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	addr := fmt.Sprintf(":%d", *port)
	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
}

// checkAttempts rejects attempt counts below one
func checkAttempts(n int) error {
	if n < 1 {
		return fmt.Errorf("--attempts must be at least 1, got %d", n)
	}
	return nil
}
