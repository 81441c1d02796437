package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/kindtally/internal/app"
	"github.com/dokzlo13/kindtally/internal/config"
)

var errHistoryDisabled = errors.New("history is disabled, set database.path in the configuration")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("kindtally failed")
	}
}

// run executes the command. Every resource it opens is released before it
// returns, so the caller may exit right after.
func run(args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("kindtally", flag.ContinueOnError)

	// Support both -c and --config for config path
	var configPath string
	flags.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flags.StringVar(&configPath, "c", "", "Path to configuration file (shorthand)")
	logLevel := flags.String("log-level", "", "Override log level (trace, debug, info, warn, error)")
	showHistory := flags.Int("history", 0, "Print the N most recent stored runs and exit")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: kindtally [flags] [seconds]\n\n")
		fmt.Fprintln(flags.Output(), "Counts nostr events per kind for a number of seconds (default 60).")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	window := cfg.Window.Duration()
	if arg := flags.Arg(0); arg != "" {
		secs, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid number of seconds %q: %w", arg, err)
		}
		window = time.Duration(secs) * time.Second
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	defer application.Close()

	if *showHistory > 0 {
		if err := printHistory(stdout, application, *showHistory); err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		return nil
	}

	snap, err := application.Run(app.SignalContext(), window)
	if err != nil {
		return fmt.Errorf("collection failed: %w", err)
	}

	if _, err := snap.WriteTo(stdout); err != nil {
		log.Error().Err(err).Msg("Failed to write tally")
	}
	return nil
}

func printHistory(w io.Writer, application *app.App, limit int) error {
	h := application.History()
	if h == nil {
		return errHistoryDisabled
	}

	runs, err := h.Recent(limit)
	if err != nil {
		return err
	}

	for _, run := range runs {
		fmt.Fprintf(w, "# %s %s window=%s elapsed=%s total=%d\n",
			run.ID, run.StartedAt.Format(time.RFC3339), run.Window, run.Elapsed.Round(time.Millisecond), run.Total)
		if _, err := run.Counts.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
