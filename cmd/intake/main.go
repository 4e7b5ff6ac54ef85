package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/angariumd/intake/internal/auth"
	"github.com/angariumd/intake/internal/config"
	"github.com/angariumd/intake/internal/db"
	"github.com/angariumd/intake/internal/dispatcher"
	"github.com/angariumd/intake/internal/events"
	"github.com/angariumd/intake/internal/naming"
	"github.com/angariumd/intake/internal/status"
	"github.com/angariumd/intake/internal/validator"
	"github.com/angariumd/intake/internal/watch"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	// .env is optional; real environment variables still apply
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "intake",
		Short:         "Validate job descriptors and enqueue them for the scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("INTAKE_CONFIG"), "path to intake config")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the user tree and process descriptors as they are written",
		RunE:  runWatch,
	}

	validateCmd := &cobra.Command{
		Use:   "validate <job_spec.yaml>...",
		Short: "Check descriptors without writing any records",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}

	submitCmd := &cobra.Command{
		Use:   "submit <job_spec.yaml>",
		Short: "Process one descriptor now and write its queue or failure record",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}

	var eventType string
	var limit int
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "List recent intake events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listEvents(eventType, limit)
		},
	}
	eventsCmd.Flags().StringVar(&eventType, "type", "", "only show events of this type (JOB_QUEUED, JOB_REJECTED, PROCESSING_FAILED)")
	eventsCmd.Flags().IntVar(&limit, "limit", 20, "number of events to show")

	rootCmd.AddCommand(watchCmd, validateCmd, submitCmd, eventsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadIntakeConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder events.Recorder = events.Discard{}
	if cfg.DBPath != "" {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Init(); err != nil {
			return err
		}

		eventMgr := events.New(database, logger)
		defer eventMgr.Close()
		recorder = eventMgr

		if cfg.StatusAddr != "" {
			server := status.NewServer(database, auth.NewAuthenticator(cfg.StatusToken, logger), logger)
			stopServer := serveStatus(ctx, cfg.StatusAddr, server.Routes(), logger)
			defer stopServer()
		}
	}

	d := dispatcher.New(cfg, validator.New(), recorder, logger)
	if err := d.Prepare(); err != nil {
		return err
	}

	src, err := watch.NewFSNotify(cfg.WatchRoot, cfg.Settle, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	return d.Run(ctx, src)
}

func serveStatus(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) func() {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("status API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	v := validator.New()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RESULT\tFILE\tDETAIL")

	failed := 0
	for _, path := range args {
		res := v.Validate(path)
		if res.Valid() {
			fmt.Fprintf(w, "OK\t%s\t%s\n", path, naming.JobName(res.Descriptor))
			continue
		}
		failed++
		fmt.Fprintf(w, "FAIL\t%s\t%s: %s\n", path, res.Err.Kind, res.Err.Message)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d descriptors rejected", failed, len(args))
	}
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadIntakeConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	d := dispatcher.New(cfg, validator.New(), nil, logger)
	if err := d.Prepare(); err != nil {
		return err
	}
	out, err := d.ProcessFile(args[0])
	if err != nil {
		return err
	}

	if out.Valid {
		fmt.Printf("Job queued! Name: %s\nRecord: %s\n", out.JobName, out.Record)
		return nil
	}
	fmt.Printf("Job rejected: %s\nRecord: %s\n", strings.Join(out.Errors, "; "), out.Record)
	return errors.New("descriptor rejected")
}

func listEvents(eventType string, limit int) error {
	cfg, err := config.LoadIntakeConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.DBPath == "" {
		return errors.New("db_path is not configured")
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	evts, err := events.List(database, events.Filter{Type: eventType, Limit: limit})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tTYPE\tJOB\tFILE")
	for _, e := range evts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.At.Local().Format("2006-01-02 15:04:05"), e.Type, deref(e.JobName), deref(e.JobFile))
	}
	return w.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
