package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/config"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/report"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/stats"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/auth"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/db"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/metrics"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/middleware"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/normalize"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/rowstore"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "britlab-server",
		Short:        "BritLab sample referral API server",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(promiseCmd())
	rootCmd.AddCommand(timelogCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logger, true)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise")
		return err
	}
	defer a.Close()

	if _, err := a.svc.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial load failed; serving what the store returns on demand")
	}

	e := newServer(a)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with every route mounted.
func newServer(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", cfg.UploadLimit, "/result"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/samples/export", metrics.Path))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{referral.IncompleteHeader, middleware.RequestIDHeader, echo.HeaderContentDisposition},
	}))

	// Auth middleware
	jwtCfg := auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: a.signingKey()}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Rate limiting
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))

	authenticator := auth.NewAuthenticator(map[string]string{
		auth.RoleDerivedLab:      cfg.ClinicPassword,
		auth.RoleCentralLabAdmin: cfg.AdminPassword,
	}, jwtCfg.SigningKey, cfg.AuthIssuer)
	auth.NewLoginHandler(authenticator).RegisterRoutes(apiV1)

	report.NewHandler(a.svc, report.NewExporter(a.loc), a.svc.Now).RegisterRoutes(apiV1)
	referral.NewHandler(a.svc, a.blobs).RegisterRoutes(apiV1)
	stats.NewHandler(a.svc, a.svc.Now).RegisterRoutes(apiV1)

	if a.pool != nil {
		apiV1.GET("/admin/db/pool", db.PoolStatsHandler(a.pool), auth.RequireRole(auth.RoleCentralLabAdmin))
	}

	// Action protocol for remote clients; authenticated by PROXY_API_KEY.
	rowstore.NewActionHandler(a.repo, cfg.ProxyAPIKey, a.logger.With().Str("component", "proxy").Logger(),
		rowstore.WithActionLocation(a.loc)).
		RegisterRoutes(e, middleware.RateLimit(rateLimitCfg))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.healthChecks()))
	e.GET(metrics.Path, a.metrics.Handler())

	return e
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			migrator, closeFn, err := openMigrator(cmd.Context(), schema)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (default DB_SCHEMA)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			migrator, closeFn, err := openMigrator(cmd.Context(), schema)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (default DB_SCHEMA)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(ctx context.Context, schema string) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required for migrations")
	}
	if schema == "" {
		schema = cfg.DBSchema
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, db.Embedded(), schema), pool.Close, nil
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, strings.Repeat("-", 10)+" "+strings.Repeat("-", 40)+" "+strings.Repeat("-", 10)+" "+strings.Repeat("-", 20))
	for _, s := range statuses {
		state, at := "pending", ""
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every sample request to a CSV or XLSX report",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatFlag, _ := cmd.Flags().GetString("format")
			windowFlag, _ := cmd.Flags().GetString("window")
			out, _ := cmd.Flags().GetString("out")

			format, err := report.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			window := stats.WindowAll
			if windowFlag != "" {
				if window, err = stats.ParseWindow(windowFlag); err != nil {
					return err
				}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)

			a, err := buildApp(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.svc.List(cmd.Context())
			if err != nil {
				if !errors.Is(err, referral.ErrIncomplete) {
					return err
				}
				logger.Warn().Err(err).Msg("store did not answer; report may be incomplete")
			}
			now := a.svc.Now()
			items = stats.FilterByWindow(items, window, now)

			var buf bytes.Buffer
			if err := report.NewExporter(a.loc).Write(&buf, format, items); err != nil {
				return err
			}
			if out == "" {
				out = format.FileName(now.In(a.loc))
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return err
			}
			logger.Info().Str("file", out).Int("rows", len(items)).Msg("report written")
			return nil
		},
	}
	cmd.Flags().String("format", "csv", "Report format: csv or xlsx")
	cmd.Flags().String("window", "", "Limit rows by request date: 7d, 30d, 90d or all")
	cmd.Flags().String("out", "", "Output file, - for stdout (default Reporte_BritLab_<date>.<ext>)")
	return cmd
}

func promiseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promise",
		Short: "Compute the promised result date for a sample type",
		RunE: func(cmd *cobra.Command, args []string) error {
			sampleType, _ := cmd.Flags().GetString("type")
			from, _ := cmd.Flags().GetString("from")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			schedule := referral.DefaultSchedule()
			if cfg.ScheduleFile != "" {
				if schedule, err = referral.LoadScheduleFile(cfg.ScheduleFile); err != nil {
					return err
				}
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			start := time.Now().In(loc)
			if from != "" {
				t, ok := normalize.TimeIn(from, loc)
				if !ok {
					return fmt.Errorf("cannot parse --from %q", from)
				}
				start = t.In(loc)
			}
			return printPromise(cmd.OutOrStdout(), schedule, sampleType, start)
		},
	}
	cmd.Flags().String("type", "", "Sample type name (empty lists the catalog)")
	cmd.Flags().String("from", "", "Arrival instant (default now)")
	return cmd
}

func timelogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timelog",
		Short: "Print an attendance workbook sheet as normalized JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("workbook")
			sheet, _ := cmd.Flags().GetString("sheet")
			if path == "" {
				return errors.New("--workbook is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			rows, err := rowstore.ReadSheet(path, sheet)
			if err != nil {
				return err
			}
			return printTimeLogs(cmd.OutOrStdout(), rows, loc)
		},
	}
	cmd.Flags().String("workbook", "", "Path to the .xlsx attendance workbook")
	cmd.Flags().String("sheet", "", "Worksheet name (default first sheet)")
	return cmd
}

func printTimeLogs(w io.Writer, rows []normalize.RawRecord, loc *time.Location) error {
	enc := json.NewEncoder(w)
	for _, rec := range rows {
		if err := enc.Encode(normalize.ToTimeLog(rec, loc)); err != nil {
			return err
		}
	}
	return nil
}

func printPromise(w io.Writer, schedule referral.ScheduleTable, sampleType string, start time.Time) error {
	if sampleType == "" {
		for _, name := range schedule.Types() {
			fmt.Fprintf(w, "%-40s %3d  %s\n", name, schedule.Days(name), schedule.Promise(start, name).Format("Mon 02/01/2006"))
		}
		return nil
	}
	days := schedule.Days(sampleType)
	note := ""
	if !schedule.Known(sampleType) {
		note = " (unknown type, default applied)"
	}
	promised := schedule.Promise(start, sampleType)
	fmt.Fprintf(w, "%s: %d business day(s)%s\narrival:  %s\npromised: %s\n",
		sampleType, days, note,
		start.Format("Mon 02/01/2006 15:04"),
		promised.Format("Mon 02/01/2006 15:04"))
	return nil
}
