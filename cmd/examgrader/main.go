package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/examgrader/internal/attempt"
	"github.com/pavelanni/examgrader/internal/cost"
	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/handler"
	"github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/llm"
	"github.com/pavelanni/examgrader/internal/llm/prompts"
	"github.com/pavelanni/examgrader/internal/store"
	"github.com/pavelanni/examgrader/internal/submission"
)

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examgrader",
		Short: "Grade exam submissions with an LLM and deterministic fallbacks",
	}

	serve := serveCmd()
	root.AddCommand(serve, gradeCmd(), importCmd(), attemptsCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examgrader --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSlice("exams", nil, "Exam JSON files to import at startup (repeatable)")
	addStoreFlags(f)
	addGradingFlags(f)
	addLogFlags(f)
	return cmd
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("db", "examgrader.db", "SQLite database path or Postgres URL")
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
}

func addGradingFlags(f *pflag.FlagSet) {
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL (empty disables AI grading)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", grading.DefaultAITimeout, "Timeout for one AI grading call")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.StringP("lang", "l", "en", "Default feedback language (en, fi)")
	f.Float64("partial-credit", grading.DefaultPartialCredit, "Share of max points for a partially matching answer")
	f.String("grade-scale", grading.DefaultScale().String(), "Grade thresholds as min%:grade pairs")
	f.Float64("price-input", cost.DefaultInputPerMillion, "USD per million prompt tokens")
	f.Float64("price-output", cost.DefaultOutputPerMillion, "USD per million candidate tokens")
	f.Int("max-concurrency", 0, "Questions graded at once per exam (0 = all)")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examgrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examgrader")
	v.AddConfigPath("/etc/examgrader")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	driver, err := store.ParseDriver(v.GetString("db-driver"))
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, driver, v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// grader bundles everything a command needs to grade submissions.
type grader struct {
	engine  *grading.Engine
	tracker *attempt.Tracker
	service *submission.Service
	llm     *llm.Client
}

func newGrader(v *viper.Viper, db *store.Store) (*grader, error) {
	catalog, err := i18n.New(v.GetString("lang"))
	if err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	scale, err := grading.ParseScale(v.GetString("grade-scale"))
	if err != nil {
		return nil, fmt.Errorf("grade scale: %w", err)
	}
	partial := v.GetFloat64("partial-credit")
	if partial < 0 || partial > 1 {
		return nil, fmt.Errorf("partial credit %v out of range [0, 1]", partial)
	}
	pricing := cost.Pricing{
		InputPerMillion:  v.GetFloat64("price-input"),
		OutputPerMillion: v.GetFloat64("price-output"),
	}

	opts := []grading.Option{
		grading.WithPartialCredit(partial),
		grading.WithPricing(pricing),
		grading.WithTimeout(v.GetDuration("llm-timeout")),
	}

	var client *llm.Client
	if url := v.GetString("llm-url"); url != "" {
		variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
		if !prompts.IsValidVariant(variant) {
			slog.Warn("invalid prompt-variant, using standard", "variant", variant)
			variant = string(prompts.PromptStandard)
		}
		set, err := prompts.New(prompts.PromptVariant(variant))
		if err != nil {
			return nil, err
		}
		client = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"))
		opts = append(opts, grading.WithAI(client, set))
	} else {
		slog.Info("no LLM configured, grading with rules only")
	}

	engine := grading.NewEngine(
		grading.NewGrader(catalog, opts...),
		grading.WithScale(scale),
		grading.WithEnginePricing(pricing),
		grading.WithMaxConcurrency(v.GetInt("max-concurrency")),
	)
	tracker, err := attempt.NewTracker(db.Current(), db.Legacy())
	if err != nil {
		return nil, err
	}
	return &grader{
		engine:  engine,
		tracker: tracker,
		service: submission.New(db, tracker, engine),
		llm:     client,
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := commandContext(cmd)

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := importFiles(ctx, db, v.GetStringSlice("exams")); err != nil {
		return fmt.Errorf("import exams: %w", err)
	}

	g, err := newGrader(v, db)
	if err != nil {
		return err
	}
	defer g.service.Wait()

	// Grading falls back to rules, so an unreachable LLM is not fatal.
	if g.llm != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := g.llm.Ping(pingCtx); err != nil {
			slog.Warn("LLM health check failed, AI grading will fall back to rules", "url", v.GetString("llm-url"), "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", g.llm.Model())
		}
		cancel()
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	handler.New(db, g.service, g.tracker).Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", v.GetString("lang"),
		"prompt_variant", v.GetString("prompt-variant"),
		"grade_scale", g.engine.Scale().String(),
		"partial_credit", v.GetFloat64("partial-credit"),
	)
	return http.ListenAndServe(addr, r)
}
