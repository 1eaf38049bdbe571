package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/grader"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/handler"
	appI18n "github.com/binbakhsh/a-level-chemistry-marking-system/internal/i18n"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/llm"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/ocr"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/pipeline"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/scheme"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "marker",
		Short: "Automatic marking for A-level chemistry papers",
	}

	serve := serveCmd()
	root.AddCommand(serve, structureCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `marker --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP marking server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "marker.db", "SQLite database path")
	f.String("ocr-url", "", "OCR provider base URL (empty disables uploads needing extraction)")
	f.String("ocr-key", "", "OCR provider API key")
	f.Int("ocr-max-polls", 30, "Maximum OCR status polls per document")
	f.Duration("ocr-poll-interval", 2*time.Second, "Delay between OCR status polls")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Bool("llm-fallback", false, "Mark all answers with the LLM instead of the per-type policies")
	f.StringP("lang", "l", "en", "Default feedback language (en, ru)")
	f.Duration("stage-timeout", 2*time.Minute, "Per-stage pipeline timeout")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func structureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "structure <markscheme.txt>",
		Short: "Structure a raw mark scheme file and store it for a paper",
		Args:  cobra.ExactArgs(1),
		RunE:  runStructure,
	}
	f := cmd.Flags()
	f.String("db", "marker.db", "SQLite database path")
	f.Int64("paper", 0, "Paper ID to attach the scheme to (required)")
	f.Int("expect-marks", 0, "Expected total marks (0 = no expectation)")
	f.Int("expect-questions", 0, "Expected question count (0 = no expectation)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("paper")

	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a paper's marking results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "marker.db", "SQLite database path")
	f.Int64("paper", 0, "Paper ID to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("paper")

	return cmd
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

	v.SetEnvPrefix("MARKER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("marker")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/marker")
	v.AddConfigPath("/etc/marker")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func newLLMClient(ctx context.Context, v *viper.Viper) (*llm.Client, error) {
	client := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	return client, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient, err := newLLMClient(context.Background(), v)
	if err != nil {
		return err
	}

	extractor := ocr.NewAdapter(
		ocr.NewHTTPProvider(v.GetString("ocr-url"), v.GetString("ocr-key")),
		v.GetInt("ocr-max-polls"),
		v.GetDuration("ocr-poll-interval"),
	)

	engine := grader.New(llmClient, v.GetBool("llm-fallback"))
	orch := pipeline.New(db, extractor, engine, v.GetDuration("stage-timeout"))
	structurer := scheme.New(extractor, llmClient)

	h := handler.New(db, orch, structurer)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"ocr_url", v.GetString("ocr-url"),
		"llm_fallback", v.GetBool("llm-fallback"),
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runStructure(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	paperID := v.GetInt64("paper")
	if _, err := db.GetPaper(paperID); err != nil {
		return fmt.Errorf("look up paper %d: %w", paperID, err)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	llmClient, err := newLLMClient(context.Background(), v)
	if err != nil {
		return err
	}

	// Local file input is already text, so no extractor is needed.
	structurer := scheme.New(nil, llmClient)
	res, err := structurer.StructureText(context.Background(), string(data), model.PaperHints{
		ExpectedTotalMarks: v.GetInt("expect-marks"),
		ExpectedQuestions:  v.GetInt("expect-questions"),
	})
	if err != nil {
		return fmt.Errorf("structure mark scheme: %w", err)
	}
	for _, warn := range res.Warnings {
		slog.Warn("mark scheme validation", "field", warn.Field, "message", warn.Message)
	}

	res.Scheme.PaperID = paperID
	schemeID, err := db.CreateMarkScheme(res.Scheme)
	if err != nil {
		return fmt.Errorf("store mark scheme: %w", err)
	}

	slog.Info("mark scheme stored",
		"paper", paperID,
		"scheme", schemeID,
		"questions", res.Scheme.QuestionCount,
		"total_marks", res.Scheme.TotalMarks,
	)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportPaperResults(v.GetInt64("paper"))
	if err != nil {
		return fmt.Errorf("export paper results: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
