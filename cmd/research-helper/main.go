package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/assistant"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/export"
	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/session"
)

var (
	topic     string
	provider  string
	mode      string
	model     string
	depth     int
	timeLimit int
	maxURLs   int
	debug     bool
	exportDir string
	noRender  bool
)

func main() {
	// A missing .env file is fine as long as the variables are set.
	_ = godotenv.Load()
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "research-helper",
		Short: "A terminal-based deep research assistant",
		Long:  `research-helper researches a topic with a researcher agent and a writer agent, then renders the report and writes Markdown, HTML and JSON exports.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("topic") {
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Enter research topic: ")
				input, _ := reader.ReadString('\n')
				topic = strings.TrimSpace(input)
			}
			if strings.TrimSpace(topic) == "" {
				return fmt.Errorf("topic cannot be empty")
			}

			if cmd.Flags().Changed("provider") {
				cfg.Provider = provider
			}
			if cmd.Flags().Changed("mode") {
				cfg.ResearchMode = mode
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			if cmd.Flags().Changed("depth") {
				cfg.DeepMaxDepth = depth
			}
			if cmd.Flags().Changed("time-limit") {
				cfg.DeepTimeLimit = time.Duration(timeLimit) * time.Minute
			}
			if cmd.Flags().Changed("max-urls") {
				cfg.DeepMaxURLs = maxURLs
			}

			return run(cmd.Context(), cfg)
		},
	}

	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic")
	rootCmd.Flags().StringVarP(&provider, "provider", "p", "OpenAI", "LLM provider: OpenAI, Groq or Gemini")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "Standard", "Research mode: Fast, Standard or Deep")
	rootCmd.Flags().StringVar(&model, "model", "", "Override the provider's model")
	rootCmd.Flags().IntVar(&depth, "depth", 3, "Deep mode: search depth (1-5)")
	rootCmd.Flags().IntVar(&timeLimit, "time-limit", 4, "Deep mode: time limit in minutes (1-10)")
	rootCmd.Flags().IntVar(&maxURLs, "max-urls", 12, "Deep mode: maximum sources (5-20)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Show detailed errors and log hosted service responses")
	rootCmd.Flags().StringVarP(&exportDir, "export-dir", "o", ".", "Directory for the exported reports")
	rootCmd.Flags().BoolVar(&noRender, "raw", false, "Print the report as plain markdown")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	sess := session.New()
	if err := cfg.Apply(sess.Config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if model != "" {
		sess.Config.Models[sess.Config.Provider] = model
	}

	opts := []assistant.Option{assistant.WithFirecrawlBaseURL(cfg.FirecrawlBaseURL)}
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts,
			assistant.WithArchive(db),
			assistant.WithRunLogHandler(func(runID uuid.UUID) slog.Handler {
				return server.NewRunLogHandler(db, runID)
			}),
		)
	}
	a := assistant.New(opts...)

	params := sess.Config.CurrentParams()
	fmt.Fprintf(os.Stderr, "Researching %q with %s (%s mode, depth %d, %ds, %d sources, about %s)\n",
		topic, sess.Config.Provider, sess.Config.Mode(), params.MaxDepth, params.TimeLimitSeconds, params.MaxURLs,
		sess.Config.Mode().EstimatedTime())
	if sess.Config.Credentials.Firecrawl == "" {
		fmt.Fprintln(os.Stderr, "No Firecrawl API key set, falling back to basic web scraping.")
	}

	observer := research.ProgressFunc(func(percent int, message string) {
		fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", percent, message)
	})

	rec, err := a.Submit(ctx, sess, topic, observer)
	if err != nil {
		if runID, ok := assistant.RunID(err); ok && cfg.DatabaseURL != "" {
			fmt.Fprintf(os.Stderr, "Run logs archived under run id %s\n", runID)
		}
		return fmt.Errorf("%s", server.ErrorMessage(err, sess.Config.Debug))
	}

	printReport(rec)
	return writeExports(rec, exportDir)
}

func printReport(rec history.ResearchRecord) {
	fmt.Printf("\nResearch completed in %.1f seconds (%s mode, depth %d, %d sources)\n\n",
		rec.Metrics.ResearchTimeSeconds, rec.Mode, rec.Metrics.MaxDepth, rec.Metrics.MaxURLs)

	if !noRender {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err == nil {
			if out, err := renderer.Render(rec.FinalReport); err == nil {
				fmt.Print(out)
				return
			}
		}
	}
	fmt.Println(rec.FinalReport)
}

func writeExports(rec history.ResearchRecord, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	for _, f := range export.Formats {
		body, err := export.Encode(rec, f)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, export.FileName(rec.Topic, f))
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		slog.Info("Report exported", "format", f, "path", path)
	}
	return nil
}
