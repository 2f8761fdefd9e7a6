package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ditinagrawal/deep-research/pkg/archive"
	"github.com/ditinagrawal/deep-research/pkg/clients"
	"github.com/ditinagrawal/deep-research/pkg/config"
	"github.com/ditinagrawal/deep-research/pkg/database"
	"github.com/ditinagrawal/deep-research/pkg/embeddings"
	"github.com/ditinagrawal/deep-research/pkg/research"
	"github.com/ditinagrawal/deep-research/pkg/research/tools"
)

var (
	query    string
	depth    int
	breadth  int
	output   string
	provider string
)

func main() {
	// Setup structured logging
	handler := slog.NewTextHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(handler))

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist, as long as env vars are set
	}
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "A terminal-based deep research agent",
		Long:  `deep-research recursively expands a question into sub-queries, gathers and filters web evidence, distills learnings, and writes a narrative report.`,
		Run: func(cmd *cobra.Command, args []string) {
			queryFlagChanged := cmd.Flags().Changed("query")

			if !queryFlagChanged {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)

				fmt.Print("Enter research question: ")
				input, _ := reader.ReadString('\n')
				query = strings.TrimSpace(input)
				if query == "" {
					slog.Error("Research question cannot be empty")
					os.Exit(1)
				}
			} else if query == "" {
				slog.Error("--query flag provided but empty")
				os.Exit(1)
			}

			searcher, err := newSearcher(cfg)
			if err != nil {
				slog.Error("Failed to configure search provider", "error", err)
				os.Exit(1)
			}

			llm, err := clients.GoogleAi(clients.DefaultModel)
			if err != nil {
				slog.Error("Error initializing LLM", "error", err)
				os.Exit(1)
			}

			engine := research.NewEngine(research.Config{
				LLMApiKey:     cfg.GoogleApiKey,
				SearchResults: cfg.SearchResults,
			}, llm, searcher)

			// Archive accepted documents when a database is configured.
			if cfg.DatabaseURL != "" {
				db, err := database.NewPostgresDB(context.Background(), cfg.DatabaseURL)
				if err != nil {
					slog.Error("Failed to connect to database", "error", err)
					os.Exit(1)
				}
				defer db.Close()

				if err := db.InitSchema(context.Background()); err != nil {
					slog.Error("Failed to initialize schema", "error", err)
					os.Exit(1)
				}

				embedder, err := embeddings.NewGoogleEmbedder(context.Background(), cfg.EmbeddingModel, cfg.GoogleApiKey)
				if err != nil {
					slog.Error("Failed to init embedder", "error", err)
					os.Exit(1)
				}
				engine.Indexer = archive.NewStore(db.Pool, embedder)
			}

			slog.Info("Starting research", "query", query, "depth", depth, "breadth", breadth)

			state, report, err := engine.Run(context.Background(), query, depth, breadth)
			if err != nil {
				slog.Error("Error running research", "error", err)
				os.Exit(1)
			}

			reportFilename := output
			if reportFilename == "" {
				reportFilename = fmt.Sprintf("report_%d.md", time.Now().Unix())
			}
			if err := os.WriteFile(reportFilename, []byte(report), 0644); err != nil {
				slog.Error("Failed to save report", "error", err)
				os.Exit(1)
			}
			slog.Info("Report saved", "filename", reportFilename)

			// Save sources alongside the report
			sourcesData, err := json.MarshalIndent(state.AcceptedDocuments, "", "  ")
			if err == nil {
				if err := os.WriteFile("sources.json", sourcesData, 0644); err != nil {
					slog.Error("Failed to save sources.json", "error", err)
				} else {
					slog.Info("Saved sources", "filename", "sources.json")
				}
			}
		},
	}

	rootCmd.Flags().StringVarP(&query, "query", "q", "", "The research question")
	rootCmd.Flags().IntVarP(&depth, "depth", "d", cfg.Depth, "Recursive expansion levels")
	rootCmd.Flags().IntVarP(&breadth, "breadth", "b", cfg.Breadth, "Sub-queries per expansion level")
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "Report output path (default report_<timestamp>.md)")
	rootCmd.Flags().StringVarP(&provider, "provider", "p", "exa", "Search provider: exa or arxiv")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func newSearcher(cfg *config.Config) (research.Searcher, error) {
	switch provider {
	case "exa":
		if cfg.ExaApiKey == "" {
			return nil, fmt.Errorf("EXASEARCH_API_KEY is not set")
		}
		return tools.NewExaClient(cfg.ExaApiKey), nil
	case "arxiv":
		return tools.NewArxivClient(), nil
	default:
		return nil, fmt.Errorf("unknown search provider: %s", provider)
	}
}
