package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"newsloom/internal/audit"
	"newsloom/internal/cluster"
	"newsloom/internal/config"
	"newsloom/internal/core"
	"newsloom/internal/extract"
	"newsloom/internal/llm"
	"newsloom/internal/logger"
	"newsloom/internal/normalize"
	"newsloom/internal/pipeline"
	"newsloom/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "newsloom",
	Short: "Newsloom ingests news URLs and groups them into stories",
	Long: `Newsloom is a news aggregation pipeline: submit article URLs, and it
extracts their content, normalizes titles and excerpts, and clusters
articles that describe the same story.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.newsloom.yaml)")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clustersCmd)
	clustersCmd.AddCommand(clustersShowCmd)
	clustersCmd.AddCommand(singletonsCmd)
	clustersCmd.AddCommand(feedbackCmd)

	submitCmd.Flags().StringP("title", "t", "", "Original title hint for the article")
	submitCmd.Flags().IntP("priority", "p", 0, "Queue priority (higher is processed first)")
	auditCmd.Flags().Bool("propose", false, "Propose and save adjusted clustering parameters")
	clustersCmd.Flags().IntP("limit", "n", 20, "Maximum clusters to list")
	singletonsCmd.Flags().IntP("limit", "n", 20, "Maximum singletons to list")
	feedbackCmd.Flags().String("note", "", "Optional free-form note")
}

// deps holds everything a command needs, built from configuration.
type deps struct {
	cfg   *config.Config
	store *store.Store
	pipe  *pipeline.Pipeline
}

func buildDeps() (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.App.LogLevel)

	st, err := store.NewStore(cfg.App.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	fetcher := extract.NewHTTPFetcher(extract.Options{
		UserAgent:  cfg.Extract.UserAgent,
		Timeout:    time.Duration(cfg.Extract.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Extract.MaxRetries,
	})
	var renderer extract.Renderer
	if cfg.Extract.RendererEnabled {
		renderer = extract.NewRodRenderer(time.Duration(cfg.Extract.TimeoutSeconds) * time.Second)
	}
	extractor := extract.NewExtractor(fetcher, renderer)

	var generator normalize.TextGenerator
	if cfg.AI.Enabled {
		client, err := llm.NewClient(cfg.AI.Gemini.Model)
		if err != nil {
			logger.Warn("LLM unavailable, using deterministic normalization", "error", err.Error())
		} else {
			generator = client
		}
	}
	normalizer := normalize.NewNormalizer(generator)

	params := cluster.DefaultParams()
	params.BreakingThreshold = cfg.Cluster.SimilarityThreshold
	params.TimeWindowHours = cfg.Cluster.TimeWindowHours
	clusterer := cluster.NewClusterer(st, params, cfg.Cluster.CandidatePoolSize)

	return &deps{
		cfg:   cfg,
		store: st,
		pipe:  pipeline.New(st, extractor, normalizer, clusterer, cfg),
	}, nil
}

func (d *deps) Close() {
	if err := d.store.Close(); err != nil {
		logger.Error("failed to close store", err)
	}
}

var submitCmd = &cobra.Command{
	Use:   "submit [url]...",
	Short: "Submit one or more article URLs for processing",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		title, _ := cmd.Flags().GetString("title")
		priority, _ := cmd.Flags().GetInt("priority")

		d, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer d.Close()

		for _, url := range args {
			articleID, enqueued, err := d.pipe.Submit(url, title, priority)
			if err != nil {
				fmt.Printf("❌ %s: %s\n", url, err)
				continue
			}
			if enqueued {
				fmt.Printf("✅ Queued article %d: %s\n", articleID, url)
			} else {
				fmt.Printf("ℹ️  Already known as article %d: %s\n", articleID, url)
			}
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the processing loop until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		d, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Processing queue (Ctrl-C to stop)...")
		if err := d.pipe.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("processing loop failed", err)
			os.Exit(1)
		}
		fmt.Println("Stopped.")
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-evaluate recent singleton articles for clustering",
	Run: func(cmd *cobra.Command, args []string) {
		d, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer d.Close()

		joined, founded, err := d.pipe.SweepSingletons(cmd.Context())
		if err != nil {
			logger.Error("sweep failed", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Sweep complete: %d joined, %d founded\n", joined, founded)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Evaluate recent cluster quality",
	Long: `Compute cohesion and separation metrics for recently-updated clusters,
label each one, and optionally propose adjusted clustering parameters.`,
	Run: func(cmd *cobra.Command, args []string) {
		propose, _ := cmd.Flags().GetBool("propose")

		d, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer d.Close()

		auditor := audit.NewAuditor(d.store, cluster.DefaultParams())
		report, err := auditor.Run(propose)
		if err != nil {
			logger.Error("audit failed", err)
			os.Exit(1)
		}

		if len(report.Evaluations) == 0 {
			fmt.Println("No clusters to audit yet.")
			return
		}

		fmt.Printf("Audit run %s (%d clusters):\n", report.RunID[:8], len(report.Evaluations))
		for _, e := range report.Evaluations {
			fmt.Printf("  [%-12s] cluster %d (%d articles) cohesion=%.2f separation=%.2f  %s\n",
				e.Label, e.ClusterID, e.Metrics.Size, e.Metrics.CohesionMean, e.Metrics.SeparationMin, e.Title)
		}
		if report.Proposed != nil {
			fmt.Printf("\n📐 Proposed breaking threshold: %.2f\n", report.Proposed.BreakingThreshold)
		} else if propose {
			fmt.Println("\nNo parameter change warranted.")
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	Run: func(cmd *cobra.Command, args []string) {
		d, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer d.Close()

		status, err := d.store.GetSystemStatus()
		if err != nil {
			logger.Error("failed to read system status", err)
			os.Exit(1)
		}

		running := "stopped"
		if status.IsRunning {
			running = "running"
		}
		fmt.Println("Newsloom Status:")
		fmt.Println("================")
		fmt.Printf("State:          %s\n", running)
		fmt.Printf("Articles:       %d\n", status.TotalArticles)
		fmt.Printf("Clusters:       %d\n", status.TotalClusters)
		if status.LastProcessedArticle > 0 {
			fmt.Printf("Last processed: article %d\n", status.LastProcessedArticle)
		}
		if !status.LastActivity.IsZero() {
			fmt.Printf("Last activity:  %s\n", status.LastActivity.Format("2006-01-02 15:04:05"))
		}
	},
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List story clusters",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		d, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer d.Close()

		clusters, err := d.pipe.ListClusters(limit)
		if err != nil {
			logger.Error("failed to list clusters", err)
			os.Exit(1)
		}
		if len(clusters) == 0 {
			fmt.Println("No clusters yet.")
			return
		}

		fmt.Printf("Story Clusters (%d):\n", len(clusters))
		fmt.Println("===================")
		for _, cl := range clusters {
			fmt.Printf("%d. %s (%d articles, updated %s)\n",
				cl.ID, cl.Title, cl.ArticleCount, cl.UpdatedAt.Format("2006-01-02 15:04"))
			if cl.Summary != "" {
				fmt.Printf("   %s\n", cl.Summary)
			}
		}
	},
}

var clustersShowCmd = &cobra.Command{
	Use:   "show [cluster-id]",
	Short: "Show one cluster and its member articles",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var clusterID int64
		if _, err := fmt.Sscanf(args[0], "%d", &clusterID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid cluster id %q\n", args[0])
			os.Exit(1)
		}

		d, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer d.Close()

		cl, articles, err := d.pipe.GetCluster(clusterID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}

		fmt.Printf("📂 %s\n", cl.Title)
		if cl.Summary != "" {
			fmt.Printf("%s\n", cl.Summary)
		}
		fmt.Printf("%d articles:\n", len(articles))
		for _, a := range articles {
			fmt.Printf("  • [%s] %s\n    %s\n", a.SourceDomain, a.GeneratedTitle, a.URL)
		}
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback [cluster-id] [label]",
	Short: "Record a human judgment about a cluster",
	Long: `Record whether a cluster is correct, mixed, duplicate, split_needed,
or should_merge. Feedback is stored alongside audit evaluations for later
threshold tuning.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var clusterID int64
		if _, err := fmt.Sscanf(args[0], "%d", &clusterID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid cluster id %q\n", args[0])
			os.Exit(1)
		}
		label := core.EvaluationLabel(args[1])
		switch label {
		case core.LabelCorrect, core.LabelMixed, core.LabelDuplicate,
			core.LabelSplitNeeded, core.LabelShouldMerge:
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown label %q\n", args[1])
			os.Exit(1)
		}
		note, _ := cmd.Flags().GetString("note")

		d, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer d.Close()

		if _, _, err := d.pipe.GetCluster(clusterID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		if err := d.store.InsertClusterFeedback(clusterID, label, note); err != nil {
			logger.Error("failed to record feedback", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Recorded %s for cluster %d\n", label, clusterID)
	},
}

var singletonsCmd = &cobra.Command{
	Use:   "singletons",
	Short: "List recent articles not yet assigned to any cluster",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		d, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer d.Close()

		singletons, err := d.pipe.ListSingletons(limit)
		if err != nil {
			logger.Error("failed to list singletons", err)
			os.Exit(1)
		}
		if len(singletons) == 0 {
			fmt.Println("No singleton articles in the window.")
			return
		}

		fmt.Printf("Singleton Articles (%d):\n", len(singletons))
		for _, a := range singletons {
			title := a.GeneratedTitle
			if title == "" {
				title = a.OriginalTitle
			}
			fmt.Printf("  • [%s] %s\n", a.SourceDomain, title)
		}
	},
}
