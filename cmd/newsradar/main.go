package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tepilora/newsradar/internal/app"
	"github.com/tepilora/newsradar/internal/config"
	"github.com/tepilora/newsradar/internal/observability"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "newsradar",
	Short:         "News ingestion and search service",
	Long:          "newsradar schedules per-topic fetches across configured sources, deduplicates articles and serves ranked search over the accumulated corpus.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, logger, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer orch.Close()

		ctx, cancel := app.GracefulShutdown(logger)
		defer cancel()

		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		logger.Info("Shutdown complete")
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored articles by relevance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAgeDays, _ := cmd.Flags().GetInt("max-age-days")
		sources, _ := cmd.Flags().GetStringSlice("sources")

		orch, _, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer orch.Close()

		results, err := orch.Search(cmd.Context(), args[0],
			time.Duration(maxAgeDays)*24*time.Hour, sources)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No matching articles.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%2d. [%.2f] %s\n", i+1, r.Score, r.Title)
			fmt.Printf("    %s | %s | %s\n", r.Source, r.PublishedAt.Format("2006-01-02 15:04"), r.URL)
		}
		return nil
	},
}

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage scheduled topics",
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, _, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer orch.Close()

		topics, err := orch.ListTopics(cmd.Context())
		if err != nil {
			return err
		}
		if len(topics) == 0 {
			fmt.Println("No topics configured.")
			return nil
		}
		for _, t := range topics {
			state := "active"
			if !t.Active {
				state = "paused"
			}
			fmt.Printf("%-30s prio=%d %-8s every %s [%s] sources=%s\n",
				t.Query, t.Priority, state, t.UpdateFrequency, t.Category,
				strings.Join(t.Sources, ","))
		}
		return nil
	},
}

var topicsAddCmd = &cobra.Command{
	Use:   "add <query>",
	Short: "Add or update a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetInt("priority")
		category, _ := cmd.Flags().GetString("category")
		sources, _ := cmd.Flags().GetStringSlice("sources")
		frequency, _ := cmd.Flags().GetDuration("frequency")

		orch, _, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer orch.Close()

		if err := orch.AddTopic(cmd.Context(), args[0], category, priority, sources, frequency); err != nil {
			return err
		}
		fmt.Printf("Topic %q saved.\n", args[0])
		return nil
	},
}

var topicsRemoveCmd = &cobra.Command{
	Use:   "remove <query>",
	Short: "Remove a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, _, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer orch.Close()

		if err := orch.RemoveTopic(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Topic %q removed.\n", args[0])
		return nil
	},
}

var topicsToggleCmd = &cobra.Command{
	Use:   "toggle <query>",
	Short: "Activate or pause a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		active, _ := cmd.Flags().GetBool("active")

		orch, _, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer orch.Close()

		if err := orch.ToggleTopic(cmd.Context(), args[0], active); err != nil {
			return err
		}
		state := "paused"
		if active {
			state = "active"
		}
		fmt.Printf("Topic %q is now %s.\n", args[0], state)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store contents and pipeline counters",
	Long: `Show the recent article count plus scheduler counters and breaker states.

Counters and breaker states live in the scheduler process: invoked standalone
(without 'run' active in this process) they read as zero and only the article
count reflects the persistent store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, _, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer orch.Close()

		status, stored, err := orch.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Scheduled jobs:   %d\n", len(status.Jobs))
		fmt.Printf("Articles (24h):   %d\n", stored)
		fmt.Printf("Fetched:          %d\n", status.Fetched)
		fmt.Printf("Inserted:         %d\n", status.Inserted)
		fmt.Printf("Updated:          %d\n", status.Updated)
		fmt.Printf("Unchanged:        %d\n", status.Unchanged)
		fmt.Printf("Suppressed:       %d\n", status.Suppressed)
		fmt.Printf("Invalid:          %d\n", status.Invalid)
		fmt.Printf("Failures:         %d\n", status.Failures)
		for src, state := range status.Breakers {
			fmt.Printf("Breaker %-20s %s\n", src, state)
		}
		return nil
	},
}

func buildOrchestrator() (*app.Orchestrator, *observability.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := observability.NewLogger(
		cfg.Observability.LogPath,
		cfg.Observability.LogLevel,
		cfg.Observability.MaxSizeMB,
		cfg.Observability.MaxBackups,
	)

	orch, err := app.NewOrchestrator(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return orch, logger, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")

	searchCmd.Flags().Int("max-age-days", 0, "restrict results to articles newer than this (0 = config default)")
	searchCmd.Flags().StringSlice("sources", nil, "restrict results to these source IDs")

	topicsAddCmd.Flags().Int("priority", 5, "topic priority (1 = highest)")
	topicsAddCmd.Flags().String("category", "general", "topic category")
	topicsAddCmd.Flags().StringSlice("sources", nil, "source IDs (default: all active sources)")
	topicsAddCmd.Flags().Duration("frequency", 30*time.Minute, "update frequency")

	topicsToggleCmd.Flags().Bool("active", true, "set topic active or paused")

	topicsCmd.AddCommand(topicsListCmd, topicsAddCmd, topicsRemoveCmd, topicsToggleCmd)
	rootCmd.AddCommand(runCmd, searchCmd, topicsCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
