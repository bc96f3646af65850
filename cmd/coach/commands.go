package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/coach/internal/config"
	"github.com/kalambet/coach/internal/engine"
	"github.com/kalambet/coach/internal/ingest"
	"github.com/kalambet/coach/internal/retrieval"
)

func indexDir(cfg config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, "indexes")
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index <domain> <paths...>",
	Short: "Index documents into a domain's knowledge base",
	Long: `Index documents into a domain's knowledge base.

Reads PDF, HTML, markdown and plain-text files, splits them into
fragments and embeds each with the local engine. The domain becomes
available to train, mentor and assess once it holds fragments.

Examples:
  coach index mml ./docs/mml-reference.pdf
  coach index axe ./axe/alarm-guide.md ./axe/apg-basics.html`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, paths := args[0], args[1:]
		if !retrieval.ValidDomain(domain) {
			return fmt.Errorf("invalid domain %q: lowercase letters, digits, - and _ only", domain)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		eng := engine.NewOllamaEngine(cfg.Engine.BaseURL)
		if err := engine.EnsureReady(ctx, eng, "", cfg.Engine.EmbedModel, os.Stderr); err != nil {
			return err
		}

		indexes := retrieval.NewSQLiteIndexes(indexDir(cfg))
		defer indexes.Close()
		indexer := ingest.NewIndexer(retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel), indexes)

		failed := 0
		for _, path := range paths {
			printStep("Indexing %s...", path)
			n, err := indexer.IndexFile(ctx, domain, path)
			if err != nil {
				printError("%s: %v", path, err)
				failed++
				continue
			}
			printSuccess("%s: %d fragments", path, n)
		}

		if count, err := indexes.Count(domain); err == nil {
			printStatus("Domain "+domain, "%d fragments", count)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(paths))
		}
		return nil
	},
}

// --- train ---

var trainCmd = &cobra.Command{
	Use:   "train <domain>",
	Short: "Generate a training session for a domain",
	Long: `Generate a training session for a domain.

Examples:
  coach train mml
  coach train axe --level beginner --save`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("level")
		save, _ := cmd.Flags().GetBool("save")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Generating %s training for %s...", level, args[0])
		resp, err := client.post(cmd.Context(), "/api/v1/training", map[string]any{
			"domain": args[0],
			"level":  level,
			"save":   save,
		})
		if err != nil {
			return err
		}

		var result struct {
			Content  string `json:"content"`
			Artifact string `json:"artifact"`
			Meta     struct {
				Fragments  int   `json:"fragments"`
				Groups     int   `json:"groups"`
				DurationMs int64 `json:"duration_ms"`
			} `json:"meta"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Content)
		printStatus("Source", "%d fragments in %d groups, %.1fs",
			result.Meta.Fragments, result.Meta.Groups, float64(result.Meta.DurationMs)/1000)
		if result.Artifact != "" {
			printSuccess("Saved to %s", result.Artifact)
		}
		return nil
	},
}

func init() {
	trainCmd.Flags().String("level", "intermediate", "difficulty level: beginner, intermediate or advanced")
	trainCmd.Flags().Bool("save", false, "save the session as a markdown artifact")
}

// --- mentor ---

var mentorCmd = &cobra.Command{
	Use:   "mentor <question...>",
	Short: "Ask the mentor a technical question",
	Long: `Ask the mentor a technical question, answered from the indexed
documentation.

Examples:
  coach mentor how do I list active seizures?
  coach mentor --domain axe what does alarm class A1 mean?`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, _ := cmd.Flags().GetString("domain")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/v1/mentor", map[string]any{
			"query":  strings.Join(args, " "),
			"domain": domain,
		})
		if err != nil {
			return err
		}

		var result struct {
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Content)
		return nil
	},
}

func init() {
	mentorCmd.Flags().String("domain", "", "restrict retrieval to one domain")
}

// --- assess ---

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Generate or evaluate assessments",
}

var assessQuestionsCmd = &cobra.Command{
	Use:   "questions <topic>",
	Short: "Generate assessment questions for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/v1/assessment/questions", map[string]any{
			"topic": args[0],
			"count": count,
		})
		if err != nil {
			return err
		}

		var result struct {
			Questions []string `json:"questions"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Questions) == 0 {
			fmt.Println("No questions available for this topic.")
			return nil
		}
		for i, q := range result.Questions {
			fmt.Printf("%s %s\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), q)
		}
		return nil
	},
}

var assessEvaluateCmd = &cobra.Command{
	Use:   "evaluate <topic>",
	Short: "Evaluate your approach to a scenario",
	Long: `Evaluate your approach to a scenario. Pass the answer with
--scenario or pipe it on stdin:

  coach assess evaluate mml --scenario "I would check the alarm list first"
  cat answer.txt | coach assess evaluate mml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenario, _ := cmd.Flags().GetString("scenario")
		if scenario == "" {
			if info, err := os.Stdin.Stat(); err == nil && info.Mode()&os.ModeCharDevice == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading scenario from stdin: %w", err)
				}
				scenario = strings.TrimSpace(string(data))
			}
		}
		if scenario == "" {
			return fmt.Errorf("provide your approach with --scenario or on stdin")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/v1/assessment/evaluate", map[string]any{
			"topic":    args[0],
			"scenario": scenario,
		})
		if err != nil {
			return err
		}

		var result struct {
			Evaluation struct {
				Feedback       string   `json:"feedback"`
				Score          int      `json:"score"`
				Strengths      []string `json:"strengths"`
				Improvements   []string `json:"improvements"`
				TechnicalNotes string   `json:"technical_notes"`
			} `json:"evaluation"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		ev := result.Evaluation
		printStatus("Score", "%d/100", ev.Score)
		fmt.Println()
		fmt.Println(ev.Feedback)
		if len(ev.Strengths) > 0 {
			fmt.Println(colorize(colorGreen, "\nStrengths:"))
			for _, s := range ev.Strengths {
				fmt.Printf("  + %s\n", s)
			}
		}
		if len(ev.Improvements) > 0 {
			fmt.Println(colorize(colorYellow, "\nImprovements:"))
			for _, s := range ev.Improvements {
				fmt.Printf("  - %s\n", s)
			}
		}
		if ev.TechnicalNotes != "" {
			fmt.Println(colorize(colorCyan, "\nTechnical notes:"))
			fmt.Println("  " + ev.TechnicalNotes)
		}
		return nil
	},
}

func init() {
	assessQuestionsCmd.Flags().Int("count", 5, "maximum number of questions")
	assessEvaluateCmd.Flags().String("scenario", "", "your approach to the scenario")
	assessCmd.AddCommand(assessQuestionsCmd)
	assessCmd.AddCommand(assessEvaluateCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"show"},
	Short:   "List configuration values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		info, err := config.GetKey(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Println(info.Value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}
