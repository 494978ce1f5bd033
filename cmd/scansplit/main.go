package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"scansplit/internal/config"
	"scansplit/internal/llm"
	"scansplit/internal/logging"
	"scansplit/internal/pipeline"
	"scansplit/internal/types"
)

var (
	// Global flags
	verbose   bool
	apiKey    string
	workspace string
	outputDir string
	timeout   time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "scansplit",
	Short: "scansplit - strategy boundary splitter for scanner source files",
	Long: `scansplit takes one Python source file containing multiple concatenated
trading-scanner strategies and splits it into isolated, independently
executable strategy modules with correctly scoped parameters.

Detection runs three independent strategies (AST, pattern, semantic) and
merges their votes; each resulting boundary gets its own parameter
namespace, a generated module, and a validation verdict.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// splitCmd runs the full pipeline and writes the generated modules.
var splitCmd = &cobra.Command{
	Use:   "split [file.py]",
	Short: "Split a scanner file into isolated strategy modules",
	Long: `Runs the full pipeline over one source file:
  1. Detection: structural, pattern, and semantic boundary votes
  2. Consensus: weighted merge into disjoint boundaries + shared region
  3. Per boundary: extraction, namespace isolation, template, validation

Writes one .py module per boundary plus result.json to the output
directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runSplit,
}

// detectCmd runs detection + consensus only and prints the boundary table.
var detectCmd = &cobra.Command{
	Use:   "detect [file.py]",
	Short: "Detect strategy boundaries without generating modules",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key for semantic detection (or GEMINI_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory (config + logs)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Override session timeout (0 = config default)")

	splitCmd.Flags().StringVarP(&outputDir, "output", "o", "strategies", "Output directory for generated modules")

	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(detectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads config, applies flag overrides, and builds the pipeline.
func setup() (*pipeline.Pipeline, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if timeout > 0 {
		cfg.Pipeline.SessionTimeout = timeout
	}

	client, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		// Semantic detection is optional; the other strategies carry on.
		logger.Warn("semantic detection disabled", zap.Error(err))
		client = nil
	}

	return pipeline.New(cfg, client), nil
}

// sessionContext returns a ctx cancelled on SIGINT/SIGTERM.
func sessionContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func loadSource(path string) (*types.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return types.NewSource(filepath.Base(path), string(data)), nil
}

func runSplit(cmd *cobra.Command, args []string) error {
	pipe, err := setup()
	if err != nil {
		return err
	}

	src, err := loadSource(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := sessionContext()
	defer cancel()

	logger.Info("starting split",
		zap.String("file", src.Filename),
		zap.Int("bytes", src.Len()),
		zap.Int("lines", src.LineCount()))

	result, err := pipe.Run(ctx, src)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	if err := writeResult(result); err != nil {
		return err
	}

	printSummary(result)
	return nil
}

// writeResult persists one .py module per template plus result.json.
func writeResult(result *types.PipelineResult) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	for _, tmpl := range result.Templates {
		path := filepath.Join(outputDir, tmpl.BoundaryName+".py")
		if err := os.WriteFile(path, []byte(tmpl.SourceText), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		logger.Info("wrote module",
			zap.String("path", path),
			zap.String("status", string(tmpl.Status)))
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	path := filepath.Join(outputDir, "result.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func printSummary(result *types.PipelineResult) {
	strategies := 0
	for _, b := range result.Boundaries {
		if !b.Shared {
			strategies++
		}
	}

	fmt.Printf("\nSession %s: %s\n", result.SessionID, result.Filename)
	fmt.Printf("  Boundaries:      %d strategy, %d shared\n", strategies, len(result.Boundaries)-strategies)
	fmt.Printf("  Templates:       %d written to %s\n", len(result.Templates), outputDir)
	fmt.Printf("  Isolation score: %.3f\n", result.SessionIsolationScore)
	if result.NeedsReview {
		fmt.Println("  NEEDS REVIEW: at least one namespace fell below the isolation threshold")
	}
	for _, tmpl := range result.Templates {
		marker := "ok"
		if tmpl.Status != types.ValidationPassed {
			marker = string(tmpl.Status)
		}
		fmt.Printf("    - %-30s %s\n", tmpl.BoundaryName+".py", marker)
	}
	if len(result.Diagnostics) > 0 {
		fmt.Printf("  Diagnostics (%d):\n", len(result.Diagnostics))
		for _, d := range result.Diagnostics {
			fmt.Printf("    - %s\n", d)
		}
	}
	fmt.Printf("  Elapsed: %v\n", result.Elapsed.Round(time.Millisecond))
}

func runDetect(cmd *cobra.Command, args []string) error {
	pipe, err := setup()
	if err != nil {
		return err
	}

	src, err := loadSource(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := sessionContext()
	defer cancel()

	boundaries, diags, err := pipe.DetectOnly(ctx, src)
	if err != nil {
		return fmt.Errorf("detection: %w", err)
	}

	fmt.Printf("%s: %d boundaries\n\n", src.Filename, len(boundaries))
	fmt.Printf("%-28s %-10s %-10s %8s %8s  %s\n", "NAME", "METHOD", "CONF", "START", "END", "EVIDENCE")
	for _, b := range boundaries {
		kind := string(b.Method)
		if b.Shared {
			kind = "shared"
		}
		evidence := ""
		if len(b.Evidence) > 0 {
			evidence = b.Evidence[0]
		}
		fmt.Printf("%-28s %-10s %-10.2f %8d %8d  %s\n",
			b.Name, kind, b.Confidence, b.StartOffset, b.EndOffset, evidence)
	}
	for _, d := range diags {
		fmt.Printf("\ndiagnostic: %s\n", d)
	}
	return nil
}
