package imagectl

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"imaged/pkg/types"
)

func defaultConfig() *Config {
	return &Config{
		Addr:    envStr("IMAGED_ADDR", "http://127.0.0.1:8080"),
		Timeout: time.Duration(envInt("IMAGECTL_TIMEOUT_SECONDS", 60)) * time.Second,
		LogLvl:  envStr("IMAGECTL_LOG_LEVEL", "info"),
	}
}

// BuildRootCmd constructs the Cobra command tree wired to the fn* actions.
func BuildRootCmd() *cobra.Command { return buildRootCmdWith(defaultConfig()) }

func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "imagectl",
		Short:         "Client for the imaged generation and fine-tuning API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags -> Config
	root.PersistentFlags().String("addr", cfg.Addr, "imaged server address (defaults IMAGED_ADDR or http://127.0.0.1:8080)")
	root.PersistentFlags().String("log-level", cfg.LogLvl, "Log level: debug|info|warn|error")
	root.PersistentFlags().Int("timeout", int(cfg.Timeout/time.Second), "Request timeout in seconds")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if f := cmd.InheritedFlags().Lookup("addr"); f != nil && f.Value.String() != "" {
			cfg.Addr = f.Value.String()
		}
		if f := cmd.InheritedFlags().Lookup("log-level"); f != nil && f.Value.String() != "" {
			cfg.LogLvl = f.Value.String()
		}
		if f := cmd.InheritedFlags().Lookup("timeout"); f != nil {
			var n int
			_, _ = fmt.Sscanf(f.Value.String(), "%d", &n)
			if n > 0 {
				cfg.Timeout = time.Duration(n) * time.Second
			}
		}
		SetLogLevel(cfg.LogLvl)
	}

	// models group
	modelsCmd := &cobra.Command{Use: "models", Short: "Manage registered models", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("models requires a subcommand: list|register")
	}}
	modelsList := &cobra.Command{Use: "list", Short: "List registered models", Example: "  imagectl models list", RunE: func(cmd *cobra.Command, args []string) error {
		return fnModelsList(cfg)
	}}
	modelsRegister := &cobra.Command{Use: "register <config-file>", Short: "Register a model from a config file", Example: "  imagectl models register sd-small.yaml", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		return fnModelsRegister(cfg, args[0], overwrite)
	}}
	modelsRegister.Flags().Bool("overwrite", false, "Replace an existing entry with the same id")
	modelsCmd.AddCommand(modelsList, modelsRegister)
	root.AddCommand(modelsCmd)

	// generate
	generateCmd := &cobra.Command{Use: "generate <prompt>", Short: "Generate images from a text prompt", Example: "  imagectl generate \"a cute dog\" --count 2 --seed 42 --style realistic", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		req := types.GenerateRequest{Prompt: args[0]}
		req.Model, _ = cmd.Flags().GetString("model")
		req.NegativePrompt, _ = cmd.Flags().GetString("negative")
		req.Style, _ = cmd.Flags().GetString("style")
		req.Count, _ = cmd.Flags().GetInt("count")
		if cmd.Flags().Changed("seed") {
			s, _ := cmd.Flags().GetInt64("seed")
			req.Seed = &s
		}
		return fnGenerate(cfg, req)
	}}
	generateCmd.Flags().String("model", "", "Model id (empty uses the server default)")
	generateCmd.Flags().String("negative", "", "Negative prompt")
	generateCmd.Flags().String("style", "", "Style keywords: realistic|artistic|professional|cinematic")
	generateCmd.Flags().Int("count", 1, "Number of images")
	generateCmd.Flags().Int64("seed", 0, "Base seed for reproducibility")
	root.AddCommand(generateCmd)

	// finetune group
	finetuneCmd := &cobra.Command{Use: "finetune", Short: "Manage fine-tuning runs", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("finetune requires a subcommand: start|status|cancel")
	}}
	finetuneStart := &cobra.Command{Use: "start", Short: "Start a fine-tuning run", Example: "  imagectl finetune start --model sd-small --manifest data/train.csv --epochs 10 --promote", RunE: func(cmd *cobra.Command, args []string) error {
		var req types.FinetuneRequest
		req.Model, _ = cmd.Flags().GetString("model")
		req.Manifest, _ = cmd.Flags().GetString("manifest")
		req.ResumeFrom, _ = cmd.Flags().GetString("resume-from")
		req.Promote, _ = cmd.Flags().GetBool("promote")
		req.Hyperparameters.Epochs, _ = cmd.Flags().GetInt("epochs")
		req.Hyperparameters.BatchSize, _ = cmd.Flags().GetInt("batch-size")
		req.Hyperparameters.LearningRate, _ = cmd.Flags().GetFloat64("learning-rate")
		req.Hyperparameters.CheckpointEvery, _ = cmd.Flags().GetInt("checkpoint-every")
		if req.Manifest == "" {
			return fmt.Errorf("--manifest is required")
		}
		wait, _ := cmd.Flags().GetBool("wait")
		return fnFinetuneStart(cfg, req, wait)
	}}
	finetuneStart.Flags().String("model", "", "Base model id")
	finetuneStart.Flags().String("manifest", "", "Dataset manifest path (server-side)")
	finetuneStart.Flags().String("resume-from", "", "Checkpoint directory to resume from")
	finetuneStart.Flags().Bool("promote", false, "Register the best checkpoint as a new model")
	finetuneStart.Flags().Bool("wait", false, "Block until the run reaches a terminal state")
	finetuneStart.Flags().Int("epochs", 0, "Epoch count (0 uses model defaults)")
	finetuneStart.Flags().Int("batch-size", 0, "Batch size (0 uses model defaults)")
	finetuneStart.Flags().Float64("learning-rate", 0, "Learning rate (0 uses model defaults)")
	finetuneStart.Flags().Int("checkpoint-every", 0, "Checkpoint cadence in epochs (0 uses model defaults)")
	finetuneStatus := &cobra.Command{Use: "status [run-id]", Short: "Show run status (all runs when id omitted)", Args: cobra.MaximumNArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		return fnFinetuneStatus(cfg, id)
	}}
	finetuneCancel := &cobra.Command{Use: "cancel <run-id>", Short: "Cancel a running fine-tune", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return fnFinetuneCancel(cfg, args[0])
	}}
	finetuneCmd.AddCommand(finetuneStart, finetuneStatus, finetuneCancel)
	root.AddCommand(finetuneCmd)

	// dataset group (local, no server required)
	datasetCmd := &cobra.Command{Use: "dataset", Short: "Local dataset utilities", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("dataset requires a subcommand: validate")
	}}
	datasetValidate := &cobra.Command{Use: "validate <manifest>", Short: "Validate a dataset manifest locally", Example: "  imagectl dataset validate data/train.csv", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		ratio, _ := cmd.Flags().GetFloat64("split-ratio")
		return fnDatasetValidate(args[0], ratio)
	}}
	datasetValidate.Flags().Float64("split-ratio", 0.8, "Train ratio used to preview the split")
	datasetCmd.AddCommand(datasetValidate)
	root.AddCommand(datasetCmd)

	return root
}

// MainWithArgs runs the CLI with explicit args and returns an exit code.
func MainWithArgs(args []string) int {
	root := BuildRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}

// Main returns an exit code (0 for success, non-zero on error) for use by cmd/imagectl.
func Main() int { return MainWithArgs(os.Args[1:]) }
