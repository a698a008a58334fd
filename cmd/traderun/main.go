package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/domain"
	"github.com/sawpanic/traderun/internal/ops"
)

const (
	appName = "traderun"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Attention-gated trade decision pipeline",
		Version: version,
		Long: `traderun drives trade proposals through a durable decision pipeline:
evidence verification, an attention/liquidity gate, drawdown simulation,
Thompson-sampled sizing and style-selected execution.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (defaults apply when empty)")

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Run one proposal through the pipeline",
		Long:  "Reads a proposal file, runs the full decision pipeline and prints the terminal result as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			proposalPath, _ := cmd.Flags().GetString("proposal")
			pipelineID, _ := cmd.Flags().GetString("pipeline-id")
			return runSubmit(cmd.Context(), configPath, proposalPath, pipelineID)
		},
	}
	submitCmd.Flags().String("proposal", "", "Path to the proposal file (JSON or YAML)")
	submitCmd.Flags().String("pipeline-id", "", "Pipeline instance id; reusing an id resumes that instance")
	submitCmd.MarkFlagRequired("proposal")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ops endpoints",
		Long:  "Starts the health/metrics/attribution HTTP listener and blocks until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	rootCmd.AddCommand(submitCmd, serveCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setLogLevel(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func runSubmit(ctx context.Context, configPath, proposalPath, pipelineID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	setLogLevel(cfg)

	proposal, err := readProposal(proposalPath)
	if err != nil {
		return err
	}
	if pipelineID == "" {
		pipelineID = fmt.Sprintf("pipe-%s", uuid.NewString()[:8])
	}

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Orchestrator.Run(ctx, pipelineID, proposal)
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", pipelineID, err)
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	setLogLevel(cfg)

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := ops.NewServer(cfg.Ops.ListenAddr, app.Repo)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func readProposal(path string) (*domain.Proposal, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proposal: %w", err)
	}
	var p domain.Proposal
	if jerr := json.Unmarshal(b, &p); jerr == nil {
		return &p, nil
	}
	if yerr := unmarshalYAML(b, &p); yerr != nil {
		return nil, fmt.Errorf("parse proposal: %w", yerr)
	}
	return &p, nil
}
