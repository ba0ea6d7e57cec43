package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/besmart/voice-agent/internal/observability"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "voicectl",
		Short:         "Operator tools for the voice agent service",
		Long:          "voicectl probes the latency of a running voice agent pipeline or the dialogue agent webhook, and renders one-shot speech with the Hamsa REST endpoint.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// a missing .env is fine; flags and the environment still apply
			_ = godotenv.Load()
			observability.InitLogger(logLevel, true)
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newPipelineCmd(),
		newAgentCmd(),
		newSpeakCmd(),
	)

	return rootCmd
}
