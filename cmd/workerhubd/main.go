// Command workerhubd runs the workerhub daemon. The process transport re-runs
// this binary with `worker serve` to host one worker per child process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"workerhub/internal/config"
	"workerhub/internal/daemonrun"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:           "workerhubd",
		Short:         "WorkerHub daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	root.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	workerCmd := &cobra.Command{Use: "worker", Hidden: true}
	workerCmd.AddCommand(newServeCommand())
	root.AddCommand(workerCmd)
	return root
}

func newServeCommand() *cobra.Command {
	var kind, codec string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve one worker kind over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemonrun.RunWorker(cmd.Context(), kind, codec, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Worker kind to serve")
	cmd.Flags().StringVar(&codec, "codec", "json", "Frame codec (json or msgpack)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
