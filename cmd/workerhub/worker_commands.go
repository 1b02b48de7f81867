package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"workerhub/internal/ipc"
	"workerhub/internal/supervisor"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Start and stop supervised workers",
	}

	workerCmd.AddCommand(&cobra.Command{
		Use:   "start <kind>",
		Short: "Start one worker kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkerStart(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.Worker.Kind, resp.Worker.State)
				return nil
			})
		},
	})

	workerCmd.AddCommand(&cobra.Command{
		Use:   "stop <kind>",
		Short: "Stop one worker kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkerStop(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.Worker.Kind, resp.Worker.State)
				return nil
			})
		},
	})

	workerCmd.AddCommand(&cobra.Command{
		Use:   "start-all",
		Short: "Start every worker kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StartAll()
				if resp != nil {
					printWorkers(cmd.OutOrStdout(), resp.Workers)
				}
				return err
			})
		},
	})

	workerCmd.AddCommand(&cobra.Command{
		Use:   "stop-all",
		Short: "Stop every worker kind in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StopAll()
				if resp != nil {
					printWorkers(cmd.OutOrStdout(), resp.Workers)
				}
				return err
			})
		},
	})

	workerCmd.AddCommand(newWorkerServeCommand())
	return workerCmd
}

func printWorkers(w io.Writer, workers []supervisor.Status) {
	rows := make([][]string, 0, len(workers))
	for _, st := range workers {
		rows = append(rows, []string{st.Kind, string(st.State), strconv.Itoa(st.Pending)})
	}
	fmt.Fprintln(w, renderTable("", []string{"Kind", "State", "Pending"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight}))
}
