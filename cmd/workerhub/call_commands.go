package main

import (
	"time"

	"github.com/spf13/cobra"

	"workerhub/internal/ipc"
)

func newCallCommand(ctx *commandContext) *cobra.Command {
	var scope string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "call <kind> <type> [json]",
		Short: "Send a correlated request to a worker and print its result",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(optionalArg(args, 2))
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				result, err := client.Call(ipc.CallRequest{
					Kind:      args[0],
					Type:      args[1],
					Payload:   payload,
					Scope:     scope,
					TimeoutMs: int(timeout / time.Millisecond),
				})
				if err != nil {
					return err
				}
				return writeRaw(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Scope attached to pushes caused by this request")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Call timeout (defaults to the daemon's call timeout)")
	return cmd
}

func newSendCommand(ctx *commandContext) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "send <kind> <type> [json]",
		Short: "Send an uncorrelated command to a worker",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(optionalArg(args, 2))
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				return client.Send(ipc.SendRequest{Kind: args[0], Type: args[1], Payload: payload, Scope: scope})
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Scope attached to pushes caused by this command")
	return cmd
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
