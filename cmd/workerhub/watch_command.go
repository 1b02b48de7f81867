package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"workerhub/internal/ipc"
	"workerhub/internal/session"
)

const watchPollWaitMs = 10000

type channelSpec struct {
	channel string
	scope   string
}

// parseChannelSpec splits "channel[:scope]". Channel names never contain a
// colon, so everything after the first one is the scope.
func parseChannelSpec(value string) (channelSpec, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return channelSpec{}, fmt.Errorf("empty channel")
	}
	channel, scope, _ := strings.Cut(value, ":")
	return channelSpec{channel: channel, scope: scope}, nil
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var channels []string
	var primary bool
	var asJSON bool
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open a display session and print pushes as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := make([]channelSpec, 0, len(channels))
			for _, value := range channels {
				spec, err := parseChannelSpec(value)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return ctx.withClient(func(client *ipc.Client) error {
				return watch(runCtx, client, cmd.OutOrStdout(), specs, primary, asJSON, count)
			})
		},
	}
	cmd.Flags().StringArrayVar(&channels, "channel", nil, "Channel to subscribe, optionally channel:scope (repeatable)")
	cmd.Flags().BoolVar(&primary, "primary", false, "Become the primary session and receive toasts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print each message as a JSON line")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many messages (0 runs until interrupted)")
	return cmd
}

func watch(ctx context.Context, client *ipc.Client, out io.Writer, specs []channelSpec, primary, asJSON bool, count int) error {
	sess, err := client.OpenSession("watch", primary)
	if err != nil {
		return err
	}
	defer client.CloseSession(sess.ID) //nolint:errcheck

	for _, spec := range specs {
		if err := client.Subscribe(sess.ID, spec.channel, spec.scope); err != nil {
			return fmt.Errorf("subscribe %s: %w", spec.channel, err)
		}
	}
	if !asJSON {
		role := "secondary"
		if sess.Primary {
			role = "primary"
		}
		fmt.Fprintf(out, "watching as %s session %s\n", role, sess.ID)
	}

	var since uint64
	seen := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		resp, err := client.Poll(ipc.PollRequest{Session: sess.ID, Since: since, WaitMs: watchPollWaitMs})
		if err != nil {
			return err
		}
		for _, msg := range resp.Messages {
			if err := printMessage(out, msg, asJSON); err != nil {
				return err
			}
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		}
		since = resp.Next
	}
}

func printMessage(w io.Writer, msg session.Message, asJSON bool) error {
	if asJSON {
		line, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(line))
		return err
	}
	_, err := fmt.Fprintf(w, "%s %-20s %s\n", msg.Timestamp.Format("15:04:05.000"), msg.Channel, string(msg.Payload))
	return err
}
