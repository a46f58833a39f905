package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question...>",
		Short: "Send a typed question and print the assistant's reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
			defer cancel()

			session := c.newSession(nil)
			defer session.Close()

			if err := session.SubmitText(strings.Join(args, " ")); err != nil {
				return err
			}
			if err := waitSession(ctx, session.Wait); err != nil {
				return err
			}
			return c.printReply(cmd.OutOrStdout(), session.Snapshot())
		},
	}
}

// waitSession blocks until wait returns or ctx is done.
func waitSession(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
