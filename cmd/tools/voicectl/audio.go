package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kisanmitra/voice-client/internal/service/recorder"
)

func newSendAudioCmd(c *cli) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "send-audio <file>",
		Short: "Send a recorded audio file as a voice turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open audio file: %w", err)
			}
			defer file.Close()

			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
			}
			if format == "" {
				format = c.cfg.Backend.AudioFormat
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
			defer cancel()

			device := &recorder.ReaderDevice{Reader: file, AudioType: format}
			session := c.newSession(device)
			defer session.Close()

			if err := session.StartRecording(ctx); err != nil {
				return err
			}
			// stopping early would cut the file short
			select {
			case <-device.Drained():
			case <-ctx.Done():
				session.CancelRecording()
				return fmt.Errorf("audio file was not read in time: %w", ctx.Err())
			}
			if err := session.StopRecording(); err != nil {
				return err
			}
			if err := waitSession(ctx, session.Wait); err != nil {
				return err
			}
			return c.printReply(cmd.OutOrStdout(), session.Snapshot())
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "audio container format (default from the file extension)")
	return cmd
}
