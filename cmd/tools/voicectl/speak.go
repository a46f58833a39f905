package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	speechmodel "github.com/kisanmitra/voice-client/internal/model/speech"
	"github.com/kisanmitra/voice-client/internal/service/speech"
)

func newSpeakCmd(c *cli) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "speak <text...>",
		Short: "Synthesize text with the configured voice and save the audio",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.cfg.Speech.Enabled {
				return errors.New("speech is not configured: set SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
			}
			text := strings.Join(args, " ")

			ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
			defer cancel()

			synth := speech.NewVolcengineClient(c.cfg.Speech.Model(), c.logger.Named("tts"))
			sessionID := fmt.Sprintf("voicectl-%d", time.Now().UnixNano())
			audio, err := synth.Synthesize(ctx, &speechmodel.Utterance{
				SessionID: sessionID,
				Text:      text,
				Language:  speech.DetectLanguage(text),
				Rate:      1.0,
				Pitch:     1.0,
				Format:    "mp3",
			})
			if err != nil {
				return fmt.Errorf("speech synthesis failed: %w", err)
			}

			if out == "" {
				out = fmt.Sprintf("%s.%s", sessionID, audio.Format)
			}
			if err := os.WriteFile(out, audio.AudioData, 0o644); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "language=%s bytes=%d request=%s file=%s\n",
				audio.Language, len(audio.AudioData), audio.RequestID, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <session>.<format>)")
	return cmd
}
