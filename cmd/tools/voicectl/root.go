package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kisanmitra/voice-client/internal/config"
	"github.com/kisanmitra/voice-client/internal/i18n"
	"github.com/kisanmitra/voice-client/internal/logging"
	"github.com/kisanmitra/voice-client/internal/model/voice"
	"github.com/kisanmitra/voice-client/internal/service/conversation"
	"github.com/kisanmitra/voice-client/internal/service/recorder"
	"github.com/kisanmitra/voice-client/internal/service/transport"
)

// cli carries state shared by all subcommands.
type cli struct {
	backendURL string
	farmerID   string
	language   string
	timeout    time.Duration
	jsonOut    bool
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "voicectl",
		Short:         "Talk to the farmer voice assistant from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.backendURL, "backend", "", "assistant backend base URL (default from KISAN_BACKEND_URL)")
	flags.StringVar(&c.farmerID, "farmer", "", "farmer id sent with each request (default from KISAN_FARMER_ID)")
	flags.StringVar(&c.language, "lang", "", "interface language: hi or en (default from KISAN_DEFAULT_LANGUAGE)")
	flags.DurationVar(&c.timeout, "timeout", 60*time.Second, "overall time limit for the command")
	flags.BoolVar(&c.jsonOut, "json", false, "print the full session snapshot as JSON")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newAskCmd(c), newSendAudioCmd(c), newSpeakCmd(c))
	return root
}

func (c *cli) init() error {
	// .env is optional for the CLI
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	} else {
		cfg.Log.Level = "warn"
	}
	if c.backendURL != "" {
		cfg.Backend.BaseURL = c.backendURL
	}
	if c.farmerID != "" {
		cfg.Backend.FarmerID = c.farmerID
	}
	if c.language != "" {
		cfg.Locale.DefaultLanguage = c.language
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

// newSession opens a local conversation session against the configured backend.
func (c *cli) newSession(device recorder.Device) *conversation.Session {
	catalog := i18n.Default()
	backend := transport.NewClient(c.cfg.Backend.BaseURL,
		transport.WithCatalog(catalog),
		transport.WithLogger(c.logger.Named("transport")),
	)
	return conversation.New(backend, conversation.Options{
		FarmerID: c.cfg.Backend.FarmerID,
		Language: c.cfg.Locale.DefaultLanguage,
		Device:   device,
		Catalog:  catalog,
		Logger:   c.logger.Named("session"),
	})
}

// printReply writes the outcome of the last turn and reports an error turn as
// a command failure.
func (c *cli) printReply(w io.Writer, snap voice.Snapshot) error {
	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}
	}

	if len(snap.Messages) == 0 {
		return fmt.Errorf("no reply received")
	}
	last := snap.Messages[len(snap.Messages)-1]
	if c.jsonOut {
		if last.IsError {
			return fmt.Errorf("%s", last.Text)
		}
		return nil
	}

	for _, m := range snap.Messages {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp, m.Kind, m.Text)
		if len(m.ContextItems) > 0 {
			fmt.Fprintf(w, "    context: %v\n", m.ContextItems)
		}
		if m.CardData != nil {
			card, err := json.MarshalIndent(m.CardData, "    ", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "    card: %s\n", card)
		}
	}
	if last.IsError {
		return fmt.Errorf("%s", last.Text)
	}
	return nil
}
