package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/voice-agent-lab/internal/config"
	"github.com/voice-agent-lab/internal/logging"
)

type runFlags struct {
	trigger      string
	pause        time.Duration
	submitWord   string
	decoder      string
	decoderURL   string
	source       string
	input        string
	realtime     bool
	httpAddr     string
	print        bool
	drainTimeout time.Duration
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.trigger, "trigger", "", "trigger phrase")
	fs.DurationVar(&f.pause, "pause", 0, "silence that completes a prompt")
	fs.StringVar(&f.submitWord, "submit-word", "", "word that completes a prompt immediately")
	fs.StringVar(&f.decoder, "decoder", "", "speech decoder (see 'ears decoders')")
	fs.StringVar(&f.decoderURL, "decoder-url", "", "speech decoder endpoint")
	fs.StringVar(&f.source, "source", "", "audio source: stdin, file, websocket or discord")
	fs.StringVarP(&f.input, "input", "i", "", "audio file for the file source")
	fs.BoolVar(&f.realtime, "realtime", false, "pace file input at the sample rate")
	fs.StringVar(&f.httpAddr, "http-addr", "", "HTTP listen address")
	fs.BoolVar(&f.print, "print", true, "write each prompt to stdout as a JSON line")
	fs.DurationVar(&f.drainTimeout, "drain-timeout", 30*time.Second, "how long to wait for the last prompt after the input ends")
}

// apply copies the flags the user set onto cfg.
func (f *runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("trigger", func() { cfg.Engine.TriggerPhrase = f.trigger })
	set("pause", func() { cfg.Engine.PauseThreshold = f.pause })
	set("submit-word", func() { cfg.Engine.SubmitWord = f.submitWord })
	set("decoder", func() { cfg.Decoder.Name = f.decoder })
	set("decoder-url", func() { cfg.Decoder.URL = f.decoderURL })
	set("source", func() { cfg.Audio.Source = f.source })
	set("input", func() {
		cfg.Audio.Input = f.input
		if !fs.Changed("source") && f.input != "-" {
			cfg.Audio.Source = config.SourceFile
		}
	})
	set("realtime", func() { cfg.Audio.Realtime = f.realtime })
	set("http-addr", func() { cfg.HTTP.Addr = f.httpAddr })
}

// loadConfig layers the config file, dotenv, the environment and flags.
func loadConfig(fs *pflag.FlagSet, f *runFlags) (config.Config, error) {
	cfg, err := config.Load(cfgFile, envFiles...)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	f.apply(fs, &cfg)
	return cfg, cfg.Validate()
}

// RunCmd listens until interrupted or until a finite input is used up.
func RunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Listen for the trigger phrase and dispatch prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), f)
			if err != nil {
				return err
			}
			logging.InitWithLevel(cfg.LogLevel)
			defer func() { _ = logging.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := pipelineOptions{}
			if f.print {
				opts.out = cmd.OutOrStdout()
			}
			p, err := buildPipeline(ctx, cfg, opts)
			if err != nil {
				logging.Errorw("startup failed", "err", err)
				return err
			}
			defer p.Close()

			logging.Infow("ears running",
				"version", version,
				"source", cfg.Audio.Source,
				"decoder", cfg.Decoder.Name,
				"trigger", cfg.Engine.TriggerPhrase,
				"http_addr", cfg.HTTP.Addr)
			err = p.Run(ctx, f.drainTimeout)
			logging.Infow("shutting down", "err", err)
			return err
		},
	}
	f.register(cmd.Flags())
	return cmd
}
