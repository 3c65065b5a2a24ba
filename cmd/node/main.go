package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acoustic_drop/package/jackio"
	"acoustic_drop/package/shared"

	"github.com/rs/zerolog/log"
)

const usage = `usage:
  node send    [-config file] [-wav out.wav] FILE
  node receive [-config file] [-wav in.wav|in.csv] [-out dir] [-timeout d]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	shared.InitLogger("node", shared.ProfileRuntime)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "send":
		err = send(ctx, os.Args[2:])
	case "receive":
		err = receive(ctx, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Msg(os.Args[1] + " failed")
		os.Exit(1)
	}
}

func send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", "", "protocol config (TOML)")
	wavPath := fs.String("wav", "", "render to a WAV file instead of playing")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("send needs exactly one file")
	}
	cfg, err := shared.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	payload, meta, err := shared.NewIOHelper("").ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	var sink shared.Sink
	if *wavPath != "" {
		sink = &shared.WAVSink{Filename: *wavPath, Rate: cfg.SampleRate, Padding: 0.5}
	} else {
		dev, err := jackio.Open("AcousticDrop", "system:capture_1", "system:playback_2")
		if err != nil {
			return err
		}
		defer dev.Close()
		sink = dev.Sink()
	}

	log.Info().Str("name", meta.Name).Str("type", meta.Type).Int("size", meta.Size).
		Dur("estimated", shared.EstimateDuration(cfg, meta)).Msg("sending")
	tx, err := shared.NewTransmitter(cfg, sink).Send(ctx, payload, meta)
	if err != nil {
		return err
	}
	if err := tx.Wait(); err != nil {
		if errors.Is(err, shared.ErrCancelled) {
			log.Info().Msg("transmission cancelled")
			return nil
		}
		return err
	}
	return nil
}

func receive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	configPath := fs.String("config", "", "protocol config (TOML)")
	wavPath := fs.String("wav", "", "decode a recorded WAV or CSV track instead of listening")
	outDir := fs.String("out", ".", "directory for received files")
	timeout := fs.Duration("timeout", 0, "give up after this long (0 = never)")
	fs.Parse(args)

	cfg, err := shared.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	var src shared.Source
	if *wavPath != "" {
		src, err = shared.NewFileSource(*wavPath, 4096, cfg.SampleRate)
		if err != nil {
			return err
		}
	} else {
		dev, err := jackio.Open("AcousticDrop", "system:capture_1", "system:playback_2")
		if err != nil {
			return err
		}
		defer dev.Close()
		src = dev.Source()
	}

	var last time.Time
	res := shared.Listen(ctx, cfg, src, func(s shared.Snapshot) {
		if time.Since(last) < 500*time.Millisecond && s.Result == nil {
			return
		}
		last = time.Now()
		ev := log.Info().Str("phase", s.Label()).Float64("signal", s.Signal).Int("symbols", s.Symbols)
		if s.Progress >= 0 {
			ev = ev.Float64("progress", s.Progress)
		}
		ev.Msg("status")
	})

	switch res.Status {
	case shared.StatusSuccess:
		path, err := shared.NewIOHelper(*outDir).WriteArtifact(res.Metadata, res.Payload)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case shared.StatusCancelled:
		log.Info().Msg("listening stopped")
		return nil
	default:
		return fmt.Errorf("%s: %w", res.Status, res.Err)
	}
}
