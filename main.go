package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"acoustic_drop/package/jackio"
	"acoustic_drop/package/shared"

	"github.com/rs/zerolog/log"
)

// Loopback check: play a file through the speaker while listening on the
// microphone of the same JACK client, then dump both tracks for inspection.
func main() {
	if len(os.Args) != 2 {
		fmt.Println("usage: acoustic_drop FILE")
		return
	}
	shared.InitLogger("loopback", shared.ProfileRuntime)
	cfg := shared.DefaultConfig()

	dev, err := jackio.Open("AcousticDrop", "system:capture_1", "system:playback_2")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer dev.Close()

	var dataOut []float64
	sink := dev.Sink()
	sink.Monitor = func(buf []float64) { dataOut = append(dataOut, buf...) }
	recorder := shared.NewRecordingSource(dev.Source())

	payload, meta, err := shared.NewIOHelper("").ReadFile(os.Args[1])
	if err != nil {
		fmt.Println(err)
		return
	}
	timeout := shared.EstimateDuration(cfg, meta) + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	listener := shared.NewListener(cfg, recorder)
	if err := listener.Start(ctx); err != nil {
		fmt.Println(err)
		return
	}
	tx, err := shared.NewTransmitter(cfg, sink).Send(ctx, payload, meta)
	if err != nil {
		listener.Stop()
		fmt.Println(err)
		return
	}
	if err := tx.Wait(); err != nil {
		log.Warn().Err(err).Msg("transmission")
	}
	res := <-listener.Done()
	fmt.Println("Result:", res.Status, "symbols:", res.Symbols)
	if res.Status == shared.StatusSuccess {
		path, err := shared.NewIOHelper("compare").WriteArtifact(res.Metadata, res.Payload)
		if err == nil {
			fmt.Println("Output saved to", path)
		}
	}

	if err := os.MkdirAll("track", 0o755); err != nil {
		fmt.Println(err)
		return
	}
	if err := shared.SaveTrackToFile("track/input_track.csv", recorder.Track()); err != nil {
		fmt.Println("Error saving track:", err)
	} else {
		fmt.Println("Output saved to track/input_track.csv")
	}
	if err := shared.SaveTrackToFile("track/output_track.csv", dataOut); err != nil {
		fmt.Println("Error saving track:", err)
	} else {
		fmt.Println("Output saved to track/output_track.csv")
	}
	fmt.Println("Done.")
}
