// Command gen-capture generates a sample .oclog capture artifact for testing
// replay tooling.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/braid-data/optocapture/internal/camera"
	"github.com/braid-data/optocapture/internal/caplog"
)

func main() {
	output := flag.String("o", "sample.oclog", "output path")
	frames := flag.Int("n", 100, "number of frames")
	width := flag.Int("width", 64, "frame width")
	height := flag.Int("height", 48, "frame height")
	fps := flag.Float64("fps", 500, "nominal framerate recorded in the header")
	flag.Parse()

	format := camera.Format{
		Width:       *width,
		Height:      *height,
		PixelFormat: camera.Mono8,
		FramerateHz: *fps,
	}

	w, err := caplog.NewWriter(*output, caplog.Header{
		SessionID:    uuid.NewString(),
		SessionSeq:   1,
		TriggerNanos: time.Now().UnixNano(),
		Format:       format,
		CreatedNanos: time.Now().UnixNano(),
	})
	if err != nil {
		log.Fatalf("failed to create artifact: %v", err)
	}

	src := camera.NewSimSource(format).Unpaced()
	for i := 0; i < *frames; i++ {
		f, err := src.Next(context.Background())
		if err != nil {
			log.Fatalf("frame source: %v", err)
		}
		if err := w.Append(f); err != nil {
			log.Fatalf("failed to append frame %d: %v", i, err)
		}
		if (i+1)%100 == 0 {
			log.Printf("%d/%d frames", i+1, *frames)
		}
	}
	if err := w.Close(); err != nil {
		log.Fatalf("failed to finalise artifact: %v", err)
	}
	log.Printf("created %s with %d frames", *output, *frames)
}
