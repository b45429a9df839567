// Command capture-info prints the header of a .oclog capture artifact and
// checks that its frame sequence is contiguous by acquisition index.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/braid-data/optocapture/internal/caplog"
)

func main() {
	verify := flag.Bool("verify", false, "read every frame and check index contiguity")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: capture-info [-verify] <artifact.oclog>")
	}

	r, err := caplog.NewReplayer(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to open artifact: %v", err)
	}
	defer r.Close()

	h := r.Header()
	fmt.Printf("session:      %s (trigger #%d)\n", h.SessionID, h.SessionSeq)
	fmt.Printf("trigger time: %s\n", time.Unix(0, h.TriggerNanos).Format(time.RFC3339Nano))
	if h.ObjectID != "" {
		fmt.Printf("object:       %s\n", h.ObjectID)
	}
	fmt.Printf("format:       %dx%d %s @ %g fps\n", h.Format.Width, h.Format.Height, h.Format.PixelFormat, h.Format.FramerateHz)
	fmt.Printf("frames:       %d total (%d pre-trigger)\n", h.TotalFrames, h.PreFrames)
	if h.EndNanos > h.StartNanos {
		fmt.Printf("span:         %v\n", time.Duration(h.EndNanos-h.StartNanos))
	}

	if !*verify {
		return
	}

	var prev uint64
	var count uint64
	for {
		f, err := r.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("read failed at frame %d: %v", count, err)
		}
		if count > 0 && f.Index != prev+1 {
			log.Fatalf("gap in acquisition indices: %d followed by %d", prev, f.Index)
		}
		prev = f.Index
		count++
	}
	if count != h.TotalFrames {
		log.Fatalf("header claims %d frames, read %d", h.TotalFrames, count)
	}
	fmt.Printf("verified:     %d contiguous frames\n", count)
}
