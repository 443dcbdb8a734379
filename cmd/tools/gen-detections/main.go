// Command gen-detections writes a synthetic detection recording for
// sequence-report: objects enter one after another, drift across the
// frame and are occasionally missed by the detector.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
	"github.com/banshee-data/sequence.report/internal/vision/replay"
	"gonum.org/v1/gonum/stat/distuv"
)

// scenario describes a generated recording.
type scenario struct {
	Labels  []string // Entry order
	Frames  int
	Gap     int     // Frames between consecutive entries
	Jitter  float64 // Box corner noise, pixels (standard deviation)
	Drop    float64 // Probability a visible object is missed in a frame
	Speed   float64 // Horizontal drift, pixels per frame
	Size    float64 // Box side, pixels
	Spacing float64 // Horizontal distance between entry points
	Seed    uint64
}

func (sc scenario) validate() error {
	if len(sc.Labels) == 0 {
		return fmt.Errorf("no labels")
	}
	if sc.Frames <= 0 || sc.Gap < 0 {
		return fmt.Errorf("frames must be positive and gap non-negative")
	}
	if sc.Drop < 0 || sc.Drop >= 1 {
		return fmt.Errorf("drop must be in [0, 1), got %v", sc.Drop)
	}
	if sc.Jitter < 0 {
		return fmt.Errorf("jitter must be non-negative, got %v", sc.Jitter)
	}
	return nil
}

// classes returns the distinct labels in first-use order.
func (sc scenario) classes() (l1detect.ClassNames, map[string]int) {
	var names l1detect.ClassNames
	index := make(map[string]int)
	for _, l := range sc.Labels {
		if _, ok := index[l]; !ok {
			index[l] = len(names)
			names = append(names, l)
		}
	}
	return names, index
}

// generate writes the header and every frame of sc to w.
func generate(w io.Writer, sc scenario) error {
	if err := sc.validate(); err != nil {
		return err
	}
	src := rand.NewPCG(sc.Seed, sc.Seed^0x9e3779b97f4a7c15)
	rnd := rand.New(src)
	noise := distuv.Normal{Mu: 0, Sigma: sc.Jitter, Src: src}
	score := distuv.Beta{Alpha: 18, Beta: 2, Src: src}

	names, index := sc.classes()
	enc := replay.NewWriter(w)
	if err := enc.WriteHeader(names); err != nil {
		return err
	}

	for f := 1; f <= sc.Frames; f++ {
		var raw l1detect.RawFrame
		for i, label := range sc.Labels {
			entry := 1 + i*sc.Gap
			if f < entry {
				continue
			}
			if sc.Drop > 0 && rnd.Float64() < sc.Drop {
				continue
			}
			x := sc.Spacing*float64(i) + sc.Speed*float64(f-entry)
			y := 100.0
			box := [4]float64{x, y, x + sc.Size, y + sc.Size}
			if sc.Jitter > 0 {
				for k := range box {
					box[k] += noise.Rand()
				}
			}
			raw.Boxes = append(raw.Boxes, box)
			raw.Scores = append(raw.Scores, score.Rand())
			raw.ClassIDs = append(raw.ClassIDs, index[label])
		}
		if err := enc.WriteFrame(f, raw); err != nil {
			return fmt.Errorf("write frame %d: %w", f, err)
		}
	}
	return nil
}

func main() {
	output := flag.String("o", "detections.jsonl", "output path (- for stdout)")
	order := flag.String("order", "cap,bottle,label", "comma-separated entry order")
	frames := flag.Int("n", 120, "number of frames")
	gap := flag.Int("gap", 20, "frames between entries")
	jitter := flag.Float64("jitter", 1.5, "box noise standard deviation (px)")
	drop := flag.Float64("drop", 0.05, "per-frame miss probability")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	sc := scenario{
		Frames:  *frames,
		Gap:     *gap,
		Jitter:  *jitter,
		Drop:    *drop,
		Speed:   2,
		Size:    40,
		Spacing: 150,
		Seed:    *seed,
	}
	for _, l := range strings.Split(*order, ",") {
		if l = strings.TrimSpace(l); l != "" {
			sc.Labels = append(sc.Labels, l)
		}
	}

	var w io.Writer = os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("create output: %v", err)
		}
		defer f.Close()
		w = f
	}
	if err := generate(w, sc); err != nil {
		log.Fatalf("generate: %v", err)
	}
	if *output != "-" {
		log.Printf("wrote %d frames to %s", sc.Frames, *output)
	}
}
