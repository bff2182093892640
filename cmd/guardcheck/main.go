// Command guardcheck runs only the acceptance cascade on an image and
// prints the per-layer breakdown. Useful for tuning thresholds against a
// labeled photo set.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"talisay-vision/internal/config"
	"talisay-vision/internal/guard"
	"talisay-vision/internal/imageio"
)

func main() {
	imagePath := flag.String("image", "", "Path to the photo")
	configPath := flag.String("config", "", "Optional YAML config override file")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: guardcheck -image <path> [-config <yaml>]")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	img, err := imageio.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	defer img.Close()

	work, _ := imageio.DownscaleToWidth(img, cfg.MaxAnalysisWidth)
	defer work.Close()

	g := guard.New(cfg)
	defer g.Close()
	verdict := g.Check(work, nil)

	fmt.Printf("Image:   %s (%dx%d)\n", *imagePath, img.Cols(), img.Rows())
	fmt.Printf("Verdict: %s\n", verdict.KindLabel)
	fmt.Printf("Score:   %.3f\n", verdict.Score)
	fmt.Printf("Reason:  %s\n", verdict.Reason)
	if verdict.DominantColour != "" {
		fmt.Printf("Colour:  %s\n", verdict.DominantColour)
	}

	if len(verdict.Layers) > 0 {
		fmt.Println("\nLayers:")
		names := make([]string, 0, len(verdict.Layers))
		for name := range verdict.Layers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			layer := verdict.Layers[name]
			status := "FAIL"
			if layer.Passed {
				status = "pass"
			}
			fmt.Printf("  %-12s %s  score=%.3f\n", name, status, layer.Score)
		}
	}

	if !verdict.Accepted {
		os.Exit(2)
	}
}
