// Command coincheck runs both reference-coin search strategies on an image
// and prints what each found. Useful for diagnosing calibration failures.
package main

import (
	"flag"
	"fmt"
	"os"

	"talisay-vision/internal/coin"
	"talisay-vision/internal/config"
	"talisay-vision/internal/imageio"
	"talisay-vision/internal/measure"
)

func main() {
	imagePath := flag.String("image", "", "Path to the photo")
	configPath := flag.String("config", "", "Optional YAML config override file")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: coincheck -image <path> [-config <yaml>]")
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

	fmt.Printf("Image: %s (%dx%d)\n", *imagePath, img.Cols(), img.Rows())
	fmt.Printf("Reference: %s (%.2f cm)\n\n", cfg.DefaultCoin, cfg.CoinDiameterCM())

	if cal, ok := measure.DetectArUco(img, cfg.References["aruco_4x4"].DiameterCM); ok {
		fmt.Printf("ArUco marker: FOUND  scale=%.2f px/cm  confidence=%.2f\n\n", cal.PixelsPerCM, cal.Confidence)
	} else {
		fmt.Println("ArUco marker: not found")
	}

	printDetection("Thorough", coin.DetectThorough(img, cfg))
	printDetection("Fast", coin.DetectFast(img, nil, cfg))
}

func printDetection(name string, det coin.Detection) {
	if !det.Detected {
		fmt.Printf("%s search: no coin\n", name)
		return
	}
	fmt.Printf("%s search: coin at (%.0f, %.0f) r=%.1fpx\n", name, det.Center.X, det.Center.Y, det.Radius)
	fmt.Printf("  score=%.3f  scale=%.2f px/cm  confidence=%.2f\n", det.Score, det.PixelsPerCM, det.Confidence)
}
