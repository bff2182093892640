// Command talisay-vision analyzes a photo of a Talisay (Terminalia catappa)
// fruit: verifies the subject, finds a reference object for scale, and
// estimates physical dimensions, weight and maturity. Results are printed
// as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"talisay-vision/internal/config"
	"talisay-vision/internal/logging"
	"talisay-vision/internal/pipeline"
	"talisay-vision/internal/version"
)

func main() {
	imagePath := flag.String("image", "", "Path to the fruit photo")
	configPath := flag.String("config", "", "Optional YAML config override file")
	logPath := flag.String("log", "", "Optional log file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("talisay-vision %s (%s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
		return
	}
	if *imagePath == "" {
		fmt.Println("Usage: talisay-vision -image <path> [-config <yaml>] [-log <file>]")
		os.Exit(1)
	}

	if *logPath != "" {
		if err := logging.Setup(*logPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer logging.Close()
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

	analyzer := pipeline.New(cfg, pipeline.Options{})
	defer analyzer.Close()

	report, err := analyzer.AnalyzeFile(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if !report.Verdict.Accepted {
		os.Exit(2)
	}
}
