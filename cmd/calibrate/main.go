// calibrate derives decision thresholds from offline score sets. It reads a
// JSON file with genuine and impostor similarity scores, sweeps FAR/FRR
// across the observed range, locates the equal error rate, and prints a
// profile snippet ready to paste into the policy profiles file.
//
// Usage:
//
//	go run ./cmd/calibrate -scores scores.json -target-far 0.01
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"voicegate/backend/internal/biometrics"
)

type scoreFile struct {
	Genuine  []float64 `json:"genuine"`
	Impostor []float64 `json:"impostor"`
}

func main() {
	scoresPath := flag.String("scores", "", "Path to JSON score file: {\"genuine\":[...],\"impostor\":[...]}")
	points := flag.Int("points", 101, "Number of thresholds in the sweep")
	targetFAR := flag.Float64("target-far", -1, "Target false-acceptance rate; negative skips the lookup")
	targetFRR := flag.Float64("target-frr", -1, "Target false-rejection rate; negative skips the lookup")
	profile := flag.String("profile", "calibrated", "Name used in the printed profile snippet")
	attempts := flag.Int("attempts", 1, "Report the rate of this many consecutive false accepts at the chosen threshold")
	printSweep := flag.Bool("sweep", false, "Print the full threshold sweep table")
	flag.Parse()

	if *scoresPath == "" {
		fmt.Fprintln(os.Stderr, "calibrate: -scores is required")
		flag.Usage()
		os.Exit(1)
	}

	raw, err := os.ReadFile(*scoresPath)
	if err != nil {
		fatalf("read scores: %v", err)
	}
	var scores scoreFile
	if err := json.Unmarshal(raw, &scores); err != nil {
		fatalf("parse scores: %v", err)
	}

	calc, err := biometrics.NewCalculator(scores.Genuine, scores.Impostor)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("scores: %d genuine, %d impostor\n", len(scores.Genuine), len(scores.Impostor))

	if *printSweep {
		sweep, err := calc.Sweep(*points)
		if err != nil {
			fatalf("sweep: %v", err)
		}
		fmt.Println("\nthreshold     FAR     FRR")
		for _, p := range sweep {
			fmt.Printf("%9.4f  %6.4f  %6.4f\n", p.Threshold, p.FAR, p.FRR)
		}
	}

	eer, err := calc.FindEER(*points)
	if err != nil {
		fatalf("eer: %v", err)
	}
	method := "closest swept point"
	if eer.Interpolated {
		method = "interpolated"
	}
	fmt.Printf("\nEER: %.4f at threshold %.4f (FAR %.4f, FRR %.4f, %s)\n",
		eer.EER, eer.Threshold, eer.FAR, eer.FRR, method)

	suggested := eer.Threshold
	chosenFAR := eer.FAR
	if *targetFAR >= 0 {
		p, err := calc.ThresholdAtFAR(*targetFAR, *points)
		if err != nil {
			fatalf("threshold at FAR: %v", err)
		}
		fmt.Printf("FAR target %.4f: threshold %.4f (FAR %.4f, FRR %.4f)\n",
			*targetFAR, p.Threshold, p.FAR, p.FRR)
		suggested = p.Threshold
		chosenFAR = p.FAR
	}
	if *targetFRR >= 0 {
		p, err := calc.ThresholdAtFRR(*targetFRR, *points)
		if err != nil {
			fatalf("threshold at FRR: %v", err)
		}
		fmt.Printf("FRR target %.4f: threshold %.4f (FAR %.4f, FRR %.4f)\n",
			*targetFRR, p.Threshold, p.FAR, p.FRR)
		suggested = p.Threshold
		chosenFAR = p.FAR
	}

	if *attempts > 1 {
		effective, err := biometrics.EffectiveRateWithRetries(chosenFAR, *attempts)
		if err != nil {
			fatalf("effective rate: %v", err)
		}
		fmt.Printf("FAR for %d consecutive accepts: %.6f\n", *attempts, effective)
	}

	// The remaining thresholds are starting points; antispoof and text
	// scores need their own score sets to calibrate.
	fmt.Printf(`
profiles:
  %s:
    fusion_strategy: weighted_fusion
    identity_threshold: %.4f
    antispoof_threshold: 0.5
    text_threshold: 0.7
    fusion_weights:
      identity: 0.6
      antispoof: 0.4
    fusion_threshold: %.4f
    max_failures_per_window: 5
`, *profile, suggested, suggested)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "calibrate: "+format+"\n", args...)
	os.Exit(1)
}
