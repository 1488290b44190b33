package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/fogwatch/internal/config"
	"github.com/andresmejia3/fogwatch/internal/detect"
	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/andresmejia3/fogwatch/internal/utils"
	"github.com/andresmejia3/fogwatch/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one or more fog workers against a coordinator",
	Long: "Connects to the coordinator, answers its availability checks and, when accepting, " +
		"runs the configured detector over the assigned classes and reports the detections.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runWorkers(cmd.Context(), Cfg.Worker)
	},
}

func init() {
	workerCmd.Flags().StringP("addr", "a", "127.0.0.1:8095", "Coordinator address")
	workerCmd.Flags().IntP("count", "n", 1, "Number of worker connections to open from this process")
	workerCmd.Flags().String("availability", "always", "Availability policy: always, never, load, prompt")
	workerCmd.Flags().Float64("max-load", 4, "Highest 1-minute load average at which the load policy still accepts work")
	workerCmd.Flags().StringP("detector", "d", "simple", "Detector: simple, python, static")
	workerCmd.Flags().Float64("threshold", 60, "Luminance threshold for the simple detector (0-255)")
	workerCmd.Flags().Int("simple-class", 0, "Class id the simple detector reports")
	workerCmd.Flags().Float64("min-confidence", 0.25, "Drop detections scored below this value")
	workerCmd.Flags().String("script", "python/detector.py", "Model script for the python detector")
	workerCmd.Flags().String("model", "yolov8n.pt", "Model weights passed to the python detector")

	bindFlag("worker.addr", workerCmd.Flags().Lookup("addr"))
	bindFlag("worker.count", workerCmd.Flags().Lookup("count"))
	bindFlag("worker.availability", workerCmd.Flags().Lookup("availability"))
	bindFlag("worker.max_load", workerCmd.Flags().Lookup("max-load"))
	bindFlag("worker.detector", workerCmd.Flags().Lookup("detector"))
	bindFlag("worker.threshold", workerCmd.Flags().Lookup("threshold"))
	bindFlag("worker.simple_class", workerCmd.Flags().Lookup("simple-class"))
	bindFlag("worker.min_confidence", workerCmd.Flags().Lookup("min-confidence"))
	bindFlag("worker.script", workerCmd.Flags().Lookup("script"))
	bindFlag("worker.model", workerCmd.Flags().Lookup("model"))

	rootCmd.AddCommand(workerCmd)
}

func runWorkers(ctx context.Context, wc config.Worker) error {
	// 1. One policy is shared so a prompt is never asked twice at once
	policy, err := worker.ParsePolicy(wc.Availability, wc.MaxLoad, os.Stdin, os.Stderr, Log)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "🚀 Starting %d worker(s) against %s (detector: %s, availability: %s)\n",
		wc.Count, wc.Addr, wc.Detector, wc.Availability)

	// 2. Each connection gets its own detector instance
	var g errgroup.Group
	for i := 0; i < wc.Count; i++ {
		id := i
		g.Go(func() error {
			return runWorker(ctx, id, wc, policy)
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "\n🛑 Workers stopped.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "👋 Coordinator finished, all workers disconnected.")
	return nil
}

func runWorker(ctx context.Context, id int, wc config.Worker, policy worker.Policy) error {
	d, err := newDetector(ctx, id, wc)
	if err != nil {
		utils.ShowError(fmt.Sprintf("Worker %d could not start its detector", id), err, nil)
		return err
	}
	defer d.Close()

	opts := worker.Options{
		MaxFrameBytes: wc.MaxFrameBytes,
		MinConfidence: wc.MinConfidence,
		Logger:        Log,
	}
	client, err := worker.Dial(ctx, wc.Addr, id, d, policy, opts)
	if err != nil {
		utils.ShowError(fmt.Sprintf("Worker %d could not reach the coordinator", id), err, nil)
		return err
	}

	if err := client.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var crash *utils.SafeCommand
		if py, ok := d.(*detect.Python); ok {
			crash = py.Cmd
		}
		utils.ShowError(fmt.Sprintf("Worker %d lost its session", id), err, crash)
		return err
	}
	fmt.Fprintf(os.Stderr, "✅ Worker %d done after %d round(s)\n", id, client.Rounds())
	return nil
}

func newDetector(ctx context.Context, id int, wc config.Worker) (detect.Detector, error) {
	switch strings.ToLower(wc.Detector) {
	case "", "simple":
		return detect.NewSimple(types.ClassID(wc.SimpleClass), wc.Threshold), nil
	case "python":
		return detect.NewPython(ctx, id, detect.PythonConfig{
			Interpreter: wc.Python,
			Script:      wc.Script,
			Model:       wc.Model,
			ReadTimeout: wc.ReadTimeout,
		})
	case "static":
		return &detect.Static{Validate: true}, nil
	default:
		return nil, fmt.Errorf("unknown detector %q (use simple, python, static)", wc.Detector)
	}
}
