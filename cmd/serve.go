package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/fogwatch/internal/coordinator"
	"github.com/andresmejia3/fogwatch/internal/protocol"
	"github.com/andresmejia3/fogwatch/internal/render"
	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/andresmejia3/fogwatch/internal/utils"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var serveImage string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Coordinate a detection round across connected workers",
	Long: "Waits for the configured quorum of workers, polls them for availability, splits the class " +
		"catalog among the volunteers, collects their detections and renders one annotated image.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context(), serveImage)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveImage, "image", "i", "", "Path to the image every worker analyses")
	serveCmd.Flags().StringP("addr", "a", "127.0.0.1:8095", "Address to listen on for workers")
	serveCmd.Flags().IntP("quorum", "q", 4, "Number of workers to wait for before the first round")
	serveCmd.Flags().StringP("rounds", "r", "once", "Rounds to run: once, prompt, or a count")
	serveCmd.Flags().StringP("output", "o", "detected_objects_image.jpg", "Where to save the annotated image")
	serveCmd.Flags().Duration("poll-timeout", 10*time.Second, "How long a worker may take to answer the availability check")
	serveCmd.Flags().Duration("session-timeout", 60*time.Second, "How long a worker may take to return its detections")
	serveCmd.Flags().Duration("accept-timeout", 0, "Give up if the quorum is not reached in time (0 waits forever)")
	serveCmd.Flags().Uint64("seed", 0, "Shuffle seed for class assignment (0 picks a random one)")

	bindFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	bindFlag("server.quorum", serveCmd.Flags().Lookup("quorum"))
	bindFlag("server.rounds", serveCmd.Flags().Lookup("rounds"))
	bindFlag("server.output", serveCmd.Flags().Lookup("output"))
	bindFlag("server.poll_timeout", serveCmd.Flags().Lookup("poll-timeout"))
	bindFlag("server.session_timeout", serveCmd.Flags().Lookup("session-timeout"))
	bindFlag("server.accept_timeout", serveCmd.Flags().Lookup("accept-timeout"))
	bindFlag("server.seed", serveCmd.Flags().Lookup("seed"))

	serveCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(serveCmd)
}

// runServe orchestrates the coordinator: image load, quorum, rounds, rendering.
func runServe(ctx context.Context, imagePath string) error {
	// 1. Load the canonical image once; sessions share it read-only
	image, err := utils.LoadImage(imagePath)
	if err != nil {
		utils.ShowError("Failed to read input image", err, nil)
		return err
	}

	trigger, err := coordinator.ParseTrigger(Cfg.Server.Rounds, os.Stdin, os.Stderr)
	if err != nil {
		return err
	}

	// 2. Listen for workers
	ln, err := net.Listen("tcp", Cfg.Server.Addr)
	if err != nil {
		utils.ShowError("Failed to listen for workers", err, nil)
		return err
	}

	catalog := Cfg.Catalog()
	progress := newRoundProgress(os.Stderr)
	srv := coordinator.New(ln, coordinator.Options{
		Quorum:         Cfg.Server.Quorum,
		Classes:        catalog.IDs(),
		AcceptTimeout:  Cfg.Server.AcceptTimeout,
		PollTimeout:    Cfg.Server.PollTimeout,
		SessionTimeout: Cfg.Server.SessionTimeout,
		MaxFrameBytes:  Cfg.Server.MaxFrameBytes,
		Shuffle:        shufflerFor(Cfg.Server.Seed),
		Logger:         Log,
		OnRoundStart:   progress.start,
		OnSessionDone:  progress.done,
	})
	defer srv.Close()

	fmt.Fprintf(os.Stderr, "📡 Waiting for %d workers on %s...\n", Cfg.Server.Quorum, srv.Addr())
	if err := srv.AcceptQuorum(ctx); err != nil {
		utils.ShowError("Workers did not connect", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "🤝 %d workers connected\n", Cfg.Server.Quorum)

	// 3. Run rounds and render each result
	renderer := render.New(catalog)
	rounds := 0
	err = srv.Serve(ctx, image, trigger, func(res *coordinator.RoundResult) error {
		rounds++
		progress.finish()

		fmt.Fprintln(os.Stderr, renderSummary(res, catalog))
		if ferr := res.Err(); ferr != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %d session(s) failed; their classes are reported empty\n", len(res.Failures))
		}

		out := roundOutputPath(Cfg.Server.Output, rounds)
		path, err := renderer.Render(image, res.Detections, out)
		if err != nil {
			utils.ShowError("Failed to render annotated image", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🖼️  Annotated image saved to %s\n", path)
		return nil
	})

	switch {
	case errors.Is(err, protocol.ErrNoAvailableWorkers):
		fmt.Fprintln(os.Stderr, "😴 No workers are available.")
		return err
	case err != nil:
		if ctx.Err() != nil {
			return nil
		}
		utils.ShowError("Round failed", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "🏁 Done. Completed %d round(s).\n", rounds)
	return nil
}

func shufflerFor(seed uint64) coordinator.Shuffler {
	if seed == 0 {
		return coordinator.RandomShuffler(nil)
	}
	return coordinator.RandomShuffler(rand.New(rand.NewPCG(seed, seed)))
}

// roundOutputPath keeps the first round at path and suffixes later ones.
func roundOutputPath(path string, round int) string {
	if round <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_round" + strconv.Itoa(round) + ext
}

// renderSummary lists every class of the round with its owner and outcome.
func renderSummary(res *coordinator.RoundResult, catalog types.Catalog) string {
	owner := make(map[types.ClassID]string)
	for worker, classes := range res.Assignments {
		for _, id := range classes {
			owner[id] = worker
		}
	}
	failed := make(map[string]error)
	for _, f := range res.Failures {
		failed[f.Worker] = f.Err
	}
	warned := make(map[types.ClassID]string)
	for _, w := range res.Warnings {
		warned[w.Class] = w.Reason
	}

	rows := make([][]string, 0, len(res.Detections))
	for _, id := range res.Detections.Classes() {
		status := "ok"
		if err, ok := failed[owner[id]]; ok {
			status = "failed (" + protocol.Kind(err) + ")"
		} else if reason, ok := warned[id]; ok {
			status = "warning: " + reason
		}
		rows = append(rows, []string{
			strconv.Itoa(int(id)),
			catalog.Name(id),
			owner[id],
			strconv.Itoa(len(res.Detections[id])),
			status,
		})
	}
	return renderTable([]string{"CLASS", "NAME", "WORKER", "DETECTIONS", "STATUS"}, rows, 0, 3)
}

// roundProgress drives one progress bar per round from the session callbacks.
type roundProgress struct {
	mu      sync.Mutex
	out     io.Writer
	visible bool
	bar     *progressbar.ProgressBar
}

func newRoundProgress(out io.Writer) *roundProgress {
	visible := false
	if f, ok := out.(*os.File); ok {
		visible = isatty.IsTerminal(f.Fd())
	}
	return &roundProgress{out: out, visible: visible}
}

func (p *roundProgress) start(roundID string, sessions int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar = progressbar.NewOptions(sessions,
		progressbar.OptionSetDescription("🔍 Round "+roundID[:8]),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(p.visible),
	)
}

func (p *roundProgress) done(worker string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Add(1)
	}
}

func (p *roundProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		fmt.Fprintln(p.out)
		p.bar = nil
	}
}
