package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	resetOutputs bool
	resetLogs    bool
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove generated artifacts (annotated images, rotated logs)",
	Long:  "Clears files fogwatch produced. By default, it removes everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetOutputs && !resetLogs {
			resetOutputs = true
			resetLogs = true
		}

		reader := bufio.NewReader(cmd.InOrStdin())
		out := cmd.ErrOrStderr()

		if resetOutputs {
			files := outputArtifacts(Cfg.Server.Output)
			if len(files) == 0 {
				fmt.Fprintln(out, "✨ No annotated images to remove.")
			} else if resetYes || confirm(reader, out, fmt.Sprintf("⚠️  Delete %d annotated image(s)?", len(files))) {
				fmt.Fprintln(out, "🗑️  Clearing annotated images...")
				removeFiles(out, files)
			}
		}

		if resetLogs && Cfg.Log.File != "" {
			files := logArtifacts(Cfg.Log.File)
			if len(files) > 0 && (resetYes || confirm(reader, out, fmt.Sprintf("⚠️  Delete %d log file(s)?", len(files)))) {
				fmt.Fprintln(out, "🗑️  Clearing log files...")
				removeFiles(out, files)
			}
		}

		fmt.Fprintln(out, "✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetOutputs, "outputs", false, "Remove annotated images written by serve")
	resetCmd.Flags().BoolVar(&resetLogs, "logs", false, "Remove the log file and its rotated backups")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

// outputArtifacts finds the rendered image for output and its per-round siblings.
func outputArtifacts(output string) []string {
	ext := filepath.Ext(output)
	base := strings.TrimSuffix(output, ext)
	var files []string
	if _, err := os.Stat(output); err == nil {
		files = append(files, output)
	}
	rounds, _ := filepath.Glob(base + "_round*" + ext)
	return append(files, rounds...)
}

// logArtifacts finds the active log file and the backups lumberjack rotated out.
func logArtifacts(path string) []string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	var files []string
	if _, err := os.Stat(path); err == nil {
		files = append(files, path)
	}
	backups, _ := filepath.Glob(base + "-*" + ext + "*")
	return append(files, backups...)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFiles(w io.Writer, paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(w, "⚠️  Failed to remove %s: %v\n", path, err)
		}
	}
}
