package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/channel-io/go-voicesync/pkg/drift"
	"github.com/channel-io/go-voicesync/pkg/pcm"
	"github.com/channel-io/go-voicesync/pkg/store"
	"github.com/channel-io/go-voicesync/pkg/timeline"
)

var (
	mixOutput    string
	mixFormat    string
	mixQuality   string
	mixDenoise   bool
	mixNormalize bool
	mixCorrect   bool
)

var mixCmd = &cobra.Command{
	Use:   "mix <session-dir>",
	Short: "Print the ffmpeg command that mixes a recorded session",
	Long: `Align every track of a recorded session on the earliest start and print
the ffmpeg command rendering the mix. Nothing is executed.

With --correct, tracks whose clock drift is significant are re-rendered
first and the corrected files are mixed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runMix,
}

func init() {
	mixCmd.Flags().StringVarP(&mixOutput, "output", "o", "", "output file (default <session-dir>/mix.<ext>)")
	mixCmd.Flags().StringVar(&mixFormat, "format", "", "output format: flac, mp3 or opus")
	mixCmd.Flags().StringVar(&mixQuality, "quality", "", "output quality: low, medium or high")
	mixCmd.Flags().BoolVar(&mixDenoise, "denoise", false, "add a noise reduction stage")
	mixCmd.Flags().BoolVar(&mixNormalize, "normalize", false, "let the mix stage normalize input levels")
	mixCmd.Flags().BoolVar(&mixCorrect, "correct", false, "correct clock drift before mixing")
}

func runMix(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mixFormat != "" {
		cfg.Mix.Format = mixFormat
	}
	if mixQuality != "" {
		cfg.Mix.Quality = mixQuality
	}
	cfg.Mix.Denoise = cfg.Mix.Denoise || mixDenoise
	cfg.Mix.Normalize = cfg.Mix.Normalize || mixNormalize

	opts, err := cfg.MixOptions()
	if err != nil {
		return err
	}

	dir, err := store.OpenDir(args[0])
	if err != nil {
		return err
	}
	tracks, err := dir.ReadTracks()
	if err != nil {
		return err
	}
	opts.Dir = dir.Root()

	if mixCorrect && len(tracks) > 0 {
		opts.Files = correctTracks(cmd, dir, tracks, cfg.SessionOptions().Format)
	}

	spec, err := timeline.Plan(tracks, opts)
	if err != nil {
		return fmt.Errorf("mix %s: %w", args[0], err)
	}

	output := mixOutput
	if output == "" {
		output = filepath.Join(dir.Root(), "mix."+spec.Format.Extension())
	}

	out := cmd.OutOrStdout()
	for i, in := range spec.Inputs {
		fmt.Fprintf(out, "# %-40s delay %5dms\n", filepath.Base(in.File), spec.Delays[i])
	}
	fmt.Fprintln(out, "ffmpeg "+quoteArgs(spec.Args(output)))
	return nil
}

func correctTracks(cmd *cobra.Command, dir *store.Dir, tracks []*store.TrackMetadata, format pcm.Format) map[string]string {
	inputs := make([]drift.TrackInput, len(tracks))
	for i, t := range tracks {
		inputs[i] = drift.TrackInput{Metadata: t}
	}

	renderer := drift.ResampleRenderer{Format: format}
	results := drift.NewCorrector(dir, renderer).AnalyzeAndCorrectSession(cmd.Context(), inputs)

	files := map[string]string{}
	for _, res := range results {
		if res.Corrected {
			files[res.Metadata.Name()] = res.File
		}
	}
	return files
}

func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " ;[]'\"") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
