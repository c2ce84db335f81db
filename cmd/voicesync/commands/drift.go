package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/channel-io/go-voicesync/pkg/drift"
	"github.com/channel-io/go-voicesync/pkg/store"
	"github.com/channel-io/go-voicesync/pkg/timeline"
)

var driftCmd = &cobra.Command{
	Use:   "drift <session-dir>",
	Short: "Report clock drift of a recorded session's tracks",
	Long: `Estimate each track's clock drift from its recorded length against the
wall-clock span between its first packet and its stop. Nothing is modified.`,
	Args: cobra.ExactArgs(1),
	RunE: runDrift,
}

func runDrift(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
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
	if len(tracks) == 0 {
		return fmt.Errorf("drift %s: %w", args[0], timeline.ErrNoTracksFound)
	}

	corrector := drift.NewCorrector(dir, nil)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRACK\tDRIFT MS/S\tCONFIDENCE\tFACTOR\tCORRECT")
	for _, t := range tracks {
		info, err := corrector.Analyze(drift.TrackInput{Metadata: t})
		if errors.Is(err, drift.ErrTrackAnalysis) {
			fmt.Fprintf(w, "%s\t-\t-\t-\t%v\n", t.Name(), err)
			continue
		}
		correct := info.Significant() && info.Confidence > drift.BatchConfidence
		fmt.Fprintf(w, "%s\t%+.2f\t%.2f\t%.4f\t%t\n",
			t.Name(), info.DriftMs, info.Confidence, drift.StretchFactor(info.DriftMs), correct)
	}
	return w.Flush()
}
