package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/channel-io/go-voicesync/pkg/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and inspect indexed sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(func(index *store.Index) error {
			sessions, err := index.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHANNEL\tSTARTED\tPARTICIPANTS")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
					s.SessionID, s.ChannelName, s.StartTime.Format(time.RFC3339), len(s.Participants))
			}
			return w.Flush()
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(func(index *store.Index) error {
			meta, err := index.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(meta)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

var sessionsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a session from the index; its recordings are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(func(index *store.Index) error {
			if _, err := index.Get(cmd.Context(), args[0]); err != nil {
				return err
			}
			return index.Delete(cmd.Context(), args[0])
		})
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsRemoveCmd)
}

func withIndex(fn func(*store.Index) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	index, err := store.OpenIndex(store.IndexOptions{Dir: cfg.IndexPath()})
	if err != nil {
		return err
	}
	defer index.Close()
	return fn(index)
}
