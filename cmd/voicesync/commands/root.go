package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/channel-io/go-voicesync/pkg/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "voicesync",
	Short: "Synchronized multi-track voice recorder",
	Long: `voicesync records RTP/Opus voice streams into one PCM track per
participant and aligns them on a common timeline for mixing.

Examples:
  # Record sessions streamed over websockets
  voicesync record --listen :8470

  # Print the ffmpeg command mixing a recorded session
  voicesync mix recordings/<session-id> -o meeting.flac`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides the config file")

	rootCmd.AddCommand(recordCmd, mixCmd, driftCmd, sessionsCmd)
}

// loadConfig reads the config file and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.ApplyLogLevel(); err != nil {
		return nil, err
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return cfg, nil
}
