package cmd

import (
	"fmt"
	"os"

	"github.com/dkeye/StudyRoom/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var flagVerbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roomctl",
	Short: "Headless StudyRoom client",
	Long: `roomctl joins a StudyRoom relay as a regular participant: presence, typing,
the shared canvas and WebRTC calls, with media read as RTP from local UDP ports.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	},
}

func init() {
	config.RegisterClientFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(joinCmd, roomsCmd, membersCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.ClientConfig, error) {
	return config.LoadClient(cmd.Flags())
}
