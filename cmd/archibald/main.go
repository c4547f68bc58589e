package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	envload "github.com/H4tholdir/archibaldblackant-sub005/internal"
)

var rootCmd = &cobra.Command{
	Use:   "archibald",
	Short: "Unattended sync agent for the Archibald order system",
	Long: `archibald keeps a local store synchronized with the remote Archibald
order system by driving its UI session: checkpointed resumable syncs for
customers, products, prices and orders, with priority handover to
interactive operations.`,
}

var (
	rootUserID    string
	rootConnector string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootUserID, "user", "", "logical user id, overrides ARCHIBALD_USER_ID")
	rootCmd.PersistentFlags().StringVar(&rootConnector, "connector", "", "automation connector, overrides ARCHIBALD_CONNECTOR")
	rootCmd.AddCommand(
		newRunCmd(),
		newSyncCmd(),
		newCheckpointsCmd(),
		newTimeoutsCmd(),
	)
	_ = envload.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("archibald command failed")
	}
}
