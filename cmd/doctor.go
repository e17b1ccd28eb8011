// File: cmd/doctor.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/drover/internal/observability"
	"github.com/xkilldash9x/drover/pkg/drover"
)

// doctorCmd launches the configured driver, performs the initialization
// round trip, and reports protocol health. It is the end-to-end smoke test
// for a driver installation.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Launch the driver and verify the protocol handshake.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger().Named("doctor")

		path, err := drover.ResolveDriverPath(appConfig.Driver())
		if err != nil {
			return err
		}
		logger.Info("Driver executable located.", zap.String("path", path))

		session, err := drover.Launch(cmd.Context(), appConfig, logger)
		if err != nil {
			return fmt.Errorf("driver handshake failed: %w", err)
		}
		defer session.Close()

		pw := session.Playwright()
		logger.Info("Driver handshake completed.",
			zap.String("session_id", session.ID),
			zap.String("driver_version", pw.Version()))

		fmt.Fprintf(cmd.OutOrStdout(), "driver: %s\nversion: %s\nsession: %s\nprotocol: ok\n",
			path, pw.Version(), session.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
