package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hydrotrust/hydro-verifier/internal/config"
	"github.com/hydrotrust/hydro-verifier/internal/models"
	"github.com/hydrotrust/hydro-verifier/internal/utils"
)

func verifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <reading.json>",
		Short: "Verify a single reading and print the signed attestation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			// Local runs never commit to a ledger.
			cfg.Ledger.Enabled = false
			logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read reading: %w", err)
			}
			var payload models.ReadingPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("decode reading: %w", err)
			}

			comps, err := buildComponents(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer comps.close()

			result, err := comps.verifier.VerifyPayload(cmd.Context(), payload)
			if err != nil {
				return err
			}
			logger.Debug("reading verified", slog.String("attestation_id", result.Attestation.ID))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
