package main

import (
	"time"

	"github.com/spf13/cobra"

	"qms/internal/sla"
)

var slaCmd = &cobra.Command{
	Use:   "sla",
	Short: "Service level checks",
}

var slaScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Evaluate every SLA-enabled queue once and record alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadPostgresConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		raised, err := sla.New(st, cfg.SLADedupWindow, time.Now, log).Scan(cmd.Context())
		if err != nil {
			return err
		}
		log.WithField("alerts", raised).Info("sla scan done")
		return nil
	},
}

func init() {
	slaCmd.AddCommand(slaScanCmd)
}
