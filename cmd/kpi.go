package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/gridmarket/config"
	"github.com/kilianp07/gridmarket/infra/history"
	"github.com/kilianp07/gridmarket/jobs/marketkpi"
)

var kpiStart, kpiEnd int64

var kpiCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Summarize settlement history over a period range",
	RunE:  runKPI,
}

func init() {
	kpiCmd.Flags().Int64Var(&kpiStart, "start", 0, "first period")
	kpiCmd.Flags().Int64Var(&kpiEnd, "end", 1<<62, "last period")
	rootCmd.AddCommand(kpiCmd)
}

func runKPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	defer func() { _ = store.Close() }()

	rep, err := marketkpi.Build(store, kpiStart, kpiEnd)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
