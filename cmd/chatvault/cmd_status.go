package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/chatvault/internal/ledger"
	"github.com/dukerupert/chatvault/internal/month"
)

type sourceStatus struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Completed         int        `json:"completed"`
	Pending           []string   `json:"pending"`
	LastAttempt       *time.Time `json:"last_attempt,omitempty"`
	ThrottleHours     float64    `json:"throttle_hours"`
	ThrottleRemaining float64    `json:"throttle_remaining_hours"`
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show completed and pending months per source",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	cmd.Flags().Bool("json", false, "Output machine-readable JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := loggerFor(cmd)
	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}
	led, err := ledger.Open(cfg.LedgerPath, logger)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	current := month.Of(now)
	statuses := make([]sourceStatus, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		completed := led.Completed(src.ID)
		st := sourceStatus{
			ID:            src.ID,
			Name:          src.Name,
			Completed:     len(completed),
			Pending:       []string{},
			ThrottleHours: src.ThrottleHours,
		}
		for _, m := range month.Pending(src.StartMonth, current, completed) {
			st.Pending = append(st.Pending, m.String())
		}
		if last, ok := led.LastAttempt(src.ID); ok {
			st.LastAttempt = &last
			if src.ThrottleHours > 0 {
				st.ThrottleRemaining = max(0, src.ThrottleHours-now.Sub(last).Hours())
			}
		}
		statuses = append(statuses, st)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	if len(statuses) == 0 {
		fmt.Fprintln(out, "No enabled sources configured.")
		return nil
	}
	for _, st := range statuses {
		fmt.Fprintf(out, "%s (%s)\n", st.Name, st.ID)
		fmt.Fprintf(out, "  completed: %d months\n", st.Completed)
		switch len(st.Pending) {
		case 0:
			fmt.Fprintf(out, "  pending:   none\n")
		case 1:
			fmt.Fprintf(out, "  pending:   1 month (%s)\n", st.Pending[0])
		default:
			fmt.Fprintf(out, "  pending:   %d months (%s to %s)\n", len(st.Pending), st.Pending[0], st.Pending[len(st.Pending)-1])
		}
		if st.LastAttempt != nil {
			fmt.Fprintf(out, "  last run:  %s\n", st.LastAttempt.Format(time.RFC3339))
		} else {
			fmt.Fprintf(out, "  last run:  never\n")
		}
		if st.ThrottleRemaining > 0 {
			fmt.Fprintf(out, "  throttled: %s remaining of %s\n", formatHours(st.ThrottleRemaining), formatHours(st.ThrottleHours))
		}
	}
	return nil
}
