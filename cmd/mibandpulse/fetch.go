package main

import (
	"fmt"
	"time"

	"github.com/Micallam/MiBandPulse/internal/miband"
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [address]",
		Short: "Download the per-minute activity history",
		Long: `Downloads the activity the band recorded since a point in time and prints
one record per minute: activity kind, intensity, steps and heart rate.

--since takes an RFC 3339 time or a look-back duration. Without it the
fetch_lookback config value is used (100 days by default).

Examples:
  # Everything from the last day
  mibandpulse fetch C8:0F:10:00:00:01 --since 24h

  # From a fixed point, as JSON lines
  mibandpulse fetch C8:0F:10:00:00:01 --since 2024-03-15T00:00:00+02:00 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runFetch,
	}
	cmd.Flags().String("since", "", "Start time (RFC 3339) or look-back duration (e.g. 24h)")
	return cmd
}

// parseSince resolves --since against now; an empty value looks back by lookback.
func parseSince(value string, now time.Time, lookback time.Duration) (time.Time, error) {
	if value == "" {
		return now.Add(-lookback), nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("look-back duration must not be negative, got %s", value)
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: use an RFC 3339 time or a duration", value)
	}
	return t, nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	sinceFlag, _ := cmd.Flags().GetString("since")
	// Validate before connecting; the lookback default is applied once the config is loaded.
	if _, err := parseSince(sinceFlag, time.Now(), 0); err != nil {
		return err
	}

	s, err := openSession(cmd, args)
	if err != nil {
		return err
	}
	defer s.Close()

	since, err := parseSince(sinceFlag, time.Now(), s.cfg.FetchLookback)
	if err != nil {
		return err
	}

	records, err := miband.NewActivityFetcher(s.support).Fetch(s.ctx, since)
	if err != nil {
		return fmt.Errorf("activity fetch failed: %w", err)
	}
	s.drain()

	for _, r := range records {
		text := fmt.Sprintf("%s  kind=%-3d intensity=%-3d steps=%-3d hr=%d",
			r.Time.Format(time.RFC3339), r.Kind, r.Intensity, r.Steps, r.HeartRate)
		if err := s.out.Emit(r, text); err != nil {
			return err
		}
	}
	if !s.out.JSON() {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d records since %s\n", len(records), since.Format(time.RFC3339))
	}
	return nil
}
