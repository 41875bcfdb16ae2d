package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newSyncTimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-time [address]",
		Short: "Set the band clock to the local time",
		Long: `Writes the local time and time zone to the band and reads the clock back.

Examples:
  mibandpulse sync-time C8:0F:10:00:00:01`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSyncTime,
	}
}

// ClockSync is the sync-time command result.
type ClockSync struct {
	Address  string    `json:"address"`
	Written  time.Time `json:"written"`
	BandTime time.Time `json:"band_time"`
}

func runSyncTime(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args)
	if err != nil {
		return err
	}
	defer s.Close()

	written := time.Now()
	if err := s.support.SetTime(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(s.ctx, readTimeout)
	defer cancel()
	bandTime, err := s.support.ReadTime(ctx)
	if err != nil {
		return err
	}

	result := ClockSync{
		Address:  s.support.Band().Address(),
		Written:  written.Truncate(time.Second),
		BandTime: bandTime,
	}
	return s.out.Emit(result, s.out.Field("Band time", bandTime.Format(time.RFC3339)))
}
