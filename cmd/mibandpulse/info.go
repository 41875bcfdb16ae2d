package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/miband"
	"github.com/spf13/cobra"
)

const readTimeout = 5 * time.Second

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [address]",
		Short: "Authenticate and show band details",
		Long: `Connects, runs the authentication handshake and prints what the band reports.

Examples:
  # Show band state, clock and battery
  mibandpulse info C8:0F:10:00:00:01

  # Same as a JSON object
  mibandpulse info C8:0F:10:00:00:01 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runInfo,
	}
}

// BandInfo is the info command result.
type BandInfo struct {
	Address         string       `json:"address"`
	Name            string       `json:"name,omitempty"`
	State           device.State `json:"state"`
	Characteristics int          `json:"characteristics"`
	Time            *time.Time   `json:"time,omitempty"`
	Battery         *int         `json:"battery,omitempty"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args)
	if err != nil {
		return err
	}
	defer s.Close()

	band := s.support.Band()
	info := BandInfo{
		Address:         band.Address(),
		Name:            band.Name(),
		State:           band.State(),
		Characteristics: s.support.Engine().Registry().Len(),
	}

	ctx, cancel := context.WithTimeout(s.ctx, readTimeout)
	defer cancel()

	if t, err := s.support.ReadTime(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to read band time")
	} else {
		info.Time = &t
	}
	if s.support.Characteristic(miband.BatteryInfo) != nil {
		if value, err := s.support.Read(ctx, miband.BatteryInfo); err != nil {
			s.logger.WithError(err).Warn("Failed to read battery info")
		} else if level, ok := miband.ParseBatteryLevel(value); ok {
			info.Battery = &level
		}
	}

	if s.out.JSON() {
		return s.out.Emit(info, "")
	}
	lines := []string{
		s.out.Field("Address", info.Address),
		s.out.Field("Name", info.Name),
		s.out.Field("State", info.State),
		s.out.Field("Characteristics", info.Characteristics),
	}
	if info.Time != nil {
		lines = append(lines, s.out.Field("Band time", info.Time.Format(time.RFC3339)))
	}
	if info.Battery != nil {
		lines = append(lines, s.out.Field("Battery", fmt.Sprintf("%d%%", *info.Battery)))
	}
	for _, line := range lines {
		if err := s.out.Emit(nil, line); err != nil {
			return err
		}
	}
	return nil
}
