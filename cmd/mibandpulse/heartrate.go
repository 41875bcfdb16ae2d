package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Micallam/MiBandPulse/internal/miband"
	"github.com/spf13/cobra"
)

// onceTimeout bounds a single measurement when no --duration is given.
const onceTimeout = 30 * time.Second

func newHeartRateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartrate [address]",
		Short: "Stream heart rate measurements",
		Long: `Starts continuous heart rate measurement and prints every sample.

The band's periodic measurement interval is set from heart_rate_interval
in the config file, or from --interval.

Examples:
  # Stream for 30 seconds
  mibandpulse heartrate C8:0F:10:00:00:01

  # Stream until Ctrl+C, as JSON lines
  mibandpulse heartrate C8:0F:10:00:00:01 --duration 0 --json

  # One manual measurement, and measure every 10 minutes from now on
  mibandpulse heartrate C8:0F:10:00:00:01 --once --interval 10m`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHeartRate,
	}
	cmd.Flags().Duration("duration", 30*time.Second, "How long to stream; 0 streams until interrupted")
	cmd.Flags().Bool("once", false, "Take a single manual measurement instead of streaming")
	cmd.Flags().Duration("interval", 0, "Periodic measurement interval, up to 2h (0 disables)")
	return cmd
}

func runHeartRate(cmd *cobra.Command, args []string) error {
	duration, _ := cmd.Flags().GetDuration("duration")
	once, _ := cmd.Flags().GetBool("once")
	if duration < 0 {
		return fmt.Errorf("duration must not be negative, got %s", duration)
	}

	s, err := openSession(cmd, args)
	if err != nil {
		return err
	}
	defer s.Close()

	interval := s.cfg.HeartRateInterval
	if cmd.Flags().Changed("interval") {
		interval, _ = cmd.Flags().GetDuration("interval")
	}

	monitor := miband.NewHeartRateMonitor(s.support, 0)
	samples := make(chan miband.HeartRateSample, 16)
	monitor.OnSample(func(sample miband.HeartRateSample) {
		select {
		case samples <- sample:
		default:
			s.logger.WithField("bpm", sample.BPM).Warn("Dropping heart rate sample, output is behind")
		}
	})

	if err := monitor.SetMeasurementInterval(interval); err != nil {
		return err
	}
	if once {
		err = monitor.MeasureOnce()
	} else {
		err = monitor.EnableRealtime(true)
	}
	if err != nil {
		return err
	}

	ctx := s.ctx
	if once && duration == 0 {
		duration = onceTimeout
	}
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	for {
		select {
		case sample := <-samples:
			text := fmt.Sprintf("%s  %s", sample.Time.Format(time.TimeOnly), s.out.alert.Sprintf("%3d bpm", sample.BPM))
			if err := s.out.Emit(sample, text); err != nil {
				return err
			}
			if once {
				s.drain()
				return nil
			}

		case <-ctx.Done():
			if once {
				return fmt.Errorf("%w within %s", ErrNoSample, duration)
			}
			if err := monitor.EnableRealtime(false); err != nil {
				s.logger.WithError(err).Warn("Failed to stop heart rate measurement")
			} else {
				s.drain()
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		}
	}
}
