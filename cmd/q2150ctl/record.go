package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qseries/q2150ctl/instrument"
	"github.com/qseries/q2150ctl/q2150cfg"
	"github.com/qseries/q2150ctl/recorder"
)

func newStartCmd(configFile *string) *cobra.Command {
	var port string
	var baud int
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Connect, start acquisition, and print the latest reading when stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := q2150cfg.Load(nil, *configFile)
			if err != nil {
				return err
			}
			applyOverrides(&cfg, port, baud)
			return runSession(cfg, duration, nil)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "serial device path, or SIM for the simulator")
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long; 0 runs until interrupted")
	return cmd
}

func newRecordCmd(configFile *string) *cobra.Command {
	var port string
	var baud int
	var duration time.Duration
	var chunkDir string
	var mission string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Connect, start acquisition, and record a session to disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := q2150cfg.Load(nil, *configFile)
			if err != nil {
				return err
			}
			applyOverrides(&cfg, port, baud)
			if chunkDir != "" {
				cfg.ChunkDir = chunkDir
			}
			if mission != "" {
				cfg.Mission = mission
			}
			return runSession(cfg, duration, &cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "serial device path, or SIM for the simulator")
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long; 0 runs until interrupted")
	cmd.Flags().StringVar(&chunkDir, "chunk-dir", "", "base directory; the session's chunk directory is created under it")
	cmd.Flags().StringVar(&mission, "mission", "", "opaque mission label stored in the manifest")
	return cmd
}

// runSession connects, starts acquisition, optionally records to disk
// (recCfg != nil), and blocks until duration elapses or SIGINT/SIGTERM
// arrives, then unwinds cleanly.
func runSession(cfg q2150cfg.Config, duration time.Duration, recCfg *q2150cfg.Config) error {
	ctrl := instrument.New()
	ctx := context.Background()
	if err := ctrl.Connect(ctx, cfg.Port, cfg.Baud); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer ctrl.Disconnect()

	if _, err := pushConfig(ctrl, cfg.Averaging, cfg.ADCRateHz, "", ""); err != nil {
		return err
	}
	if err := ctrl.Start(cfg.PollHz); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer ctrl.Stop()

	var rec *recorder.Recorder
	if recCfg != nil {
		sessionDir := recCfg.ChunkDir
		r, err := recorder.Start(ctrl.Buffer(), recorder.Options{
			ChunkDir:      sessionDir,
			Mission:       recCfg.Mission,
			SchemaVersion: recCfg.SchemaVersion,
			RateHz:        recCfg.PollHz,
			RollInterval:  recCfg.RollInterval,
			PollInterval:  recCfg.PollInterval,
		})
		if err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		rec = r
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var timeout <-chan time.Time
	if duration > 0 {
		timeout = time.After(duration)
	}

	select {
	case <-sigCh:
	case <-timeout:
	}

	if rec != nil {
		session := rec.Stop()
		fmt.Printf("session %s: %d chunks\n", session.SessionID, len(session.Chunks))
	} else if last, ok := ctrl.Latest(); ok {
		fmt.Printf("last reading: %s = %g\n", last.Timestamp.Format(time.RFC3339), last.Value)
	}
	return nil
}
