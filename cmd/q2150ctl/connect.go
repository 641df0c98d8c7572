package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qseries/q2150ctl/instrument"
	"github.com/qseries/q2150ctl/q2150cfg"
)

func newConnectCmd(configFile *string) *cobra.Command {
	var port string
	var baud int

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open a connection and print the instrument's config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := q2150cfg.Load(nil, *configFile)
			if err != nil {
				return err
			}
			applyOverrides(&cfg, port, baud)

			ctrl := instrument.New()
			if err := ctrl.Connect(context.Background(), cfg.Port, cfg.Baud); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer ctrl.Disconnect()

			got, err := ctrl.GetConfig()
			if err != nil {
				return err
			}
			fmt.Printf("connected: sensor_id=%s firmware=%s mode=%s averaging=%d adc_rate_hz=%d\n",
				got.SensorID, got.FirmwareVersion, got.Mode, got.Averaging, got.ADCRateHz)
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "serial device path, or SIM for the simulator")
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate")
	return cmd
}

func applyOverrides(cfg *q2150cfg.Config, port string, baud int) {
	if port != "" {
		cfg.Port = port
	}
	if baud != 0 {
		cfg.Baud = baud
	}
}
