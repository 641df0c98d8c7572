package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qseries/q2150ctl/instrument"
	"github.com/qseries/q2150ctl/q2150cfg"
	"github.com/qseries/q2150ctl/wire"
)

func newConfigureCmd(configFile *string) *cobra.Command {
	var port string
	var baud int
	var averaging int
	var adcRateHz int
	var mode string
	var tag string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Connect and push averaging/ADC-rate/mode settings",
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

			got, err := pushConfig(ctrl, averaging, adcRateHz, mode, tag)
			if err != nil {
				return err
			}
			fmt.Printf("config: averaging=%d adc_rate_hz=%d mode=%s tag=%q\n",
				got.Averaging, got.ADCRateHz, got.Mode, string(got.Tag))
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "serial device path, or SIM for the simulator")
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate")
	cmd.Flags().IntVar(&averaging, "averaging", 0, "averaging count (1-65535); 0 leaves unchanged")
	cmd.Flags().IntVar(&adcRateHz, "adc-rate-hz", 0, "ADC rate in Hz; 0 leaves unchanged")
	cmd.Flags().StringVar(&mode, "mode", "", "freerun or polled; empty leaves unchanged")
	cmd.Flags().StringVar(&tag, "tag", "", "single-letter TAG, required for polled mode")
	return cmd
}

func pushConfig(ctrl *instrument.Controller, averaging, adcRateHz int, mode, tag string) (wire.SensorConfig, error) {
	cfg, err := ctrl.GetConfig()
	if err != nil {
		return cfg, err
	}
	if averaging > 0 {
		if cfg, err = ctrl.SetAveraging(averaging); err != nil {
			return cfg, fmt.Errorf("set averaging: %w", err)
		}
	}
	if adcRateHz > 0 {
		if cfg, err = ctrl.SetADCRate(adcRateHz); err != nil {
			return cfg, fmt.Errorf("set adc rate: %w", err)
		}
	}
	if mode != "" {
		m, tagByte, err := parseMode(mode, tag)
		if err != nil {
			return cfg, err
		}
		if cfg, err = ctrl.SetMode(m, tagByte); err != nil {
			return cfg, fmt.Errorf("set mode: %w", err)
		}
	}
	return cfg, nil
}

func parseMode(mode, tag string) (wire.AcqMode, byte, error) {
	switch mode {
	case "freerun":
		return wire.ModeFreerun, 0, nil
	case "polled":
		if len(tag) != 1 {
			return 0, 0, fmt.Errorf("polled mode requires a single-letter --tag")
		}
		return wire.ModePolled, tag[0], nil
	default:
		return 0, 0, fmt.Errorf("unknown mode %q (want freerun or polled)", mode)
	}
}
