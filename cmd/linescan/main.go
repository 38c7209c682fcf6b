// linescan reads an MCP3008-based reflectance sensor row from a Linux
// host, either through a spidev node or bit-banged GPIO, and prints
// channel values or the estimated line position. Calibration sessions
// are run from here too and persisted as the 32-byte calibration record.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mcp3008/core"
	"mcp3008/host/bitbang"
	"mcp3008/host/serial"
	"mcp3008/host/spidev"
	"mcp3008/logging"
	"mcp3008/telemetry"
)

var version = "dev"

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "linescan",
		Short: "MCP3008 line sensor tool",
		Long: `linescan talks to an 8-channel MCP3008 ADC carrying a row of
reflectance sensors. It can dump raw or calibrated channel values,
stream the estimated line position, and record calibration data.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default linescan.yaml)")
	flags.String("bus", "spidev", `bus driver: "spidev" or "bitbang"`)
	flags.String("device", "/dev/spidev0.0", "spidev device node")
	flags.Uint32("freq", 1_350_000, "SPI clock in Hz")
	flags.Uint8("mask", 0xFF, "channel mask, bit i enables channel i")
	flags.String("calfile", "linescan.cal", "calibration record file")
	flags.String("log-level", "INFO", "logging level")
	for _, f := range []string{"bus", "device", "freq", "mask", "calfile", "log-level"} {
		viper.BindPFlag(f, flags.Lookup(f))
	}

	root.AddCommand(readCmd(), lineCmd(), calibrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := fang.Execute(ctx, root); err != nil {
		os.Exit(1)
	}
}

func initConfig() error {
	viper.SetDefault("noise-limit", 0.05)
	viper.SetDefault("line-threshold", 0.20)
	viper.SetDefault("white-line", false)
	viper.SetDefault("sck", 11)
	viper.SetDefault("mosi", 10)
	viper.SetDefault("miso", 9)
	viper.SetDefault("cs", 8)
	viper.SetEnvPrefix("LINESCAN")
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	} else {
		viper.SetConfigName("linescan")
		viper.AddConfigPath(".")
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("reading config: %w", err)
			}
		}
	}

	logging.Initialize()
	logging.SetLevel(viper.GetString("log-level"))
	return nil
}

// openSensor installs a line sensor on the configured bus and loads the
// calibration record when one exists.
func openSensor() (*core.LineSensor, error) {
	var host core.Host
	switch bus := viper.GetString("bus"); bus {
	case "spidev":
		host = spidev.New(viper.GetString("device"))
	case "bitbang":
		host = bitbang.New()
	default:
		return nil, fmt.Errorf("unknown bus driver %q", bus)
	}

	cfg := core.DefaultConfig(host)
	cfg.Freq = viper.GetUint32("freq")
	cfg.Mask = uint8(viper.GetUint("mask"))
	cfg.SCK = core.Pin(viper.GetInt("sck"))
	cfg.MOSI = core.Pin(viper.GetInt("mosi"))
	cfg.MISO = core.Pin(viper.GetInt("miso"))
	cfg.CS = core.Pin(viper.GetInt("cs"))

	s := core.NewLineSensor()
	if err := s.Install(cfg); err != nil {
		return nil, fmt.Errorf("installing driver: %w", err)
	}

	if blob, err := os.ReadFile(viper.GetString("calfile")); err == nil {
		var data core.CalibrationData
		if err := data.UnmarshalBinary(blob); err != nil {
			logging.Log.Warningf("ignoring calibration file: %v", err)
		} else if !s.SetCalibration(data) {
			logging.Log.Warningf("calibration file rejected, using identity")
		}
	}
	return s, nil
}

func lineConfig() core.LineConfig {
	cfg := core.DefaultLineConfig()
	cfg.NoiseLimit = float32(viper.GetFloat64("noise-limit"))
	cfg.LineThreshold = float32(viper.GetFloat64("line-threshold"))
	cfg.WhiteLine = viper.GetBool("white-line")
	return cfg
}

func readCmd() *cobra.Command {
	var raw, differential bool
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print one sample per enabled channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSensor()
			if err != nil {
				return err
			}
			defer s.Close()

			var vals []uint16
			if raw {
				vals, err = s.ReadAppend(nil, differential)
			} else {
				vals, err = s.CalibratedReadAppend(nil)
			}
			if err != nil {
				return fmt.Errorf("reading channels: %w", err)
			}

			idx := 0
			for ch := 0; ch < core.Channels; ch++ {
				if s.Mask()&(1<<ch) == 0 {
					continue
				}
				fmt.Printf("%d: %4d\n", ch, vals[idx])
				idx++
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "skip the calibration remap")
	cmd.Flags().BoolVar(&differential, "differential", false, "differential mode (raw only)")
	return cmd
}

func lineCmd() *cobra.Command {
	var interval time.Duration
	var serialDev string
	cmd := &cobra.Command{
		Use:   "line",
		Short: "Stream the estimated line position",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSensor()
			if err != nil {
				return err
			}
			defer s.Close()

			var out *telemetry.Writer
			if serialDev != "" {
				port, err := serial.Open(serial.DefaultConfig(serialDev))
				if err != nil {
					return err
				}
				defer port.Close()
				out = telemetry.NewWriter(port)
			}

			cfg := lineConfig()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}

				pos := s.ReadLine(cfg)
				fmt.Printf("position: %+.3f\r", pos)
				if out != nil {
					if err := out.WriteRecord(telemetry.Record{Position: pos}); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 50*time.Millisecond, "sampling interval")
	cmd.Flags().StringVar(&serialDev, "serial", "", "stream telemetry frames to this serial device")
	return cmd
}

func calibrateCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Record a calibration session and save it",
		Long: `Sweeps the sensor row over the line while recording per-channel
extremes, then saves the calibration to the sensor and to the
calibration file. Keep moving the row across the line until the
session ends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSensor()
			if err != nil {
				return err
			}
			defer s.Close()

			cal := s.StartCalibration()
			fmt.Printf("recording for %s, sweep the sensor across the line...\n", duration)

			deadline := time.After(duration)
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			samples := 0
		record:
			for {
				select {
				case <-cmd.Context().Done():
					break record
				case <-deadline:
					break record
				case <-ticker.C:
					if err := cal.Record(); err != nil {
						return fmt.Errorf("recording: %w", err)
					}
					samples++
				}
			}

			if !cal.Save() {
				return fmt.Errorf("calibration session rejected after %d samples", samples)
			}

			blob, err := s.Calibration().MarshalBinary()
			if err != nil {
				return err
			}
			calfile := viper.GetString("calfile")
			if err := os.WriteFile(calfile, blob, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", calfile, err)
			}
			fmt.Printf("saved %d samples to %s\n", samples, calfile)
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "recording duration")
	return cmd
}
