package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dividat/refractometer/src/refractometer/config"
	"github.com/dividat/refractometer/src/refractometer/device"
	"github.com/dividat/refractometer/src/refractometer/device/mockdev"
	"github.com/dividat/refractometer/src/refractometer/tui"
)

// set at build time with -ldflags "-X github.com/dividat/refractometer/src/refractometer/cmd.version=..."
var version = "dev"

// loaded before any command runs
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "refractometer",
	Short: "Acquire and plot refractometer readings",
	Long: `Refractometer connects to an instrument on a serial port, reads its
measurements in the background and plots them live in the terminal.

Run "refractometer serve" to measure headless and watch remotely.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runTUI,
}

// Execute runs the root command until it finishes or the process is signalled
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/refractometer/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(portsCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.Init(viper.GetString("config")); err != nil {
		return err
	}
	loaded, err := config.Load()
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	// the terminal belongs to the UI, logs go to a file
	log, closeLog, err := setupLogging(cfg.Log, true)
	if err != nil {
		return err
	}
	defer closeLog()

	frameDecoder, err := cfg.FrameDecoder()
	if err != nil {
		return err
	}

	log.WithField("version", version).Info("Starting refractometer UI.")

	enumerator := device.NewEnumerator(log, mockdev.New(log.WithField("package", "mockdev")))
	tuiConfig := tui.Config{
		FrameSize:  cfg.Serial.FrameSize,
		Decoder:    frameDecoder,
		WorkPoints: cfg.WorkPoints,
		Tick:       cfg.UI.Tick,
		PlotWidth:  cfg.UI.PlotWidth,
	}
	return tui.Run(cmd.Context(), log, tuiConfig, device.Opener(log, cfg.Device()), enumerator)
}
