package cmd

import (
	"context"
	"sync"

	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dividat/refractometer/src/refractometer/config"
	"github.com/dividat/refractometer/src/refractometer/device"
	"github.com/dividat/refractometer/src/refractometer/device/mockdev"
	"github.com/dividat/refractometer/src/refractometer/instrument"
	"github.com/dividat/refractometer/src/refractometer/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Measure headless and serve the remote view",
	Long: `Serve runs the instrument backend without a terminal UI. Clients connect
to ws://<address>/refractometer to start and stop measurements and to
receive samples. Installed as a system service it runs on boot.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, closeLog, err := setupLogging(cfg.Log, false)
		if err != nil {
			return err
		}
		defer closeLog()

		s, err := newService(log, cfg)
		if err != nil {
			return err
		}
		// blocks until the service manager or an interrupt stops it
		return s.Run()
	},
}

// program adapts the backend and server to the service manager
type program struct {
	log *logrus.Entry
	cfg *config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newService(log *logrus.Entry, cfg *config.Config) (service.Service, error) {
	prg := &program{log: log, cfg: cfg}
	return service.New(prg, serviceConfig())
}

func serviceConfig() *service.Config {
	arguments := []string{"serve"}
	if configFile := viper.ConfigFileUsed(); configFile != "" {
		arguments = append(arguments, "--config", configFile)
	}
	return &service.Config{
		Name:        "refractometer",
		DisplayName: "Refractometer Driver",
		Description: "Acquires refractometer readings and serves them to remote viewers.",
		Arguments:   arguments,
	}
}

func (p *program) Start(s service.Service) error {
	frameDecoder, err := p.cfg.FrameDecoder()
	if err != nil {
		return err
	}

	// a bind failure must fail the service start, not just the server goroutine
	listener, err := server.Listen(p.cfg.Server.Address)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	host := server.HostID(p.log)
	mockDevices := mockdev.New(p.log.WithField("package", "mockdev"))
	enumerator := device.NewEnumerator(p.log.WithField("package", "device"), mockDevices)

	backendLog := p.log.WithField("package", "instrument")
	backend, err := instrument.New(ctx, backendLog, instrument.Config{
		FrameSize:  p.cfg.Serial.FrameSize,
		Decoder:    frameDecoder,
		WorkPoints: p.cfg.WorkPoints,
		Tick:       p.cfg.UI.Tick,
		Host:       host,
	}, device.Opener(backendLog, p.cfg.Device()), enumerator)
	if err != nil {
		cancel()
		listener.Close()
		return err
	}

	serverConfig := server.Config{
		Address:        p.cfg.Server.Address,
		Zeroconf:       p.cfg.Server.Zeroconf,
		AllowedOrigins: p.cfg.Server.AllowedOrigins,
		Version:        version,
		Host:           host,
	}
	mux := server.NewMux(serverConfig, backend.Handle(), mockDevices)

	p.log.WithField("version", version).Info("Starting refractometer driver.")

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		backend.Run()
	}()
	go func() {
		defer p.wg.Done()
		serverLog := p.log.WithField("package", "server")
		if err := server.Serve(ctx, serverLog, serverConfig, listener, mux); err != nil {
			serverLog.WithError(err).Error("Server failed.")
			// nothing to serve without the server
			cancel()
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.log.Info("Stopping refractometer driver.")
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}
