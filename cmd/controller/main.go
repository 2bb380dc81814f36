package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/open-teleop/rover-controller/domain/diagnostic"
	"github.com/open-teleop/rover-controller/domain/hazard"
	"github.com/open-teleop/rover-controller/domain/teleop"
	"github.com/open-teleop/rover-controller/pkg/api"
	"github.com/open-teleop/rover-controller/pkg/config"
	"github.com/open-teleop/rover-controller/pkg/joystick"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/processing"
	"github.com/open-teleop/rover-controller/pkg/timeutil"
	"github.com/open-teleop/rover-controller/pkg/uwb"
	"github.com/open-teleop/rover-controller/pkg/zeromq"
	"github.com/open-teleop/rover-controller/services"
)

const (
	gamepadStaleAfter  = 500 * time.Millisecond
	deviceRetry        = time.Second
	diagnosticInterval = 10 * time.Second
	shutdownTimeout    = 5 * time.Second
)

func main() {
	defaultDir := os.Getenv("ROVER_CONFIG_DIR")
	if defaultDir == "" {
		defaultDir = "./config"
	}
	configDir := flag.String("config-dir", defaultDir, "directory containing controller_config.yaml")
	flag.Parse()

	if err := run(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "controller: %v\n", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	bootstrap, err := config.LoadBootstrapConfig(configDir)
	if err != nil {
		return err
	}

	logger, err := customlog.New(customlog.Options{
		Level:      bootstrap.Logging.Level,
		Dir:        bootstrap.Logging.LogPath,
		MaxSizeMB:  bootstrap.Logging.MaxSizeMB,
		MaxBackups: bootstrap.Logging.MaxBackups,
		MaxAgeDays: bootstrap.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infof("Bootstrap configuration loaded from %s (hazard source: %s)", configDir, bootstrap.HazardSource)

	arbiterPath := bootstrap.Data.ArbiterConfigPath()
	if !filepath.IsAbs(arbiterPath) {
		arbiterPath = filepath.Join(configDir, arbiterPath)
	}
	configService, err := services.NewArbiterConfigService(arbiterPath, logger.WithField("component", "config"))
	if err != nil {
		return err
	}
	cfg := configService.GetCurrentConfig()
	settings := services.SettingsFromConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}
	registry := processing.NewTopicRegistry(logger.WithField("component", "topics"))
	registry.LoadFromConfig(cfg)

	zmqService, err := zeromq.NewZeroMQService(bootstrap.ZeroMQ, logger.WithField("component", "zeromq"))
	if err != nil {
		return fmt.Errorf("failed to create ZeroMQ service: %w", err)
	}
	defer zmqService.Stop()

	publisher := zeromq.NewCommandPublisher(zmqService, zeromq.TopicsFromConfig(cfg), settings.StaleAfter, registry, clock, logger.WithField("component", "publisher"))

	monitor, err := hazard.NewMonitor(cfg.Hazard.ThresholdM, cfg.Hazard.InitialDistanceM)
	if err != nil {
		return err
	}

	gamepad := api.NewGamepadFeed(gamepadStaleAfter, clock)
	controllers := teleop.FirstPresent{gamepad}
	if dev := bootstrap.Joystick.Device; dev != "" {
		js := joystick.NewDevice(dev, clock, logger)
		go js.Run(ctx, deviceRetry)
		controllers = teleop.FirstPresent{js, gamepad}
	}

	teleopService, err := teleop.NewTeleopService(teleop.Config{
		Monitor:    monitor,
		Sink:       publisher,
		Alerts:     publisher,
		Controller: controllers,
		Clock:      clock,
		Logger:     logger.WithField("component", "teleop"),
		Settings:   settings,
	})
	if err != nil {
		return err
	}

	configService.SetApplier(&services.TeleopApplier{Service: teleopService, Publisher: publisher, Registry: registry})
	configPublisher := zeromq.RegisterArbiterHandlers(zmqService,
		func() interface{} { return teleopService.Status() },
		configService.GetCurrentConfig,
		logger.WithField("component", "zeromq"))
	configService.SetPublisher(configPublisher)

	// Gateways may also push hazard frames over REQ/REP.
	zeromq.RegisterHazardTopic(zmqService, cfg.Topics.HazardDistance, teleopService.HandleHazardSample, registry)

	sources := diagnostic.Sources{
		Status:   teleopService.Status,
		Registry: registry,
		RobotID:  func() string { return configService.GetCurrentConfig().RobotID },
	}
	switch bootstrap.HazardSource {
	case config.HazardSourceSerial:
		go superviseRadio(ctx, bootstrap.Serial, cfg.Topics.HazardDistance, registry, clock, logger, teleopService.HandleHazardSample)
	default:
		sources.Feed = zmqService.NewHazardListener(cfg.Topics.HazardDistance, teleopService.HandleHazardSample, registry)
	}

	if err := zmqService.Start(); err != nil {
		return fmt.Errorf("failed to start ZeroMQ service: %w", err)
	}
	arbiterDone := make(chan struct{})
	go func() {
		defer close(arbiterDone)
		if err := teleopService.Run(ctx); err != nil {
			logger.Errorf("Teleop arbiter failed: %v", err)
		}
	}()

	diagnostics := diagnostic.NewDiagnosticService(sources, clock, logger.WithField("component", "diagnostic"))
	go diagnostics.Run(ctx, diagnosticInterval)

	app := newApp(teleopService, configService, gamepad, diagnostics, logger)
	port := bootstrap.Server.HTTPPort
	if env := os.Getenv("PORT"); env != "" {
		if p, err := strconv.Atoi(env); err == nil {
			port = p
		}
	}
	if port == 0 {
		port = 8080
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %d", port)
		serverErr <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case <-ctx.Done():
		logger.Infof("Shutting down server...")
	case err := <-serverErr:
		stop()
		<-arbiterDone
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	<-arbiterDone
	// Leave the rover with a zero command on the way out.
	teleopService.Stop()
	teleopService.DispatchOnce()

	logger.Infof("Server exited properly")
	return nil
}

func newApp(teleopService *teleop.TeleopService, configService services.ArbiterConfigService, gamepad *api.GamepadFeed, diagnostics *diagnostic.DiagnosticService, logger customlog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Open-Teleop Rover Controller",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "open-teleop rover controller",
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	app.Get("/api/diagnostics", diagnostics.GetMetricsHandler)
	api.RegisterTeleopRoutes(app, teleopService, logger)
	api.RegisterConfigRoutes(app, configService, logger)
	api.RegisterControlWebSocket(app, teleopService, gamepad, logger.WithField("component", "ws"))
	return app
}

// superviseRadio feeds the UWB radio into the arbiter and records the
// traffic under the hazard topic so transport health reflects the radio.
func superviseRadio(ctx context.Context, serialCfg config.SerialConfig, topic string, registry *processing.TopicRegistry, clock timeutil.Clock, logger customlog.Logger, handle uwb.Handler) {
	opts := uwb.PortOptions{
		BaudRate: serialCfg.BaudRate,
		DataBits: serialCfg.DataBits,
		StopBits: serialCfg.StopBits,
		Parity:   serialCfg.Parity,
	}
	open := func() (io.ReadCloser, error) { return uwb.Open(serialCfg.Path, opts) }

	uwb.Supervise(ctx, open, deviceRetry, clock, logger.WithField("component", "uwb"), func(s hazard.Sample) error {
		registry.UpdateTopicStats(topic, s.ReceivedAt.UnixNano())
		return handle(s)
	})
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
