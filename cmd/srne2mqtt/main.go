package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/srne2mqtt/internal/adapter/actor"
	"github.com/berfenger/srne2mqtt/internal/adapter/clock"
	"github.com/berfenger/srne2mqtt/internal/adapter/command"
	"github.com/berfenger/srne2mqtt/internal/adapter/metrics"
	"github.com/berfenger/srne2mqtt/internal/adapter/store"
	"github.com/berfenger/srne2mqtt/internal/config"
	"github.com/berfenger/srne2mqtt/internal/core/actor"
	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/core/port"
	"github.com/berfenger/srne2mqtt/internal/core/service"
	"github.com/berfenger/srne2mqtt/internal/server"
	"github.com/berfenger/srne2mqtt/internal/util/actorutil"
	"github.com/berfenger/srne2mqtt/pkg/srne_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("srne2mqtt: exiting with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	flagStore, err := store.OpenFlagStore(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer flagStore.Close()

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := metrics.NewPrometheus(registry)
	if err != nil {
		return err
	}
	recorders := metrics.Recorders{prom}
	if cfg.Metrics.StatsdAddr != "" {
		sd, err := metrics.NewStatsd(cfg.Metrics.StatsdAddr, cfg.Metrics.Namespace, cfg.Metrics.Tags, logger)
		if err != nil {
			return err
		}
		defer sd.Close()
		recorders = append(recorders, sd)
	}

	driver, err := createDriver(cfg, prom.Instrument(), logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	deps := actor.ControllerDeps{
		Controller: driver,
		Clock:      clock.NewHostClock(flagStore, location, logger),
		Store:      flagStore,
		Metrics:    recorders,
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root
	defer as.Shutdown()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, modbusActorProvider(driver, logger), mqttActorProvider(cfg, logger),
			controllerActorProvider(cfg, deps, logger), logger)
	})
	pid, err := root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return err
	}
	defer root.Stop(pid)

	apiServer := server.NewServer(*cfg, root, pid, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := apiServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if cfg.Command.Device != "" {
		cmdPort, err := command.OpenPort(cfg.Command.Device, cfg.Command.BaudRate)
		if err != nil {
			return err
		}
		defer cmdPort.Close()
		listener := command.NewListener(cmdPort, location, func(req domain.ControllerRequest) {
			root.Send(pid, req)
		}, logger.With(zap.String("device", cfg.Command.Device)))
		g.Go(func() error {
			return listener.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("graceful shutdown complete")
	return err
}

// createDriver selects the transport: the built-in simulator, a Modbus
// gateway, or the local serial line.
func createDriver(cfg *config.Config, instrument *srne_modbus.ModbusInstrument, logger *zap.Logger) (*srne_modbus.Driver, error) {

	timeout := time.Duration(cfg.Serial.TimeoutMillis) * time.Millisecond

	var transport srne_modbus.Transport
	switch {
	case cfg.Simulate:
		logger.Warn("srne2mqtt: using simulated charge controller")
		transport = srne_modbus.NewRTUTransport(srne_modbus.NewSimulatedDevice(cfg.Serial.UnitId), cfg.Serial.UnitId, timeout, logger, instrument)
	case cfg.Gateway.URL != "":
		t, err := srne_modbus.CreateGatewayTransport(cfg.Gateway.URL, uint(cfg.Serial.BaudRate), cfg.Serial.UnitId, timeout, logger, instrument)
		if err != nil {
			return nil, err
		}
		transport = t
	default:
		t, err := srne_modbus.OpenRTUTransport(cfg.Serial.Device, cfg.Serial.BaudRate, cfg.Serial.UnitId, timeout, logger, instrument)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	driverCfg := srne_modbus.DefaultDriverConfig()
	if cfg.Serial.ReadIntervalMillis > 0 {
		driverCfg.ReadInterval = time.Duration(cfg.Serial.ReadIntervalMillis) * time.Millisecond
	}
	if cfg.Serial.WriteIntervalMillis > 0 {
		driverCfg.WriteInterval = time.Duration(cfg.Serial.WriteIntervalMillis) * time.Millisecond
	}
	return srne_modbus.NewDriver(transport, driverCfg, logger), nil
}

func modbusActorProvider(driver *srne_modbus.Driver, logger *zap.Logger) actor.ModbusActorProvider {
	return func() *adactor.ModbusActor {
		return adactor.NewModbusActor(driver, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func() *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, logger)
	}
}

func controllerActorProvider(cfg *config.Config, deps actor.ControllerDeps, logger *zap.Logger) actor.ControllerActorProvider {
	return func(modbusActor *pactor.PID, mqttActor *pactor.PID) *actor.ControllerActor {
		return actor.NewControllerActor(cfg, deps, modbusActor, mqttActor, logger)
	}
}

var _ port.AdjustableClock = (*clock.HostClock)(nil)

func initConfig() (*config.Config, error) {

	// alias PORT => SRNE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SRNE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("srne")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace", "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if _, err := config.CheckTelemetryTopic(cfg.MQTT.TelemetryTopic); err != nil {
		return nil, err
	}

	// check bounds
	if cfg.Supervisor.AlarmPeriodMillis < 1000 {
		return nil, errors.New("config param supervisor.alarm_period_millis should be >= 1000")
	}
	if cfg.Supervisor.FaultThreshold <= 0 {
		return nil, errors.New("config param supervisor.fault_threshold should be > 0")
	}
	if cfg.Supervisor.FullChargeTrigger != "soc" && cfg.Supervisor.FullChargeTrigger != "voltage" {
		return nil, errors.New("config param supervisor.full_charge_trigger must be soc or voltage")
	}
	if cfg.Supervisor.LoadReductionFactor <= 0 || cfg.Supervisor.LoadReductionFactor > 1 {
		return nil, errors.New("config param supervisor.load_reduction_factor must be in (0, 1]")
	}
	if !cfg.Simulate && cfg.Gateway.URL == "" && cfg.Serial.Device == "" {
		return nil, errors.New("config param serial.device is required unless gateway.url or simulate is set")
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("serial.device", "/dev/ttyUSB0")
	viper.SetDefault("serial.baud_rate", srne_modbus.DEFAULT_BAUD_RATE)
	viper.SetDefault("serial.unit_id", 1)
	viper.SetDefault("serial.timeout_millis", srne_modbus.DEFAULT_RESPONSE_TIMEOUT.Milliseconds())
	viper.SetDefault("gateway.url", "")
	viper.SetDefault("command.device", "")
	viper.SetDefault("command.baud_rate", 9600)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.base_topic", "srne2mqtt")
	viper.SetDefault("mqtt.telemetry_topic", service.DEFAULT_TELEMETRY_TOPIC)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("supervisor.alarm_period_millis", 5000)
	viper.SetDefault("supervisor.fault_threshold", 5)
	viper.SetDefault("supervisor.full_charge_trigger", "soc")
	viper.SetDefault("supervisor.full_charge_voltage", 14.2)
	viper.SetDefault("supervisor.load_reduction_periods", 2160)
	viper.SetDefault("supervisor.load_reduction_factor", 0.7)
	viper.SetDefault("supervisor.provision_on_boot", false)
	device := srne_modbus.DefaultDeviceSettings()
	viper.SetDefault("device.max_load_current", device.MaxLoadCurrent)
	viper.SetDefault("device.load_percentage", device.LoadPercentage)
	viper.SetDefault("device.light_control_voltage", device.LightControlVoltage)
	viper.SetDefault("device.system_voltage", device.SystemVoltage)
	viper.SetDefault("device.over_charge_voltage", device.OverChargeVoltage)
	viper.SetDefault("device.over_charge_return_voltage", device.OverChargeReturnVoltage)
	viper.SetDefault("device.over_discharge_voltage", device.OverDischargeVoltage)
	viper.SetDefault("device.over_discharge_return_voltage", device.OverDischargeReturnVoltage)
	viper.SetDefault("device.nominal_capacity", device.NominalCapacity)
	viper.SetDefault("store.path", "srne2mqtt.db")
	viper.SetDefault("metrics.namespace", "srne.")
	viper.SetDefault("simulate", false)
	viper.SetDefault("timezone", "Local")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
