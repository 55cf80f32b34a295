package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"specac_control/internal/device"
	"specac_control/internal/fleet"
	"specac_control/internal/handlers"
	"specac_control/internal/logger"
	"specac_control/internal/models"
	"specac_control/internal/repository"
	"specac_control/internal/repository/db"
	"specac_control/internal/server"
	"specac_control/internal/service"
	"specac_control/internal/telemetry"

	"github.com/spf13/viper"
)

func main() {
	// init logger
	log := logger.Get(logger.InfoLevel)

	// load config.yml
	if err := loadConfig(); err != nil {
		log.Fatalw("error reading config", "err", err)
	}

	// open DB
	database, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := database.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// wire dependencies
	repos := repository.NewRepository(database)
	coord := buildCoordinator(repos, log)
	defer coord.Close()

	services := service.NewService(repos, coord, log)
	apiHandler := handlers.NewHandler(services, log)

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// drain command results into the audit log and websocket feeds
	go services.Dispatcher.Run(ctx)

	// optional SNMP telemetry
	go telemetry.NewSender(snmpConfig(), coord, log).Run(ctx)

	// discover attached boards and start the scheduler
	if devices, err := services.Scan(ctx); err != nil {
		log.Warnw("initial scan failed", "err", err)
	} else {
		log.Infow("initial scan", "devices", len(devices))
	}
	if viper.GetBool("scheduler.autostart") {
		services.StartScheduler()
	}

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

// openDB initializes the SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "app.db")
		dbPath = "app.db"
	}
	return db.InitDB(dbPath)
}

// buildCoordinator assembles the fleet coordinator from config, wiring its
// settings restore hook to the repository so schedules survive restarts.
func buildCoordinator(repos *repository.Repository, log *logger.Logger) *fleet.Coordinator {
	var mapping map[string]int
	if path := viper.GetString("fleet.mapping_path"); path != "" {
		m, err := device.LoadChamberMapping(path)
		if err != nil {
			log.Warnw("chamber mapping unavailable, chambers will be synthesized", "path", path, "err", err)
		} else {
			mapping = m
		}
	}

	return fleet.New(fleet.Config{
		Link: device.LinkConfig{
			BaudRate:    viper.GetInt("serial.baud_rate"),
			SettleDelay: viper.GetDuration("serial.settle_delay"),
			ReadTimeout: viper.GetDuration("serial.read_timeout"),
			MaxRetries:  viper.GetInt("serial.max_retries"),
			RetryDelay:  viper.GetDuration("serial.retry_delay"),
		},
		CoalesceWindow: viper.GetDuration("fleet.coalesce_window"),
		ApplyDelay:     viper.GetDuration("fleet.apply_delay"),
		Mapping:        mapping,
		Restore: func(chamber int) (models.ChamberSettings, bool) {
			s, ok, err := repos.Settings.Load(context.Background(), chamber)
			if err != nil {
				log.Warnw("settings restore failed", "chamber", chamber, "err", err)
				return models.ChamberSettings{}, false
			}
			return s, ok
		},
	}, log)
}

func snmpConfig() telemetry.SNMPConfig {
	return telemetry.SNMPConfig{
		Enabled:   viper.GetBool("snmp.enabled"),
		Host:      viper.GetString("snmp.host"),
		Port:      uint16(viper.GetUint("snmp.port")),
		Community: viper.GetString("snmp.community"),
		Interval:  viper.GetDuration("snmp.interval"),
		LightOID:  viper.GetString("snmp.light_oid"),
		FanOID:    viper.GetString("snmp.fan_oid"),
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
