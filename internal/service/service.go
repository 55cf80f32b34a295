package service

import (
	"context"

	"specac_control/internal/fleet"
	"specac_control/internal/logger"
	"specac_control/internal/models"
	"specac_control/internal/repository"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Control exposes fleet operations: scanning, applying settings and
// driving individual devices.
type Control interface {
	Scan(ctx context.Context) ([]models.DeviceIdentity, error)
	Devices() []fleet.DeviceStatus
	GetSettings(idx int) (models.ChamberSettings, error)
	ApplyAll() int
	ApplyDevice(idx int) error
	Ping(idx int) error
	SetIntensity(ctx context.Context, idx int, channel string, percent int) error
	SetSchedule(ctx context.Context, idx int, channel string, sched models.ChannelSchedule) error
	SetFan(idx int, enabled bool, speed int) error
	StartScheduler()
	StopScheduler()
	SchedulerRunning() bool
}

// Settings exposes whole-fleet settings export/import.
type Settings interface {
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, data []byte) (ImportReport, error)
}

// Audit exposes the executed-command log with filtering access.
type Audit interface {
	List(ctx context.Context, f AuditFilter) ([]models.AuditEntry, error)
}

// Dispatcher pumps executed-command results into the audit log and out to
// live subscribers. Stop via context cancellation in main() for graceful
// shutdown.
type Dispatcher interface {
	Run(ctx context.Context)
	Subscribe() (<-chan models.CommandResult, func())
}

type Service struct {
	Control
	Settings
	Audit
	Dispatcher
	Authorization
}

// NewService wires the repository layer and the fleet coordinator into
// concrete services.
func NewService(repos *repository.Repository, coord *fleet.Coordinator, log *logger.Logger) *Service {
	return &Service{
		Control:       NewControlService(coord, repos.Settings, log),
		Settings:      NewSettingsService(coord, repos.Settings, log),
		Audit:         NewAuditService(repos.Audit),
		Dispatcher:    NewDispatcherService(coord, repos.Audit, repos.Settings, log),
		Authorization: NewAuthService(repos.Auth),
	}
}
