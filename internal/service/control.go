package service

import (
	"context"
	"errors"
	"fmt"

	"specac_control/internal/fleet"
	"specac_control/internal/logger"
	"specac_control/internal/models"
	"specac_control/internal/repository"
)

var errNoSuchDevice = errors.New("no such device")

// ControlService drives the fleet coordinator and keeps the persisted
// per-chamber settings in step with every mutation.
type ControlService struct {
	coord        *fleet.Coordinator
	settingsRepo repository.SettingsRepo
	log          *logger.Logger
}

func NewControlService(coord *fleet.Coordinator, settingsRepo repository.SettingsRepo, log *logger.Logger) *ControlService {
	return &ControlService{coord: coord, settingsRepo: settingsRepo, log: log}
}

// Scan rebuilds the fleet from a fresh port enumeration. Settings for
// previously seen chambers come back through the coordinator's restore
// hook, which reads the same repo this service writes.
func (s *ControlService) Scan(ctx context.Context) ([]models.DeviceIdentity, error) {
	devices, err := s.coord.Rescan()
	if err != nil {
		return nil, fmt.Errorf("scan fleet: %w", err)
	}
	// Chambers seen for the first time get their defaults persisted right
	// away, so the next restart restores them even without edits.
	for i, d := range devices {
		if _, ok, loadErr := s.settingsRepo.Load(ctx, d.Chamber); loadErr == nil && !ok {
			if settings, found := s.coord.Settings(i); found {
				if saveErr := s.settingsRepo.Save(ctx, d.Chamber, settings); saveErr != nil {
					s.log.Warnw("persist defaults failed", "chamber", d.Chamber, "err", saveErr)
				}
			}
		}
	}
	return devices, nil
}

func (s *ControlService) Devices() []fleet.DeviceStatus { return s.coord.Status() }

func (s *ControlService) GetSettings(idx int) (models.ChamberSettings, error) {
	settings, ok := s.coord.Settings(idx)
	if !ok {
		return models.ChamberSettings{}, errNoSuchDevice
	}
	return settings, nil
}

func (s *ControlService) ApplyAll() int { return s.coord.ApplyAll() }

func (s *ControlService) ApplyDevice(idx int) error { return s.coord.ApplyDevice(idx) }

func (s *ControlService) Ping(idx int) error { return s.coord.Ping(idx) }

func (s *ControlService) SetIntensity(ctx context.Context, idx int, channel string, percent int) error {
	if err := s.coord.SetIntensity(idx, channel, percent); err != nil {
		return err
	}
	return s.persist(ctx, idx)
}

func (s *ControlService) SetSchedule(ctx context.Context, idx int, channel string, sched models.ChannelSchedule) error {
	err := s.coord.SetSchedule(idx, channel, sched)
	// Even a rejected schedule is stored (disabled), so persist either way.
	if persistErr := s.persist(ctx, idx); persistErr != nil && err == nil {
		err = persistErr
	}
	return err
}

func (s *ControlService) SetFan(idx int, enabled bool, speed int) error {
	// Fan state is cached and persisted by the dispatcher once the board
	// acknowledges, not here.
	return s.coord.SetFan(idx, enabled, speed)
}

func (s *ControlService) StartScheduler() { s.coord.StartScheduler() }

func (s *ControlService) StopScheduler() { s.coord.StopScheduler() }

func (s *ControlService) SchedulerRunning() bool { return s.coord.SchedulerRunning() }

func (s *ControlService) persist(ctx context.Context, idx int) error {
	devices := s.coord.Devices()
	if idx < 0 || idx >= len(devices) {
		return errNoSuchDevice
	}
	settings, ok := s.coord.Settings(idx)
	if !ok {
		return errNoSuchDevice
	}
	if err := s.settingsRepo.Save(ctx, devices[idx].Chamber, settings); err != nil {
		return fmt.Errorf("persist settings for chamber %d: %w", devices[idx].Chamber, err)
	}
	return nil
}
