package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"specac_control/internal/fleet"
	"specac_control/internal/logger"
	"specac_control/internal/models"
	"specac_control/internal/repository"
)

const (
	chamberKeyPrefix = "chamber_"
	// Legacy documents keyed blocks by device index instead of chamber id.
	boardKeyPrefix = "board_"
)

// ImportReport summarizes what a settings import touched.
type ImportReport struct {
	Chambers int `json:"chambers"` // chamber blocks parsed and persisted
	Applied  int `json:"applied"`  // devices currently present that were updated
}

// SettingsService moves whole-fleet settings in and out as one JSON
// document keyed by "chamber_<n>".
type SettingsService struct {
	coord        *fleet.Coordinator
	settingsRepo repository.SettingsRepo
	log          *logger.Logger
}

func NewSettingsService(coord *fleet.Coordinator, settingsRepo repository.SettingsRepo, log *logger.Logger) *SettingsService {
	return &SettingsService{coord: coord, settingsRepo: settingsRepo, log: log}
}

// Export snapshots the current fleet's settings, scheduler-derived active
// flags included.
func (s *SettingsService) Export(ctx context.Context) ([]byte, error) {
	out := make(models.SettingsFile)
	for i, d := range s.coord.Devices() {
		if settings, ok := s.coord.Settings(i); ok {
			out[chamberKeyPrefix+strconv.Itoa(d.Chamber)] = settings
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// Import parses a settings document, persists every chamber block it names
// and pushes the new settings to the devices that are currently attached.
// Blocks for absent chambers are persisted too; a later scan picks them up.
func (s *SettingsService) Import(ctx context.Context, data []byte) (ImportReport, error) {
	var file models.SettingsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return ImportReport{}, fmt.Errorf("parse settings document: %w", err)
	}

	devices := s.coord.Devices()
	byChamber := make(map[int]int) // chamber -> device index
	for i, d := range devices {
		byChamber[d.Chamber] = i
	}

	var report ImportReport
	for key, block := range file {
		chamber, err := parseSettingsKey(key, devices)
		if err != nil {
			return report, err
		}
		normalized := fleet.NormalizeSettings(block)

		if err := s.settingsRepo.Save(ctx, chamber, normalized); err != nil {
			return report, fmt.Errorf("persist chamber %d: %w", chamber, err)
		}
		report.Chambers++

		idx, present := byChamber[chamber]
		if !present {
			continue
		}
		if err := s.coord.SetChamberSettings(idx, normalized); err != nil {
			return report, err
		}
		if err := s.coord.ApplyDevice(idx); err != nil {
			s.log.Warnw("apply imported settings failed", "chamber", chamber, "err", err)
		}
		if err := s.coord.SetFan(idx, normalized.Fan.Enabled, normalized.Fan.Speed); err != nil {
			s.log.Warnw("apply imported fan failed", "chamber", chamber, "err", err)
		}
		report.Applied++
	}
	return report, nil
}

// parseSettingsKey resolves a document key to a chamber id. Legacy
// "board_<idx>" keys resolve through the currently attached device at
// that index, so they only import while the board is present.
func parseSettingsKey(key string, devices []models.DeviceIdentity) (int, error) {
	if rest, ok := strings.CutPrefix(key, chamberKeyPrefix); ok {
		chamber, err := strconv.Atoi(rest)
		if err != nil || chamber < 0 {
			return 0, fmt.Errorf("unrecognized settings key %q", key)
		}
		return chamber, nil
	}
	if rest, ok := strings.CutPrefix(key, boardKeyPrefix); ok {
		idx, err := strconv.Atoi(rest)
		if err != nil || idx < 0 {
			return 0, fmt.Errorf("unrecognized settings key %q", key)
		}
		if idx >= len(devices) {
			return 0, fmt.Errorf("settings key %q names an unattached board", key)
		}
		return devices[idx].Chamber, nil
	}
	return 0, fmt.Errorf("unrecognized settings key %q", key)
}
