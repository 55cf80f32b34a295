package models

// ChannelSchedule is one channel's on/off window. Times are "HH:MM".
// Active is derived by the scheduler, never set by callers.
type ChannelSchedule struct {
	OnTime  string `json:"on_time"`
	OffTime string `json:"off_time"`
	Enabled bool   `json:"enabled"`
	Active  bool   `json:"active,omitempty"`
}

// DefaultSchedule is the schedule a channel resets to when no persisted
// state exists for its chamber/channel key.
func DefaultSchedule() ChannelSchedule {
	return ChannelSchedule{OnTime: "08:00", OffTime: "00:00", Enabled: false}
}

// FanState is the last fan command acknowledged by a board.
type FanState struct {
	Enabled bool `json:"enabled"`
	Speed   int  `json:"speed"` // percent 0-100
}

// ChamberSettings holds everything the host remembers about one chamber:
// desired intensities (percent, keyed by channel name), per-channel
// schedules, and the fan state. This is also the per-chamber shape of the
// settings import/export file.
type ChamberSettings struct {
	Intensity map[string]int             `json:"intensity"`
	Schedule  map[string]ChannelSchedule `json:"schedule"`
	Fan       FanState                   `json:"fan"`
}

// NewChamberSettings returns settings with zero intensity and default
// schedules for every channel.
func NewChamberSettings() ChamberSettings {
	s := ChamberSettings{
		Intensity: make(map[string]int, NumChannels),
		Schedule:  make(map[string]ChannelSchedule, NumChannels),
	}
	for _, name := range ChannelNames {
		s.Intensity[name] = 0
		s.Schedule[name] = DefaultSchedule()
	}
	return s
}

// SettingsFile is the on-disk import/export document: chamber_<n> keys
// mapping to that chamber's settings.
type SettingsFile map[string]ChamberSettings
