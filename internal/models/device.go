package models

// NumChannels is the number of LED channels driven per board.
const NumChannels = 6

// MaxBoards caps how many chambers a single host controls.
const MaxBoards = 16

// MaxDuty is the highest PWM duty cycle accepted by the firmware.
const MaxDuty = 4095

// ChannelNames lists the LED channels in firmware order (PCA9685 outputs 0-5).
var ChannelNames = [NumChannels]string{"UV", "FAR_RED", "RED", "WHITE", "GREEN", "BLUE"}

// ChannelIndex returns the firmware channel number for a name, or -1.
func ChannelIndex(name string) int {
	for i, n := range ChannelNames {
		if n == name {
			return i
		}
	}
	return -1
}

// SyntheticChamberBase is the first chamber number handed out to boards that
// are missing from the serial->chamber mapping file.
const SyntheticChamberBase = 1000

// DeviceIdentity describes one detected board. Immutable after detection; a
// rescan replaces the whole set.
type DeviceIdentity struct {
	Port         string `json:"port"`
	SerialNumber string `json:"serial_number"`
	Chamber      int    `json:"chamber"`
	Mapped       bool   `json:"mapped"` // false when Chamber was synthesized
}

// ConnState is the lifecycle state of one device link.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFaulted
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// CommandResult is one executed intent's outcome, streamed to the UI and
// appended to the audit log.
type CommandResult struct {
	ResultID    string `json:"result_id"`
	DeviceIndex int    `json:"device_index"`
	Chamber     int    `json:"chamber"`
	CommandType string `json:"command_type"` // SETALL | FAN_SET | PING
	Success     bool   `json:"success"`
	Message     string `json:"message"`
}
