package device

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.bug.st/serial/enumerator"

	"specac_control/internal/models"
)

// USB identifiers of the XIAO RP2040 boards driving the chambers.
const (
	BoardVID = "2E8A"
	BoardPID = "0005"
)

// PortLister enumerates serial ports. Swappable in tests.
type PortLister func() ([]*enumerator.PortDetails, error)

// Detect enumerates USB serial ports, keeps the chamber boards (matched by
// VID/PID, must expose a serial number) and resolves chamber numbers from
// the serial->chamber mapping. Unmapped boards get a synthesized id >= 1000
// that collides with neither mapped chambers nor earlier synthesized ids.
// The result is sorted by chamber number.
func Detect(list PortLister, mapping map[string]int) ([]models.DeviceIdentity, error) {
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	ports, err := list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	taken := make(map[int]bool, len(mapping))
	for _, n := range mapping {
		taken[n] = true
	}

	var found []models.DeviceIdentity
	for _, p := range ports {
		if !p.IsUSB || !strings.EqualFold(p.VID, BoardVID) || !strings.EqualFold(p.PID, BoardPID) {
			continue
		}
		if p.SerialNumber == "" {
			continue
		}
		id := models.DeviceIdentity{Port: p.Name, SerialNumber: p.SerialNumber}
		if n, ok := mapping[p.SerialNumber]; ok {
			id.Chamber = n
			id.Mapped = true
		} else {
			n := models.SyntheticChamberBase
			for taken[n] {
				n++
			}
			taken[n] = true
			id.Chamber = n
		}
		found = append(found, id)
		if len(found) == models.MaxBoards {
			break
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Chamber < found[j].Chamber })
	return found, nil
}

// LoadChamberMapping reads a "chamber:serial" mapping file, one entry per
// line, '#' comments and blank lines ignored. Returns serial -> chamber.
func LoadChamberMapping(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseChamberMapping(bufio.NewScanner(f))
}

func parseChamberMapping(sc *bufio.Scanner) (map[string]int, error) {
	mapping := make(map[string]int)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		chamberStr, serial, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("mapping line %d: missing ':' separator", lineNum)
		}
		chamber, err := strconv.Atoi(strings.TrimSpace(chamberStr))
		if err != nil {
			return nil, fmt.Errorf("mapping line %d: chamber number: %w", lineNum, err)
		}
		serial = strings.TrimSpace(serial)
		if serial == "" {
			return nil, fmt.Errorf("mapping line %d: empty serial number", lineNum)
		}
		mapping[serial] = chamber
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return mapping, nil
}
