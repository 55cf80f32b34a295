// Package protocol encodes board commands to wire bytes and classifies raw
// response lines. The wire format is ASCII, one newline-terminated command
// per line, one response line per command. Nothing here performs I/O.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"specac_control/internal/models"
)

// Command verbs understood by the board firmware.
const (
	CmdSetAll = "SETALL"
	CmdFanSet = "FAN_SET"
	CmdPing   = "PING"
)

const (
	respOK        = "OK"
	respErrPrefix = "ERR:"
)

// EncodeSetChannels builds "SETALL d0 d1 d2 d3 d4 d5\n". Every duty value
// must be within [0, MaxDuty].
func EncodeSetChannels(duties [models.NumChannels]int) ([]byte, error) {
	var b strings.Builder
	b.WriteString(CmdSetAll)
	for i, d := range duties {
		if d < 0 || d > models.MaxDuty {
			return nil, fmt.Errorf("duty[%d] = %d out of range [0, %d]", i, d, models.MaxDuty)
		}
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(d))
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// EncodeFanSet builds "FAN_SET p\n" for p in [0, 100].
func EncodeFanSet(percent int) ([]byte, error) {
	if percent < 0 || percent > 100 {
		return nil, fmt.Errorf("fan percent %d out of range [0, 100]", percent)
	}
	return []byte(CmdFanSet + " " + strconv.Itoa(percent) + "\n"), nil
}

// EncodePing builds "PING\n".
func EncodePing() []byte {
	return []byte(CmdPing + "\n")
}

// Verdict classifies one response line.
type Verdict int

const (
	// VerdictOK means the board acknowledged the command.
	VerdictOK Verdict = iota
	// VerdictBoardError means the board answered ERR:<reason>. This is a
	// definitive answer, not a transport failure.
	VerdictBoardError
	// VerdictEmpty means the read returned nothing; the link treats this
	// as a timeout.
	VerdictEmpty
	// VerdictUnexpected means the line was non-empty but unrecognized.
	VerdictUnexpected
)

// Reply is the classified form of a raw response line.
type Reply struct {
	Verdict Verdict
	// Payload holds the trimmed ERR reason, or the raw line for
	// unexpected responses.
	Payload string
}

// Classify inspects a raw response line. Success iff the line contains the
// OK token; ERR:<reason> yields the trimmed reason; anything else non-empty
// is unexpected.
func Classify(line []byte) Reply {
	trimmed := strings.TrimSpace(string(line))
	switch {
	case trimmed == "":
		return Reply{Verdict: VerdictEmpty}
	case strings.HasPrefix(trimmed, respErrPrefix):
		return Reply{
			Verdict: VerdictBoardError,
			Payload: strings.TrimSpace(trimmed[len(respErrPrefix):]),
		}
	case strings.Contains(trimmed, respOK):
		return Reply{Verdict: VerdictOK}
	default:
		return Reply{Verdict: VerdictUnexpected, Payload: trimmed}
	}
}
