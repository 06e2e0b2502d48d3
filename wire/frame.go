// Package wire implements the line protocol spoken by the thruster
// controller. All frames are single ASCII lines terminated by \n:
//
//	C <left_us> <right_us>                        host -> remote command
//	S <mode> <left_us> <right_us>                 remote status, ~100ms
//	S <left_us> <right_us>                        legacy status (stream firmware only)
//	F <freq_hz> <flow_lmin> <velocity_ms> <total> remote flow meter, ~1s
//	PING / PONG                                   keepalive handshake
//	HEARTBEAT                                     remote liveness, ~500ms
//
// Parsing is pure classification: anything that does not match exactly
// is Unrecognized, never an error.
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Servo pulse width bounds accepted by the remote, microseconds.
const (
	PulseMin     = 1100
	PulseNeutral = 1500
	PulseMax     = 1900
)

const (
	TokenHeartbeat = "HEARTBEAT"
	TokenPing      = "PING"
	TokenPong      = "PONG"
)

// Mode is the control source reported in status frames.
type Mode int8

const (
	// ModeUnknown is reported for legacy status frames that carry no
	// mode field. Deliberately distinct from both wire values.
	ModeUnknown Mode = -1
	// ModeManual: remote fell back to local RC control.
	ModeManual Mode = 0
	// ModeNetwork: remote executes network commands.
	ModeNetwork Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeNetwork:
		return "network"
	}
	return "unknown"
}

type Kind uint8

const (
	Unrecognized Kind = iota
	Heartbeat
	Pong
	Status
	Flow
)

func (k Kind) String() string {
	switch k {
	case Heartbeat:
		return "heartbeat"
	case Pong:
		return "pong"
	case Status:
		return "status"
	case Flow:
		return "flow"
	}
	return "unrecognized"
}

// Frame is one parsed inbound line. Only the fields relevant to Kind
// are set: Mode/Left/Right for Status, the float fields for Flow.
type Frame struct {
	Kind  Kind
	Mode  Mode
	Left  int
	Right int

	FreqHz     float64
	RateLMin   float64
	VelocityMS float64
	TotalL     float64
}

func (f *Frame) String() string {
	switch f.Kind {
	case Status:
		return fmt.Sprintf("status mode=%s left=%d right=%d", f.Mode, f.Left, f.Right)
	case Flow:
		return fmt.Sprintf("flow freq=%.2fHz rate=%.2fL/min velocity=%.4fm/s total=%.3fL",
			f.FreqHz, f.RateLMin, f.VelocityMS, f.TotalL)
	}
	return f.Kind.String()
}

// Parse classifies one received line. Surrounding whitespace is
// ignored; token content is not. Shaped lines with bad numeric fields
// or a wrong token count degrade to Unrecognized.
func Parse(line string) Frame { return parse(line, false) }

// ParseLenient is Parse plus the legacy 3-token status frame, which
// only the stream firmware emits. Datagram sessions use strict Parse
// so a truncated status is surfaced as Unrecognized, not mis-read.
func ParseLenient(line string) Frame { return parse(line, true) }

func parse(line string, legacy bool) Frame {
	line = strings.TrimSpace(line)
	switch line {
	case TokenHeartbeat:
		return Frame{Kind: Heartbeat}
	case TokenPong:
		return Frame{Kind: Pong}
	}

	tok := strings.Fields(line)
	if len(tok) == 0 {
		return Frame{}
	}
	switch tok[0] {
	case "S":
		return parseStatus(tok, legacy)
	case "F":
		return parseFlow(tok)
	}
	return Frame{}
}

func parseStatus(tok []string, legacy bool) Frame {
	f := Frame{Kind: Status, Mode: ModeUnknown}
	var err error
	switch len(tok) {
	case 4:
		var mode int
		if mode, err = strconv.Atoi(tok[1]); err != nil {
			return Frame{}
		}
		f.Mode = Mode(mode)
		tok = tok[1:]
	case 3:
		// legacy frame without mode field
		if !legacy {
			return Frame{}
		}
	default:
		return Frame{}
	}
	if f.Left, err = strconv.Atoi(tok[1]); err != nil {
		return Frame{}
	}
	if f.Right, err = strconv.Atoi(tok[2]); err != nil {
		return Frame{}
	}
	return f
}

func parseFlow(tok []string) Frame {
	if len(tok) != 5 {
		return Frame{}
	}
	f := Frame{Kind: Flow}
	var err error
	if f.FreqHz, err = strconv.ParseFloat(tok[1], 64); err != nil {
		return Frame{}
	}
	if f.RateLMin, err = strconv.ParseFloat(tok[2], 64); err != nil {
		return Frame{}
	}
	if f.VelocityMS, err = strconv.ParseFloat(tok[3], 64); err != nil {
		return Frame{}
	}
	if f.TotalL, err = strconv.ParseFloat(tok[4], 64); err != nil {
		return Frame{}
	}
	return f
}

// ClampPulse forces v into the pulse width range the remote accepts.
func ClampPulse(v int) int {
	if v < PulseMin {
		return PulseMin
	}
	if v > PulseMax {
		return PulseMax
	}
	return v
}

// FormatCommand renders a command frame, clamping both values.
func FormatCommand(left, right int) []byte {
	return []byte(fmt.Sprintf("C %d %d\n", ClampPulse(left), ClampPulse(right)))
}

// FormatPing renders a keepalive/handshake frame.
func FormatPing() []byte { return []byte(TokenPing + "\n") }
