// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motorwire

import (
	"fmt"
	"strings"
)

// FormatFrame formats a scanned frame into a human-readable string
func FormatFrame(f Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s id=%d len=%d\n", timestamp, f.Kind, f.ID, len(f.Raw))
	if f.Kind == KindCommand {
		return result + "  " + FormatCommand(f.Command) + "\n"
	}
	return result + "  " + FormatFeedback(f.Feedback) + "\n"
}

// FormatCommand returns a one-line description of a command
func FormatCommand(c Command) string {
	return fmt.Sprintf("tor=%.3f spd=%.3f pos=%.4f kp=%.4f kd=%.4f",
		c.Torque, c.Speed, c.Position, c.KPos, c.KSpd)
}

// FormatFeedback returns a one-line description of a feedback frame
func FormatFeedback(fb Feedback) string {
	return fmt.Sprintf("status=%s tor=%.3f spd=%.3f pos=%.4f temp=%d°C err=%s force=%d",
		FormatStatus(fb.Status), fb.Torque, fb.Speed, fb.Position, fb.Temperature, fb.Error, fb.Force)
}

// FormatStatus returns the human-readable name for a mode-byte status
func FormatStatus(status uint8) string {
	switch status {
	case StatusLock:
		return "LOCK"
	case StatusRun:
		return "RUN"
	case StatusCalib:
		return "CALIB"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", status)
	}
}

// String returns the human-readable name for an error code
func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "NONE"
	case ErrorOverheat:
		return "OVERHEAT"
	case ErrorOvercurrent:
		return "OVERCURRENT"
	case ErrorOvervoltage:
		return "OVERVOLTAGE"
	case ErrorEncoder:
		return "ENCODER"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(e))
	}
}

// FormatHex returns the frame bytes as space-separated hex
func FormatHex(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
