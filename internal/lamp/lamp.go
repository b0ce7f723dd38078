// Package lamp turns the lamp's user-facing settings (weekday alarms,
// colours, clock) into command batches for the BLE client.
package lamp

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gion86/SmartLamp/internal/ble/protocol"
)

// DayAlarm is the wake-up alarm of one weekday.
type DayAlarm struct {
	Weekday  int    `json:"weekday" yaml:"weekday"` // 0 = Sunday, as time.Weekday
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Hour     int    `json:"hour" yaml:"hour"`
	Minute   int    `json:"minute" yaml:"minute"`
	FadeTime int    `json:"fade_time" yaml:"fade_time"` // minutes
	Red      int    `json:"red" yaml:"red"`
	Green    int    `json:"green" yaml:"green"`
	Blue     int    `json:"blue" yaml:"blue"`
}

// Validate reports whether the alarm can be sent. A disabled alarm only
// needs a valid weekday.
func (a DayAlarm) Validate() error {
	_, err := a.Command()
	return err
}

// Command returns the alarm-set command for an enabled alarm and the
// alarm-disable command otherwise.
func (a DayAlarm) Command() (string, error) {
	if !a.Enabled {
		return protocol.AlarmDisable(a.Weekday)
	}
	return protocol.AlarmSet(a.Weekday, a.Hour, a.Minute, a.FadeTime, a.Red, a.Green, a.Blue)
}

// SyncBatch returns the commands that bring the lamp in line with alarms:
// a clock sync to now followed by one command per alarm in weekday order.
func SyncBatch(now time.Time, alarms []DayAlarm) ([]string, error) {
	sorted := make([]DayAlarm, len(alarms))
	copy(sorted, alarms)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Weekday < sorted[j].Weekday })

	st, err := protocol.TimeSync(now)
	if err != nil {
		return nil, err
	}
	cmds := make([]string, 0, len(sorted)+1)
	cmds = append(cmds, st)

	for i, a := range sorted {
		if i > 0 && sorted[i-1].Weekday == a.Weekday {
			return nil, fmt.Errorf("%w: duplicate alarm for weekday %d", protocol.ErrInvalidParameter, a.Weekday)
		}
		cmd, err := a.Command()
		if err != nil {
			return nil, fmt.Errorf("alarm for weekday %d: %w", a.Weekday, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Color is an RGB lamp colour.
type Color struct {
	R, G, B uint8
}

// ParseColor accepts "#RRGGBB", "RRGGBB" or "R,G,B" with decimal components.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) != 3 {
			return Color{}, fmt.Errorf("%w: colour %q needs three components", protocol.ErrInvalidParameter, s)
		}
		var c [3]uint8
		for i, p := range parts {
			v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return Color{}, fmt.Errorf("%w: colour component %q: %v", protocol.ErrInvalidParameter, p, err)
			}
			c[i] = uint8(v)
		}
		return Color{R: c[0], G: c[1], B: c[2]}, nil
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return Color{}, fmt.Errorf("%w: colour %q is not #RRGGBB", protocol.ErrInvalidParameter, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("%w: colour %q: %v", protocol.ErrInvalidParameter, s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Command returns the RGB command lighting the lamp with c.
func (c Color) Command() string {
	// Components of a uint8 are always in range.
	cmd, _ := protocol.RGB(int(c.R), int(c.G), int(c.B))
	return cmd
}

func (c Color) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// ParseWeekday accepts 0-6 or an English day name ("mon", "Monday").
func ParseWeekday(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("%w: weekday %d out of range [0, 6]", protocol.ErrInvalidParameter, n)
		}
		return n, nil
	}
	if len(s) >= 3 {
		if n, ok := weekdayNames[s[:3]]; ok {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", protocol.ErrInvalidParameter, s)
}

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", protocol.ErrInvalidParameter, s)
	}
	return t.Hour(), t.Minute(), nil
}
