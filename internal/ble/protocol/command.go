// Package protocol implements the SmartLamp serial command protocol: the
// fixed-width ASCII command grammar understood by the lamp firmware, the
// frame splitter used for link-layer writes, and the line reader that
// recovers response lines from notifications.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LineSep terminates every command and every response line.
const LineSep = "\r\n"

// AckToken is the substring the firmware puts in a response line once it
// has processed a command.
const AckToken = "OK"

// timeLayout is yyyyMMdd_HHmmss.
const timeLayout = "20060102_150405"

// ErrInvalidParameter is returned when a command parameter is outside the
// range the firmware accepts.
var ErrInvalidParameter = errors.New("protocol: invalid parameter")

// Kind identifies a command of the lamp protocol.
type Kind int

const (
	KindAlarmSet Kind = iota
	KindAlarmDisable
	KindAlarmTime
	KindFadeTime
	KindTimeSync
	KindRGB
	KindOptions
	KindTest
	KindPrint
	KindExit
)

func (k Kind) String() string {
	switch k {
	case KindAlarmSet:
		return "alarm-set"
	case KindAlarmDisable:
		return "alarm-disable"
	case KindAlarmTime:
		return "alarm-time"
	case KindFadeTime:
		return "fade-time"
	case KindTimeSync:
		return "time-sync"
	case KindRGB:
		return "rgb"
	case KindOptions:
		return "options"
	case KindTest:
		return "test"
	case KindPrint:
		return "print"
	case KindExit:
		return "exit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Params carries the arguments of a command. Each Kind reads only the
// fields it needs.
type Params struct {
	Weekday  int // 0-6
	Hour     int // 0-23
	Minute   int // 0-59
	FadeTime int // minutes, 1-99
	Red      int
	Green    int
	Blue     int
	Time     time.Time // KindTimeSync, sent as UTC
	OnTime   int       // KindOptions, 0-99
	Bright   int       // KindOptions, 0-255
}

// Format renders a command for kind. Parameters are range checked first;
// an out of range value yields an error wrapping ErrInvalidParameter and no
// command. The firmware parses fields by fixed offset, so field widths here
// are part of the wire format.
func Format(kind Kind, p Params) (string, error) {
	var body string
	switch kind {
	case KindAlarmSet:
		if err := firstErr(
			checkRange("weekday", p.Weekday, 0, 6),
			checkRange("hour", p.Hour, 0, 23),
			checkRange("minute", p.Minute, 0, 59),
			checkRange("fade time", p.FadeTime, 1, 99),
			checkRGB(p.Red, p.Green, p.Blue),
		); err != nil {
			return "", err
		}
		body = fmt.Sprintf("AL_%02d_%02d%02d_%02d_%03d_%03d_%03d",
			p.Weekday, p.Hour, p.Minute, p.FadeTime, p.Red, p.Green, p.Blue)

	case KindAlarmDisable:
		if err := checkRange("weekday", p.Weekday, 0, 6); err != nil {
			return "", err
		}
		body = fmt.Sprintf("AL_DIS_%02d", p.Weekday)

	case KindAlarmTime:
		if err := firstErr(
			checkRange("weekday", p.Weekday, 0, 6),
			checkRange("hour", p.Hour, 0, 23),
			checkRange("minute", p.Minute, 0, 59),
		); err != nil {
			return "", err
		}
		body = fmt.Sprintf("AL_%02d_%02d%02d", p.Weekday, p.Hour, p.Minute)

	case KindFadeTime:
		if err := firstErr(
			checkRange("weekday", p.Weekday, 0, 6),
			checkRange("fade time", p.FadeTime, 1, 99),
		); err != nil {
			return "", err
		}
		// The firmware reads the fade time up to the line end, unpadded.
		body = fmt.Sprintf("FT_%02d_%d", p.Weekday, p.FadeTime)

	case KindTimeSync:
		if p.Time.IsZero() {
			return "", fmt.Errorf("%w: time is zero", ErrInvalidParameter)
		}
		body = "ST_" + p.Time.UTC().Format(timeLayout)

	case KindRGB:
		if err := checkRGB(p.Red, p.Green, p.Blue); err != nil {
			return "", err
		}
		body = fmt.Sprintf("RGB_%03d_%03d_%03d", p.Red, p.Green, p.Blue)

	case KindOptions:
		if err := firstErr(
			checkRange("on time", p.OnTime, 0, 99),
			checkRange("brightness", p.Bright, 0, 255),
		); err != nil {
			return "", err
		}
		body = fmt.Sprintf("OPT_%02d_%03d", p.OnTime, p.Bright)

	case KindTest:
		body = "TEST"
	case KindPrint:
		body = "PRINT"
	case KindExit:
		body = "EXIT"

	default:
		return "", fmt.Errorf("%w: unknown command kind %d", ErrInvalidParameter, int(kind))
	}
	return body + LineSep, nil
}

// AlarmSet formats the full alarm command for one weekday.
func AlarmSet(weekday, hour, minute, fade, r, g, b int) (string, error) {
	return Format(KindAlarmSet, Params{
		Weekday: weekday, Hour: hour, Minute: minute, FadeTime: fade,
		Red: r, Green: g, Blue: b,
	})
}

// AlarmDisable formats the command that switches off the alarm of a weekday.
func AlarmDisable(weekday int) (string, error) {
	return Format(KindAlarmDisable, Params{Weekday: weekday})
}

// TimeSync formats the command that sets the lamp clock to t (in UTC).
func TimeSync(t time.Time) (string, error) {
	return Format(KindTimeSync, Params{Time: t})
}

// RGB formats the command that lights the lamp with the given colour.
func RGB(r, g, b int) (string, error) {
	return Format(KindRGB, Params{Red: r, Green: g, Blue: b})
}

// Raw turns free text typed on a debug console into a command, appending
// the line separator when it is missing.
func Raw(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty command", ErrInvalidParameter)
	}
	if !strings.Contains(text, LineSep) {
		text += LineSep
	}
	return text, nil
}

// IsAck reports whether a response line acknowledges the last command.
func IsAck(line string) bool {
	return strings.Contains(line, AckToken)
}

func checkRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %d out of range [%d, %d]", ErrInvalidParameter, name, v, lo, hi)
	}
	return nil
}

func checkRGB(r, g, b int) error {
	return firstErr(
		checkRange("red", r, 0, 255),
		checkRange("green", g, 0, 255),
		checkRange("blue", b, 0, 255),
	)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
