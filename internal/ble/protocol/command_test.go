package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestFormatGolden(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		p    Params
		want string
	}{
		{
			name: "alarm set",
			kind: KindAlarmSet,
			p:    Params{Weekday: 1, Hour: 7, Minute: 0, FadeTime: 10, Red: 238, Green: 218, Blue: 0},
			want: "AL_01_0700_10_238_218_000\r\n",
		},
		{
			name: "alarm set upper bounds",
			kind: KindAlarmSet,
			p:    Params{Weekday: 6, Hour: 23, Minute: 59, FadeTime: 99, Red: 255, Green: 255, Blue: 255},
			want: "AL_06_2359_99_255_255_255\r\n",
		},
		{
			name: "alarm disable",
			kind: KindAlarmDisable,
			p:    Params{Weekday: 5},
			want: "AL_DIS_05\r\n",
		},
		{
			name: "alarm time",
			kind: KindAlarmTime,
			p:    Params{Weekday: 0, Hour: 6, Minute: 30},
			want: "AL_00_0630\r\n",
		},
		{
			name: "fade time",
			kind: KindFadeTime,
			p:    Params{Weekday: 3, FadeTime: 5},
			want: "FT_03_5\r\n",
		},
		{
			name: "rgb",
			kind: KindRGB,
			p:    Params{Red: 1, Green: 22, Blue: 255},
			want: "RGB_001_022_255\r\n",
		},
		{
			name: "options",
			kind: KindOptions,
			p:    Params{OnTime: 5, Bright: 80},
			want: "OPT_05_080\r\n",
		},
		{name: "test", kind: KindTest, want: "TEST\r\n"},
		{name: "print", kind: KindPrint, want: "PRINT\r\n"},
		{name: "exit", kind: KindExit, want: "EXIT\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.kind, tt.p)
			if err != nil {
				t.Fatalf("Format() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatTimeSyncUsesUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2018, time.March, 4, 8, 5, 9, 0, loc)

	got, err := TimeSync(ts)
	if err != nil {
		t.Fatalf("TimeSync() error = %v", err)
	}
	if want := "ST_20180304_070509\r\n"; got != want {
		t.Errorf("TimeSync() = %q, want %q", got, want)
	}
}

func TestFormatRejectsOutOfRange(t *testing.T) {
	valid := Params{Weekday: 1, Hour: 7, Minute: 0, FadeTime: 10, Red: 238, Green: 218, Blue: 0}

	tests := []struct {
		name   string
		kind   Kind
		modify func(*Params)
	}{
		{"weekday 7", KindAlarmSet, func(p *Params) { p.Weekday = 7 }},
		{"weekday -1", KindAlarmSet, func(p *Params) { p.Weekday = -1 }},
		{"hour 24", KindAlarmSet, func(p *Params) { p.Hour = 24 }},
		{"minute 60", KindAlarmSet, func(p *Params) { p.Minute = 60 }},
		{"fade 0", KindAlarmSet, func(p *Params) { p.FadeTime = 0 }},
		{"fade 100", KindAlarmSet, func(p *Params) { p.FadeTime = 100 }},
		{"red 256", KindAlarmSet, func(p *Params) { p.Red = 256 }},
		{"green -1", KindAlarmSet, func(p *Params) { p.Green = -1 }},
		{"blue 300", KindAlarmSet, func(p *Params) { p.Blue = 300 }},
		{"disable weekday 7", KindAlarmDisable, func(p *Params) { p.Weekday = 7 }},
		{"rgb red -1", KindRGB, func(p *Params) { p.Red = -1 }},
		{"rgb blue 256", KindRGB, func(p *Params) { p.Blue = 256 }},
		{"fade time 0", KindFadeTime, func(p *Params) { p.FadeTime = 0 }},
		{"options on time 100", KindOptions, func(p *Params) { p.OnTime = 100 }},
		{"options bright 256", KindOptions, func(p *Params) { p.Bright = 256 }},
		{"zero time", KindTimeSync, func(p *Params) { p.Time = time.Time{} }},
		{"unknown kind", Kind(99), func(p *Params) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.modify(&p)
			got, err := Format(tt.kind, p)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("Format() error = %v, want ErrInvalidParameter", err)
			}
			if got != "" {
				t.Errorf("Format() = %q on error, want empty", got)
			}
		})
	}
}

func TestConvenienceConstructors(t *testing.T) {
	got, err := AlarmSet(1, 7, 0, 10, 238, 218, 0)
	if err != nil || got != "AL_01_0700_10_238_218_000\r\n" {
		t.Errorf("AlarmSet() = %q, %v", got, err)
	}
	got, err = AlarmDisable(5)
	if err != nil || got != "AL_DIS_05\r\n" {
		t.Errorf("AlarmDisable() = %q, %v", got, err)
	}
	got, err = RGB(0, 0, 0)
	if err != nil || got != "RGB_000_000_000\r\n" {
		t.Errorf("RGB() = %q, %v", got, err)
	}
}

func TestRaw(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"TEST", "TEST\r\n", false},
		{"PRINT\r\n", "PRINT\r\n", false},
		{"", "", true},
		{"   ", "", true},
	}
	for _, tt := range tests {
		got, err := Raw(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Raw(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Raw(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsAck(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"OK", true},
		{"data OK: 27", true},
		{"ok", false},
		{"", false},
		{"COUNT = 27", false},
	}
	for _, tt := range tests {
		if got := IsAck(tt.line); got != tt.want {
			t.Errorf("IsAck(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindAlarmSet.String() != "alarm-set" {
		t.Errorf("KindAlarmSet.String() = %q", KindAlarmSet.String())
	}
	if Kind(42).String() != "kind(42)" {
		t.Errorf("Kind(42).String() = %q", Kind(42).String())
	}
}
