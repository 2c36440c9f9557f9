package challenge

import (
	"strings"
	"testing"
	"time"
)

var tashkent = time.FixedZone("UZT", 5*60*60)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, tashkent)
}

func TestRenderWithoutDateReturnsMessage(t *testing.T) {
	t.Parallel()

	p := NewPayload(Schedule{Message: "  raw *text*\nline2", StartDate: "not-a-date"})
	got, err := Render(p, at(2025, time.January, 15, 9, 30))
	if err != nil {
		t.Fatalf("Render err = %v", err)
	}
	if got != "  raw *text*\nline2" {
		t.Fatalf("Render = %q, want message unchanged", got)
	}
}

func TestRenderDateMode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		start string
		end   string
		want  string
	}{
		{
			name:  "counter only",
			start: "2025-01-04",
			want:  "Bugun: 15-yanvar, chorshanba  [ 2025-01-15 ]\nkun: 12\n\nhello",
		},
		{
			name:  "first day",
			start: "2025-01-15",
			want:  "Bugun: 15-yanvar, chorshanba  [ 2025-01-15 ]\nkun: 1\n\nhello",
		},
		{
			name:  "start tomorrow gives zero",
			start: "2025-01-16",
			want:  "Bugun: 15-yanvar, chorshanba  [ 2025-01-15 ]\nkun: 0\n\nhello",
		},
		{
			name:  "start in a week gives negative",
			start: "2025-01-22",
			want:  "Bugun: 15-yanvar, chorshanba  [ 2025-01-15 ]\nkun: -6\n\nhello",
		},
		{
			name:  "remaining days",
			start: "2025-01-01",
			end:   "2025-01-20",
			want:  "Bugun: 15-yanvar, chorshanba  [ 2025-01-15 ]\nkun: 15\nMaqsadingizga erishish uchun 5 kun qoldi\n\nhello",
		},
		{
			name:  "end today is finished",
			start: "2025-01-01",
			end:   "2025-01-15",
			want:  "Bugun: 15-yanvar, chorshanba  [ 2025-01-15 ]\nkun: 15\n✅ Challenge tugagan!\n\nhello",
		},
		{
			name:  "end in the past is finished",
			start: "2025-01-01",
			end:   "2025-01-02",
			want:  "Bugun: 15-yanvar, chorshanba  [ 2025-01-15 ]\nkun: 15\n✅ Challenge tugagan!\n\nhello",
		},
		{
			name:  "bad end date drops the line",
			start: "2025-01-01",
			end:   "2025-13-40",
			want:  "Bugun: 15-yanvar, chorshanba  [ 2025-01-15 ]\nkun: 15\n\nhello",
		},
		{
			name: "blank start defaults to epoch",
			want: "Bugun: 15-yanvar, chorshanba  [ 2025-01-15 ]\nkun: 20104\n\nhello",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := NewPayload(Schedule{Message: "hello", WithDate: true, StartDate: tc.start, EndDate: tc.end})
			got, err := Render(p, at(2025, time.January, 15, 9, 30))
			if err != nil {
				t.Fatalf("Render err = %v", err)
			}
			if got != tc.want {
				t.Fatalf("Render =\n%q\nwant\n%q", got, tc.want)
			}
		})
	}
}

func TestRenderUsesLocalCalendarDay(t *testing.T) {
	t.Parallel()

	// 00:10 in Tashkent is still the previous day in UTC.
	now := at(2025, time.March, 1, 0, 10)
	p := NewPayload(Schedule{Message: "m", WithDate: true, StartDate: "2025-03-01"})
	got, err := Render(p, now)
	if err != nil {
		t.Fatalf("Render err = %v", err)
	}
	if !strings.HasPrefix(got, "Bugun: 1-mart, shanba  [ 2025-03-01 ]\nkun: 1\n") {
		t.Fatalf("Render = %q", got)
	}
}

func TestRenderBadStartDateFails(t *testing.T) {
	t.Parallel()

	p := NewPayload(Schedule{Message: "m", WithDate: true, StartDate: "01/02/2025"})
	if _, err := Render(p, at(2025, time.January, 15, 9, 30)); err == nil {
		t.Fatalf("Render err = nil, want start date error")
	}
}

func TestDateLineCoversAllNames(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"2024-12-30": "30-dekabr, dushanba  [ 2024-12-30 ]",
		"2024-12-31": "31-dekabr, seshanba  [ 2024-12-31 ]",
		"2025-05-02": "2-may, juma  [ 2025-05-02 ]",
		"2025-09-07": "7-sentyabr, yakshanba  [ 2025-09-07 ]",
		"2025-07-17": "17-iyul, payshanba  [ 2025-07-17 ]",
	}
	for in, want := range cases {
		d, err := ParseDate(in)
		if err != nil {
			t.Fatalf("ParseDate(%q) err = %v", in, err)
		}
		if got := DateLine(d); got != want {
			t.Fatalf("DateLine(%s) = %q, want %q", in, got, want)
		}
	}
}
