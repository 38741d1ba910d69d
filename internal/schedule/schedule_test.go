package schedule

import (
	"testing"
	"time"

	"github.com/acme/outbound-dialer/internal/domain"
)

func mustLoc(t *testing.T, tz string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", tz, err)
	}
	return loc
}

func TestNextValidSlot_AlreadyInWindow(t *testing.T) {
	rules := domain.ScheduleRules{
		Days:      []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		StartTime: "09:00",
		EndTime:   "17:00",
	}
	loc := mustLoc(t, "America/New_York")
	from := time.Date(2026, time.March, 10, 10, 30, 0, 0, loc) // a Tuesday

	got, err := NextValidSlot(rules, "America/New_York", from)
	if err != nil {
		t.Fatalf("NextValidSlot: %v", err)
	}
	if !got.Equal(from) {
		t.Errorf("expected unchanged %v, got %v", from, got)
	}
}

func TestNextValidSlot_BeforeWindowSameDay(t *testing.T) {
	rules := domain.ScheduleRules{
		Days:      []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		StartTime: "09:00",
		EndTime:   "17:00",
	}
	loc := mustLoc(t, "America/New_York")
	from := time.Date(2026, time.March, 10, 6, 0, 0, 0, loc) // Tuesday, before 9am

	got, err := NextValidSlot(rules, "America/New_York", from)
	if err != nil {
		t.Fatalf("NextValidSlot: %v", err)
	}
	want := time.Date(2026, time.March, 10, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextValidSlot_AfterWindowRollsToNextAllowedDay(t *testing.T) {
	rules := domain.ScheduleRules{
		Days:      []string{"monday", "wednesday", "friday"},
		StartTime: "09:00",
		EndTime:   "17:00",
	}
	loc := mustLoc(t, "America/New_York")
	from := time.Date(2026, time.March, 9, 18, 0, 0, 0, loc) // Monday evening, past window

	got, err := NextValidSlot(rules, "America/New_York", from)
	if err != nil {
		t.Fatalf("NextValidSlot: %v", err)
	}
	want := time.Date(2026, time.March, 11, 9, 0, 0, 0, loc) // Wednesday
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextValidSlot_WeekendSkipsToMonday(t *testing.T) {
	rules := domain.ScheduleRules{
		Days:      []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		StartTime: "09:00",
		EndTime:   "17:00",
	}
	loc := mustLoc(t, "America/New_York")
	from := time.Date(2026, time.March, 14, 12, 0, 0, 0, loc) // Saturday

	got, err := NextValidSlot(rules, "America/New_York", from)
	if err != nil {
		t.Fatalf("NextValidSlot: %v", err)
	}
	want := time.Date(2026, time.March, 16, 9, 0, 0, 0, loc) // following Monday
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextValidSlot_MidnightCrossingWindowStaysOpen(t *testing.T) {
	rules := domain.ScheduleRules{
		Days:      []string{"friday"},
		StartTime: "22:00",
		EndTime:   "02:00",
	}
	loc := mustLoc(t, "America/New_York")
	// Saturday 01:00 — still inside Friday's window, which crosses midnight.
	from := time.Date(2026, time.March, 14, 1, 0, 0, 0, loc)

	got, err := NextValidSlot(rules, "America/New_York", from)
	if err != nil {
		t.Fatalf("NextValidSlot: %v", err)
	}
	if !got.Equal(from) {
		t.Errorf("expected unchanged %v, got %v", from, got)
	}
}

func TestNextValidSlot_MidnightCrossingWindowOpensLater(t *testing.T) {
	rules := domain.ScheduleRules{
		Days:      []string{"friday"},
		StartTime: "22:00",
		EndTime:   "02:00",
	}
	loc := mustLoc(t, "America/New_York")
	from := time.Date(2026, time.March, 13, 20, 0, 0, 0, loc) // Friday 20:00, before window

	got, err := NextValidSlot(rules, "America/New_York", from)
	if err != nil {
		t.Fatalf("NextValidSlot: %v", err)
	}
	want := time.Date(2026, time.March, 13, 22, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextValidSlot_SpansAcrossTimeZoneConversion(t *testing.T) {
	rules := domain.ScheduleRules{
		Days:      []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		StartTime: "09:00",
		EndTime:   "17:00",
	}
	// from is expressed in UTC but the schedule lives in Tokyo.
	from := time.Date(2026, time.March, 9, 23, 0, 0, 0, time.UTC) // Tue 08:00 JST

	got, err := NextValidSlot(rules, "Asia/Tokyo", from)
	if err != nil {
		t.Fatalf("NextValidSlot: %v", err)
	}
	loc := mustLoc(t, "Asia/Tokyo")
	want := time.Date(2026, time.March, 10, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextValidSlot_ExactInstantMatchesExactly(t *testing.T) {
	rules := domain.ScheduleRules{
		Days:      []string{"friday"},
		StartTime: "09:00",
		EndTime:   "09:00",
	}
	loc := mustLoc(t, "America/New_York")
	from := time.Date(2026, time.March, 13, 9, 0, 0, 0, loc) // Friday, exactly 09:00

	got, err := NextValidSlot(rules, "America/New_York", from)
	if err != nil {
		t.Fatalf("NextValidSlot: %v", err)
	}
	if !got.Equal(from) {
		t.Errorf("expected unchanged %v, got %v", from, got)
	}
}

func TestNextValidSlot_ExactInstantBeforeRollsToInstant(t *testing.T) {
	rules := domain.ScheduleRules{
		Days:      []string{"friday"},
		StartTime: "09:00",
		EndTime:   "09:00",
	}
	loc := mustLoc(t, "America/New_York")
	from := time.Date(2026, time.March, 13, 8, 0, 0, 0, loc) // Friday, before 09:00

	got, err := NextValidSlot(rules, "America/New_York", from)
	if err != nil {
		t.Fatalf("NextValidSlot: %v", err)
	}
	want := time.Date(2026, time.March, 13, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

// A single-instant window is not an open range: once the instant has
// passed on an allowed day, the next valid slot is the instant on the
// NEXT allowed day, not "any time within the following ~24h" as a
// midnight-crossing window would wrongly produce if start==end were
// treated as crossesMidnight.
func TestNextValidSlot_ExactInstantAfterRollsToNextAllowedDay(t *testing.T) {
	rules := domain.ScheduleRules{
		Days:      []string{"friday"},
		StartTime: "09:00",
		EndTime:   "09:00",
	}
	loc := mustLoc(t, "America/New_York")
	from := time.Date(2026, time.March, 13, 9, 30, 0, 0, loc) // Friday, 30min after the instant

	got, err := NextValidSlot(rules, "America/New_York", from)
	if err != nil {
		t.Fatalf("NextValidSlot: %v", err)
	}
	want := time.Date(2026, time.March, 20, 9, 0, 0, 0, loc) // following Friday
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestValidate_RejectsUnknownDay(t *testing.T) {
	rules := domain.ScheduleRules{Days: []string{"someday"}, StartTime: "09:00", EndTime: "17:00"}
	if err := Validate(rules); err == nil {
		t.Error("expected error for unrecognized day")
	}
}

func TestValidate_RejectsMalformedTime(t *testing.T) {
	rules := domain.ScheduleRules{Days: []string{"monday"}, StartTime: "9am", EndTime: "17:00"}
	if err := Validate(rules); err == nil {
		t.Error("expected error for malformed start_time")
	}
}
