package challenge

import (
	"fmt"
	"strings"
	"time"
)

var monthNames = [...]string{
	"yanvar", "fevral", "mart", "aprel", "may", "iyun",
	"iyul", "avgust", "sentyabr", "oktyabr", "noyabr", "dekabr",
}

// Indexed by time.Weekday, so Sunday comes first.
var weekdayNames = [...]string{
	"yakshanba", "dushanba", "seshanba", "chorshanba", "payshanba", "juma", "shanba",
}

// DateLine renders e.g. "15-yanvar, chorshanba  [ 2025-01-15 ]".
func DateLine(day time.Time) string {
	return fmt.Sprintf("%d-%s, %s  [ %s ]",
		day.Day(), monthNames[day.Month()-1], weekdayNames[day.Weekday()], day.Format(DateLayout))
}

// Render builds the text posted for p on the day of now. now must already be
// in the bot timezone.
//
// Without date mode the message goes out unchanged. With it, the message is
// prefixed by the date line, the day counter (1 on the start date; zero or
// negative before it) and, when an end date is set, either the remaining days
// or a finished marker. An unparseable end date only drops that last line.
func Render(p Payload, now time.Time) (string, error) {
	if !p.WithDate {
		return p.Message, nil
	}

	today := CivilDate(now)
	start, err := ParseDate(p.StartDate)
	if err != nil {
		return "", fmt.Errorf("start date: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Bugun: %s\n", DateLine(today))
	fmt.Fprintf(&b, "kun: %d\n", DaysBetween(start, today)+1)

	if p.EndDate != "" {
		if end, err := ParseDate(p.EndDate); err == nil {
			if left := DaysBetween(today, end); left > 0 {
				fmt.Fprintf(&b, "Maqsadingizga erishish uchun %d kun qoldi\n", left)
			} else {
				b.WriteString("✅ Challenge tugagan!\n")
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(p.Message)
	return b.String(), nil
}
