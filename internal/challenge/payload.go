package challenge

import "strings"

// Payload is the snapshot a scheduled job carries. It is built once, when the
// job is registered; later edits to the stored record do not reach it.
type Payload struct {
	ScheduleID int64
	ChannelID  string
	Message    string
	WithDate   bool
	StartDate  string
	EndDate    string
}

// NewPayload copies rec and fills every optional field with its default, so
// rendering never has to deal with blanks.
func NewPayload(rec Schedule) Payload {
	start := strings.TrimSpace(rec.StartDate)
	if start == "" {
		start = DefaultStartDate
	}
	return Payload{
		ScheduleID: rec.ID,
		ChannelID:  strings.TrimSpace(rec.ChannelID),
		Message:    rec.Message,
		WithDate:   rec.WithDate,
		StartDate:  start,
		EndDate:    strings.TrimSpace(rec.EndDate),
	}
}
