package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventdesk/internal/model"
	"eventdesk/internal/recurrence"
	"eventdesk/internal/timerange"
)

const (
	icsUTCLayout   = "20060102T150405Z"
	icsLocalLayout = "20060102T150405"
	icsDateLayout  = "20060102"
)

const (
	propDtStamp      ical.ComponentProperty = "DTSTAMP"
	propURL          ical.ComponentProperty = "URL"
	propStatus       ical.ComponentProperty = "STATUS"
	propClass        ical.ComponentProperty = "CLASS"
	propPriority     ical.ComponentProperty = "PRIORITY"
	propRecurrenceID ical.ComponentProperty = "RECURRENCE-ID"
	propXStatus      ical.ComponentProperty = "X-EVENTDESK-STATUS"
	propXPriority    ical.ComponentProperty = "X-EVENTDESK-PRIORITY"
	propXTimezone    ical.ComponentProperty = "X-EVENTDESK-TIMEZONE"
)

func dateParam() ical.PropertyParameter {
	return &ical.KeyValues{Key: "VALUE", Value: []string{"DATE"}}
}

func (c *Codec) encodeICS(events []model.Event) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.SetProductId(c.opts.ProductID)
	cal.SetMethod(ical.MethodPublish)

	for _, e := range events {
		uid := e.ID
		if e.ParentEventID != "" && e.OriginalStartTime != nil {
			uid = e.ParentEventID
		}
		if uid == "" {
			return nil, fmt.Errorf("codec: event %q has no id", e.Title)
		}
		ve := cal.AddEvent(uid)

		stamp := e.UpdatedAt
		if stamp.IsZero() {
			stamp = c.opts.Now()
		}
		ve.SetProperty(propDtStamp, stamp.UTC().Format(icsUTCLayout))

		if e.AllDay {
			loc := c.eventLocation(e.Timezone)
			day := e
			day.Start, day.End = e.Start.In(loc), e.End.In(loc)
			r := timerange.Of(day)
			ve.SetProperty(ical.ComponentPropertyDtStart, r.Start.Format(icsDateLayout), dateParam())
			ve.SetProperty(ical.ComponentPropertyDtEnd, r.End.Format(icsDateLayout), dateParam())
		} else {
			ve.SetProperty(ical.ComponentPropertyDtStart, e.Start.UTC().Format(icsUTCLayout))
			ve.SetProperty(ical.ComponentPropertyDtEnd, e.End.UTC().Format(icsUTCLayout))
		}
		if e.ParentEventID != "" && e.OriginalStartTime != nil {
			ve.SetProperty(propRecurrenceID, e.OriginalStartTime.UTC().Format(icsUTCLayout))
		}

		ve.SetProperty(ical.ComponentPropertySummary, e.Title)
		if e.Description != "" {
			ve.SetProperty(ical.ComponentPropertyDescription, e.Description)
		}
		if e.Location != "" {
			ve.SetProperty(ical.ComponentPropertyLocation, e.Location)
		}
		if e.MeetingURL != "" {
			ve.SetProperty(propURL, e.MeetingURL)
		}
		if e.Timezone != "" {
			ve.SetProperty(propXTimezone, e.Timezone)
		}
		if e.Status != "" {
			ve.SetProperty(propStatus, icsStatus(e.Status))
			ve.SetProperty(propXStatus, string(e.Status))
		}
		if e.Visibility != "" {
			ve.SetProperty(propClass, strings.ToUpper(string(e.Visibility)))
		}
		if e.Priority != "" {
			ve.SetProperty(propPriority, strconv.Itoa(icsPriority(e.Priority)))
			ve.SetProperty(propXPriority, string(e.Priority))
		}

		if e.Recurrence != nil {
			rr, err := recurrence.FormatRRule(*e.Recurrence)
			if err != nil {
				return nil, fmt.Errorf("codec: event %s: %w", e.ID, err)
			}
			ve.SetProperty(ical.ComponentPropertyRrule, rr)
			if len(e.Recurrence.Exceptions) > 0 {
				dates := make([]string, 0, len(e.Recurrence.Exceptions))
				for _, ex := range e.Recurrence.Exceptions {
					dates = append(dates, ex.Format(icsDateLayout))
				}
				ve.SetProperty(ical.ComponentPropertyExdate, strings.Join(dates, ","), dateParam())
			}
		}
	}

	return []byte(cal.Serialize()), nil
}

func (c *Codec) decodeICS(data []byte) (DecodeResult, error) {
	var res DecodeResult
	if len(bytes.TrimSpace(data)) == 0 {
		return res, errors.New("codec: empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return res, fmt.Errorf("codec: parse calendar: %w", err)
	}

	for i, ve := range cal.Events() {
		rec, err := c.parseVEvent(ve)
		if err == nil {
			err = checkRecord(rec)
		}
		if err != nil {
			res.skip(i, rec.UID, err)
			continue
		}
		rec.Position = i
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func (c *Codec) parseVEvent(ve *ical.VEvent) (RawEventRecord, error) {
	var rec RawEventRecord

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return rec, errors.New("missing UID")
	}
	rec.UID = uidProp.Value

	rec.Title = textValue(ve, ical.ComponentPropertySummary)
	rec.Description = textValue(ve, ical.ComponentPropertyDescription)
	rec.Location = textValue(ve, ical.ComponentPropertyLocation)
	rec.MeetingURL = textValue(ve, propURL)
	rec.Timezone = textValue(ve, propXTimezone)

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return rec, errors.New("missing DTSTART")
	}
	if rec.Timezone == "" {
		rec.Timezone = param(startProp, "TZID")
	}
	start, allDay, err := c.parseICSTime(startProp.Value, param(startProp, "TZID"), isDateValue(startProp))
	if err != nil {
		return rec, fmt.Errorf("DTSTART: %w", err)
	}
	rec.Start = start
	rec.AllDay = allDay

	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		end, _, err := c.parseICSTime(endProp.Value, param(endProp, "TZID"), isDateValue(endProp))
		if err != nil {
			return rec, fmt.Errorf("DTEND: %w", err)
		}
		rec.End = end
		// DTEND on the start date still covers that day
		if allDay && !rec.End.After(rec.Start) {
			rec.End = start.AddDate(0, 0, 1)
		}
	} else if allDay {
		rec.End = start.AddDate(0, 0, 1)
	} else {
		return rec, errors.New("missing DTEND")
	}

	if rec.Timezone != "" {
		if loc, err := time.LoadLocation(rec.Timezone); err == nil {
			rec.Start = rec.Start.In(loc)
			rec.End = rec.End.In(loc)
		}
	}

	if rec.Status, err = decodeStatus(ve); err != nil {
		return rec, err
	}
	if rec.Priority, err = decodePriority(ve); err != nil {
		return rec, err
	}
	if v := textValue(ve, propClass); v != "" {
		vis, err := model.ParseVisibility(v)
		if err != nil {
			return rec, err
		}
		rec.Visibility = vis
	}

	if ridProp := ve.GetProperty(propRecurrenceID); ridProp != nil {
		rid, _, err := c.parseICSTime(ridProp.Value, param(ridProp, "TZID"), isDateValue(ridProp))
		if err != nil {
			return rec, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		rec.ParentUID = rec.UID
		rec.OriginalStart = &rid
		rec.UID = recurrence.InstanceID(rec.ParentUID, rid)
		return rec, nil
	}

	if rrProp := ve.GetProperty(ical.ComponentPropertyRrule); rrProp != nil {
		rule, err := recurrence.ParseRRule(rrProp.Value)
		if err != nil {
			return rec, err
		}
		for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
			for _, part := range strings.Split(p.Value, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				ex, _, err := c.parseICSTime(part, param(p, "TZID"), isDateValue(p))
				if err != nil {
					return rec, fmt.Errorf("EXDATE: %w", err)
				}
				if !isDateValue(p) && strings.Contains(part, "T") {
					ex = ex.In(rec.Start.Location())
				}
				rule.Exceptions = append(rule.Exceptions, ex)
			}
		}
		rec.Recurrence = &rule
	}

	return rec, nil
}

// parseICSTime parses DATE and DATE-TIME values. Floating date-times use
// tzid when it loads, else the codec location.
func (c *Codec) parseICSTime(v, tzid string, dateValue bool) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	loc := c.eventLocation(tzid)

	if dateValue || !strings.Contains(v, "T") {
		t, err := time.ParseInLocation(icsDateLayout, v, loc)
		return t, true, err
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(icsUTCLayout, v)
		return t, false, err
	}
	t, err := time.ParseInLocation(icsLocalLayout, v, loc)
	return t, false, err
}

func (c *Codec) eventLocation(name string) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return c.opts.Location
}

func textValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return p.Value
}

func param(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	return strings.EqualFold(param(p, "VALUE"), "DATE")
}

func icsStatus(s model.Status) string {
	switch s {
	case model.StatusCancelled:
		return "CANCELLED"
	case model.StatusDraft, model.StatusTentative:
		return "TENTATIVE"
	default:
		return "CONFIRMED"
	}
}

func decodeStatus(ve *ical.VEvent) (model.Status, error) {
	if v := textValue(ve, propXStatus); v != "" {
		return model.ParseStatus(v)
	}
	switch strings.ToUpper(textValue(ve, propStatus)) {
	case "":
		return "", nil
	case "TENTATIVE":
		return model.StatusTentative, nil
	case "CONFIRMED":
		return model.StatusConfirmed, nil
	case "CANCELLED":
		return model.StatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown STATUS %q", textValue(ve, propStatus))
	}
}

// icsPriority maps to the RFC 5545 1 (highest) .. 9 (lowest) scale.
func icsPriority(p model.Priority) int {
	switch p {
	case model.PriorityUrgent:
		return 1
	case model.PriorityHigh:
		return 3
	case model.PriorityLow:
		return 9
	default:
		return 5
	}
}

func decodePriority(ve *ical.VEvent) (model.Priority, error) {
	if v := textValue(ve, propXPriority); v != "" {
		return model.ParsePriority(v)
	}
	v := strings.TrimSpace(textValue(ve, propPriority))
	if v == "" {
		return "", nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 9 {
		return "", fmt.Errorf("invalid PRIORITY %q", v)
	}
	switch {
	case n == 0:
		return "", nil
	case n <= 2:
		return model.PriorityUrgent, nil
	case n <= 4:
		return model.PriorityHigh, nil
	case n <= 6:
		return model.PriorityNormal, nil
	default:
		return model.PriorityLow, nil
	}
}
