package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"eventdesk/internal/model"
)

const (
	csvDateLayout  = "2006-01-02"
	csvTimeLayout  = "15:04:05"
	csvShortLayout = "15:04"
)

var csvHeader = []string{
	"title", "description", "start date", "start time", "end date", "end time",
	"all day", "location", "priority", "status", "visibility",
}

// column indexes into csvHeader
const (
	colTitle = iota
	colDescription
	colStartDate
	colStartTime
	colEndDate
	colEndTime
	colAllDay
	colLocation
	colPriority
	colStatus
	colVisibility
)

func (c *Codec) encodeCSV(events []model.Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}

	for _, e := range events {
		start := e.Start.In(c.opts.Location)
		end := e.End.In(c.opts.Location)
		row := make([]string, len(csvHeader))
		row[colTitle] = e.Title
		row[colDescription] = e.Description
		row[colStartDate] = start.Format(csvDateLayout)
		row[colEndDate] = end.Format(csvDateLayout)
		if !e.AllDay {
			row[colStartTime] = start.Format(csvTimeLayout)
			row[colEndTime] = end.Format(csvTimeLayout)
		}
		row[colAllDay] = strconv.FormatBool(e.AllDay)
		row[colLocation] = e.Location
		row[colPriority] = string(e.Priority)
		row[colStatus] = string(e.Status)
		row[colVisibility] = string(e.Visibility)
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("codec: write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Codec) decodeCSV(data []byte) (DecodeResult, error) {
	var res DecodeResult
	if len(bytes.TrimSpace(data)) == 0 {
		return res, errors.New("codec: empty CSV body")
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return res, fmt.Errorf("codec: read csv header: %w", err)
	}
	if len(header) == 0 || !strings.EqualFold(strings.TrimSpace(header[0]), csvHeader[colTitle]) {
		return res, fmt.Errorf("codec: csv header must start with %q", csvHeader[colTitle])
	}

	for i := 0; ; i++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.skip(i, "", err)
				continue
			}
			return res, fmt.Errorf("codec: read csv: %w", err)
		}

		rec, err := c.parseCSVRow(row)
		if err == nil {
			err = checkRecord(rec)
		}
		if err != nil {
			res.skip(i, "", err)
			continue
		}
		rec.Position = i
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func (c *Codec) parseCSVRow(row []string) (RawEventRecord, error) {
	var rec RawEventRecord
	if len(row) < colAllDay {
		return rec, fmt.Errorf("expected at least %d columns, got %d", colAllDay, len(row))
	}
	raw := func(i int) string {
		if i >= len(row) {
			return ""
		}
		return row[i]
	}
	col := func(i int) string { return strings.TrimSpace(raw(i)) }

	// free text keeps its whitespace
	rec.Title = raw(colTitle)
	rec.Description = raw(colDescription)
	rec.Location = raw(colLocation)

	if v := col(colAllDay); v != "" {
		allDay, err := strconv.ParseBool(v)
		if err != nil {
			return rec, fmt.Errorf("all day: %w", err)
		}
		rec.AllDay = allDay
	}

	start, err := c.csvTime(col(colStartDate), col(colStartTime), rec.AllDay)
	if err != nil {
		return rec, fmt.Errorf("start: %w", err)
	}
	rec.Start = start

	switch {
	case col(colEndDate) != "":
		end, err := c.csvTime(col(colEndDate), col(colEndTime), rec.AllDay)
		if err != nil {
			return rec, fmt.Errorf("end: %w", err)
		}
		rec.End = end
		// a same-day all-day end covers that one day
		if rec.AllDay && !rec.End.After(rec.Start) {
			rec.End = rec.Start.AddDate(0, 0, 1)
		}
	case rec.AllDay:
		rec.End = rec.Start.AddDate(0, 0, 1)
	}

	if rec.Priority, err = model.ParsePriority(col(colPriority)); err != nil {
		return rec, err
	}
	if rec.Status, err = model.ParseStatus(col(colStatus)); err != nil {
		return rec, err
	}
	if rec.Visibility, err = model.ParseVisibility(col(colVisibility)); err != nil {
		return rec, err
	}
	return rec, nil
}

func (c *Codec) csvTime(date, clock string, allDay bool) (time.Time, error) {
	if date == "" {
		return time.Time{}, errors.New("missing date")
	}
	if allDay || clock == "" {
		return time.ParseInLocation(csvDateLayout, date, c.opts.Location)
	}
	layout := csvTimeLayout
	if strings.Count(clock, ":") == 1 {
		layout = csvShortLayout
	}
	return time.ParseInLocation(csvDateLayout+" "+layout, date+" "+clock, c.opts.Location)
}
