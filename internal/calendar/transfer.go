package calendar

import (
	"context"
	"errors"
	"time"

	"eventdesk/internal/codec"
	appLog "eventdesk/internal/log"
	"eventdesk/internal/model"
	"eventdesk/internal/store"
)

// ImportSummary reports the outcome of an import. Errors holds at most
// codec.MaxReportedErrors entries; Skipped counts every rejected record.
type ImportSummary struct {
	Imported   int                 `json:"imported"`
	Updated    int                 `json:"updated"`
	Duplicates int                 `json:"duplicates"`
	Skipped    int                 `json:"skipped"`
	Errors     []codec.RecordError `json:"errors,omitempty"`
}

func (s *ImportSummary) fail(rec codec.RawEventRecord, err error) {
	s.Skipped++
	if len(s.Errors) < codec.MaxReportedErrors {
		s.Errors = append(s.Errors, codec.RecordError{Index: rec.Position, UID: rec.UID, Reason: err.Error()})
	}
}

type ImportOptions struct {
	// Replace overwrites events whose ID already exists instead of counting
	// them as duplicates. Feed sync uses it.
	Replace bool
}

// Import decodes data and stores its events under owner. Records that fail
// to decode or validate are skipped and reported; an unreadable document
// is a ValidationError.
func (s *Service) Import(ctx context.Context, owner string, data []byte, format codec.Format, opts ImportOptions) (ImportSummary, error) {
	res, err := s.codec.Decode(data, format)
	if err != nil {
		return ImportSummary{}, &model.ValidationError{Field: "document", Reason: err.Error()}
	}

	sum := ImportSummary{Skipped: res.Skipped, Errors: res.Errors}
	for _, rec := range res.Records {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		e := rec.Event()
		e.OwnerID = owner

		_, err := s.store.Create(ctx, e)
		switch {
		case err == nil:
			sum.Imported++
		case errors.Is(err, store.ErrDuplicate) && opts.Replace:
			if _, err := s.store.Update(ctx, owner, e.ID, replacePatch(e)); err != nil {
				if !errors.Is(err, model.ErrValidation) && !errors.Is(err, store.ErrNotFound) {
					return sum, err
				}
				sum.fail(rec, err)
				continue
			}
			sum.Updated++
		case errors.Is(err, store.ErrDuplicate):
			sum.Duplicates++
		case errors.Is(err, model.ErrValidation):
			sum.fail(rec, err)
		default:
			return sum, err
		}
	}

	appLog.Info("import finished", "owner", owner, "format", string(format),
		"imported", sum.Imported, "updated", sum.Updated, "duplicates", sum.Duplicates, "skipped", sum.Skipped)
	return sum, nil
}

// replacePatch sets every imported field of e.
func replacePatch(e model.Event) model.EventPatch {
	p := model.EventPatch{
		Title:       &e.Title,
		Description: &e.Description,
		Location:    &e.Location,
		MeetingURL:  &e.MeetingURL,
		Start:       &e.Start,
		End:         &e.End,
		AllDay:      &e.AllDay,
		Timezone:    &e.Timezone,
	}
	if e.Priority != "" {
		p.Priority = &e.Priority
	}
	if e.Visibility != "" {
		p.Visibility = &e.Visibility
	}
	if e.Status != "" {
		p.Status = &e.Status
	}
	if e.Recurrence != nil {
		p.Recurrence = e.Recurrence
	} else {
		p.ClearRecurrence = true
	}
	return p
}

// Export renders owner's events in [from, to). CSV has no way to carry a
// rule, so it lists every occurrence; ICS and JSON keep series as rules
// with their stored overrides.
func (s *Service) Export(ctx context.Context, owner string, from, to time.Time, format codec.Format) ([]byte, error) {
	if !to.After(from) {
		return nil, &model.ValidationError{Field: "to", Reason: "must be after from"}
	}

	var (
		events []model.Event
		err    error
	)
	if format == codec.FormatCSV {
		events, err = s.expand(ctx, owner, from, to)
	} else {
		events, err = s.store.ListInRange(ctx, owner, from, to)
	}
	if err != nil {
		return nil, err
	}
	return s.codec.Encode(events, format)
}

// Conflicts returns the audit log for eventID, or all of owner's audits.
func (s *Service) Conflicts(ctx context.Context, owner, eventID string) ([]model.ConflictAudit, error) {
	return s.store.ListConflicts(ctx, owner, eventID)
}
