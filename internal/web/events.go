package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"eventdesk/internal/calendar"
	"eventdesk/internal/codec"
	appLog "eventdesk/internal/log"
	"eventdesk/internal/model"
)

type eventsResponse struct {
	Events     []model.Event `json:"events"`
	RangeStart time.Time     `json:"range_start"`
	RangeEnd   time.Time     `json:"range_end"`
}

// queryRange reads from and to (RFC 3339). Missing bounds default to local
// midnight today and HorizonDays after from.
func (s *Server) queryRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	now := s.now().In(s.loc)
	from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, &model.ValidationError{Field: "from", Reason: "must be an RFC 3339 time"}
		}
	}
	to = from.AddDate(0, 0, s.cfg.HorizonDays)
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, &model.ValidationError{Field: "to", Reason: "must be an RFC 3339 time"}
		}
	}
	return from, to, nil
}

// editTarget reads the scope and occurrence query parameters.
func editTarget(r *http.Request) (calendar.Scope, *time.Time, error) {
	q := r.URL.Query()
	scope, err := calendar.ParseScope(q.Get("scope"))
	if err != nil {
		return "", nil, err
	}
	v := q.Get("occurrence")
	if v == "" {
		return scope, nil, nil
	}
	occ, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return "", nil, &model.ValidationError{Field: "occurrence", Reason: "must be an RFC 3339 time"}
	}
	return scope, &occ, nil
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.queryRange(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	events, err := s.svc.ListRange(r.Context(), ownerFrom(r.Context()), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	appLog.Debug("api events request", "owner", ownerFrom(r.Context()),
		"range_start", from.Format(time.RFC3339), "range_end", to.Format(time.RFC3339), "count", len(events))
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, RangeStart: from, RangeEnd: to})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var e model.Event
	if !decodeBody(w, r, &e) {
		return
	}
	created, err := s.svc.Create(r.Context(), ownerFrom(r.Context()), e)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/events/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.Get(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	scope, occ, err := editTarget(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var patch model.EventPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	e, err := s.svc.Update(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), patch, scope, occ)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	scope, occ, err := editTarget(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.svc.Delete(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), scope, occ); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	until := s.now().AddDate(0, 0, s.cfg.HorizonDays)
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeServiceError(w, r, &model.ValidationError{Field: "until", Reason: "must be an RFC 3339 time"})
			return
		}
		until = t
	}
	occs, err := s.svc.ExpandSeries(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), until, parseIntDefault(q.Get("max"), 0))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"occurrences": occs})
}

func (s *Server) handleCheckConflicts(w http.ResponseWriter, r *http.Request) {
	var e model.Event
	if !decodeBody(w, r, &e) {
		return
	}
	records, err := s.svc.CheckConflicts(r.Context(), ownerFrom(r.Context()), e)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": records, "has_conflicts": len(records) > 0})
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	audits, err := s.svc.Conflicts(r.Context(), ownerFrom(r.Context()), r.URL.Query().Get("event_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": audits})
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), s.cfg.Scheduling.WindowDays)
	var e model.Event
	if !decodeBody(w, r, &e) {
		return
	}
	slots, err := s.svc.SuggestSlots(r.Context(), ownerFrom(r.Context()), e, days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := codec.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to, err := s.queryRange(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	data, err := s.svc.Export(r.Context(), ownerFrom(r.Context()), from, to, format)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="eventdesk.%s"`, format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := codec.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	replace, _ := strconv.ParseBool(q.Get("replace"))

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "import body too large")
		return
	}
	sum, err := s.svc.Import(r.Context(), ownerFrom(r.Context()), data, format, calendar.ImportOptions{Replace: replace})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
