package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/interview"
	"github.com/hireloop-ai/hireloop/internal/interview/ivstore"
	"github.com/hireloop-ai/hireloop/internal/interview/slotstore"
)

// slotView is the wire shape of a slot, with times in the presentation
// zone.
type slotView struct {
	ID          uuid.UUID `json:"id"`
	Company     string    `json:"company"`
	Job         string    `json:"job"`
	Date        string    `json:"date"`
	Start       string    `json:"start"`
	End         string    `json:"end"`
	Capacity    int       `json:"capacity"`
	BookedCount int       `json:"booked_count"`
	Status      string    `json:"status"`
	AIType      string    `json:"ai_type"`
	Difficulty  string    `json:"difficulty"`
	Language    string    `json:"language"`
}

func viewOf(s interview.Slot) slotView {
	start, end := s.StartIST(), s.EndIST()
	return slotView{
		ID:          s.ID,
		Company:     s.Company,
		Job:         s.Job,
		Date:        start.Format("2006-01-02"),
		Start:       start.Format("15:04"),
		End:         end.Format("15:04"),
		Capacity:    s.Capacity,
		BookedCount: s.BookedCount,
		Status:      string(s.Status),
		AIType:      string(s.AIType),
		Difficulty:  s.Difficulty,
		Language:    s.Language,
	}
}

type createSlotRequest struct {
	Company    string `json:"company"`
	Job        string `json:"job"`
	Date       string `json:"date"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Capacity   int    `json:"capacity"`
	AIType     string `json:"ai_type"`
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
}

func (s *Server) handleCreateSlot(w http.ResponseWriter, r *http.Request) {
	var req createSlotRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	if req.Company == "" || req.Date == "" || req.Start == "" {
		writeError(w, http.StatusBadRequest, "Validation", "company, date and start are required")
		return
	}
	if req.Capacity < 1 {
		writeError(w, http.StatusBadRequest, "Validation", "capacity must be at least 1")
		return
	}
	aiType := interview.AIType(req.AIType)
	if !aiType.Valid() {
		writeError(w, http.StatusBadRequest, "Validation", fmt.Sprintf("unknown ai_type %q", req.AIType))
		return
	}
	end := req.End
	if end == "" {
		var err error
		if end, err = addDuration(req.Start, s.cfg.DefaultSlotDuration); err != nil {
			writeError(w, http.StatusBadRequest, "Validation", err.Error())
			return
		}
	}
	startUTC, endUTC, err := interview.SlotTimesUTC(req.Date, req.Start, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}

	slot := &interview.Slot{
		Company:    req.Company,
		Job:        req.Job,
		StartUTC:   startUTC,
		EndUTC:     endUTC,
		Capacity:   req.Capacity,
		Status:     interview.SlotAvailable,
		AIType:     aiType,
		Difficulty: req.Difficulty,
		Language:   req.Language,
	}
	if err := s.cfg.Slots.CreateSlot(r.Context(), slot); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("slot created", "slot_id", slot.ID, "company", slot.Company, "ai_type", slot.AIType)
	writeJSON(w, http.StatusCreated, map[string]any{"slot_id": slot.ID})
}

type createRecurringRequest struct {
	Company    string   `json:"company"`
	Job        string   `json:"job"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Weekdays   []string `json:"weekdays"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Capacity   int      `json:"capacity"`
	AIType     string   `json:"ai_type"`
	Difficulty string   `json:"difficulty"`
	Language   string   `json:"language"`
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req createRecurringRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	if req.Capacity < 1 {
		writeError(w, http.StatusBadRequest, "Validation", "capacity must be at least 1")
		return
	}
	aiType := interview.AIType(req.AIType)
	if !aiType.Valid() {
		writeError(w, http.StatusBadRequest, "Validation", fmt.Sprintf("unknown ai_type %q", req.AIType))
		return
	}
	weekdays, err := parseWeekdays(req.Weekdays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	from, err := parseDay(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	to, err := parseDay(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	end := req.End
	if end == "" {
		if end, err = addDuration(req.Start, s.cfg.DefaultSlotDuration); err != nil {
			writeError(w, http.StatusBadRequest, "Validation", err.Error())
			return
		}
	}

	created, err := slotstore.CreateRecurring(r.Context(), s.cfg.Slots, slotstore.RecurringPattern{
		Company:    req.Company,
		Job:        req.Job,
		Start:      req.Start,
		End:        end,
		Weekdays:   weekdays,
		From:       from,
		Horizon:    to,
		Capacity:   req.Capacity,
		AIType:     aiType,
		Difficulty: req.Difficulty,
		Language:   req.Language,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"slot_ids": created, "created": len(created)})
}

func (s *Server) handleSearchSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	company := q.Get("company")
	if company == "" {
		writeError(w, http.StatusBadRequest, "Validation", "company is required")
		return
	}
	aiType := interview.AIType(q.Get("ai_type"))
	if aiType != "" && !aiType.Valid() {
		writeError(w, http.StatusBadRequest, "Validation", fmt.Sprintf("unknown ai_type %q", aiType))
		return
	}

	from := s.clk.Now()
	if v := q.Get("from"); v != "" {
		var err error
		if from, err = parseDay(v); err != nil {
			writeError(w, http.StatusBadRequest, "Validation", err.Error())
			return
		}
	}
	to := from.AddDate(0, 0, 7)
	if v := q.Get("to"); v != "" {
		var err error
		if to, err = parseDay(v); err != nil {
			writeError(w, http.StatusBadRequest, "Validation", err.Error())
			return
		}
		// The "to" day is inclusive in the query string.
		to = to.AddDate(0, 0, 1)
	}

	slots, err := s.cfg.Slots.SearchAvailable(r.Context(), company, aiType, from, to)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]slotView, len(slots))
	for i, sl := range slots {
		views[i] = viewOf(sl)
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": views})
}

type bookRequest struct {
	InterviewID uuid.UUID `json:"interview_id"`
	Notes       string    `json:"notes"`
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	slotID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "malformed slot id")
		return
	}
	var req bookRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	if req.InterviewID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "Validation", "interview_id is required")
		return
	}
	rec, err := s.cfg.Records.Get(r.Context(), req.InterviewID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	booking, err := s.cfg.Slots.Book(r.Context(), slotID, req.InterviewID, req.Notes)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("slot booked",
		"slot_id", slotID, "booking_id", booking.ID, "interview_id", rec.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"booking_id": booking.ID})
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "malformed booking id")
		return
	}
	booking, err := s.cfg.Slots.GetBooking(r.Context(), bookingID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Once the interview went live, its place is spent; cancellation no
	// longer returns capacity, so it is refused outright.
	rec, err := s.cfg.Records.Get(r.Context(), booking.InterviewID)
	if err == nil && rec.Status != interview.InterviewScheduled {
		writeError(w, http.StatusConflict, "Conflict",
			fmt.Sprintf("interview is %s; booking can no longer be canceled", rec.Status))
		return
	}

	if err := s.cfg.Slots.Release(r.Context(), bookingID); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("booking canceled", "booking_id", bookingID, "interview_id", booking.InterviewID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "canceled"})
}

type createInterviewRequest struct {
	CandidateID      uuid.UUID `json:"candidate_id"`
	JobID            uuid.UUID `json:"job_id"`
	ScheduledStart   string    `json:"scheduled_start"`
	ScheduledEnd     string    `json:"scheduled_end"`
	JobContext       string    `json:"job_context"`
	CandidateContext string    `json:"candidate_context"`
}

func (s *Server) handleCreateInterview(w http.ResponseWriter, r *http.Request) {
	var req createInterviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	start, err := time.Parse(time.RFC3339, req.ScheduledStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "scheduled_start must be RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, req.ScheduledEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "scheduled_end must be RFC3339")
		return
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, "Validation", "scheduled_start must be before scheduled_end")
		return
	}

	rec := &ivstore.Record{
		Interview: interview.Interview{
			CandidateID:       req.CandidateID,
			JobID:             req.JobID,
			ScheduledStartUTC: start.UTC(),
			ScheduledEndUTC:   end.UTC(),
			Status:            interview.InterviewScheduled,
		},
		JobContext:       req.JobContext,
		CandidateContext: req.CandidateContext,
	}
	if err := s.cfg.Records.Create(r.Context(), rec); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"interview_id": rec.ID})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	interviewID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "malformed interview id")
		return
	}
	rec, err := s.cfg.Records.Get(r.Context(), interviewID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	tok, err := s.cfg.Issuer.Issue(rec.Interview)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":       tok.Value,
		"url":         "/portal?token=" + tok.Value,
		"valid_from":  tok.ValidFrom.Format(time.RFC3339),
		"valid_until": tok.ValidUntil.Format(time.RFC3339),
	})
}

func (s *Server) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	interviewID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "malformed interview id")
		return
	}
	ev, err := s.cfg.Evals.Get(r.Context(), interviewID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"interview_id":  ev.InterviewID,
		"session_id":    ev.SessionID,
		"overall_score": ev.OverallScore,
		"dimensions": map[string]float64{
			"technical":       ev.Dimensions.Technical,
			"communication":   ev.Dimensions.Communication,
			"problem_solving": ev.Dimensions.ProblemSolving,
		},
		"avg_turn_score": ev.AvgTurnScore,
		"coding_score":   ev.CodingScore,
		"penalty":        ev.Penalty,
		"warning_count":  ev.WarningCount,
		"summary":        ev.Summary,
		"report_ref":     ev.ReportRef,
		"created_at":     ev.CreatedAt.Format(time.RFC3339),
	})
}

// ─── parsing helpers ─────────────────────────────────────────────────────

// addDuration shifts a "15:04" time of day forward by d.
func addDuration(start string, d time.Duration) (string, error) {
	t, err := time.Parse("15:04", start)
	if err != nil {
		return "", fmt.Errorf("parse start %q: %w", start, err)
	}
	return t.Add(d).Format("15:04"), nil
}

// parseDay converts a "2006-01-02" IST date to the UTC instant of its
// midnight.
func parseDay(s string) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", s, interview.ISTLocation())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return day.UTC(), nil
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	byName := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("weekdays must not be empty")
	}
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		wd, ok := byName[strings.ToLower(n)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		out = append(out, wd)
	}
	return out, nil
}
