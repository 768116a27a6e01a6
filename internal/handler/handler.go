// Package handler содержит HTTP-обработчики API сервиса лотереи.
package handler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/event-lottery/internal/allocation"
	"github.com/mmeshcher/event-lottery/internal/middleware"
	"github.com/mmeshcher/event-lottery/internal/model"
	"github.com/mmeshcher/event-lottery/internal/repository"
	"github.com/mmeshcher/event-lottery/internal/service"
	"github.com/mmeshcher/event-lottery/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateEvent(ctx context.Context, organizer model.Candidate, title string, capacity, waitlistLimit int) (int64, error)
	GetEvent(ctx context.Context, eventID int64) (*model.Event, error)
	CloseEvent(ctx context.Context, eventID int64, organizer model.Candidate) error
	JoinWaitlist(ctx context.Context, eventID int64, entrant model.Entrant) error
	LeaveWaitlist(ctx context.Context, eventID int64, c model.Candidate) error
	ListEntrants(ctx context.Context, eventID int64, statuses ...model.EntrantStatus) ([]model.Entrant, error)
	RunLottery(ctx context.Context, eventID int64, organizer model.Candidate, spots int) (*model.DrawResult, error)
	Respond(ctx context.Context, eventID int64, c model.Candidate, accept bool) error
	CancelInvitation(ctx context.Context, eventID int64, organizer, c model.Candidate) error
	LotterySummary(ctx context.Context, eventID int64) (*model.LotterySummary, error)
}

// Handler реализует HTTP-обработчики API сервиса лотереи.
type Handler struct {
	service  Service
	logger   *zap.Logger
	sessions *middleware.Sessions
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, sessions *middleware.Sessions) *Handler {
	return &Handler{
		service:  s,
		logger:   logger,
		sessions: sessions,
	}
}

type sessionRequest struct {
	CandidateID string `json:"candidate_id"`
}

// StartSession выдаёт cookie сессии для выбранного клиентом идентификатора.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidCandidateID(req.CandidateID) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.sessions.SetSessionCookie(w, model.Candidate(req.CandidateID))
	w.WriteHeader(http.StatusOK)
}

type createEventRequest struct {
	Title         string `json:"title"`
	Capacity      int    `json:"capacity"`
	WaitlistLimit int    `json:"waitlist_limit"`
}

type createEventResponse struct {
	ID int64 `json:"id"`
}

// CreateEvent создаёт мероприятие; организатором становится текущий участник.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCandidateFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateEvent(r.Context(), caller, req.Title, req.Capacity, req.WaitlistLimit)
	if err != nil {
		h.writeError(w, err, "create event error", zap.String("organizer", string(caller)))
		return
	}

	writeJSON(w, http.StatusCreated, createEventResponse{ID: id})
}

type eventResponse struct {
	ID            int64   `json:"id"`
	OrganizerID   string  `json:"organizer_id"`
	Title         string  `json:"title"`
	Capacity      int     `json:"capacity"`
	WaitlistLimit int     `json:"waitlist_limit"`
	Closed        bool    `json:"closed"`
	ClosedAt      *string `json:"closed_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// GetEvent возвращает описание мероприятия.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	event, err := h.service.GetEvent(r.Context(), eventID)
	if err != nil {
		h.writeError(w, err, "get event error", zap.Int64("eventID", eventID))
		return
	}

	resp := eventResponse{
		ID:            event.ID,
		OrganizerID:   string(event.OrganizerID),
		Title:         event.Title,
		Capacity:      event.Capacity,
		WaitlistLimit: event.WaitlistLimit,
		Closed:        event.IsClosed(),
		CreatedAt:     event.CreatedAt.Format(time.RFC3339),
	}
	if event.ClosedAt != nil {
		closedAt := event.ClosedAt.Format(time.RFC3339)
		resp.ClosedAt = &closedAt
	}

	writeJSON(w, http.StatusOK, resp)
}

// CloseEvent закрывает мероприятие по запросу организатора.
func (h *Handler) CloseEvent(w http.ResponseWriter, r *http.Request) {
	caller, eventID, ok := h.callerAndEvent(w, r)
	if !ok {
		return
	}

	if err := h.service.CloseEvent(r.Context(), eventID, caller); err != nil {
		h.writeError(w, err, "close event error", zap.Int64("eventID", eventID))
		return
	}

	w.WriteHeader(http.StatusOK)
}

type joinRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// JoinWaitlist записывает текущего участника в лист ожидания.
func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	caller, eventID, ok := h.callerAndEvent(w, r)
	if !ok {
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" || !validation.IsValidEmail(email) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.JoinWaitlist(r.Context(), eventID, model.Entrant{
		Candidate: caller,
		Name:      name,
		Email:     email,
	})
	if err != nil {
		h.writeError(w, err, "join waitlist error", zap.Int64("eventID", eventID))
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// LeaveWaitlist удаляет текущего участника из листа ожидания.
func (h *Handler) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	caller, eventID, ok := h.callerAndEvent(w, r)
	if !ok {
		return
	}

	if err := h.service.LeaveWaitlist(r.Context(), eventID, caller); err != nil {
		h.writeError(w, err, "leave waitlist error", zap.Int64("eventID", eventID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type lotteryRequest struct {
	Spots int `json:"spots"`
}

// RunLottery проводит розыгрыш мест по запросу организатора.
func (h *Handler) RunLottery(w http.ResponseWriter, r *http.Request) {
	caller, eventID, ok := h.callerAndEvent(w, r)
	if !ok {
		return
	}

	var req lotteryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.service.RunLottery(r.Context(), eventID, caller, req.Spots)
	if err != nil {
		h.writeError(w, err, "run lottery error", zap.Int64("eventID", eventID), zap.Int("spots", req.Spots))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetLottery возвращает текущее состояние розыгрыша.
func (h *Handler) GetLottery(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	summary, err := h.service.LotterySummary(r.Context(), eventID)
	if err != nil {
		h.writeError(w, err, "lottery summary error", zap.Int64("eventID", eventID))
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

type responseRequest struct {
	Accept *bool `json:"accept"`
}

// Respond фиксирует ответ текущего участника на приглашение.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	caller, eventID, ok := h.callerAndEvent(w, r)
	if !ok {
		return
	}

	var req responseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Accept == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.Respond(r.Context(), eventID, caller, *req.Accept); err != nil {
		h.writeError(w, err, "respond error", zap.Int64("eventID", eventID))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// CancelInvitation отменяет приглашение участника по запросу организатора.
func (h *Handler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	caller, eventID, ok := h.callerAndEvent(w, r)
	if !ok {
		return
	}

	candidateID := chi.URLParam(r, "candidateID")
	if !validation.IsValidCandidateID(candidateID) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.CancelInvitation(r.Context(), eventID, caller, model.Candidate(candidateID))
	if err != nil {
		h.writeError(w, err, "cancel invitation error",
			zap.Int64("eventID", eventID), zap.String("candidate", candidateID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type entrantResponse struct {
	CandidateID string `json:"candidate_id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Status      string `json:"status"`
	JoinedAt    string `json:"joined_at"`
}

// ListEntrants возвращает участников мероприятия, при необходимости с фильтром по статусу.
func (h *Handler) ListEntrants(w http.ResponseWriter, r *http.Request) {
	entrants, ok := h.loadEntrants(w, r)
	if !ok {
		return
	}

	if len(entrants) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]entrantResponse, 0, len(entrants))
	for _, e := range entrants {
		resp = append(resp, entrantResponse{
			CandidateID: string(e.Candidate),
			Name:        e.Name,
			Email:       e.Email,
			Status:      string(e.Status),
			JoinedAt:    e.JoinedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExportEntrantsCSV выгружает участников мероприятия в CSV.
// BOM в начале файла нужен, чтобы табличные редакторы распознали UTF-8.
func (h *Handler) ExportEntrantsCSV(w http.ResponseWriter, r *http.Request) {
	entrants, ok := h.loadEntrants(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment;filename=event-%s-entrants.csv", chi.URLParam(r, "eventID")))
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte("\xef\xbb\xbf"))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"candidate_id", "name", "email", "status", "joined_at"})
	for _, e := range entrants {
		_ = cw.Write([]string{
			string(e.Candidate),
			e.Name,
			e.Email,
			string(e.Status),
			e.JoinedAt.Format(time.RFC3339),
		})
	}
	cw.Flush()

	if err := cw.Error(); err != nil {
		h.logger.Error("write csv error", zap.Error(err))
	}
}

func (h *Handler) loadEntrants(w http.ResponseWriter, r *http.Request) ([]model.Entrant, bool) {
	eventID, ok := eventIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}

	statuses, ok := parseStatuses(r.URL.Query().Get("status"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}

	entrants, err := h.service.ListEntrants(r.Context(), eventID, statuses...)
	if err != nil {
		h.writeError(w, err, "list entrants error", zap.Int64("eventID", eventID))
		return nil, false
	}
	return entrants, true
}

func (h *Handler) callerAndEvent(w http.ResponseWriter, r *http.Request) (model.Candidate, int64, bool) {
	caller, ok := middleware.GetCandidateFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", 0, false
	}

	eventID, ok := eventIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return "", 0, false
	}
	return caller, eventID, true
}

// writeError отвечает статусом, соответствующим доменной ошибке.
// Непредвиденные ошибки логируются и превращаются в 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
	}
	http.Error(w, http.StatusText(code), code)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrEventNotFound),
		errors.Is(err, repository.ErrEntrantNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrEventClosed):
		return http.StatusGone
	case errors.Is(err, repository.ErrEntrantExists),
		errors.Is(err, repository.ErrWaitlistFull),
		errors.Is(err, repository.ErrConcurrentUpdate),
		errors.Is(err, allocation.ErrUnknownInvitee):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotOrganizer):
		return http.StatusForbidden
	case errors.Is(err, allocation.ErrInvalidCapacity),
		errors.Is(err, service.ErrEmptyTitle),
		errors.Is(err, service.ErrInvalidWaitlistLimit):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func eventIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseStatuses разбирает список статусов через запятую. Пустая строка означает все статусы.
func parseStatuses(raw string) ([]model.EntrantStatus, bool) {
	if raw == "" {
		return nil, true
	}

	var statuses []model.EntrantStatus
	for _, part := range strings.Split(raw, ",") {
		s := model.EntrantStatus(strings.ToUpper(strings.TrimSpace(part)))
		if !s.Valid() {
			return nil, false
		}
		statuses = append(statuses, s)
	}
	return statuses, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
