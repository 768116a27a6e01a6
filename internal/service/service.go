// Package service реализует сценарии записи на мероприятия и розыгрыша мест.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/event-lottery/internal/allocation"
	"github.com/mmeshcher/event-lottery/internal/metrics"
	"github.com/mmeshcher/event-lottery/internal/model"
	"github.com/mmeshcher/event-lottery/internal/notify"
	"github.com/mmeshcher/event-lottery/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateEvent(ctx context.Context, e model.Event) (int64, error)
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	CloseEvent(ctx context.Context, id int64) error
	AddEntrant(ctx context.Context, e model.Entrant) error
	RemoveWaitingEntrant(ctx context.Context, eventID int64, c model.Candidate) error
	ListEntrants(ctx context.Context, eventID int64, statuses ...model.EntrantStatus) ([]model.Entrant, error)
	GetLotteryState(ctx context.Context, eventID int64) (*model.LotteryState, error)
	SaveDraw(ctx context.Context, st model.LotteryState, invited []model.Candidate) error
	SaveResponse(ctx context.Context, eventID int64, c model.Candidate, status model.EntrantStatus, kind model.NotificationKind) error
	GetPendingNotifications(ctx context.Context, limit, maxAttempts int) ([]repository.PendingNotification, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID) error
	MarkNotificationFailed(ctx context.Context, id uuid.UUID) error
}

// Sender доставляет уведомления во внешний сервис.
type Sender interface {
	Send(ctx context.Context, msg notify.Message) (int, time.Duration, error)
}

// Renderer формирует текст уведомления.
type Renderer interface {
	Render(locale string, kind model.NotificationKind, eventTitle string) (string, error)
}

// lottery хранит движок розыгрыша мероприятия. Мьютекс сериализует
// розыгрыш и ответы вместе с последующим сохранением.
type lottery struct {
	mu     sync.Mutex
	engine *allocation.Engine
}

// Service содержит бизнес-логику сервиса лотереи.
type Service struct {
	repo       Repository
	sender     Sender
	renderer   Renderer
	logger     *zap.Logger
	metrics    *metrics.Metrics
	strategy   model.DrawStrategy
	locale     string
	newRand    func() *rand.Rand

	mu        sync.Mutex
	lotteries map[int64]*lottery
}

// Option настраивает сервис.
type Option func(*Service)

// WithDrawStrategy задаёт стратегию порядка розыгрыша для новых движков.
func WithDrawStrategy(s model.DrawStrategy) Option {
	return func(svc *Service) {
		svc.strategy = s
	}
}

// WithLocale задаёт локаль текстов уведомлений.
func WithLocale(locale string) Option {
	return func(svc *Service) {
		svc.locale = locale
	}
}

// WithRandSource задаёт фабрику источников случайности. Фабрика вызывается
// для каждого создаваемого или восстановленного движка: *rand.Rand не
// безопасен для конкурентного использования, поэтому движки его не разделяют.
func WithRandSource(newRand func() *rand.Rand) Option {
	return func(svc *Service) {
		svc.newRand = newRand
	}
}

// NewService создаёт новый сервис. sender может быть nil: тогда уведомления
// только накапливаются в очереди.
func NewService(repo Repository, sender Sender, renderer Renderer, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	s := &Service{
		repo:      repo,
		sender:    sender,
		renderer:  renderer,
		logger:    logger,
		metrics:   m,
		strategy:  model.DrawStrategyFrozen,
		locale:    "en",
		lotteries: make(map[int64]*lottery),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateEvent создаёт мероприятие; организатором становится вызывающий участник.
func (s *Service) CreateEvent(ctx context.Context, organizer model.Candidate, title string, capacity, waitlistLimit int) (int64, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, ErrEmptyTitle
	}
	if capacity < 0 {
		return 0, allocation.ErrInvalidCapacity
	}
	if waitlistLimit < 0 {
		return 0, ErrInvalidWaitlistLimit
	}

	return s.repo.CreateEvent(ctx, model.Event{
		OrganizerID:   organizer,
		Title:         title,
		Capacity:      capacity,
		WaitlistLimit: waitlistLimit,
	})
}

// GetEvent возвращает мероприятие.
func (s *Service) GetEvent(ctx context.Context, eventID int64) (*model.Event, error) {
	return s.repo.GetEvent(ctx, eventID)
}

// CloseEvent закрывает мероприятие и освобождает его движок розыгрыша.
func (s *Service) CloseEvent(ctx context.Context, eventID int64, organizer model.Candidate) error {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.OrganizerID != organizer {
		return ErrNotOrganizer
	}

	if err := s.repo.CloseEvent(ctx, eventID); err != nil {
		return err
	}

	s.mu.Lock()
	l, ok := s.lotteries[eventID]
	delete(s.lotteries, eventID)
	s.mu.Unlock()

	if ok {
		l.mu.Lock()
		if l.engine != nil {
			l.engine = nil
			s.metrics.ActiveEngines.Dec()
		}
		l.mu.Unlock()
	}

	s.logger.Info("event closed", zap.Int64("eventID", eventID))
	return nil
}

// JoinWaitlist записывает участника в лист ожидания мероприятия.
func (s *Service) JoinWaitlist(ctx context.Context, eventID int64, entrant model.Entrant) error {
	entrant.EventID = eventID
	entrant.Status = model.EntrantStatusWaiting
	return s.repo.AddEntrant(ctx, entrant)
}

// LeaveWaitlist удаляет участника из листа ожидания. Приглашённые и принявшие
// приглашение участники покинуть лист этим способом не могут.
func (s *Service) LeaveWaitlist(ctx context.Context, eventID int64, c model.Candidate) error {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.IsClosed() {
		return s.repo.RemoveWaitingEntrant(ctx, eventID, c)
	}

	l := s.lotteryFor(eventID)
	l.mu.Lock()
	defer l.mu.Unlock()

	return s.repo.RemoveWaitingEntrant(ctx, eventID, c)
}

// ListEntrants возвращает участников мероприятия с указанными статусами.
func (s *Service) ListEntrants(ctx context.Context, eventID int64, statuses ...model.EntrantStatus) ([]model.Entrant, error) {
	if _, err := s.repo.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.repo.ListEntrants(ctx, eventID, statuses...)
}

// RunLottery приглашает до spots участников из листа ожидания.
//
// Участники, покинувшие лист после фиксации порядка, считаются отказавшимися,
// а освободившиеся места тут же разыгрываются повторно.
func (s *Service) RunLottery(ctx context.Context, eventID int64, organizer model.Candidate, spots int) (*model.DrawResult, error) {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != organizer {
		return nil, ErrNotOrganizer
	}
	if event.IsClosed() {
		return nil, repository.ErrEventClosed
	}

	l := s.lotteryFor(eventID)
	l.mu.Lock()
	defer l.mu.Unlock()

	engine, err := s.engineFor(ctx, l, event, true)
	if err != nil {
		return nil, err
	}

	waiting, err := s.repo.ListEntrants(ctx, eventID, model.EntrantStatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("list waiting entrants: %w", err)
	}
	pool := allocation.NewWaitingPool()
	for _, e := range waiting {
		pool.Add(e.Candidate)
	}

	s.metrics.DrawsTotal.Inc()

	invited := make([]model.Candidate, 0, max(spots, 0))
	for {
		drawn := engine.Draw(pool, spots-len(invited))
		if len(drawn) == 0 {
			break
		}

		stale := 0
		for _, c := range drawn {
			if pool.Contains(c) {
				invited = append(invited, c)
				continue
			}
			if err := engine.RecordResponse(c, false); err != nil {
				s.evictLocked(eventID, l)
				return nil, fmt.Errorf("release stale candidate: %w", err)
			}
			stale++
			s.logger.Info("skipping candidate who left the waiting list",
				zap.Int64("eventID", eventID), zap.String("candidate", string(c)))
		}
		if stale == 0 {
			break
		}
		s.metrics.StaleDrawsTotal.Add(float64(stale))
	}

	st := engine.State()
	err = s.repo.SaveDraw(ctx, model.LotteryState{
		EventID:  eventID,
		Strategy: st.Strategy,
		Order:    st.Order,
		Drawn:    st.Drawn,
	}, invited)
	if err != nil {
		s.evictLocked(eventID, l)
		return nil, fmt.Errorf("save draw: %w", err)
	}

	result := &model.DrawResult{
		Invited:           invited,
		RemainingCapacity: engine.RemainingCapacity(),
	}

	s.metrics.InvitationsTotal.Add(float64(len(invited)))
	s.logger.Info("lottery draw completed",
		zap.Int64("eventID", eventID),
		zap.Int("requested", spots),
		zap.Int("invited", len(invited)),
		zap.Int("remainingCapacity", result.RemainingCapacity),
	)

	return result, nil
}

// Respond фиксирует ответ приглашённого участника.
// Повторный или запоздалый ответ возвращает allocation.ErrUnknownInvitee.
func (s *Service) Respond(ctx context.Context, eventID int64, c model.Candidate, accept bool) error {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.IsClosed() {
		return repository.ErrEventClosed
	}

	status, kind, outcome := model.EntrantStatusDeclined, model.NotificationDeclined, metrics.OutcomeDeclined
	if accept {
		status, kind, outcome = model.EntrantStatusAccepted, model.NotificationAccepted, metrics.OutcomeAccepted
	}
	return s.resolveInvitation(ctx, event, c, accept, status, kind, outcome)
}

// CancelInvitation отменяет приглашение, на которое участник не ответил.
// Место освобождается для следующего розыгрыша.
func (s *Service) CancelInvitation(ctx context.Context, eventID int64, organizer, c model.Candidate) error {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.OrganizerID != organizer {
		return ErrNotOrganizer
	}
	if event.IsClosed() {
		return repository.ErrEventClosed
	}

	return s.resolveInvitation(ctx, event, c, false,
		model.EntrantStatusCancelled, model.NotificationCancelled, metrics.OutcomeCancelled)
}

func (s *Service) resolveInvitation(
	ctx context.Context,
	event *model.Event,
	c model.Candidate,
	accept bool,
	status model.EntrantStatus,
	kind model.NotificationKind,
	outcome string,
) error {
	l := s.lotteryFor(event.ID)
	l.mu.Lock()
	defer l.mu.Unlock()

	engine, err := s.engineFor(ctx, l, event, false)
	if err != nil {
		return err
	}
	if engine == nil {
		err = allocation.ErrUnknownInvitee
	} else {
		err = engine.RecordResponse(c, accept)
	}
	if err != nil {
		if errors.Is(err, allocation.ErrUnknownInvitee) {
			s.metrics.RecordResponse(metrics.OutcomeUnknown)
			s.logger.Warn("response from candidate without pending invitation",
				zap.Int64("eventID", event.ID), zap.String("candidate", string(c)))
		}
		return err
	}

	if err := s.repo.SaveResponse(ctx, event.ID, c, status, kind); err != nil {
		s.evictLocked(event.ID, l)
		return fmt.Errorf("save response: %w", err)
	}

	s.metrics.RecordResponse(outcome)
	return nil
}

// LotterySummary возвращает состояние розыгрыша. До первого розыгрыша
// свободна вся вместимость, а списки пусты. Для закрытого мероприятия
// итог строится из сохранённого состояния, движок в памяти не появляется.
func (s *Service) LotterySummary(ctx context.Context, eventID int64) (*model.LotterySummary, error) {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	var engine *allocation.Engine
	if event.IsClosed() {
		engine, err = s.restoreEngine(ctx, event)
	} else {
		l := s.lotteryFor(eventID)
		l.mu.Lock()
		defer l.mu.Unlock()
		engine, err = s.engineFor(ctx, l, event, false)
	}
	if err != nil {
		return nil, err
	}

	summary := &model.LotterySummary{
		EventID:           eventID,
		Capacity:          event.Capacity,
		RemainingCapacity: event.Capacity,
		Invited:           []model.Candidate{},
		Accepted:          []model.Candidate{},
	}
	if engine != nil {
		summary.RemainingCapacity = engine.RemainingCapacity()
		summary.Invited = engine.Invited()
		summary.Accepted = engine.Accepted()
	}
	return summary, nil
}

func (s *Service) lotteryFor(eventID int64) *lottery {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lotteries[eventID]
	if !ok {
		l = &lottery{}
		s.lotteries[eventID] = l
	}
	return l
}

// engineFor возвращает движок мероприятия, восстанавливая его из хранилища при необходимости.
// Если розыгрыша ещё не было, движок создаётся только при create; иначе возвращается nil.
// Вызывается под l.mu.
func (s *Service) engineFor(ctx context.Context, l *lottery, event *model.Event, create bool) (*allocation.Engine, error) {
	if l.engine != nil {
		return l.engine, nil
	}

	engine, err := s.restoreEngine(ctx, event)
	if err != nil {
		return nil, err
	}
	if engine == nil {
		if !create {
			return nil, nil
		}
		engine, err = allocation.NewEngine(event.Capacity, s.engineOptions(allocation.WithStrategy(s.strategy))...)
		if err != nil {
			return nil, fmt.Errorf("create engine: %w", err)
		}
	}

	l.engine = engine
	s.metrics.ActiveEngines.Inc()
	return engine, nil
}

// restoreEngine собирает движок из сохранённого состояния, не кэшируя его.
// Если розыгрыша ещё не было, возвращает nil.
func (s *Service) restoreEngine(ctx context.Context, event *model.Event) (*allocation.Engine, error) {
	st, err := s.repo.GetLotteryState(ctx, event.ID)
	if errors.Is(err, repository.ErrLotteryNotStarted) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lottery state: %w", err)
	}

	invited, err := s.candidatesWithStatus(ctx, event.ID, model.EntrantStatusInvited)
	if err != nil {
		return nil, err
	}
	accepted, err := s.candidatesWithStatus(ctx, event.ID, model.EntrantStatusAccepted)
	if err != nil {
		return nil, err
	}

	engine, err := allocation.RestoreEngine(allocation.State{
		Capacity: event.Capacity,
		Strategy: st.Strategy,
		Order:    st.Order,
		Drawn:    st.Drawn,
		Started:  true,
		Invited:  invited,
		Accepted: accepted,
	}, s.engineOptions()...)
	if err != nil {
		return nil, fmt.Errorf("restore engine: %w", err)
	}

	s.logger.Info("lottery engine restored",
		zap.Int64("eventID", event.ID), zap.Int("drawn", st.Drawn))
	return engine, nil
}

func (s *Service) engineOptions(opts ...allocation.Option) []allocation.Option {
	if s.newRand != nil {
		opts = append(opts, allocation.WithRand(s.newRand()))
	}
	return opts
}

func (s *Service) candidatesWithStatus(ctx context.Context, eventID int64, status model.EntrantStatus) ([]model.Candidate, error) {
	entrants, err := s.repo.ListEntrants(ctx, eventID, status)
	if err != nil {
		return nil, fmt.Errorf("list %s entrants: %w", strings.ToLower(string(status)), err)
	}
	out := make([]model.Candidate, len(entrants))
	for i, e := range entrants {
		out[i] = e.Candidate
	}
	return out, nil
}

// evictLocked сбрасывает движок после неудачного сохранения: следующий вызов
// восстановит его из хранилища. Вызывается под l.mu.
func (s *Service) evictLocked(eventID int64, l *lottery) {
	if l.engine == nil {
		return
	}
	l.engine = nil
	s.metrics.ActiveEngines.Dec()
	s.logger.Warn("lottery engine evicted after failed save", zap.Int64("eventID", eventID))
}
