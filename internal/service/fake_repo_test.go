package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/event-lottery/internal/model"
	"github.com/mmeshcher/event-lottery/internal/repository"
)

// fakeRepo хранит данные в памяти и повторяет семантику PostgresRepository.
type fakeRepo struct {
	mu sync.Mutex

	nextID        int64
	events        map[int64]*model.Event
	entrants      map[int64][]*model.Entrant
	states        map[int64]model.LotteryState
	notifications []*repository.PendingNotification

	saveDrawErr     error
	saveResponseErr error
	pendingErr      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		events:   make(map[int64]*model.Event),
		entrants: make(map[int64][]*model.Entrant),
		states:   make(map[int64]model.LotteryState),
	}
}

func (r *fakeRepo) Close() error { return nil }

func (r *fakeRepo) CreateEvent(ctx context.Context, e model.Event) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e.ID = r.nextID
	e.CreatedAt = time.Now()
	r.events[e.ID] = &e
	return e.ID, nil
}

func (r *fakeRepo) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]
	if !ok {
		return nil, repository.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *fakeRepo) CloseEvent(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]
	if !ok {
		return repository.ErrEventNotFound
	}
	if e.ClosedAt == nil {
		now := time.Now()
		e.ClosedAt = &now
	}
	return nil
}

func (r *fakeRepo) AddEntrant(ctx context.Context, e model.Entrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[e.EventID]
	if !ok {
		return repository.ErrEventNotFound
	}
	if ev.ClosedAt != nil {
		return repository.ErrEventClosed
	}

	waiting := 0
	for _, existing := range r.entrants[e.EventID] {
		if existing.Candidate == e.Candidate {
			return repository.ErrEntrantExists
		}
		if existing.Status == model.EntrantStatusWaiting {
			waiting++
		}
	}
	if ev.WaitlistLimit > 0 && waiting >= ev.WaitlistLimit {
		return repository.ErrWaitlistFull
	}

	e.Status = model.EntrantStatusWaiting
	e.JoinedAt = time.Now()
	e.UpdatedAt = e.JoinedAt
	r.entrants[e.EventID] = append(r.entrants[e.EventID], &e)
	return nil
}

func (r *fakeRepo) RemoveWaitingEntrant(ctx context.Context, eventID int64, c model.Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entrants[eventID]
	for i, e := range list {
		if e.Candidate == c && e.Status == model.EntrantStatusWaiting {
			r.entrants[eventID] = slices.Delete(list, i, i+1)
			return nil
		}
	}
	return repository.ErrEntrantNotFound
}

func (r *fakeRepo) ListEntrants(ctx context.Context, eventID int64, statuses ...model.EntrantStatus) ([]model.Entrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Entrant
	for _, e := range r.entrants[eventID] {
		if len(statuses) == 0 || slices.Contains(statuses, e.Status) {
			res = append(res, *e)
		}
	}
	return res, nil
}

func (r *fakeRepo) GetLotteryState(ctx context.Context, eventID int64) (*model.LotteryState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[eventID]
	if !ok {
		return nil, repository.ErrLotteryNotStarted
	}
	st.Order = slices.Clone(st.Order)
	return &st, nil
}

func (r *fakeRepo) SaveDraw(ctx context.Context, st model.LotteryState, invited []model.Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveDrawErr != nil {
		return r.saveDrawErr
	}
	if ev := r.events[st.EventID]; ev == nil {
		return repository.ErrEventNotFound
	} else if ev.ClosedAt != nil {
		return repository.ErrEventClosed
	}

	for _, c := range invited {
		e := r.findLocked(st.EventID, c)
		if e == nil || e.Status != model.EntrantStatusWaiting {
			return repository.ErrConcurrentUpdate
		}
	}
	for _, c := range invited {
		r.findLocked(st.EventID, c).Status = model.EntrantStatusInvited
		r.enqueueLocked(st.EventID, c, model.NotificationInvited)
	}

	st.Order = slices.Clone(st.Order)
	st.UpdatedAt = time.Now()
	r.states[st.EventID] = st
	return nil
}

func (r *fakeRepo) SaveResponse(ctx context.Context, eventID int64, c model.Candidate, status model.EntrantStatus, kind model.NotificationKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveResponseErr != nil {
		return r.saveResponseErr
	}
	e := r.findLocked(eventID, c)
	if e == nil || e.Status != model.EntrantStatusInvited {
		return repository.ErrConcurrentUpdate
	}
	e.Status = status
	r.enqueueLocked(eventID, c, kind)
	return nil
}

func (r *fakeRepo) GetPendingNotifications(ctx context.Context, limit, maxAttempts int) ([]repository.PendingNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pendingErr != nil {
		return nil, r.pendingErr
	}
	var res []repository.PendingNotification
	for _, n := range r.notifications {
		if n.SentAt == nil && n.Attempts < maxAttempts && len(res) < limit {
			res = append(res, *n)
		}
	}
	return res, nil
}

func (r *fakeRepo) MarkNotificationSent(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.notifications {
		if n.ID == id {
			now := time.Now()
			n.SentAt = &now
			n.Attempts++
		}
	}
	return nil
}

func (r *fakeRepo) MarkNotificationFailed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.notifications {
		if n.ID == id {
			n.Attempts++
		}
	}
	return nil
}

func (r *fakeRepo) findLocked(eventID int64, c model.Candidate) *model.Entrant {
	for _, e := range r.entrants[eventID] {
		if e.Candidate == c {
			return e
		}
	}
	return nil
}

func (r *fakeRepo) enqueueLocked(eventID int64, c model.Candidate, kind model.NotificationKind) {
	r.notifications = append(r.notifications, &repository.PendingNotification{
		Notification: model.Notification{
			ID:        uuid.New(),
			EventID:   eventID,
			Candidate: c,
			Kind:      kind,
			CreatedAt: time.Now(),
		},
		EventTitle: r.events[eventID].Title,
	})
}

func (r *fakeRepo) statusOf(eventID int64, c model.Candidate) model.EntrantStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.findLocked(eventID, c); e != nil {
		return e.Status
	}
	return ""
}

func (r *fakeRepo) notificationsOf(kind model.NotificationKind) []model.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Candidate
	for _, n := range r.notifications {
		if n.Kind == kind {
			res = append(res, n.Candidate)
		}
	}
	return res
}
