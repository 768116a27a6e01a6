package allocation

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/mmeshcher/event-lottery/internal/model"
)

// Engine разыгрывает приглашения из листа ожидания, не превышая вместимость,
// и учитывает ответы приглашённых кандидатов.
//
// Все методы безопасны для конкурентного вызова: состояние защищено одним мьютексом.
type Engine struct {
	mu       sync.Mutex
	capacity int
	strategy model.DrawStrategy
	order    ordering
	invited  map[model.Candidate]struct{}
	accepted map[model.Candidate]struct{}
}

// State описывает состояние движка, достаточное для его восстановления.
type State struct {
	Capacity int
	Strategy model.DrawStrategy
	// Order содержит порядок розыгрыша; первые Drawn элементов уже разыграны.
	Order    []model.Candidate
	Drawn    int
	Started  bool
	Invited  []model.Candidate
	Accepted []model.Candidate
}

type options struct {
	rng      *rand.Rand
	strategy model.DrawStrategy
}

// Option настраивает движок при создании.
type Option func(*options)

// WithRand задаёт источник случайности для перемешивания.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) {
		o.rng = rng
	}
}

// WithStrategy задаёт стратегию формирования порядка розыгрыша.
func WithStrategy(s model.DrawStrategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

func buildOptions(opts []Option) options {
	o := options{strategy: model.DrawStrategyFrozen}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return o
}

// NewEngine создаёт движок с заданной общей вместимостью.
func NewEngine(capacity int, opts ...Option) (*Engine, error) {
	if capacity < 0 {
		return nil, ErrInvalidCapacity
	}

	o := buildOptions(opts)
	ord, err := newOrdering(o.strategy, o.rng)
	if err != nil {
		return nil, err
	}

	return &Engine{
		capacity: capacity,
		strategy: o.strategy,
		order:    ord,
		invited:  make(map[model.Candidate]struct{}),
		accepted: make(map[model.Candidate]struct{}),
	}, nil
}

// RestoreEngine восстанавливает движок из ранее экспортированного состояния.
// Стратегия берётся из состояния; WithStrategy здесь игнорируется.
func RestoreEngine(st State, opts ...Option) (*Engine, error) {
	if st.Capacity < 0 {
		return nil, ErrInvalidCapacity
	}
	if st.Drawn < 0 || st.Drawn > len(st.Order) {
		return nil, fmt.Errorf("%w: drawn %d out of range [0, %d]", ErrInvalidState, st.Drawn, len(st.Order))
	}
	if len(st.Invited)+len(st.Accepted) > st.Capacity {
		return nil, fmt.Errorf("%w: %d invited and %d accepted exceed capacity %d",
			ErrInvalidState, len(st.Invited), len(st.Accepted), st.Capacity)
	}

	inOrder := make(map[model.Candidate]struct{}, len(st.Order))
	for _, c := range st.Order {
		if _, dup := inOrder[c]; dup {
			return nil, fmt.Errorf("%w: candidate %q repeated in draw order", ErrInvalidState, c)
		}
		inOrder[c] = struct{}{}
	}
	drawn := make(map[model.Candidate]struct{}, st.Drawn)
	for _, c := range st.Order[:st.Drawn] {
		drawn[c] = struct{}{}
	}

	invited, err := restoreSet(st.Invited, drawn, nil)
	if err != nil {
		return nil, err
	}
	accepted, err := restoreSet(st.Accepted, drawn, invited)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	strategy := st.Strategy
	if strategy == "" {
		strategy = model.DrawStrategyFrozen
	}

	var ord ordering
	switch strategy {
	case model.DrawStrategyFrozen:
		ord = &frozenOrdering{
			rng:     o.rng,
			order:   slices.Clone(st.Order),
			next:    st.Drawn,
			started: st.Started || len(st.Order) > 0,
		}
	case model.DrawStrategyReshuffle:
		history := slices.Clone(st.Order[:st.Drawn])
		seen := make(map[model.Candidate]struct{}, len(history))
		for _, c := range history {
			seen[c] = struct{}{}
		}
		ord = &reshuffleOrdering{rng: o.rng, history: history, seen: seen}
	default:
		return nil, ErrUnknownStrategy
	}

	return &Engine{
		capacity: st.Capacity,
		strategy: strategy,
		order:    ord,
		invited:  invited,
		accepted: accepted,
	}, nil
}

func restoreSet(list []model.Candidate, drawn, disjoint map[model.Candidate]struct{}) (map[model.Candidate]struct{}, error) {
	set := make(map[model.Candidate]struct{}, len(list))
	for _, c := range list {
		if _, ok := drawn[c]; !ok {
			return nil, fmt.Errorf("%w: candidate %q was never drawn", ErrInvalidState, c)
		}
		if _, ok := disjoint[c]; ok {
			return nil, fmt.Errorf("%w: candidate %q both invited and accepted", ErrInvalidState, c)
		}
		if _, dup := set[c]; dup {
			return nil, fmt.Errorf("%w: candidate %q listed twice", ErrInvalidState, c)
		}
		set[c] = struct{}{}
	}
	return set, nil
}

// Draw приглашает до requestedSpots кандидатов из листа ожидания.
//
// Число приглашённых ограничено запрошенным количеством, свободной вместимостью
// и числом ещё не разыгранных кандидатов. Превышение запроса ошибкой не считается:
// возвращается столько кандидатов, сколько удалось пригласить, возможно ноль.
func (e *Engine) Draw(pool *WaitingPool, requestedSpots int) []model.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := e.order.remaining(pool)
	toInvite := min(requestedSpots, e.remainingCapacityLocked(), len(remaining))
	if toInvite <= 0 {
		e.order.consume(0)
		return []model.Candidate{}
	}

	picked := slices.Clone(remaining[:toInvite])
	e.order.consume(toInvite)
	for _, c := range picked {
		e.invited[c] = struct{}{}
	}
	return picked
}

// RecordResponse фиксирует ответ приглашённого кандидата.
// Согласие переводит кандидата в принятые, отказ окончательно исключает его из розыгрыша.
func (e *Engine) RecordResponse(c model.Candidate, accepted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.invited[c]; !ok {
		return ErrUnknownInvitee
	}
	delete(e.invited, c)
	if accepted {
		e.accepted[c] = struct{}{}
	}
	return nil
}

// Invited возвращает отсортированную копию множества ожидающих ответа кандидатов.
func (e *Engine) Invited() []model.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.invited)
}

// Accepted возвращает отсортированную копию множества принявших приглашение кандидатов.
func (e *Engine) Accepted() []model.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.accepted)
}

// RemainingCapacity возвращает число мест, которые ещё можно разыграть.
func (e *Engine) RemainingCapacity() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remainingCapacityLocked()
}

// Capacity возвращает общую вместимость.
func (e *Engine) Capacity() int {
	return e.capacity
}

// Drawn возвращает всех разыгранных кандидатов в порядке розыгрыша,
// включая отказавшихся.
func (e *Engine) Drawn() []model.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.order.drawn())
}

// State экспортирует состояние движка.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, drawn, started := e.order.export()
	return State{
		Capacity: e.capacity,
		Strategy: e.strategy,
		Order:    order,
		Drawn:    drawn,
		Started:  started,
		Invited:  sortedKeys(e.invited),
		Accepted: sortedKeys(e.accepted),
	}
}

func (e *Engine) remainingCapacityLocked() int {
	return e.capacity - len(e.invited) - len(e.accepted)
}

func sortedKeys(set map[model.Candidate]struct{}) []model.Candidate {
	out := make([]model.Candidate, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
