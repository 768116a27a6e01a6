package allocation

import (
	"math/rand/v2"
	"slices"

	"github.com/mmeshcher/event-lottery/internal/model"
)

// ordering отвечает за то, в каком порядке кандидаты выходят из листа ожидания.
// Учёт вместимости и приглашений от неё не зависит.
type ordering interface {
	// remaining возвращает ещё не разыгранных кандидатов в порядке розыгрыша.
	remaining(pool *WaitingPool) []model.Candidate
	// consume отмечает первые n кандидатов из последнего remaining как разыгранные.
	consume(n int)
	// drawn возвращает разыгранных кандидатов в порядке розыгрыша.
	drawn() []model.Candidate
	// export возвращает сохраняемое представление порядка.
	export() (order []model.Candidate, drawn int, started bool)
}

func newOrdering(strategy model.DrawStrategy, rng *rand.Rand) (ordering, error) {
	switch strategy {
	case model.DrawStrategyFrozen, "":
		return &frozenOrdering{rng: rng}, nil
	case model.DrawStrategyReshuffle:
		return &reshuffleOrdering{rng: rng, seen: make(map[model.Candidate]struct{})}, nil
	default:
		return nil, ErrUnknownStrategy
	}
}

// frozenOrdering перемешивает снимок листа один раз при первом розыгрыше
// и дальше только продвигается по нему. Новые кандидаты в листе ожидания
// для этого порядка невидимы.
type frozenOrdering struct {
	rng     *rand.Rand
	order   []model.Candidate
	next    int
	started bool
}

func (o *frozenOrdering) remaining(pool *WaitingPool) []model.Candidate {
	if !o.started {
		o.order = pool.Snapshot()
		o.rng.Shuffle(len(o.order), func(i, j int) {
			o.order[i], o.order[j] = o.order[j], o.order[i]
		})
		o.started = true
	}
	return o.order[o.next:]
}

func (o *frozenOrdering) consume(n int) {
	o.next += n
}

func (o *frozenOrdering) drawn() []model.Candidate {
	return o.order[:o.next]
}

func (o *frozenOrdering) export() ([]model.Candidate, int, bool) {
	return slices.Clone(o.order), o.next, o.started
}

// reshuffleOrdering на каждом розыгрыше берёт свежий снимок листа, исключает
// уже разыгранных этим движком кандидатов и перемешивает остаток.
type reshuffleOrdering struct {
	rng     *rand.Rand
	history []model.Candidate
	seen    map[model.Candidate]struct{}
	pending []model.Candidate
}

func (o *reshuffleOrdering) remaining(pool *WaitingPool) []model.Candidate {
	snapshot := pool.Snapshot()
	o.pending = o.pending[:0]
	for _, c := range snapshot {
		if _, ok := o.seen[c]; !ok {
			o.pending = append(o.pending, c)
		}
	}
	o.rng.Shuffle(len(o.pending), func(i, j int) {
		o.pending[i], o.pending[j] = o.pending[j], o.pending[i]
	})
	return o.pending
}

func (o *reshuffleOrdering) consume(n int) {
	for _, c := range o.pending[:n] {
		o.seen[c] = struct{}{}
		o.history = append(o.history, c)
	}
	o.pending = nil
}

func (o *reshuffleOrdering) drawn() []model.Candidate {
	return o.history
}

func (o *reshuffleOrdering) export() ([]model.Candidate, int, bool) {
	return slices.Clone(o.history), len(o.history), len(o.history) > 0
}
