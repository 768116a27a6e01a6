// Package allocation реализует лист ожидания и движок розыгрыша приглашений.
//
// Пакет не выполняет ввода-вывода: сохранение состояния и доставка уведомлений
// остаются на стороне вызывающего кода.
package allocation

import (
	"slices"

	"github.com/mmeshcher/event-lottery/internal/model"
)

// WaitingPool хранит уникальных кандидатов одного мероприятия в порядке добавления.
// Нулевое значение готово к работе. Nil-пул ведёт себя как пустой лист на чтение
// и удаление, но добавлять в него нельзя, как и писать в nil map.
// Не предназначен для конкурентного использования.
type WaitingPool struct {
	members []model.Candidate
	index   map[model.Candidate]struct{}
}

// NewWaitingPool создаёт лист ожидания с указанными кандидатами; повторы пропускаются.
func NewWaitingPool(candidates ...model.Candidate) *WaitingPool {
	p := &WaitingPool{
		members: make([]model.Candidate, 0, len(candidates)),
		index:   make(map[model.Candidate]struct{}, len(candidates)),
	}
	for _, c := range candidates {
		p.Add(c)
	}
	return p
}

// Add добавляет кандидата, если его ещё нет в листе. Вызов на nil-пуле паникует.
func (p *WaitingPool) Add(c model.Candidate) {
	if _, ok := p.index[c]; ok {
		return
	}
	if p.index == nil {
		p.index = make(map[model.Candidate]struct{})
	}
	p.index[c] = struct{}{}
	p.members = append(p.members, c)
}

// Remove удаляет кандидата, если он есть в листе.
func (p *WaitingPool) Remove(c model.Candidate) {
	if p == nil {
		return
	}
	if _, ok := p.index[c]; !ok {
		return
	}
	delete(p.index, c)
	if i := slices.Index(p.members, c); i >= 0 {
		p.members = slices.Delete(p.members, i, i+1)
	}
}

// Size возвращает число кандидатов в листе.
func (p *WaitingPool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.members)
}

// Contains сообщает, есть ли кандидат в листе.
func (p *WaitingPool) Contains(c model.Candidate) bool {
	if p == nil {
		return false
	}
	_, ok := p.index[c]
	return ok
}

// Snapshot возвращает копию текущего состава листа в порядке добавления.
func (p *WaitingPool) Snapshot() []model.Candidate {
	if p == nil {
		return []model.Candidate{}
	}
	return slices.Clone(p.members)
}
