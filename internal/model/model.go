// Package model содержит доменные сущности сервиса лотереи мероприятий.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Candidate идентифицирует участника в листе ожидания и в розыгрыше.
// Профильные данные (имя, email) хранятся отдельно и связываются по этому идентификатору.
type Candidate string

// Event описывает мероприятие с фиксированным числом мест.
type Event struct {
	ID            int64
	OrganizerID   Candidate
	Title         string
	Capacity      int
	WaitlistLimit int
	ClosedAt      *time.Time
	CreatedAt     time.Time
}

// IsClosed сообщает, закрыто ли мероприятие для новых записей и розыгрышей.
func (e *Event) IsClosed() bool {
	return e.ClosedAt != nil
}

// EntrantStatus описывает состояние участника относительно мероприятия.
type EntrantStatus string

const (
	EntrantStatusWaiting   EntrantStatus = "WAITING"
	EntrantStatusInvited   EntrantStatus = "INVITED"
	EntrantStatusAccepted  EntrantStatus = "ACCEPTED"
	EntrantStatusDeclined  EntrantStatus = "DECLINED"
	EntrantStatusCancelled EntrantStatus = "CANCELLED"
)

// Valid проверяет, что статус входит в известный набор.
func (s EntrantStatus) Valid() bool {
	switch s {
	case EntrantStatusWaiting, EntrantStatusInvited, EntrantStatusAccepted,
		EntrantStatusDeclined, EntrantStatusCancelled:
		return true
	}
	return false
}

// Entrant описывает запись участника на мероприятие.
type Entrant struct {
	EventID   int64
	Candidate Candidate
	Name      string
	Email     string
	Status    EntrantStatus
	JoinedAt  time.Time
	UpdatedAt time.Time
}

// DrawStrategy определяет, как формируется порядок розыгрыша.
type DrawStrategy string

const (
	// DrawStrategyFrozen перемешивает лист ожидания один раз при первом розыгрыше.
	DrawStrategyFrozen DrawStrategy = "frozen"
	// DrawStrategyReshuffle перемешивает оставшихся и новых участников на каждом розыгрыше.
	DrawStrategyReshuffle DrawStrategy = "reshuffle"
)

// LotteryState хранит сохраняемую часть состояния розыгрыша мероприятия.
type LotteryState struct {
	EventID   int64
	Strategy  DrawStrategy
	Order     []Candidate
	Drawn     int
	UpdatedAt time.Time
}

// NotificationKind описывает тип уведомления участнику.
type NotificationKind string

const (
	NotificationInvited   NotificationKind = "INVITED"
	NotificationAccepted  NotificationKind = "ACCEPTED"
	NotificationDeclined  NotificationKind = "DECLINED"
	NotificationCancelled NotificationKind = "CANCELLED"
)

// Notification описывает уведомление в исходящей очереди.
type Notification struct {
	ID        uuid.UUID
	EventID   int64
	Candidate Candidate
	Kind      NotificationKind
	Attempts  int
	CreatedAt time.Time
	SentAt    *time.Time
}

// DrawResult описывает итог одного розыгрыша.
type DrawResult struct {
	Invited           []Candidate `json:"invited"`
	RemainingCapacity int         `json:"remaining_capacity"`
}

// LotterySummary содержит текущее состояние розыгрыша для организатора.
type LotterySummary struct {
	EventID           int64       `json:"event_id"`
	Capacity          int         `json:"capacity"`
	RemainingCapacity int         `json:"remaining_capacity"`
	Invited           []Candidate `json:"invited"`
	Accepted          []Candidate `json:"accepted"`
}
