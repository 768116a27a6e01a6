package allocation

import "errors"

var (
	// ErrInvalidCapacity возвращается при создании движка с отрицательной вместимостью.
	ErrInvalidCapacity = errors.New("capacity must not be negative")
	// ErrUnknownInvitee возвращается, если ответ пришёл от кандидата, который сейчас не приглашён.
	ErrUnknownInvitee = errors.New("candidate is not awaiting a response")
	// ErrUnknownStrategy возвращается для неизвестной стратегии формирования порядка розыгрыша.
	ErrUnknownStrategy = errors.New("unknown draw strategy")
	// ErrInvalidState возвращается при восстановлении движка из противоречивого состояния.
	ErrInvalidState = errors.New("invalid allocation state")
)
