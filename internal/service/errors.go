package service

import "errors"

var (
	// ErrNotOrganizer возвращается, если действие доступно только организатору мероприятия.
	ErrNotOrganizer = errors.New("only the organizer can perform this action")
	// ErrInvalidWaitlistLimit возвращается для отрицательного лимита листа ожидания.
	ErrInvalidWaitlistLimit = errors.New("waitlist limit must not be negative")
	// ErrEmptyTitle возвращается при создании мероприятия без названия.
	ErrEmptyTitle = errors.New("event title is required")
)
