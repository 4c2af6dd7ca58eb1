package domain

import "time"

// Role: роль пользователя.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor: аутентифицированный инициатор запроса. Идентичность приходит
// от внешнего сервиса аутентификации и повторно не проверяется.
type Actor struct {
	ID       string
	Role     Role
	Verified bool
}

// IsAdmin сообщает, обладает ли актор правами модератора.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// User хранит производный рейтинг. Поля Rating и TotalReviews
// пишет только агрегатор рейтинга.
type User struct {
	ID           string
	Name         string
	Role         Role
	Rating       float64
	TotalReviews int
	UpdatedAt    time.Time
}

// RatingSummary: результат пересчёта рейтинга.
type RatingSummary struct {
	UserID       string
	Rating       float64
	TotalReviews int
}
