package metrics

import "github.com/vladislavdragonenkov/campusmarket/internal/domain"

// ResultFor сводит ошибку операции к значению метки result.
func ResultFor(err error) string {
	if err == nil {
		return ResultSuccess
	}
	switch domain.KindOf(err) {
	case domain.ErrConflict:
		return ResultConflict
	case domain.ErrNotFound:
		return ResultNotFound
	case domain.ErrForbidden, domain.ErrInvalidOperation, domain.ErrExpired:
		return ResultRejected
	default:
		return ResultError
	}
}
