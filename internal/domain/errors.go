package domain

import "errors"

// Таксономия ошибок конвейера наблюдаемости.
// Ни одна из них не должна доходить до обработки пользовательского запроса.
var (
	// ErrSchemaMissing: ожидаемой таблицы нет (не прогнали миграцию)
	ErrSchemaMissing = errors.New("storage schema missing")
	// ErrCapacityExceeded: очередь коллектора переполнена, событие отброшено
	ErrCapacityExceeded = errors.New("event queue capacity exceeded")
	// ErrStorageUnavailable: предохранитель открыт, запись пропущена
	ErrStorageUnavailable = errors.New("storage temporarily unavailable")
)
