// Пакет service — бизнес-логика Concert Hall: кэш архивных ответов,
// агрегация записей в концерты, оркестрация скачиваний.
package service

import "errors"

// Ошибки сервисного слоя.
var (
	// ErrNotFound — запрошенный ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("некорректные входные данные")
	// ErrConflict — операция несовместима с текущим состоянием ресурса.
	ErrConflict = errors.New("конфликт состояния ресурса")
)
