package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrAlreadyExists       = errors.New("already exists")
	ErrNotFound            = errors.New("not found")
)

// translate maps gorm errors onto the package sentinels. The connection is
// opened with TranslateError so driver specific duplicate key errors surface
// as gorm.ErrDuplicatedKey.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrAlreadyExists
	}
	return err
}
