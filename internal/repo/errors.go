package repo

import "errors"

// ErrAlreadyExists — запись уже существует (конфликт уникальности).
var ErrAlreadyExists = errors.New("already exists")
