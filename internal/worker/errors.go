package worker

import "errors"

// Ошибки воркера.
var (
	// ErrDecode — тело сообщения не разбирается как событие.
	ErrDecode = errors.New("decode event")

	// ErrMissingEventID — у события нет ключа дедупликации.
	ErrMissingEventID = errors.New("event has no EventID")

	// ErrUnknownScorer — нет scorer'а с таким именем.
	ErrUnknownScorer = errors.New("unknown scorer")

	// ErrCallTimeout — внешний вызов (БД, scorer) не уложился в таймаут.
	ErrCallTimeout = errors.New("call timeout")

	// ErrRetryExhausted — все попытки retry исчерпаны.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)
