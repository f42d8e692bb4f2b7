package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrCallNotFound звонок с таким provider call id не отслеживается
	ErrCallNotFound = errors.New("звонок не найден")

	// ErrDialTimeout исходящий канал не вошел в приложение за DialTimeout
	ErrDialTimeout = errors.New("канал не вошел в ARI приложение вовремя")

	// ErrCallEnded звонок уже завершается, ресурс не может быть привязан
	ErrCallEnded = errors.New("звонок уже завершается")

	// ErrSetupRejected повторная настройка звонка запрещена
	ErrSetupRejected = errors.New("настройка звонка уже выполнялась")

	// ErrNoSpeechSynthesis не настроен синтез речи
	ErrNoSpeechSynthesis = errors.New("синтез речи не настроен")
)

// CallError ошибка операции над конкретным звонком
type CallError struct {
	Op             string
	ProviderCallID string
	Err            error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("звонок %s: %s: %v", e.ProviderCallID, e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
