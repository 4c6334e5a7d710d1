package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkUnavailable монитор сети сообщает, что сервер недоступен
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrTransport отправка пакета не удалась (ошибка сети, таймаут, отказ сервера)
	ErrTransport = errors.New("transport failure")

	// ErrConflictDetected сервер сообщил о конфликте, который не удалось разрешить автоматически.
	// Информационная ошибка: цикл при этом считается успешным.
	ErrConflictDetected = errors.New("conflict detected")

	// ErrMaxRetriesExceeded изменение исчерпало попытки и переведено в FAILED
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrAlreadySyncing цикл синхронизации уже выполняется
	ErrAlreadySyncing = errors.New("sync already in progress")
)

// TransportError ошибка транспорта с указанием операции.
// errors.Is срабатывает и для ErrTransport, и для исходной ошибки.
type TransportError struct {
	Err error
	Op  string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
