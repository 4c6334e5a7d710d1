// Package crdt содержит логические часы, которыми помечаются локальные мутации.
package crdt

import "sync"

// LamportClock логические часы Лампорта. Каждая локальная запись получает
// значение Tick(), каждое полученное от сервера значение продвигает часы через Witness,
// поэтому локальная запись, сделанная после синхронизации, всегда "позже" удаленной.
type LamportClock struct {
	counter int64
	mu      sync.Mutex
}

// NewLamportClock создает часы, продолжающие счет с сохраненного значения
func NewLamportClock(start int64) *LamportClock {
	if start < 0 {
		start = 0
	}
	return &LamportClock{counter: start}
}

// Tick увеличивает счетчик и возвращает новое значение.
// Используется при создании нового локального события.
func (lc *LamportClock) Tick() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.counter++
	return lc.counter
}

// Witness учитывает удаленный timestamp: counter = max(counter, remote).
// В отличие от классического Update счетчик не увеличивается -
// следующий Tick и так вернет значение больше remote.
func (lc *LamportClock) Witness(remote int64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if remote > lc.counter {
		lc.counter = remote
	}
}

// Now возвращает текущее значение счетчика без изменения
func (lc *LamportClock) Now() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.counter
}
