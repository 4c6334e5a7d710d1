// Package netmon сообщает о доступности сервера синхронизации.
package netmon

import "sync"

// Monitor источник состояния сети
type Monitor interface {
	// IsAvailable текущее состояние
	IsAvailable() bool

	// Subscribe возвращает канал изменений состояния и функцию отписки.
	// Канал буферизирован на одно значение; медленный подписчик получает последнее состояние.
	Subscribe() (<-chan bool, func())
}

// hub рассылает изменения состояния подписчикам
type hub struct {
	subs      map[int]chan bool
	mu        sync.Mutex
	nextID    int
	available bool
}

func newHub(initial bool) *hub {
	return &hub{subs: make(map[int]chan bool), available: initial}
}

func (h *hub) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

func (h *hub) Subscribe() (<-chan bool, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan bool, 1)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// set меняет состояние; возвращает true если оно изменилось
func (h *hub) set(available bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.available == available {
		return false
	}
	h.available = available

	for _, ch := range h.subs {
		// вытесняем устаревшее значение
		select {
		case <-ch:
		default:
		}
		ch <- available
	}
	return true
}

// Static монитор, состоянием которого управляют вручную (тесты, режим без сервера)
type Static struct {
	*hub
}

var _ Monitor = (*Static)(nil)

// NewStatic создает монитор с начальным состоянием
func NewStatic(available bool) *Static {
	return &Static{hub: newHub(available)}
}

// Set меняет состояние и уведомляет подписчиков
func (s *Static) Set(available bool) {
	s.set(available)
}
