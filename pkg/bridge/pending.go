package bridge

import "sync"

// dialWaiters связывает исходящий звонок с моментом входа его канала в приложение.
//
// Два порядка событий покрываются отдельно:
//   - событие пришло раньше ответа originate: канал помечается как вошедший,
//     и register сразу сообщает об этом;
//   - ответ пришел раньше события: register создает ожидание, которое
//     закрывает arrive.
//
// Оба множества под одним мьютексом, поэтому событие не теряется между ними.
type dialWaiters struct {
	mutex   sync.Mutex
	waiters map[string]chan struct{}
	arrived map[string]struct{}
}

func newDialWaiters() *dialWaiters {
	return &dialWaiters{
		waiters: make(map[string]chan struct{}),
		arrived: make(map[string]struct{}),
	}
}

// resolve будит ожидание канала, если оно есть
func (w *dialWaiters) resolve(channelID string) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	ch, ok := w.waiters[channelID]
	if !ok {
		return false
	}
	delete(w.waiters, channelID)
	close(ch)
	return true
}

// arrive отмечает вход канала в приложение: будит ожидание или запоминает вход
func (w *dialWaiters) arrive(channelID string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if ch, ok := w.waiters[channelID]; ok {
		delete(w.waiters, channelID)
		close(ch)
		return
	}
	w.arrived[channelID] = struct{}{}
}

// register возвращает arrived=true, если канал уже вошел; иначе канал ожидания
func (w *dialWaiters) register(channelID string) (wait <-chan struct{}, arrived bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if _, ok := w.arrived[channelID]; ok {
		delete(w.arrived, channelID)
		return nil, true
	}
	ch := make(chan struct{})
	w.waiters[channelID] = ch
	return ch, false
}

// forget снимает ожидание и отметку входа
func (w *dialWaiters) forget(channelID string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	delete(w.waiters, channelID)
	delete(w.arrived, channelID)
}

func (w *dialWaiters) pending() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return len(w.waiters)
}
