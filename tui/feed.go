package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// EventMsg carries one execution event into the model
type EventMsg domain.ExecutionEvent

// StatusMsg carries the terminal status of one execution
type StatusMsg domain.ExecutionStatus

// DoneMsg is sent once no more executions will start
type DoneMsg struct {
	Err error
}

// Feed is a StatusSink that forwards events to a running program through a channel
type Feed struct {
	ch       chan tea.Msg
	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	closed   bool
}

// NewFeed creates a feed buffering up to size messages
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 256
	}
	return &Feed{ch: make(chan tea.Msg, size), stop: make(chan struct{})}
}

func (f *Feed) Emit(ev domain.ExecutionEvent) error {
	f.send(EventMsg(ev))
	return nil
}

func (f *Feed) Finished(st domain.ExecutionStatus) error {
	f.send(StatusMsg(st))
	return nil
}

// Close ends the feed; err is reported with the DoneMsg
func (f *Feed) Close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	select {
	case f.ch <- DoneMsg{Err: err}:
	case <-f.stop:
	}
	close(f.ch)
}

// Stop drops all further messages. Call it once the program has exited so that
// running executions never block on a full feed.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
}

func (f *Feed) send(msg tea.Msg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- msg:
	case <-f.stop:
	}
}

// wait returns a command delivering the next message of the feed
func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-f.ch
		if !ok {
			return nil
		}
		return msg
	}
}
