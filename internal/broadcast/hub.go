// Package broadcast fans committed task state out to the observers of a project.
package broadcast

import (
	"log"
	"sync"

	"tasktrack/internal/domain"
)

const EventTaskUpdated = "task.updated"

// TaskView is the task projection sent to observers.
type TaskView struct {
	ID             int64            `json:"id"`
	SequenceNumber int64            `json:"sequence_number"`
	ProjectID      int64            `json:"project_id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Value          *int64           `json:"value"`
	Source         string           `json:"source,omitempty"`
	Status         string           `json:"status"`
	Type           *domain.TaskType `json:"type"`
	Performer      *domain.User     `json:"performer"`
	Users          []domain.User    `json:"users"`
}

type TaskUpdate struct {
	Event string   `json:"event"`
	Task  TaskView `json:"task"`
}

func NewTaskUpdate(t domain.Task) TaskUpdate {
	users := t.Users
	if users == nil {
		users = []domain.User{}
	}
	return TaskUpdate{
		Event: EventTaskUpdated,
		Task: TaskView{
			ID:             t.ID,
			SequenceNumber: t.SequenceNumber,
			ProjectID:      t.ProjectID,
			Title:          t.Title,
			Description:    t.Description,
			Value:          t.Value,
			Source:         t.Source,
			Status:         t.Status,
			Type:           t.Type,
			Performer:      t.Performer,
			Users:          users,
		},
	}
}

// Subscription receives the updates of one project until it is closed.
type Subscription struct {
	ProjectID int64
	C         <-chan TaskUpdate

	ch  chan TaskUpdate
	hub *Hub
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

type Hub struct {
	// Buffer is the per-subscriber queue length; full queues drop messages.
	Buffer int
	Logger *log.Logger

	mu   sync.RWMutex
	subs map[int64]map[*Subscription]struct{}
}

func NewHub(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{Buffer: buffer, Logger: logger, subs: map[int64]map[*Subscription]struct{}{}}
}

func (h *Hub) Subscribe(projectID int64) *Subscription {
	ch := make(chan TaskUpdate, h.Buffer)
	s := &Subscription{ProjectID: projectID, C: ch, ch: ch, hub: h}
	h.mu.Lock()
	if h.subs == nil {
		h.subs = map[int64]map[*Subscription]struct{}{}
	}
	if h.subs[projectID] == nil {
		h.subs[projectID] = map[*Subscription]struct{}{}
	}
	h.subs[projectID][s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.ProjectID]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.ProjectID)
	}
	close(s.ch)
}

// Subscribers returns the number of observers of projectID.
func (h *Hub) Subscribers(projectID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}

// NotifyProjectOfTaskUpdate sends the task to every observer of its project
// without blocking. Observers whose queue is full miss the update.
func (h *Hub) NotifyProjectOfTaskUpdate(t domain.Task) {
	msg := NewTaskUpdate(t)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[t.ProjectID] {
		select {
		case s.ch <- msg:
		default:
			h.Logger.Printf("broadcast: dropped update of task %d for a slow observer of project %d", t.SequenceNumber, t.ProjectID)
		}
	}
}
