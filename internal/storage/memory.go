package storage

import (
	"anonchat/backend/internal/models"
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a process-local Storage. It backs development runs without
// a database and the tests of the packages above storage.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[int64]models.User
	logs    []models.ChatLog
	links   map[models.MessageRef]models.MessageRef
	reports []models.Report
	queues  map[string][]int64
	nextLog uint

	events *broadcaster
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]models.User),
		links:  make(map[models.MessageRef]models.MessageRef),
		queues: make(map[string][]int64),
		events: newBroadcaster(),
	}
}

var _ Storage = (*MemoryStore)(nil)
var _ Storage = (*Service)(nil)

func cloneUser(u models.User) *models.User {
	if u.PartnerID != nil {
		p := *u.PartnerID
		u.PartnerID = &p
	}
	if u.SessionID != nil {
		s := *u.SessionID
		u.SessionID = &s
	}
	return &u
}

func (m *MemoryStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = *cloneUser(*user)
	return nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MemoryStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	username = strings.TrimPrefix(username, "@")
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username != "" && u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ResetChatStatuses(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, u := range m.users {
		if u.ChatStatus == models.StatusIdle {
			continue
		}
		u.ResetChat()
		m.users[id] = u
		n++
	}
	return n, nil
}

func (m *MemoryStore) AppendChatLog(_ context.Context, entry *models.ChatLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLog++
	entry.ID = m.nextLog
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *MemoryStore) UpdateChatLogText(_ context.Context, senderID, messageID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.logs {
		if m.logs[i].SenderID == senderID && m.logs[i].MessageID == messageID {
			m.logs[i].Text = text
		}
	}
	return nil
}

func (m *MemoryStore) InsertMessageLink(_ context.Context, link *models.MessageLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.links[link.Source()]; !exists {
		m.links[link.Source()] = link.Dest()
	}
	return nil
}

func (m *MemoryStore) LookupMessageLink(_ context.Context, source models.MessageRef) (*models.MessageRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dest, ok := m.links[source]
	if !ok {
		return nil, nil
	}
	return &dest, nil
}

func (m *MemoryStore) MirrorQueueAdd(_ context.Context, queue string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = append(m.queues[queue], userID)
	return nil
}

func (m *MemoryStore) MirrorQueueRemove(_ context.Context, queue string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.queues[queue][:0]
	for _, id := range m.queues[queue] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	m.queues[queue] = kept
	return nil
}

func (m *MemoryStore) MirrorQueueReset(_ context.Context, queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, queue)
	return nil
}

// Mirror returns the mirrored membership of queue.
func (m *MemoryStore) Mirror(queue string) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.queues[queue]...)
}

func (m *MemoryStore) PublishEvent(_ context.Context, ev models.Event) error {
	m.events.publish(ev)
	return nil
}

func (m *MemoryStore) SubscribeEvents(ctx context.Context) (<-chan models.Event, error) {
	return m.events.subscribe(ctx), nil
}

func (m *MemoryStore) SaveReport(_ context.Context, report *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	report.ID = uint(len(m.reports) + 1)
	report.CreatedAt = time.Now()
	if report.Status == "" {
		report.Status = models.ReportNew
	}
	m.reports = append(m.reports, *report)
	return nil
}

func (m *MemoryStore) ListReports(_ context.Context, status models.ReportStatus) ([]models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Report
	for i := len(m.reports) - 1; i >= 0; i-- {
		if m.reports[i].Status == status {
			out = append(out, m.reports[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) GetStats(_ context.Context) (*models.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.Stats{TotalUsers: int64(len(m.users))}
	dayAgo := time.Now().Add(-24 * time.Hour)
	for _, u := range m.users {
		if u.LastActiveAt.After(dayAgo) {
			stats.ActiveToday++
		}
		if u.Banned {
			stats.Banned++
		}
		if u.Unreachable {
			stats.Unreachable++
		}
		if u.ChatStatus == models.StatusChatting {
			stats.Chatting++
		}
	}

	sessions := make(map[string]struct{})
	for _, l := range m.logs {
		sessions[l.SessionID] = struct{}{}
	}
	stats.TotalSessions = int64(len(sessions))
	stats.TotalMessages = int64(len(m.logs))
	return stats, nil
}

func (m *MemoryStore) ChatPartners(_ context.Context, userID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[int64]struct{})
	var out []int64
	add := func(id int64) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, l := range m.logs {
		switch userID {
		case l.SenderID:
			add(l.PartnerID)
		case l.PartnerID:
			add(l.SenderID)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userA, userB int64) ([]models.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	started := make(map[string]time.Time)
	for _, l := range m.logs {
		between := (l.SenderID == userA && l.PartnerID == userB) || (l.SenderID == userB && l.PartnerID == userA)
		if !between {
			continue
		}
		if t, ok := started[l.SessionID]; !ok || l.CreatedAt.Before(t) {
			started[l.SessionID] = l.CreatedAt
		}
	}
	out := make([]models.SessionSummary, 0, len(started))
	for id, t := range started {
		out = append(out, models.SessionSummary{SessionID: id, StartedAt: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryStore) SessionLog(_ context.Context, sessionID string) ([]models.ChatLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ChatLog
	for _, l := range m.logs {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryStore) ClearHistory(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = nil
	m.links = make(map[models.MessageRef]models.MessageRef)
	return nil
}
