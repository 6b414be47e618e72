package app

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voxlab/botserve/internal/domain"
	"github.com/voxlab/botserve/internal/metrics"
)

type sessionEntry struct {
	Handle    ProcessHandle
	Room      domain.RoomURL
	StartedAt time.Time

	// exitedAt is zero until the watcher observes process exit.
	exitedAt time.Time
}

// Registry is the in-memory map of live and recently-finished bot sessions.
// It is the only shared mutable state in the server: the launcher inserts,
// the control surface signals, the status surface reads. Entries are never
// updated in place, only inserted, marked exited, or reaped.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.WorkerID]*sessionEntry

	hub     *Hub
	metrics *metrics.Metrics
}

// NewRegistry builds an empty registry. hub and m may be nil (tests).
func NewRegistry(hub *Hub, m *metrics.Metrics) *Registry {
	return &Registry{
		sessions: make(map[domain.WorkerID]*sessionEntry),
		hub:      hub,
		metrics:  m,
	}
}

// Register inserts a freshly spawned worker and starts a watcher that records
// its exit. The worker id must not already be present.
func (r *Registry) Register(id domain.WorkerID, handle ProcessHandle, room domain.RoomURL) error {
	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("register worker %d: %w", id, ErrDuplicateWorker)
	}
	r.sessions[id] = &sessionEntry{Handle: handle, Room: room, StartedAt: time.Now()}
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Int("pid", int(id)).Str("room", string(room)).Msg("registered bot")
	if r.metrics != nil {
		r.metrics.BotsStarted.Inc()
		r.metrics.ActiveBots.Inc()
	}
	if r.hub != nil {
		r.hub.Publish(Event{Type: EventBotStarted, BotPID: id, RoomURL: room, At: time.Now()})
	}
	go r.watch(id, handle, room)
	return nil
}

// watch turns the pull-based process exit into a push: it blocks on the
// handle, stamps the exit time, and notifies subscribers.
func (r *Registry) watch(id domain.WorkerID, handle ProcessHandle, room domain.RoomURL) {
	_ = handle.Wait()

	r.mu.Lock()
	if e, ok := r.sessions[id]; ok && e.exitedAt.IsZero() {
		e.exitedAt = time.Now()
	}
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Int("pid", int(id)).Str("room", string(room)).Msg("bot exited")
	if r.metrics != nil {
		r.metrics.BotsExited.Inc()
		r.metrics.ActiveBots.Dec()
	}
	if r.hub != nil {
		r.hub.Publish(Event{Type: EventBotExited, BotPID: id, RoomURL: room, At: time.Now()})
	}
}

// Probe reports the liveness of a worker, or ErrNotFound for unknown ids.
func (r *Registry) Probe(id domain.WorkerID) (domain.Liveness, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("worker %d: %w", id, ErrNotFound)
	}
	if e.Handle.Running() {
		return domain.LivenessRunning, nil
	}
	return domain.LivenessFinished, nil
}

// LiveRoomCount counts still-running workers bound to the given room.
func (r *Registry) LiveRoomCount(room domain.RoomURL) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.sessions {
		if e.Room == room && e.Handle.Running() {
			n++
		}
	}
	return n
}

// TerminateRoom signals every running worker in the room to exit and returns
// their ids. Entries stay in the registry so later probes report finished
// rather than not-found.
func (r *Registry) TerminateRoom(room domain.RoomURL) []domain.WorkerID {
	r.mu.RLock()
	stopped := make([]domain.WorkerID, 0)
	handles := make([]ProcessHandle, 0)
	for id, e := range r.sessions {
		if e.Room == room && e.Handle.Running() {
			stopped = append(stopped, id)
			handles = append(handles, e.Handle)
		}
	}
	r.mu.RUnlock()

	for _, h := range handles {
		if err := h.Terminate(); err != nil {
			log.Error().Err(err).Str("module", "app.registry").Int("pid", h.PID()).Msg("terminate failed")
		}
	}
	sort.Slice(stopped, func(i, j int) bool { return stopped[i] < stopped[j] })
	log.Info().Str("module", "app.registry").Str("room", string(room)).Ints("pids", workerIDsToInts(stopped)).Msg("deactivated room")
	return stopped
}

// TerminateAll signals every running worker and blocks until each has exited.
// Used only at server shutdown.
func (r *Registry) TerminateAll() {
	r.mu.RLock()
	handles := make([]ProcessHandle, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.Handle.Running() {
			handles = append(handles, e.Handle)
		}
	}
	r.mu.RUnlock()

	for _, h := range handles {
		if err := h.Terminate(); err != nil {
			log.Error().Err(err).Str("module", "app.registry").Int("pid", h.PID()).Msg("terminate failed")
		}
	}
	for _, h := range handles {
		_ = h.Wait()
	}
	log.Info().Str("module", "app.registry").Int("count", len(handles)).Msg("terminated all bots")
}

// Reap drops entries whose process finished longer than olderThan ago and
// returns how many were removed. Running or freshly finished entries are kept
// so status probes right after a deactivate still see the session.
func (r *Registry) Reap(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.sessions {
		if !e.exitedAt.IsZero() && e.exitedAt.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Str("module", "app.registry").Int("removed", removed).Msg("reaped finished bots")
	}
	return removed
}

// SessionInfo is a point-in-time view of one registry entry.
type SessionInfo struct {
	BotPID  domain.WorkerID `json:"bot_id"`
	RoomURL domain.RoomURL  `json:"room_url"`
	Status  domain.Liveness `json:"status"`
}

// Snapshot lists every tracked session, running or finished, ordered by pid.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for id, e := range r.sessions {
		status := domain.LivenessFinished
		if e.Handle.Running() {
			status = domain.LivenessRunning
		}
		out = append(out, SessionInfo{BotPID: id, RoomURL: e.Room, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotPID < out[j].BotPID })
	return out
}

func workerIDsToInts(ids []domain.WorkerID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
