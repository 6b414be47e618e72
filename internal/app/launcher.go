package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voxlab/botserve/internal/domain"
	"github.com/voxlab/botserve/internal/metrics"
)

// Provisioner creates rooms and mints access tokens for them.
type Provisioner interface {
	Provision(ctx context.Context) (domain.RoomCredential, error)
	MintToken(ctx context.Context, room domain.RoomURL) (string, error)
}

// Launcher spawns one bot process per session and records it in the registry.
// The per-room cap is enforced here and only here; both activate paths funnel
// through Launch.
type Launcher struct {
	Registry    *Registry
	Spawner     Spawner
	Provisioner Provisioner
	MaxPerRoom  int
	Metrics     *metrics.Metrics

	mu    sync.Mutex
	rooms map[domain.RoomURL]*sync.Mutex
}

func NewLauncher(reg *Registry, spawner Spawner, prov Provisioner, maxPerRoom int) *Launcher {
	return &Launcher{
		Registry:    reg,
		Spawner:     spawner,
		Provisioner: prov,
		MaxPerRoom:  maxPerRoom,
		rooms:       make(map[domain.RoomURL]*sync.Mutex),
	}
}

// LaunchFresh provisions a new room and launches a bot into it.
func (l *Launcher) LaunchFresh(ctx context.Context) (domain.RoomURL, domain.WorkerID, error) {
	cred, err := l.Provisioner.Provision(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("provision room: %w", err)
	}
	if l.Metrics != nil {
		l.Metrics.RoomsProvisioned.Inc()
	}
	id, err := l.Launch(cred)
	if err != nil {
		return "", 0, err
	}
	return cred.RoomURL, id, nil
}

// LaunchInRoom mints a token for an already-provisioned room and launches a
// bot into it.
func (l *Launcher) LaunchInRoom(ctx context.Context, room domain.RoomURL) (domain.WorkerID, error) {
	// Check the cap before the token round trip so a full room fails fast.
	if l.Registry.LiveRoomCount(room) >= l.MaxPerRoom {
		if l.Metrics != nil {
			l.Metrics.CapacityRejections.Inc()
		}
		return 0, &CapacityError{Room: room}
	}
	token, err := l.Provisioner.MintToken(ctx, room)
	if err != nil {
		return 0, fmt.Errorf("provision token: %w", err)
	}
	return l.Launch(domain.RoomCredential{RoomURL: room, Token: token})
}

// Launch enforces the cap, spawns the worker, and registers it. The per-room
// lock makes check+spawn+register atomic with respect to concurrent launches
// for the same room.
func (l *Launcher) Launch(cred domain.RoomCredential) (domain.WorkerID, error) {
	lock := l.roomLock(cred.RoomURL)
	lock.Lock()
	defer lock.Unlock()

	if l.Registry.LiveRoomCount(cred.RoomURL) >= l.MaxPerRoom {
		if l.Metrics != nil {
			l.Metrics.CapacityRejections.Inc()
		}
		return 0, &CapacityError{Room: cred.RoomURL}
	}

	handle, err := l.Spawner.Spawn(cred)
	if err != nil {
		return 0, fmt.Errorf("start bot for room %s: %w", cred.RoomURL, err)
	}
	id := domain.WorkerID(handle.PID())
	if err := l.Registry.Register(id, handle, cred.RoomURL); err != nil {
		_ = handle.Terminate()
		return 0, err
	}
	log.Info().Str("module", "app.launcher").Int("pid", int(id)).Str("room", string(cred.RoomURL)).Msg("launched bot")
	return id, nil
}

func (l *Launcher) roomLock(room domain.RoomURL) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.rooms[room]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.rooms[room] = m
	return m
}
