package http

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/voxlab/botserve/internal/app"
	"github.com/voxlab/botserve/internal/config"
	"github.com/voxlab/botserve/internal/domain"
	"github.com/voxlab/botserve/internal/metrics"
)

// Controller holds the wired lifecycle components the HTTP surface exposes.
type Controller struct {
	Cfg         *config.Config
	Launcher    *app.Launcher
	Registry    *app.Registry
	Provisioner app.Provisioner
	Hub         *app.Hub
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
}

type connectResponse struct {
	RoomURL domain.RoomURL `json:"room_url"`
	Token   string         `json:"token"`
}

type activateResponse struct {
	Status  string          `json:"status"`
	RoomURL domain.RoomURL  `json:"room_url"`
	BotPID  domain.WorkerID `json:"bot_pid"`
	Message string          `json:"message"`
}

type deactivateResponse struct {
	Status      string            `json:"status"`
	StoppedBots []domain.WorkerID `json:"stopped_bots,omitempty"`
	Message     string            `json:"message"`
}

// Connect provisions a room and returns its credentials without launching a
// bot; the client decides when to activate one.
func (ct *Controller) Connect(c *gin.Context) {
	start := time.Now()
	cred, err := ct.Provisioner.Provision(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("connect: provisioning failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	if ct.Metrics != nil {
		ct.Metrics.RoomsProvisioned.Inc()
		ct.Metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
	}

	sess := sessions.Default(c)
	sess.Set("room_url", string(cred.RoomURL))
	_ = sess.Save()

	c.JSON(http.StatusOK, connectResponse{RoomURL: cred.RoomURL, Token: cred.Token})
}

// Activate launches a bot, creating a room first if none was given. A full
// room is a structured outcome, not a server fault.
func (ct *Controller) Activate(c *gin.Context) {
	ctx := c.Request.Context()
	room := domain.RoomURL(c.Query("room_url"))

	var (
		id  domain.WorkerID
		err error
	)
	if room == "" {
		room, id, err = ct.Launcher.LaunchFresh(ctx)
	} else {
		id, err = ct.Launcher.LaunchInRoom(ctx, room)
	}

	var capErr *app.CapacityError
	if errors.As(err, &capErr) {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": capErr.Error()})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room", string(room)).Msg("activate failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, activateResponse{
		Status:  "bot_activated",
		RoomURL: room,
		BotPID:  id,
		Message: "Bot has been activated in the session",
	})
}

// Deactivate terminates the bots of one room. Without a room it is an
// explicit no-op; it must never touch unrelated sessions.
func (ct *Controller) Deactivate(c *gin.Context) {
	room := c.Query("room_url")
	if room == "" {
		c.JSON(http.StatusOK, deactivateResponse{
			Status:  "bot_deactivated",
			Message: "No specific room provided - use room_url parameter",
		})
		return
	}

	stopped := ct.Registry.TerminateRoom(domain.RoomURL(room))
	c.JSON(http.StatusOK, deactivateResponse{
		Status:      "bot_deactivated",
		StoppedBots: stopped,
		Message:     fmt.Sprintf("Bot(s) deactivated in room: %s", room),
	})
}

// Status reports the liveness of one bot process.
func (ct *Controller) Status(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Bot with process id: %s not found", c.Param("pid"))})
		return
	}
	liveness, err := ct.Registry.Probe(domain.WorkerID(pid))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Bot with process id: %d not found", pid)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": pid, "status": liveness})
}

// ListBots dumps every tracked session, running or finished.
func (ct *Controller) ListBots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bots": ct.Registry.Snapshot()})
}

// Landing serves the choice interface by default. ?autobot=true provisions a
// room, launches a bot, and redirects the browser into the room;
// ?control=true serves the manual control page.
func (ct *Controller) Landing(c *gin.Context) {
	autobot := c.Query("autobot")
	control := c.Query("control")

	switch {
	case autobot == "true" || autobot == "1":
		sess := sessions.Default(c)
		// A revisit with a still-live bot goes back to the same room.
		if prev, ok := sess.Get("room_url").(string); ok && prev != "" {
			if ct.Registry.LiveRoomCount(domain.RoomURL(prev)) > 0 {
				c.Redirect(http.StatusFound, prev)
				return
			}
		}
		room, _, err := ct.Launcher.LaunchFresh(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("autobot launch failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		sess.Set("room_url", string(room))
		_ = sess.Save()
		c.Redirect(http.StatusFound, string(room))
	case control == "true" || control == "1":
		c.File(filepath.Join(ct.Cfg.StaticPath, "control.html"))
	default:
		c.File(filepath.Join(ct.Cfg.StaticPath, "index.html"))
	}
}
