package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// CORSMiddleware mirrors the permissive policy the demo clients expect.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, ctrl *Controller) *gin.Engine {
	cfg := ctrl.Cfg
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("BotSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(CORSMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", ctrl.Landing)

	r.POST("/connect", ctrl.Connect)
	r.GET("/bot/activate", ctrl.Activate)
	r.GET("/bot/deactivate", ctrl.Deactivate)
	r.GET("/status/:pid", ctrl.Status)
	r.GET("/bots", ctrl.ListBots)

	r.GET("/ws/events", func(c *gin.Context) {
		ctrl.HandleEvents(ctx, c)
	})

	if ctrl.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(ctrl.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
