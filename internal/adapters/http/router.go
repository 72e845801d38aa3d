package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dkeye/Space/internal/adapters/signal"
	"github.com/dkeye/Space/internal/app/orch"
	"github.com/dkeye/Space/internal/config"
	"github.com/dkeye/Space/internal/domain"
	"github.com/dkeye/Space/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
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

// AdminMiddleware accepts "Authorization: Bearer <token>". An empty token
// disables the guarded routes.
func AdminMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "admin api disabled"})
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func roomParam(c *gin.Context) (domain.RoomURI, bool) {
	uri := strings.TrimPrefix(c.Param("uri"), "/")
	if uri == "" {
		return "", false
	}
	return domain.RoomURI(uri), true
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("SpaceSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": o.Rooms.Len(), "sessions": o.Registry.Len()})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/rtpCapabilities", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.RtpCapabilities())
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.ListRooms())
	})
	api.GET("/rooms/*uri", func(c *gin.Context) {
		uri, ok := roomParam(c)
		if !ok {
			c.JSON(http.StatusOK, o.ListRooms())
			return
		}
		players, ok := o.RoomPlayers(uri)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"uri": uri, "players": players})
	})

	admin := api.Group("/", AdminMiddleware(cfg.AdminToken))
	admin.DELETE("/rooms/*uri", func(c *gin.Context) {
		uri, ok := roomParam(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room uri required"})
			return
		}
		n := o.EvictRoom(uri)
		if n == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("room", string(uri)).Int("evicted", n).Msg("room evicted")
		c.JSON(http.StatusOK, gin.H{"uri": uri, "evicted": n})
	})

	return r
}
