package http

import (
	"context"
	"net/http"

	"github.com/dkeye/StudyRoom/internal/adapters/signal"
	"github.com/dkeye/StudyRoom/internal/app/orch"
	"github.com/dkeye/StudyRoom/internal/config"
	"github.com/dkeye/StudyRoom/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionDisplayName = "display_name"

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

// resolveDisplayName prefers the query, then the name this browser used last.
func resolveDisplayName(c *gin.Context) string {
	session := sessions.Default(c)
	name := c.Query("display_name")
	if name != "" {
		session.Set(sessionDisplayName, name)
		if err := session.Save(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
		}
		return name
	}
	if v, ok := session.Get(sessionDisplayName).(string); ok {
		return v
	}
	return ""
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("StudyRoomSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, cfg)
	ws := func(c *gin.Context) {
		roomID, err := domain.ParseRoomID(c.Param("roomId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, err := domain.NewUser(c.Query("user_id"), resolveDisplayName(c))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctrl.HandleSignal(ctx, c, roomID, user)
	}
	r.GET("/ws/room/:roomId", ws)
	r.GET("/room/:roomId", ws)

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		st := o.Stats()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": st.Rooms, "sessions": st.Sessions})
	})
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	})
	api.GET("/rooms/:roomId/members", func(c *gin.Context) {
		members, ok := o.Members(domain.RoomID(c.Param("roomId")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, members)
	})

	return r
}
