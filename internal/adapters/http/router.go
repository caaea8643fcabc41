package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zoomvconnect/signaling/internal/adapters/signal"
	"github.com/zoomvconnect/signaling/internal/app"
	"github.com/zoomvconnect/signaling/internal/config"
	"github.com/zoomvconnect/signaling/internal/domain"
)

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.Controller, coord *app.Coordinator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	// Liveness probe for orchestration, outside the signaling protocol.
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	// Room teardown for the upstream REST layer; idempotent.
	r.DELETE("/internal/rooms/:roomId", func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("roomId"))
		if err := coord.DeleteRoom(c.Request.Context(), roomID); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("room", string(roomID)).Msg("room delete failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete room"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}
