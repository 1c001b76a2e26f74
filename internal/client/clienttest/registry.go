package clienttest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	router "github.com/dkeye/StudyRoom/internal/adapters/http"
	"github.com/dkeye/StudyRoom/internal/app"
	"github.com/dkeye/StudyRoom/internal/app/orch"
	"github.com/dkeye/StudyRoom/internal/config"
	"github.com/gin-gonic/gin"
)

// NewRegistry starts an in-process relay registry and returns it with its
// orchestrator. Both are torn down with t.
func NewRegistry(t testing.TB) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:         "test",
		StaticPath:   t.TempDir(),
		Secret:       "clienttest",
		ReadLimit:    65536,
		PingPeriod:   30 * time.Second,
		SendBuffer:   256,
		HeartbeatTTL: 60 * time.Second,
		HardTimeout:  120 * time.Second,
		RateLimit:    10000,
		RateInterval: time.Second,
	}
	o := &orch.Orchestrator{
		Registry:     app.NewRegistry(),
		Rooms:        app.NewRoomManager(),
		Policy:       app.SimplePolicy{},
		HeartbeatTTL: cfg.HeartbeatTTL,
		HardTimeout:  cfg.HardTimeout,
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}
