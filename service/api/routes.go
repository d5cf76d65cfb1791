// Package api mounts the HTTP surface of the realtime node on a gin engine.
package api

import (
	"net/http"

	mid "CragProject/middleware"
	"CragProject/service/realtime"
	"CragProject/tools/errs"
	toolsec "CragProject/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	AllowedOrigins []string
	Identity       toolsec.Identity
	Gatherer       prometheus.Gatherer // nil => default gatherer
}

// NewEngine wires /ws, /healthz, /metrics and the CRUD-layer hooks.
func NewEngine(h *realtime.Hub, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	mgr := mid.NewManager()
	mgr.Add(mid.AccessLog(), mid.Origin(opts.AllowedOrigins))
	r.Use(mgr.Use())

	r.GET("/ws", h.HandleWS(realtime.NewUpgrader()))
	r.GET("/healthz", healthz(h))

	g := opts.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))

	mid.POST(r, "/internal/posts/:id/like", postLike(h), mid.RouteOpt{IsAuth: true, Identity: opts.Identity})
	return r
}

func healthz(h *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conns, rooms := h.Stats()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": conns, "rooms": rooms})
	}
}

type likeRequest struct {
	LikeCount int64 `json:"likeCount"`
}

// postLike fans a new like count out to the post room.
func postLike(h *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req likeRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.LikeCount < 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"code":    errs.Name(errs.ErrValidation),
				"message": "likeCount must be a non-negative integer",
			})
			return
		}
		n := h.PublishPostLike(c.Param("id"), req.LikeCount)
		c.JSON(http.StatusOK, gin.H{"delivered": n})
	}
}
