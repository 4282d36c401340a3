package uplink

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/tclink/internal/auth"
	"github.com/danmuck/tclink/internal/observability"
	"github.com/danmuck/tclink/internal/tc/clcw"
	"github.com/danmuck/tclink/internal/tc/link"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func (s *Service) newRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.NodeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.Link.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	s.registerRoutes(r)
	return r
}

// requireToken rejects requests without the configured bearer token.
func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.CheckHeader(v, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Service) registerRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.NodeID,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		ready := s.ready.Load()
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.NodeID,
			"version": version,
		})
	})

	r.GET("/clcw", func(c *gin.Context) {
		c.JSON(http.StatusOK, clcwView(s.CLCW()))
	})

	r.GET("/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"spacecraft_id":    s.cfg.Link.SpacecraftID,
			"virtual_channels": s.Channels(),
		})
	})

	r.GET("/packets/recent", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		c.JSON(http.StatusOK, gin.H{"packets": s.recent.Records(limit)})
	})

	admin := r.Group("/")
	if token := s.cfg.AdminToken; token != "" {
		admin.Use(requireToken(auth.StaticToken{Token: token}))
	}
	admin.POST("/channels/:vcid/release", func(c *gin.Context) {
		vcid, err := strconv.ParseUint(c.Param("vcid"), 10, 8)
		if err != nil || vcid > link.MaxVirtualChannelID {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid vcid %q", c.Param("vcid"))})
			return
		}
		snap, ok := s.ReleaseBuffer(uint8(vcid))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "virtual channel not found"})
			return
		}
		log.Info().Uint64("vcid", vcid).Str("state", snap.State).Msg("buffer release requested")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "channel": snap})
	})
}

type CLCWView struct {
	Word           string `json:"word"`
	Status         uint8  `json:"status"`
	VirtualChannel uint8  `json:"vcid"`
	RFAvailable    bool   `json:"rf_available"`
	BitLock        bool   `json:"bit_lock"`
	Lockout        bool   `json:"lockout"`
	Wait           bool   `json:"wait"`
	Retransmit     bool   `json:"retransmit"`
	FarmBCounter   uint8  `json:"farm_b_counter"`
	VR             uint8  `json:"vr"`
}

func clcwView(word uint32) CLCWView {
	reg := clcw.New()
	reg.SetWhole(word)
	return CLCWView{
		Word:           fmt.Sprintf("%#08x", word),
		Status:         reg.Status(),
		VirtualChannel: reg.VirtualChannel(),
		RFAvailable:    reg.RFAvailable(),
		BitLock:        reg.BitLock(),
		Lockout:        reg.Lockout(),
		Wait:           reg.Wait(),
		Retransmit:     reg.Retransmit(),
		FarmBCounter:   reg.FarmBCount(),
		VR:             reg.ReceiverFrameSequenceNumber(),
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
