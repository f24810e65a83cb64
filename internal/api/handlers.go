package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"smc-structure-engine/internal/analysis"
	"smc-structure-engine/internal/store"
)

const maxSearchResults = 20

func (s *Server) handleHealthz(c *gin.Context) {
	resp := gin.H{
		"status":         "ok",
		"provider_ready": s.provider.IsReady(),
		"last_scan":      s.scanner.LastScanTime(),
	}
	if s.mirror != nil {
		resp["redis_healthy"] = s.mirror.Healthy()
	}
	c.JSON(http.StatusOK, resp)
}

// handleListSignals returns the filtered signal batch, best-aligned first.
// Query parameters: minMatches, direction (upper|lower), proximity,
// structure, q.
func (s *Server) handleListSignals(c *gin.Context) {
	opts := store.FilterOptions{
		Query: c.Query("q"),
	}

	if v := c.Query("minMatches"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.badRequest(c, "minMatches must be a non-negative integer")
			return
		}
		opts.MinMatches = n
	}

	switch dir := strings.ToLower(c.Query("direction")); dir {
	case "":
	case string(store.DirectionUpper):
		opts.Direction = store.DirectionUpper
	case string(store.DirectionLower):
		opts.Direction = store.DirectionLower
	default:
		s.badRequest(c, "direction must be upper or lower")
		return
	}

	if v := c.Query("proximity"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			s.badRequest(c, "proximity must be a non-negative number")
			return
		}
		opts.MaxProximity = f
	}

	if v := c.Query("structure"); v != "" {
		opts.Structure = analysis.Structure(v)
	}

	signals := s.signals.List(opts)
	c.JSON(http.StatusOK, gin.H{
		"signals": signals,
		"count":   len(signals),
	})
}

func (s *Server) handleGetSignal(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	signal, ok := s.signals.Get(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no signal for symbol", "symbol": symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signal":   signal,
		"favorite": s.signals.IsFavorite(symbol),
	})
}

func (s *Server) handleSearchSignals(c *gin.Context) {
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		s.badRequest(c, "q is required")
		return
	}

	results := s.signals.Search(query, maxSearchResults)
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleSetFavorite(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	var body struct {
		Favorite *bool `json:"favorite"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Favorite == nil {
		s.badRequest(c, "body must be {\"favorite\": true|false}")
		return
	}

	if _, ok := s.signals.Get(symbol); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no signal for symbol", "symbol": symbol})
		return
	}

	s.signals.SetFavorite(symbol, *body.Favorite)
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "favorite": *body.Favorite})
}

func (s *Server) handleStats(c *gin.Context) {
	counts := s.signals.Count()
	c.JSON(http.StatusOK, gin.H{
		"total":                counts.Total,
		"upper":                counts.Upper,
		"lower":                counts.Lower,
		"favorites":            counts.Favorites,
		"last_scan_time":       s.scanner.LastScanTime(),
		"next_scan_in_seconds": int(s.scanner.NextScanIn().Seconds()),
	})
}

// handleRescan queues an immediate scan cycle; 202 because the work is
// asynchronous.
func (s *Server) handleRescan(c *gin.Context) {
	s.scanner.TriggerRescan()
	c.JSON(http.StatusAccepted, gin.H{"status": "rescan scheduled"})
}

func (s *Server) handleListAlerts(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recent := s.bus.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"alerts": recent,
		"count":  len(recent),
	})
}

func (s *Server) handleMarkAlertRead(c *gin.Context) {
	id := c.Param("id")
	if !s.bus.MarkRead(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown alert id", "id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "read": true})
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// internalError hides details behind a correlation id that also appears in
// the server log.
func (s *Server) internalError(c *gin.Context, err error) {
	id := uuid.NewString()
	s.logger.Error().Err(err).Str("correlation_id", id).
		Str("path", c.Request.URL.Path).Msg("internal error")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":          "internal error",
		"correlation_id": id,
	})
}
