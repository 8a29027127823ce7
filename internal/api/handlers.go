package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"teampulse/internal/models"
	"teampulse/internal/store"
)

const aggregateCacheTTL = 30 * time.Second

// getData is the single aggregation endpoint: GET /api/v1/data/:type with
// type in {messages, meetings, activities}. The envelope shape is part of the
// wire contract and is returned even on failure.
func (s *Server) getData(c *gin.Context) {
	kind, err := models.ParseRecordKind(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_record_type", "message": "type must be messages, meetings or activities"},
		})
		return
	}

	opts, err := parseFetchOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_parameter", "message": err.Error()},
		})
		return
	}

	userID := s.userID(c)

	ctx, cancel := s.ctx(c)
	defer cancel()

	// short response cache; identical aggregates within the TTL are served
	// without touching any upstream API
	cacheKey := aggregateCacheKey(userID, string(kind), c.Request.URL.RawQuery)
	if cached, err := s.redis.Get(ctx, cacheKey); err == nil && cached != "" {
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, "application/json", []byte(cached))
		return
	}

	resp := s.orch.Aggregate(ctx, userID, kind, opts)

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadGateway
	}

	if resp.Success {
		if raw, err := json.Marshal(resp); err == nil {
			_ = s.redis.Set(ctx, cacheKey, string(raw), aggregateCacheTTL)
		}
	}

	c.Header("X-Cache", "MISS")
	c.JSON(status, resp)
}

func aggregateCacheKey(userID, kind, rawQuery string) string {
	sum := sha256.Sum256([]byte(userID + "|" + kind + "|" + rawQuery))
	return "aggregate:" + hex.EncodeToString(sum[:16])
}

func parseFetchOptions(c *gin.Context) (models.FetchOptions, error) {
	opts := models.FetchOptions{Limit: models.DefaultLimit}

	if v := c.Query("dateFrom"); v != "" {
		t, err := parseDateParam(v, false)
		if err != nil {
			return opts, errors.New("dateFrom must be an ISO date")
		}
		opts.DateFrom = &t
	}
	if v := c.Query("dateTo"); v != "" {
		t, err := parseDateParam(v, true)
		if err != nil {
			return opts, errors.New("dateTo must be an ISO date")
		}
		opts.DateTo = &t
	}
	if opts.DateFrom != nil && opts.DateTo != nil && opts.DateTo.Before(*opts.DateFrom) {
		return opts, errors.New("dateTo must not precede dateFrom")
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, errors.New("limit must be a positive integer")
		}
		if n > 500 {
			n = 500
		}
		opts.Limit = n
	}

	opts.Cursor = c.Query("cursor")
	opts.IncludeMetadata = c.Query("includeMetadata") == "true"

	if v := c.Query("channels"); v != "" {
		for _, ch := range strings.Split(v, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				opts.Channels = append(opts.Channels, ch)
			}
		}
	}

	return opts, nil
}

// parseDateParam accepts a full RFC3339 instant or a bare date. A bare
// dateTo date means "through the end of that day" since both bounds are
// inclusive.
func parseDateParam(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	t = t.UTC()
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (s *Server) listIntegrations(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	integs, err := s.store.ListIntegrations(ctx, s.userID(c))
	if err != nil {
		s.log.Error("integration_list_failed", "user_id", s.userID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "internal_error", "message": "failed to list integrations"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"integrations": integs})
}

// connectIntegration starts the OAuth consent flow for one provider and hands
// the authorize URL back to the UI layer.
func (s *Server) connectIntegration(c *gin.Context) {
	svc, err := models.ParseService(c.Param("service"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_service", "message": "unknown service"},
		})
		return
	}
	if !s.oauth.Configured(svc) {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": gin.H{"code": "service_not_configured", "message": "oauth app not configured for this service"},
		})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	authURL, err := s.oauth.AuthorizeURL(ctx, s.userID(c), svc)
	if err != nil {
		s.log.Error("oauth_authorize_failed", "service", svc, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "internal_error", "message": "failed to start oauth flow"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": authURL, "service": svc})
}

// oauthCallback lands the provider redirect: burns the state nonce, exchanges
// the code, and persists the integration.
func (s *Server) oauthCallback(c *gin.Context) {
	if errCode := c.Query("error"); errCode != "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "oauth_denied", "message": errCode},
		})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	userID, svc, err := s.oauth.ConsumeState(ctx, c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_state", "message": "unknown or expired oauth state"},
		})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "missing_code", "message": "authorization code required"},
		})
		return
	}

	tok, err := s.oauth.Exchange(ctx, svc, code)
	if err != nil {
		s.log.Error("oauth_exchange_failed", "service", svc, "user_id", userID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": gin.H{"code": "oauth_exchange_failed", "message": "token exchange failed"},
		})
		return
	}

	var teamID, teamName *string
	if tok.TeamID != "" {
		teamID = &tok.TeamID
	}
	if tok.TeamName != "" {
		teamName = &tok.TeamName
	}

	if err := s.store.Upsert(ctx, userID, svc, tok.AccessToken, tok.RefreshToken, teamID, teamName); err != nil {
		s.log.Error("integration_save_failed", "service", svc, "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "internal_error", "message": "failed to save integration"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"connected": true, "service": svc})
}

func (s *Server) disconnectIntegration(c *gin.Context) {
	svc, err := models.ParseService(c.Param("service"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "invalid_service", "message": "unknown service"},
		})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if err := s.store.Disconnect(ctx, s.userID(c), svc); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{"code": "not_found", "message": "integration not found"},
			})
			return
		}
		s.log.Error("integration_disconnect_failed", "service", svc, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "internal_error", "message": "failed to disconnect"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"disconnected": true, "service": svc})
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	dbOK := s.db.Pool.Ping(ctx) == nil
	redisOK := s.redis.RDB().Ping(ctx).Err() == nil

	status := http.StatusOK
	overall := "ok"
	if !dbOK {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	} else if !redisOK {
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status": overall,
		"db":     dbOK,
		"redis":  redisOK,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
