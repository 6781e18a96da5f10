package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"coinview/internal/auth"
	"coinview/internal/refresh"
	"coinview/models"
)

type sortRequest struct {
	Key string `json:"key"`
}

type credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func abortWithError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (s *Server) health(c *gin.Context) {
	page := s.deps.Store.View()
	fetching := false
	if s.deps.Refresher != nil {
		fetching = s.deps.Refresher.Fetching()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"records":    page.TotalRecords,
		"updated_at": page.UpdatedAt,
		"fetching":   fetching,
		"clients":    s.hub.clientCount(),
	})
}

// markets returns the current page, moving to ?page= first when given.
func (s *Server) markets(c *gin.Context) {
	raw, ok := c.GetQuery("page")
	if !ok {
		c.JSON(http.StatusOK, s.deps.Store.View())
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, errors.New("page must be an integer"))
		return
	}
	c.JSON(http.StatusOK, s.deps.Store.SetPage(n))
}

func (s *Server) toggleSort(c *gin.Context) {
	var req sortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	key, err := models.ParseSortKey(req.Key)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Store.ToggleSort(key))
}

func (s *Server) search(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Store.SearchResults(c.Query("q")))
}

func (s *Server) refresh(c *gin.Context) {
	err := s.deps.Refresher.Refresh(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, s.deps.Store.View())
	case errors.Is(err, refresh.ErrRefreshInProgress):
		abortWithError(c, http.StatusConflict, err)
	case errors.Is(err, models.ErrRateLimited):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"notice": models.NoticeFor(err, time.Now())})
	default:
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"notice": models.NoticeFor(err, time.Now())})
	}
}

func (s *Server) selection(c *gin.Context) {
	chart, ok := s.deps.Store.Chart()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"visible": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"visible": true, "chart": chart})
}

func (s *Server) selectRecord(c *gin.Context) {
	if _, err := s.deps.Store.Select(c.Param("id")); err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			abortWithError(c, http.StatusNotFound, err)
			return
		}
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	chart, _ := s.deps.Store.Chart()
	c.JSON(http.StatusOK, gin.H{"visible": true, "chart": chart})
}

func (s *Server) deselect(c *gin.Context) {
	s.deps.Store.Deselect()
	c.Status(http.StatusNoContent)
}

func (s *Server) notices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notices": s.deps.Store.Notices()})
}

func (s *Server) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	user, err := s.deps.Auth.Register(c.Request.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, user)
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		abortWithError(c, http.StatusBadRequest, err)
	case errors.Is(err, auth.ErrEmailTaken):
		abortWithError(c, http.StatusConflict, err)
	default:
		abortWithError(c, http.StatusInternalServerError, err)
	}
}

func (s *Server) signIn(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	session, err := s.deps.Auth.SignIn(c.Request.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, session)
	case errors.Is(err, models.ErrAuthFailed):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"notice": models.NoticeFor(err, time.Now())})
	default:
		abortWithError(c, http.StatusInternalServerError, err)
	}
}

func (s *Server) signOut(c *gin.Context) {
	err := s.deps.Auth.SignOut(c.Request.Context(), bearerToken(c))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, auth.ErrSessionNotFound):
		abortWithError(c, http.StatusUnauthorized, err)
	default:
		abortWithError(c, http.StatusInternalServerError, err)
	}
}

func (s *Server) session(c *gin.Context) {
	session, err := s.deps.Auth.Session(c.Request.Context(), bearerToken(c))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, session)
	case errors.Is(err, auth.ErrSessionNotFound):
		abortWithError(c, http.StatusUnauthorized, err)
	default:
		abortWithError(c, http.StatusInternalServerError, err)
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *Server) recentMetrics(c *gin.Context) {
	items := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(items))
	for _, m := range items {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

func (s *Server) recentLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
}

func (s *Server) resources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
}
