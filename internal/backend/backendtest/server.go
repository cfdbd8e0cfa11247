package backendtest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
)

// Server is an HTTP front for a Store. Requests must carry the configured
// bearer token when one is set.
type Server struct {
	*httptest.Server

	store *Store
	token string

	mu      sync.Mutex
	headers []http.Header
}

// NewServer starts a gin router serving the store. It is closed when the test
// ends.
func NewServer(t testing.TB, store *Store, token string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := &Server{store: store, token: token}

	router := gin.New()
	router.Use(srv.recordHeaders, srv.authenticate)

	system := router.Group("/system")
	system.GET("/schema", srv.schema)
	system.GET("/health", srv.health)
	system.GET("/editable-resources", srv.editable)

	router.GET("/:table/", srv.list)
	router.POST("/:table/", srv.create)
	router.GET("/:table/count", srv.count)
	router.GET("/:table/:id", srv.get)
	router.DELETE("/:table/:id", srv.remove)

	srv.Server = httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// Headers returns the headers of every request received so far.
func (s *Server) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

func (s *Server) recordHeaders(c *gin.Context) {
	s.mu.Lock()
	s.headers = append(s.headers, c.Request.Header.Clone())
	s.mu.Unlock()
	c.Next()
}

func (s *Server) authenticate(c *gin.Context) {
	if s.token == "" {
		c.Next()
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		return
	}
	c.Next()
}

func (s *Server) schema(c *gin.Context) {
	data, err := s.store.Schema(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) editable(c *gin.Context) {
	resources, err := s.store.EditableResources(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if resources == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources})
}

func (s *Server) list(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if perPage > backend.MaxPerPage {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "per_page must be <= 1000"})
		return
	}
	payload, err := s.store.List(c.Request.Context(), c.Param("table"), page, perPage)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) count(c *gin.Context) {
	payload, err := s.store.Count(c.Request.Context(), c.Param("table"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) get(c *gin.Context) {
	payload, err := s.store.Get(c.Request.Context(), c.Param("table"), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) create(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid JSON body"})
		return
	}
	payload, err := s.store.Create(c.Request.Context(), c.Param("table"), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, payload)
}

func (s *Server) remove(c *gin.Context) {
	if err := s.store.Delete(c.Request.Context(), c.Param("table"), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) fail(c *gin.Context, err error) {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		c.JSON(statusErr.Status, statusErr.Body)
		return
	}
	message := err.Error()
	if strings.TrimSpace(message) == "" {
		message = "internal error"
	}
	c.JSON(http.StatusInternalServerError, gin.H{"message": message})
}
