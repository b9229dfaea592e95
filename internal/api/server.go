package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/internal/engine"
	"github.com/AregGevorgyan/tomatocode/internal/store"
	"github.com/AregGevorgyan/tomatocode/internal/ws"
	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// Server is the thin verb layer over the session store. All mutations go
// through the same store and engine paths as the realtime handlers.
type Server struct {
	store     *store.Store
	engine    *engine.Engine
	registry  *ws.Registry
	wsHandler *ws.Handler
	logger    *zap.Logger
	router    *gin.Engine
}

func NewServer(st *store.Store, eng *engine.Engine, registry *ws.Registry, wsHandler *ws.Handler, corsOrigin string, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:     st,
		engine:    eng,
		registry:  registry,
		wsHandler: wsHandler,
		logger:    logger,
		router:    gin.New(),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(logger))
	s.router.Use(corsMiddleware(corsOrigin))
	s.setupRoutes()
	return s
}

func corsMiddleware(origin string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if origin == "*" || origin == "" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = []string{origin}
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	return cors.New(cfg)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/ws", gin.WrapF(s.wsHandler.HandleWebSocket))

	api := s.router.Group("/api")
	{
		api.POST("/sessions", s.createSession)
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:code", s.getSession)
		api.PUT("/sessions/:code", s.updateSession)
		api.DELETE("/sessions/:code", s.deleteSession)
		api.POST("/sessions/:code/join", s.joinSession)
		api.PUT("/sessions/:code/end", s.endSession)
		api.PUT("/sessions/:code/slide/:idx", s.setSlide)
		api.GET("/sessions/:code/summaries", s.listSummaries)
		api.GET("/sessions/:code/students/:name/summaries", s.studentSummary)
	}
}

// Handler exposes the router for the HTTP server and for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type createSessionRequest struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Language    string        `json:"language"`
	InitialCode string        `json:"initialCode"`
	Slides      []types.Slide `json:"slides"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if req.Title == "" {
		badRequest(c, "title is required")
		return
	}
	if req.Language == "" {
		req.Language = types.LanguagePython
	}
	if !types.IsValidLanguage(req.Language) {
		badRequest(c, "unsupported language")
		return
	}

	code, err := s.store.GenerateCode()
	if err != nil {
		internalError(c, "could not allocate a session code")
		return
	}

	now := time.Now()
	doc := &types.Session{
		Code:        code,
		Title:       req.Title,
		Description: req.Description,
		Language:    req.Language,
		InitialCode: req.InitialCode,
		Slides:      req.Slides,
		CreatedAt:   now,
		UpdatedAt:   now,
		Active:      true,
		Students:    make(map[string]*types.Student),
	}
	if err := s.store.Create(c.Request.Context(), doc); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			internalError(c, "session code conflict")
			return
		}
		internalError(c, "failed to create session")
		return
	}

	created(c, gin.H{"sessionCode": code})
}

func (s *Server) listSessions(c *gin.Context) {
	docs := s.store.List()
	sessions := make([]*types.Session, 0, len(docs))
	for _, doc := range docs {
		sessions = append(sessions, doc.Sanitized())
	}
	ok(c, gin.H{"sessions": sessions})
}

func (s *Server) getSession(c *gin.Context) {
	doc, err := s.sessionFor(c)
	if err != nil {
		return
	}
	ok(c, gin.H{"session": doc.Sanitized()})
}

type updateSessionRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Language    *string `json:"language"`
	InitialCode *string `json:"initialCode"`
}

func (s *Server) updateSession(c *gin.Context) {
	code := c.Param("code")
	if !types.IsValidSessionCode(code) {
		badRequest(c, "invalid session code")
		return
	}
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if req.Language != nil && !types.IsValidLanguage(*req.Language) {
		badRequest(c, "unsupported language")
		return
	}

	snapshot, err := s.store.Update(c.Request.Context(), code, func(doc *types.Session) error {
		if req.Title != nil {
			doc.Title = *req.Title
		}
		if req.Description != nil {
			doc.Description = *req.Description
		}
		if req.Language != nil {
			doc.Language = *req.Language
		}
		if req.InitialCode != nil {
			doc.InitialCode = *req.InitialCode
		}
		doc.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		notFound(c, "session not found")
		return
	}
	ok(c, gin.H{"session": snapshot.Sanitized()})
}

func (s *Server) deleteSession(c *gin.Context) {
	code := c.Param("code")
	if !types.IsValidSessionCode(code) {
		badRequest(c, "invalid session code")
		return
	}
	if err := s.engine.DeleteSession(c.Request.Context(), code); err != nil {
		notFound(c, "session not found")
		return
	}
	ok(c, gin.H{})
}

// joinSession validates that a session can be joined. The realtime
// join-session event performs the actual membership mutation.
func (s *Server) joinSession(c *gin.Context) {
	doc, err := s.sessionFor(c)
	if err != nil {
		return
	}
	if !doc.Active {
		badRequest(c, "session is not active")
		return
	}
	ok(c, gin.H{"session": doc.Sanitized()})
}

func (s *Server) endSession(c *gin.Context) {
	code := c.Param("code")
	if !types.IsValidSessionCode(code) {
		badRequest(c, "invalid session code")
		return
	}
	if err := s.engine.EndSession(c.Request.Context(), code); err != nil {
		notFound(c, "session not found")
		return
	}
	ok(c, gin.H{})
}

func (s *Server) setSlide(c *gin.Context) {
	code := c.Param("code")
	if !types.IsValidSessionCode(code) {
		badRequest(c, "invalid session code")
		return
	}
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		badRequest(c, "slide index must be a non-negative integer")
		return
	}
	if err := s.engine.SetSlide(c.Request.Context(), code, idx); err != nil {
		switch {
		case errors.Is(err, types.ErrValidation):
			badRequest(c, "slide index out of range")
		case errors.Is(err, store.ErrNotFound):
			notFound(c, "session not found")
		default:
			internalError(c, "failed to update slide")
		}
		return
	}
	ok(c, gin.H{})
}

func (s *Server) listSummaries(c *gin.Context) {
	doc, err := s.sessionFor(c)
	if err != nil {
		return
	}
	summaries := make(map[string]*types.Summary, len(doc.Students))
	for name, st := range doc.Students {
		summaries[name] = st.Summary
	}
	ok(c, gin.H{"summaries": summaries})
}

func (s *Server) studentSummary(c *gin.Context) {
	doc, err := s.sessionFor(c)
	if err != nil {
		return
	}
	st, found := doc.Students[c.Param("name")]
	if !found {
		notFound(c, "student not found")
		return
	}
	ok(c, gin.H{"summary": st.Summary})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"sessions":  s.store.Len(),
		"registry":  s.registry.Stats(),
	})
}

// sessionFor resolves the :code parameter, writing the error response
// itself when resolution fails.
func (s *Server) sessionFor(c *gin.Context) (*types.Session, error) {
	code := c.Param("code")
	if !types.IsValidSessionCode(code) {
		badRequest(c, "invalid session code")
		return nil, types.ErrValidation
	}
	doc, err := s.store.Get(code)
	if err != nil {
		notFound(c, "session not found")
		return nil, err
	}
	return doc, nil
}
