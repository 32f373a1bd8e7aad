// Package api serves tiling generation over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/platform"
	"github.com/samcharles93/cubetile/internal/version"
)

// DefaultMaxBatch caps the descriptors accepted by one batch request.
const DefaultMaxBatch = 1024

type Config struct {
	Tiler           *cubetiling.Tiler
	Platforms       *platform.Registry
	DefaultPlatform string
	Store           *TilingStore
	MaxBatch        int

	// Parallelism bounds concurrent tilings per batch; zero means GOMAXPROCS.
	Parallelism int
}

type Server struct {
	tiler           *cubetiling.Tiler
	platforms       *platform.Registry
	defaultPlatform string
	store           *TilingStore
	maxBatch        int
	parallelism     int
	clock           func() time.Time
}

func NewServer(cfg Config) *Server {
	s := &Server{
		tiler:           cfg.Tiler,
		platforms:       cfg.Platforms,
		defaultPlatform: cfg.DefaultPlatform,
		store:           cfg.Store,
		maxBatch:        cfg.MaxBatch,
		parallelism:     cfg.Parallelism,
		clock:           time.Now,
	}
	if s.tiler == nil {
		s.tiler = cubetiling.Default()
	}
	if s.platforms == nil {
		s.platforms = platform.NewRegistry()
	}
	if s.store == nil {
		s.store = NewTilingStore(DefaultStoreSize)
	}
	if s.maxBatch <= 0 {
		s.maxBatch = DefaultMaxBatch
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/tilings", s.handleCreateTiling)
	e.POST("/v1/tilings/batch", s.handleBatch)
	e.GET("/v1/tilings/:id", s.handleGetTiling)
	e.DELETE("/v1/tilings/:id", s.handleDeleteTiling)
	e.POST("/v1/tiling_ids/decode", s.handleDecodeID)
	e.GET("/v1/platforms", s.handlePlatforms)
	e.GET("/v1/platforms/:name", s.handleGetPlatform)
	e.GET("/v1/families", s.handleFamilies)
	e.GET("/v1/stats", s.handleStats)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: version.String()})
}

func (s *Server) handlePlatforms(c *echo.Context) error {
	return c.JSON(http.StatusOK, ListResponse[platform.Profile]{Object: "list", Data: s.platforms.Profiles()})
}

func (s *Server) handleGetPlatform(c *echo.Context) error {
	p, err := s.platforms.Lookup(c.Param("name"))
	if err != nil {
		return writeNotFound(c, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleFamilies(c *echo.Context) error {
	return c.JSON(http.StatusOK, ListResponse[cubetiling.FamilyInfo]{Object: "list", Data: cubetiling.Families()})
}

type statsResponse struct {
	Tiler  cubetiling.TilerStats `json:"tiler"`
	Stored int                   `json:"stored"`
}

func (s *Server) handleStats(c *echo.Context) error {
	return c.JSON(http.StatusOK, statsResponse{Tiler: s.tiler.Stats(), Stored: s.store.Len()})
}
