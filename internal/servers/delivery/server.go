// Package delivery contains the HTTP server that publishes a presentation.
package delivery

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bluenviron/livefmp4/internal/logger"
	"github.com/bluenviron/livefmp4/internal/manifest"
	"github.com/bluenviron/livefmp4/internal/protocols/httpp"
	"github.com/bluenviron/livefmp4/internal/segmenter"
	"github.com/bluenviron/livefmp4/internal/store"
)

const (
	dashManifestPath = "manifest.mpd"
	hlsPlaylistPath  = "index.m3u8"
	tracksPath       = "tracks"
)

type serverPresentation interface {
	Snapshot() *segmenter.Snapshot
	CombinedInit() ([]byte, error)
}

type serverStore interface {
	Get(name string) (*store.File, error)
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".m4s"):
		return "video/iso.segment"
	case strings.HasSuffix(name, ".mp4"):
		return "video/mp4"
	}
	return "application/octet-stream"
}

// Server is a HTTP server that serves manifests, init segments and fragments.
type Server struct {
	Address      string
	AllowOrigins []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Presentation serverPresentation
	Store        serverStore
	Parent       logger.Writer

	inner *httpp.Server
}

// Initialize initializes the server.
func (s *Server) Initialize() error {
	s.inner = &httpp.Server{
		Address:      s.Address,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		Handler:      s.newRouter(),
		Parent:       s,
	}
	err := s.inner.Initialize()
	if err != nil {
		return err
	}

	s.Log(logger.Info, "listener opened on %s", s.Address)

	return nil
}

// Close closes the server.
func (s *Server) Close() {
	s.Log(logger.Info, "listener is closing")
	s.inner.Close()
}

// Log implements logger.Writer.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[delivery] "+format, args...)
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck

	router.Use(s.middlewareOrigin)
	router.Use(s.onRequest)

	return router
}

func (s *Server) middlewareOrigin(ctx *gin.Context) {
	origin, ok := httpp.AllowedOrigin(ctx.Request.Header.Get("Origin"), s.AllowOrigins)
	if ok {
		ctx.Header("Access-Control-Allow-Origin", origin)
		ctx.Header("Access-Control-Allow-Credentials", "true")
	}

	// preflight requests
	if ctx.Request.Method == http.MethodOptions &&
		ctx.Request.Header.Get("Access-Control-Request-Method") != "" {
		ctx.Header("Access-Control-Allow-Methods", "OPTIONS, GET")
		ctx.Header("Access-Control-Allow-Headers", "Range")
		ctx.AbortWithStatus(http.StatusNoContent)
		return
	}
}

func (s *Server) onRequest(ctx *gin.Context) {
	if ctx.Request.Method != http.MethodGet {
		ctx.AbortWithStatus(http.StatusMethodNotAllowed)
		return
	}

	// remove leading prefix
	pa := ctx.Request.URL.Path[1:]

	switch {
	case pa == dashManifestPath:
		s.onManifest(ctx, "application/dash+xml", manifest.RenderDASH)

	case pa == hlsPlaylistPath:
		s.onManifest(ctx, "application/vnd.apple.mpegurl", manifest.RenderHLS)

	case pa == tracksPath:
		s.onTracks(ctx)

	case pa == "" || strings.Contains(pa, "/"):
		ctx.AbortWithStatus(http.StatusNotFound)

	default:
		s.onFile(ctx, pa)
	}
}

func (s *Server) setCacheControl(ctx *gin.Context, snap *segmenter.Snapshot) {
	if snap.Mode == segmenter.ModeLive && !snap.Closed {
		ctx.Header("Cache-Control", "no-cache")
	} else {
		ctx.Header("Cache-Control", "max-age=3600")
	}
}

func (s *Server) onManifest(
	ctx *gin.Context,
	ct string,
	render func(w io.Writer, snap *segmenter.Snapshot) (int, error),
) {
	snap := s.Presentation.Snapshot()

	var buf bytes.Buffer
	_, err := render(&buf, snap)
	if err != nil {
		s.Log(logger.Debug, "manifest is not available: %v", err)
		ctx.AbortWithStatus(http.StatusNotFound)
		return
	}

	s.setCacheControl(ctx, snap)
	ctx.Data(http.StatusOK, ct, buf.Bytes())
}

func (s *Server) onTracks(ctx *gin.Context) {
	snap := s.Presentation.Snapshot()
	s.setCacheControl(ctx, snap)
	ctx.JSON(http.StatusOK, newAPIPresentation(snap))
}

func (s *Server) onFile(ctx *gin.Context, name string) {
	snap := s.Presentation.Snapshot()

	if name == snap.InitName {
		byts, err := s.Presentation.CombinedInit()
		if err != nil {
			s.Log(logger.Debug, "combined init is not available: %v", err)
			ctx.AbortWithStatus(http.StatusNotFound)
			return
		}

		// tracks can still be added to a live presentation
		s.setCacheControl(ctx, snap)
		ctx.Data(http.StatusOK, contentType(name), byts)
		return
	}

	f, err := s.Store.Get(name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.Log(logger.Warn, "unable to get '%s': %v", name, err)
		}
		ctx.AbortWithStatus(http.StatusNotFound)
		return
	}

	ctx.Header("Cache-Control", "max-age=3600")
	ctx.Header("Content-Type", contentType(name))
	http.ServeContent(ctx.Writer, ctx.Request, name, f.ModTime, bytes.NewReader(f.Payload))
}
