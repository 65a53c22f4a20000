package web_service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/soheilhy/cmux"

	"github.com/pzhenzhou/respcmd/pkg/client"
	"github.com/pzhenzhou/respcmd/pkg/common"
)

type HttpMethod string

const (
	GET    HttpMethod = "GET"
	POST   HttpMethod = "POST"
	PUT    HttpMethod = "PUT"
	DELETE HttpMethod = "DELETE"
)

const (
	StateKeyClient = "Client"
)

type ApiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

var (
	logger = common.InitLogger().WithName("web")
)

type WebHandler interface {
	Path() string
	Method() HttpMethod
	Handler(ctx *gin.Context)
}

type WebServer struct {
	r        *gin.Engine
	server   *http.Server
	handlers []WebHandler
}

// NewWebServer registers the admin routes for cli. The metrics route is only
// added when the client collects metrics.
func NewWebServer(config *common.ClientConfig, cli *client.Client) *WebServer {
	allHandler := []WebHandler{
		&HealthCheckHandler{},
		&ListCommandsHandler{},
		&PoolStatusHandler{},
		&LatencyLatestHandler{},
		&LatencyResetHandler{},
	}
	if collector := cli.Collector(); collector != nil {
		allHandler = append(allHandler, &MetricsHandler{
			path:    config.Metrics.MetricsPath,
			handler: collector.Handler(),
		})
	}
	return NewWebServerWithHandlers(config, cli, allHandler)
}

func NewWebServerWithHandlers(config *common.ClientConfig, cli *client.Client, handlers []WebHandler) *WebServer {
	srv := initWebServer(config, cli)
	for _, handler := range handlers {
		srv.registerHandler(handler)
	}
	return srv
}

// GlobalClient exposes cli to every handler under StateKeyClient.
func GlobalClient(cli *client.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(StateKeyClient, cli)
		c.Next()
	}
}

func clientFrom(ctx *gin.Context) *client.Client {
	object, _ := ctx.Get(StateKeyClient)
	cli, _ := object.(*client.Client)
	return cli
}

func initWebServer(config *common.ClientConfig, cli *client.Client) *WebServer {
	if common.IsProdRuntime() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	zapLogger := common.RawZapLogger()
	r.Use(GlobalClient(cli))
	r.Use(ginzap.RecoveryWithZap(zapLogger, true))
	r.Use(ginzap.GinzapWithConfig(zapLogger, &ginzap.Config{
		UTC:        true,
		TimeFormat: time.RFC3339,
		Skipper: func(c *gin.Context) bool {
			if strings.HasPrefix(c.Request.URL.Path, "/debug") {
				return true
			}
			return c.Request.URL.Path == "/healthz" && c.Request.Method == "GET"
		},
	}))
	if config.WebServer.EnablePprof {
		pprof.Register(r)
	}
	return &WebServer{
		r:        r,
		handlers: make([]WebHandler, 0),
	}
}

// Handler is the router, for tests and for serving without cmux.
func (s *WebServer) Handler() http.Handler {
	return s.r
}

func (s *WebServer) Start(m cmux.CMux) error {
	httpL := m.Match(cmux.HTTP1Fast())
	s.server = &http.Server{
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("WebServer started.")
	if err := s.server.Serve(httpL); err != nil {
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, cmux.ErrListenerClosed) {
			return nil
		}
		logger.Error(err, "Failed to serve admin http")
		return err
	}
	return nil
}

func (s *WebServer) Shutdown(ctx context.Context) {
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			logger.Error(err, "Failed to shutdown admin http")
		} else {
			logger.Info("WebServer stopped.")
		}
	}
}

func (s *WebServer) registerHandler(handler WebHandler) {
	_, ok := lo.Find(s.handlers, func(item WebHandler) bool {
		return item.Path() == handler.Path() && item.Method() == handler.Method()
	})
	if ok {
		logger.Info("handler already registered", "Path", handler.Path(),
			"Method", handler.Method())
		return
	}
	logger.Info("WebServer register handler", "Path", handler.Path(),
		"Method", handler.Method())
	switch handler.Method() {
	case GET:
		s.r.GET(handler.Path(), handler.Handler)
	case POST:
		s.r.POST(handler.Path(), handler.Handler)
	case PUT:
		s.r.PUT(handler.Path(), handler.Handler)
	case DELETE:
		s.r.DELETE(handler.Path(), handler.Handler)
	}
	s.handlers = append(s.handlers, handler)
}

var _ WebHandler = &HealthCheckHandler{}

type HealthCheckHandler struct {
}

func (h *HealthCheckHandler) Path() string {
	return "/healthz"
}

func (h *HealthCheckHandler) Method() HttpMethod {
	return GET
}

func (h *HealthCheckHandler) Handler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

type MetricsHandler struct {
	path    string
	handler gin.HandlerFunc
}

func (m *MetricsHandler) Path() string {
	return m.path
}

func (m *MetricsHandler) Method() HttpMethod {
	return GET
}

func (m *MetricsHandler) Handler(ctx *gin.Context) {
	m.handler(ctx)
}
