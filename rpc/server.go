package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	logger "github.com/sirupsen/logrus"

	"github.com/FusionX-io/bridge-go/bridge"
	"github.com/FusionX-io/bridge-go/eventbus"
	"github.com/FusionX-io/bridge-go/state"
)

const (
	RouteRPC = "/rpc"
	RouteWS  = "/ws"

	maxBodyBytes = 1 << 20
)

// Server exposes the coordinator over JSON-RPC and websocket pushes.
type Server struct {
	cfg     *Config
	orc     *bridge.Orchestrator
	store   *state.Store
	bus     *eventbus.Bus
	limiter *slidingWindow

	httpSrv *http.Server
}

func NewServer(cfg *Config, orc *bridge.Orchestrator, bus *eventbus.Bus) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Server{
		cfg:     cfg,
		orc:     orc,
		store:   orc.Store(),
		bus:     bus,
		limiter: newSlidingWindow(cfg.RateWindow, cfg.RateLimit),
	}
}

// SetupRouter hooks up routes & handlers.
func (srv *Server) SetupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST(RouteRPC, srv.handleRPC)
	router.GET(RouteWS, srv.handleWS)
	return router
}

// Start serves until the context is cancelled.
func (srv *Server) Start(ctx context.Context) error {
	srv.httpSrv = &http.Server{
		Addr:    srv.cfg.ListenIP + ":" + srv.cfg.ListenPort,
		Handler: srv.SetupRouter(),
	}

	go func() {
		<-ctx.Done()
		srv.httpSrv.Shutdown(context.Background())
	}()

	logger.WithField("addr", srv.httpSrv.Addr).Info("rpc server listening")
	err := srv.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (srv *Server) handleRPC(c *gin.Context) {
	if !srv.limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests,
			errResponse(nil, CodeRateLimited, "rate limit exceeded", ""))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusOK, errResponse(nil, CodeParseError, "unreadable body", ""))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusOK, errResponse(nil, CodeParseError, "parse error", ""))
		return
	}

	c.JSON(http.StatusOK, srv.dispatch(&req, nil))
}

// dispatch runs one request against the method table. sess is nil for
// plain HTTP calls.
func (srv *Server) dispatch(req *Request, sess session) *Response {
	handler, ok := methodTable[req.Method]
	if !ok {
		return errResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method, "")
	}

	result, rpcErr := handler(srv, sess, req.Params)
	if rpcErr != nil {
		return &Response{ID: req.ID, Error: rpcErr}
	}
	return okResponse(req.ID, result)
}
