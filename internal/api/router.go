// Package api exposes the peripheral controller's programmatic control
// surface over HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Controller is the subset of PeripheralController the HTTP surface drives.
// Defined here (rather than importing internal/mdb's concrete type) so this
// package only depends on the behaviour it needs.
type Controller interface {
	Accept() bool
	Return() bool
	DispenseChange(amount int) bool
	StartCashlessPayment(amountMinor int, displayText string) bool
	ShowTubeStatus() (map[int]int, error)
	Running() bool
}

// Router wires the gin engine to a Controller.
type Router struct {
	engine  *gin.Engine
	handler *Handler
	log     *zap.Logger
}

// NewRouter builds a Router around controller, in the given gin mode
// ("release" or "debug").
func NewRouter(controller Controller, mode string, log *zap.Logger) *Router {
	gin.SetMode(mode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	r := &Router{
		engine:  engine,
		handler: NewHandler(controller, log),
		log:     log,
	}
	r.setupRoutes()
	return r
}

// Engine returns the underlying gin engine, e.g. for http.Server.Handler.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.handler.Health)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/status", r.handler.Status)
		v1.POST("/escrow/accept", r.handler.Accept)
		v1.POST("/escrow/return", r.handler.Return)
		v1.POST("/dispense-change", r.handler.DispenseChange)
		v1.POST("/cashless/start", r.handler.StartCashlessPayment)
		v1.GET("/tube-status", r.handler.TubeStatus)
	}
}
