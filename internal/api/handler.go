package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler implements every route's business logic against a Controller.
type Handler struct {
	controller Controller
	log        *zap.Logger
}

// NewHandler builds a Handler around controller.
func NewHandler(controller Controller, log *zap.Logger) *Handler {
	return &Handler{controller: controller, log: log}
}

// Health is a bare liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports whether the peripheral controller's polling loop is
// running.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.controller.Running()})
}

// Accept resolves the currently open escrow ticket, if any, as accepted.
func (h *Handler) Accept(c *gin.Context) {
	resolved := h.controller.Accept()
	c.JSON(http.StatusOK, gin.H{"resolved": resolved})
}

// Return resolves the currently open escrow ticket, if any, as returned.
func (h *Handler) Return(c *gin.Context) {
	resolved := h.controller.Return()
	c.JSON(http.StatusOK, gin.H{"resolved": resolved})
}

// DispenseChangeRequest is the body for POST /dispense-change.
type DispenseChangeRequest struct {
	AmountMinor int `json:"amount_minor" binding:"required,min=1"`
}

// DispenseChange plans and pays out change for the requested amount.
func (h *Handler) DispenseChange(c *gin.Context) {
	var req DispenseChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok := h.controller.DispenseChange(req.AmountMinor)
	c.JSON(http.StatusOK, gin.H{"dispensed": ok})
}

// StartCashlessPaymentRequest is the body for POST /cashless/start.
type StartCashlessPaymentRequest struct {
	AmountMinor int    `json:"amount_minor" binding:"required,min=1"`
	DisplayText string `json:"display_text"`
}

// StartCashlessPayment runs a full cashless vend session.
func (h *Handler) StartCashlessPayment(c *gin.Context) {
	var req StartCashlessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	approved := h.controller.StartCashlessPayment(req.AmountMinor, req.DisplayText)
	c.JSON(http.StatusOK, gin.H{"approved": approved})
}

// TubeStatus returns the live denomination->count tube snapshot.
func (h *Handler) TubeStatus(c *gin.Context) {
	counts, err := h.controller.ShowTubeStatus()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tubes": counts})
}
