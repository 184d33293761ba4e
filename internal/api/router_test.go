package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeController struct {
	acceptResult      bool
	returnResult      bool
	dispenseResult    bool
	cashlessResult    bool
	tubeStatus        map[int]int
	tubeStatusErr     error
	running           bool
	lastDispenseAmt   int
	lastCashlessAmt   int
	lastDisplayText   string
}

func (f *fakeController) Accept() bool { return f.acceptResult }
func (f *fakeController) Return() bool { return f.returnResult }
func (f *fakeController) DispenseChange(amount int) bool {
	f.lastDispenseAmt = amount
	return f.dispenseResult
}
func (f *fakeController) StartCashlessPayment(amountMinor int, displayText string) bool {
	f.lastCashlessAmt = amountMinor
	f.lastDisplayText = displayText
	return f.cashlessResult
}
func (f *fakeController) ShowTubeStatus() (map[int]int, error) { return f.tubeStatus, f.tubeStatusErr }
func (f *fakeController) Running() bool                        { return f.running }

func newTestRouter(fc *fakeController) *Router {
	return NewRouter(fc, gin.TestMode, zap.NewNop())
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(&fakeController{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDispenseChangeEndpoint(t *testing.T) {
	fc := &fakeController{dispenseResult: true}
	router := newTestRouter(fc)

	body, _ := json.Marshal(DispenseChangeRequest{AmountMinor: 70})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispense-change", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 70, fc.lastDispenseAmt)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp["dispensed"])
}

func TestDispenseChangeRejectsMissingAmount(t *testing.T) {
	router := newTestRouter(&fakeController{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispense-change", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	router.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTubeStatusEndpointPropagatesError(t *testing.T) {
	fc := &fakeController{tubeStatusErr: errors.New("read timeout")}
	router := newTestRouter(fc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tube-status", nil)
	router.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAcceptAndReturnEndpoints(t *testing.T) {
	fc := &fakeController{acceptResult: true, returnResult: false}
	router := newTestRouter(fc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/escrow/accept", nil)
	router.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp["resolved"])

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/escrow/return", nil)
	router.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	resp = map[string]bool{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp["resolved"])
}
