package rest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zlnvch/pixelwars/canvas"
	"github.com/zlnvch/pixelwars/models"
	"github.com/zlnvch/pixelwars/service"
)

const (
	keyCookie = "key"
	idCookie  = "id"
)

var (
	errTokenMismatch = errors.New("token does not match cookie")
	errBadParameter  = errors.New("invalid parameter")
)

type Handler struct {
	Service      *service.Service
	CookieMaxAge int
	AdminToken   string
}

func NewHandler(svc *service.Service, cookieMaxAge int, adminToken string) *Handler {
	return &Handler{Service: svc, CookieMaxAge: cookieMaxAge, AdminToken: adminToken}
}

// RegisterRoutes mounts the canvas API under /api/v1/{canvas}/.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/{canvas}/preinit", h.HandlePreinit)
	mux.HandleFunc("GET /api/v1/{canvas}/init", h.HandleInit)
	mux.HandleFunc("GET /api/v1/{canvas}/deltas", h.HandleDeltas)
	mux.HandleFunc("/api/v1/{canvas}/set/{x}/{y}/{r}/{g}/{b}", h.HandleSet)
	mux.HandleFunc("/api/v1/{canvas}/history", h.HandleHistory)
	mux.HandleFunc("GET /api/v1/{canvas}/stats", h.HandleStats)
}

type preinitResponse struct {
	Key string `json:"key"`
}

func (h *Handler) HandlePreinit(w http.ResponseWriter, r *http.Request) {
	key, err := h.Service.IssueSessionKey(r.PathValue("canvas"))
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.setCookie(w, keyCookie, key)
	h.sendResponse(w, preinitResponse{Key: key})
}

type initResponse struct {
	Id      string         `json:"id"`
	Nx      int            `json:"nx"`
	Ny      int            `json:"ny"`
	Timeout time.Duration  `json:"timeout"`
	Data    [][]models.RGB `json:"data"`
}

func (h *Handler) HandleInit(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		h.sendError(w, canvas.ErrUnauthorized)
		return
	}
	if cookie, err := r.Cookie(keyCookie); err == nil && cookie.Value != "" && cookie.Value != key {
		h.sendError(w, errTokenMismatch)
		return
	}

	session, err := h.Service.IssueUser(r.PathValue("canvas"), key)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.setCookie(w, idCookie, session.Id)
	h.sendResponse(w, initResponse{
		Id:      session.Id,
		Nx:      session.Width,
		Ny:      session.Height,
		Timeout: session.Cooldown,
		Data:    session.Pixels,
	})
}

type deltasResponse struct {
	Id      string         `json:"id"`
	Nx      int            `json:"nx"`
	Ny      int            `json:"ny"`
	Timeout time.Duration  `json:"timeout"`
	Deltas  []models.Pixel `json:"deltas"`
}

func (h *Handler) HandleDeltas(w http.ResponseWriter, r *http.Request) {
	userId, err := h.getUserId(r)
	if err != nil {
		h.sendError(w, err)
		return
	}

	result, err := h.Service.GetDeltas(r.PathValue("canvas"), userId)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.sendResponse(w, deltasResponse{
		Id:      result.Id,
		Nx:      result.Width,
		Ny:      result.Height,
		Timeout: result.Cooldown,
		Deltas:  result.Deltas,
	})
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) HandleSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userId, err := h.getUserId(r)
	if err != nil {
		h.sendError(w, err)
		return
	}

	var values [5]int
	for i, name := range []string{"x", "y", "r", "g", "b"} {
		v, err := strconv.Atoi(r.PathValue(name))
		if err != nil {
			h.sendError(w, errBadParameter)
			return
		}
		values[i] = v
	}

	err = h.Service.SetPixel(r.PathValue("canvas"), userId, values[0], values[1], values[2], values[3], values[4])
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.sendResponse(w, successResponse{Success: true})
}

type historyResponse struct {
	Events []models.PixelEvent `json:"events"`
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	canvasName := r.PathValue("canvas")

	switch r.Method {
	case http.MethodGet:
		events, err := h.Service.LoadHistory(r.Context(), canvasName)
		if err != nil {
			h.sendError(w, err)
			return
		}
		h.sendResponse(w, historyResponse{Events: events})

	case http.MethodDelete:
		if !h.isAdmin(r) {
			h.sendError(w, canvas.ErrUnauthorized)
			return
		}
		if err := h.Service.DeleteHistory(r.Context(), canvasName); err != nil {
			h.sendError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(successResponse{Success: true})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.GetStats(r.Context(), r.PathValue("canvas"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendResponse(w, stats)
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

type errorResponse struct {
	Error       string   `json:"error"`
	WaitSeconds *float64 `json:"waitSeconds,omitempty"`
}

func (h *Handler) sendError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var rateLimited *canvas.RateLimitedError
	switch {
	case errors.Is(err, service.ErrCanvasNotFound):
		status = http.StatusNotFound
	case errors.Is(err, canvas.ErrUnauthorized), errors.Is(err, errTokenMismatch):
		status = http.StatusForbidden
	case errors.Is(err, canvas.ErrOutOfBounds), errors.Is(err, service.ErrInvalidColor), errors.Is(err, errBadParameter):
		status = http.StatusBadRequest
	case errors.As(err, &rateLimited):
		status = http.StatusTooManyRequests
		wait := rateLimited.Wait.Seconds()
		resp.WaitSeconds = &wait
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait))))
	case errors.Is(err, service.ErrHistoryUnavailable):
		status = http.StatusServiceUnavailable
	default:
		log.Printf("Request failed: %v", err)
		resp.Error = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) setCookie(w http.ResponseWriter, name string, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   h.CookieMaxAge,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// getUserId resolves the caller's user token. A bearer header wins; a query
// id must agree with the id cookie when one is sent.
func (h *Handler) getUserId(r *http.Request) (string, error) {
	if token := getTokenFromAuthHeader(r); token != "" {
		return token, nil
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		return "", canvas.ErrUnauthorized
	}
	if cookie, err := r.Cookie(idCookie); err == nil && cookie.Value != "" && cookie.Value != id {
		return "", errTokenMismatch
	}
	return id, nil
}

func (h *Handler) isAdmin(r *http.Request) bool {
	if h.AdminToken == "" {
		return false
	}
	token := getTokenFromAuthHeader(r)
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) == 1
}

func getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
}
