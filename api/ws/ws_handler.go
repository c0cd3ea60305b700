package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zlnvch/pixelwars/canvas"
	"github.com/zlnvch/pixelwars/models"
	"github.com/zlnvch/pixelwars/service"
)

const subprotocol = "pixelwars-v1"

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

// NewWsUpgrader accepts the listed origins; "*" accepts any.
func (h *Handler) NewWsUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
		Subprotocols: []string{subprotocol},
	}
}

// ServeWS authenticates with the "pixelwars-v1, <userId>" subprotocol pair
// and attaches the connection to the hub.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	if len(protocols) != 2 || strings.TrimSpace(protocols[0]) != subprotocol {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	canvasName := r.URL.Query().Get("canvas")
	userId := strings.TrimSpace(protocols[1])
	authErr := h.Service.AuthenticateUser(canvasName, userId)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	// Upgrade first so the client gets a close reason
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, canvasName, userId, h.HandleWsMessage)
	h.Hub.OpenCh <- client

	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type setPixelMessage struct {
	X int `json:"x"`
	Y int `json:"y"`
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

type responseMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid JSON: %v", err)
		return
	}

	var resp responseMessage

	switch msg.Type {
	case "deltas":
		resp = h.handleDeltas(client)

	case "set_pixel":
		var setMsg setPixelMessage
		if err := json.Unmarshal(msg.Data, &setMsg); err != nil {
			log.Printf("Invalid set_pixel data: %v", err)
			return
		}
		resp = h.handleSetPixel(client, setMsg)

	default:
		log.Printf("Unknown message type: %v", msg.Type)
	}

	if resp.Type != "" {
		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling response JSON: %v", err)
			return
		}
		client.Enqueue(respBytes)
	}
}

func (h *Handler) handleDeltas(client *Client) responseMessage {
	resp := responseMessage{Type: "deltas_response"}

	result, err := h.Service.GetDeltas(client.canvas, client.userId)
	if err != nil {
		resp.Data = map[string]any{"success": false, "error": err.Error(), "deltas": []models.Pixel{}}
		return resp
	}

	resp.Data = map[string]any{
		"success": true,
		"id":      result.Id,
		"nx":      result.Width,
		"ny":      result.Height,
		"timeout": result.Cooldown,
		"deltas":  result.Deltas,
	}
	return resp
}

func (h *Handler) handleSetPixel(client *Client, setMsg setPixelMessage) responseMessage {
	resp := responseMessage{Type: "set_pixel_response"}

	err := h.Service.SetPixel(client.canvas, client.userId, setMsg.X, setMsg.Y, setMsg.R, setMsg.G, setMsg.B)
	if err != nil {
		data := map[string]any{"success": false, "error": err.Error(), "x": setMsg.X, "y": setMsg.Y}
		var rateLimited *canvas.RateLimitedError
		if errors.As(err, &rateLimited) {
			data["waitSeconds"] = rateLimited.Wait.Seconds()
		}
		resp.Data = data
		return resp
	}

	resp.Data = map[string]any{"success": true, "x": setMsg.X, "y": setMsg.Y, "at": time.Now().UnixMilli()}
	return resp
}
