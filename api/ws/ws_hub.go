package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/zlnvch/pixelwars/cache"
	"github.com/zlnvch/pixelwars/service"
)

type broadcast struct {
	canvas  string
	message []byte
}

// Hub tracks live connections per user and per canvas, and relays pixel
// events from the cache pub/sub to every connection on that canvas.
type Hub struct {
	pixelWarsCache           cache.PixelWarsCache
	OpenCh                   chan *Client
	CloseCh                  chan *Client
	BroadcastCh              chan broadcast
	UsersEvictedCh           chan service.UsersEvictedMessage
	userToClients            map[string]map[*Client]struct{}
	canvasToClients          map[string]map[*Client]struct{}
	canvasToSubscriberCancel map[string]context.CancelFunc
}

func NewHub(pixelWarsCache cache.PixelWarsCache) *Hub {
	return &Hub{
		pixelWarsCache:           pixelWarsCache,
		OpenCh:                   make(chan *Client, 256),
		CloseCh:                  make(chan *Client, 256),
		BroadcastCh:              make(chan broadcast, 1024),
		UsersEvictedCh:           make(chan service.UsersEvictedMessage, 64),
		userToClients:            make(map[string]map[*Client]struct{}),
		canvasToClients:          make(map[string]map[*Client]struct{}),
		canvasToSubscriberCancel: make(map[string]context.CancelFunc),
	}
}

const maxConnectionsPerUser = 3

func (h *Hub) Run(shutdownCtx context.Context) {
	for {
		select {
		case client := <-h.OpenCh:
			h.open(client)

		case client := <-h.CloseCh:
			h.remove(client)

		case b := <-h.BroadcastCh:
			for client := range h.canvasToClients[b.canvas] {
				client.Enqueue(b.message)
			}

		case msg := <-h.UsersEvictedCh:
			for _, userId := range msg.UserIds {
				for client := range h.userToClients[userId] {
					if client.canvas != msg.Canvas {
						continue
					}
					client.closeSend()
					h.remove(client)
				}
			}

		case <-shutdownCtx.Done():
			for _, cancel := range h.canvasToSubscriberCancel {
				cancel()
			}
			return
		}
	}
}

func (h *Hub) open(client *Client) {
	if len(h.userToClients[client.userId]) >= maxConnectionsPerUser {
		log.Printf("User %s reached max connections (%d)", client.userId, maxConnectionsPerUser)
		client.closeSend()
		return
	}

	if h.canvasToClients[client.canvas] == nil {
		ctx, cancel := context.WithCancel(context.Background())
		canvasName := client.canvas
		channel := service.CanvasChannel(canvasName)

		// The pubsub goroutine only hands messages to the Run loop
		err := h.pixelWarsCache.Subscribe(ctx, channel, func(message []byte) {
			h.BroadcastCh <- broadcast{canvas: canvasName, message: message}
		})
		if err != nil {
			cancel()
			log.Printf("Failed to create redis sub for channel %s: %v", channel, err)
			client.closeSend()
			return
		}

		h.canvasToClients[canvasName] = make(map[*Client]struct{})
		h.canvasToSubscriberCancel[canvasName] = cancel
	}
	h.canvasToClients[client.canvas][client] = struct{}{}

	if h.userToClients[client.userId] == nil {
		h.userToClients[client.userId] = make(map[*Client]struct{})
	}
	h.userToClients[client.userId][client] = struct{}{}
}

func (h *Hub) remove(client *Client) {
	if clients, ok := h.canvasToClients[client.canvas]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			if cancel, ok := h.canvasToSubscriberCancel[client.canvas]; ok {
				cancel()
				delete(h.canvasToSubscriberCancel, client.canvas)
			}
			delete(h.canvasToClients, client.canvas)
		}
	}

	if clients, ok := h.userToClients[client.userId]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.userToClients, client.userId)
		}
	}
}

func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	err := h.pixelWarsCache.Subscribe(shutdownCtx, service.UsersEvictedChannel, func(message []byte) {
		var msg service.UsersEvictedMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Failed to unmarshal users-evicted message: %v", err)
			return
		}
		h.UsersEvictedCh <- msg
	})
	if err != nil {
		log.Printf("WS hub failed to subscribe to %s: %v", service.UsersEvictedChannel, err)
		return err
	}
	return nil
}
