package api

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"clearchat/internal/live"
	"clearchat/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin admits non-browser clients, which send no Origin, and pages served
// from the API host. Cookie sessions must not be usable from other sites.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (h *Handler) liveChats(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("upgrade live chats: %v", err)
		return
	}
	sub := h.store.SubscribeConversations(context.Background(), s.UserID())
	streamSnapshots(conn, sub, func(chats []*models.Conversation) any {
		return gin.H{"chats": chats}
	})
}

func (h *Handler) liveMessages(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	conv, ok := h.participantChat(c, s.UserID())
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("upgrade live messages: %v", err)
		return
	}
	sub, err := h.store.SubscribeMessages(context.Background(), conv.ID)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		conn.Close()
		return
	}
	streamSnapshots(conn, sub, func(msgs []*models.Message) any {
		return gin.H{"messages": msgs}
	})
}

// streamSnapshots writes every snapshot of sub to conn as a JSON frame until the
// peer goes away, then cancels the subscription.
func streamSnapshots[T any](conn *websocket.Conn, sub *live.Subscription[T], frame func(T) any) {
	defer conn.Close()
	defer sub.Cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame(snap)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
