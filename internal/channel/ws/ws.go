// Package ws adapts a websocket connection into the Observer/event ingress
// contract (spec section 4.6): each inbound JSON message becomes one
// internal/observer.Observer.Ingest call. A second real transport
// alongside internal/channel/telegram, proving the Observer contract
// generalizes across transports.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/emooreatx/CIRISAgent-sub009/internal/observer"
)

// Ingester matches internal/observer.Observer.Ingest.
type Ingester interface {
	Ingest(ctx context.Context, msg observer.IncomingMessage) (string, error)
}

// inboundMessage is the wire shape a client sends: one chat message plus
// the reply reference needed for the WA-correction path.
type inboundMessage struct {
	ChannelID          string `json:"channel_id"`
	AuthorID           string `json:"author_id"`
	AuthorName         string `json:"author_name"`
	Content            string `json:"content"`
	RepliedToMessageID string `json:"replied_to_message_id,omitempty"`
}

// outboundEvent is what Handler pushes back to a connected client (used by
// a side-effect sink subscriber to deliver SPEAK/OBSERVE output).
type outboundEvent struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// Handler accepts websocket connections and forwards each inbound message
// to an Observer.
type Handler struct {
	Ingester     Ingester
	AllowOrigins []string
	Logger       *slog.Logger
}

// New builds a Handler.
func New(ing Ingester, allowOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Ingester: ing, AllowOrigins: allowOrigins, Logger: logger}
}

// ServeHTTP upgrades the connection and reads inbound messages until the
// client disconnects or ctx (the request's context) is canceled.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.AllowOrigins,
	})
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx := r.Context()
	h.Logger.Info("ws: client connected")
	defer h.Logger.Info("ws: client disconnected")

	for {
		var in inboundMessage
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if ctx.Err() == nil {
				h.Logger.Warn("ws: read error, closing", "error", err)
			}
			return
		}
		h.handleMessage(ctx, in)
	}
}

func (h *Handler) handleMessage(ctx context.Context, in inboundMessage) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return
	}
	msg := observer.IncomingMessage{
		MessageID:          uuid.NewString(),
		ChannelID:          in.ChannelID,
		AuthorID:           in.AuthorID,
		AuthorName:         in.AuthorName,
		Content:            content,
		OriginService:      "ws",
		Timestamp:          time.Now().UTC(),
		RepliedToMessageID: in.RepliedToMessageID,
	}
	if _, err := h.Ingester.Ingest(ctx, msg); err != nil {
		h.Logger.Error("ws: ingest failed", "error", err)
	}
}

// Push delivers content to a connected client over conn, used by a
// side-effect sink subscriber to forward SPEAK/OBSERVE output.
func Push(ctx context.Context, conn *websocket.Conn, channelID, content string) error {
	if err := wsjson.Write(ctx, conn, outboundEvent{ChannelID: channelID, Content: content}); err != nil {
		return fmt.Errorf("ws: push: %w", err)
	}
	return nil
}
