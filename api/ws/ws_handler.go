package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/service"
)

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

func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == requiredOrigin
		},
		Subprotocols: []string{"sigilo-v1"},
	}
}

// ServeWS handles websocket requests from the peer. The JWT rides in the
// second entry of the subprotocol list and is verified before the client can
// touch any room state.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	user, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "UNAUTHORIZED"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, user, h.HandleWsMessage)

	h.Hub.OpenCh <- client

	// Start pumps
	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Websocket message structs
type envelope struct {
	Type  string          `json:"type"`
	AckId string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type chatMessage struct {
	ChatId string `json:"chatId"`
}

type sendMessage struct {
	ChatId    string             `json:"chatId"`
	Type      models.MessageType `json:"type"`
	Text      string             `json:"text"`
	ImageUrl  string             `json:"imageUrl"`
	Sha256    string             `json:"sha256"`
	Signature string             `json:"signature"`
}

type editMessage struct {
	MessageId string `json:"messageId"`
	Text      string `json:"text"`
	Sha256    string `json:"sha256"`
	Signature string `json:"signature"`
}

type deleteMessage struct {
	MessageId string `json:"messageId"`
}

type ackMessage struct {
	Type  string `json:"type"`
	AckId string `json:"ackId,omitempty"`
	Data  any    `json:"data"`
}

func ackOk(ackId string, extra map[string]any) ackMessage {
	data := map[string]any{"ok": true}
	for k, v := range extra {
		data[k] = v
	}
	return ackMessage{Type: "ack", AckId: ackId, Data: data}
}

func ackError(ackId string, err error) ackMessage {
	return ackMessage{Type: "ack", AckId: ackId, Data: map[string]any{
		"ok":    false,
		"error": service.CodeOf(err),
	}}
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var env envelope
	if err := json.Unmarshal(messageBytes, &env); err != nil {
		log.Printf("Invalid JSON: %v", err)
		return
	}

	var resp ackMessage

	switch env.Type {
	case "chat:join":
		var joinMsg chatMessage
		if err := json.Unmarshal(env.Data, &joinMsg); err != nil {
			log.Printf("Invalid chat:join data: %v", err)
			return
		}
		resp = h.handleJoin(client, env.AckId, joinMsg)

	case "chat:leave":
		var leaveMsg chatMessage
		if err := json.Unmarshal(env.Data, &leaveMsg); err != nil {
			log.Printf("Invalid chat:leave data: %v", err)
			return
		}
		h.Hub.UnsubscribeCh <- subscription{client: client, chatId: leaveMsg.ChatId}
		resp = ackOk(env.AckId, map[string]any{"chatId": leaveMsg.ChatId})

	case "message:send":
		var sendMsg sendMessage
		if err := json.Unmarshal(env.Data, &sendMsg); err != nil {
			log.Printf("Invalid message:send data: %v", err)
			return
		}
		resp = h.handleSend(client, env.AckId, sendMsg)

	case "message:edit":
		var editMsg editMessage
		if err := json.Unmarshal(env.Data, &editMsg); err != nil {
			log.Printf("Invalid message:edit data: %v", err)
			return
		}
		resp = h.handleEdit(client, env.AckId, editMsg)

	case "message:delete":
		var deleteMsg deleteMessage
		if err := json.Unmarshal(env.Data, &deleteMsg); err != nil {
			log.Printf("Invalid message:delete data: %v", err)
			return
		}
		resp = h.handleDelete(client, env.AckId, deleteMsg)

	default:
		log.Printf("Unknown message type: %v", env.Type)
	}

	if resp.Type != "" {
		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling response JSON: %v", err)
			return
		}
		client.Send <- respBytes
	}
}

// handleJoin gates the room subscription on chat membership so non-members
// can never attach to a chat's fan-out, sealed payloads or not.
func (h *Handler) handleJoin(client *Client, ackId string, joinMsg chatMessage) ackMessage {
	isMember, err := h.Service.Store.IsChatMember(context.Background(), joinMsg.ChatId, client.user.Id)
	if err != nil {
		log.Printf("chat:join membership check failed: %v", err)
		return ackError(ackId, err)
	}
	if !isMember {
		return ackError(ackId, service.ErrNotInChat)
	}

	h.Hub.SubscribeCh <- subscription{client: client, chatId: joinMsg.ChatId}
	return ackOk(ackId, map[string]any{"chatId": joinMsg.ChatId})
}

func (h *Handler) handleSend(client *Client, ackId string, sendMsg sendMessage) ackMessage {
	msg, err := h.Service.SendMessage(context.Background(), client.user, service.SendParams{
		ChatId:    sendMsg.ChatId,
		Type:      sendMsg.Type,
		Text:      sendMsg.Text,
		ImageUrl:  sendMsg.ImageUrl,
		Sha256:    sendMsg.Sha256,
		Signature: sendMsg.Signature,
	})
	if err != nil {
		log.Printf("SendMessage failed: %v", err)
		return ackError(ackId, err)
	}

	return ackOk(ackId, map[string]any{"message": msg})
}

func (h *Handler) handleEdit(client *Client, ackId string, editMsg editMessage) ackMessage {
	msg, err := h.Service.EditMessage(context.Background(), client.user, service.EditParams{
		MessageId: editMsg.MessageId,
		Text:      editMsg.Text,
		Sha256:    editMsg.Sha256,
		Signature: editMsg.Signature,
	})
	if err != nil {
		log.Printf("EditMessage failed: %v", err)
		return ackError(ackId, err)
	}

	return ackOk(ackId, map[string]any{"message": msg})
}

func (h *Handler) handleDelete(client *Client, ackId string, deleteMsg deleteMessage) ackMessage {
	if err := h.Service.DeleteMessage(context.Background(), client.user, deleteMsg.MessageId); err != nil {
		log.Printf("DeleteMessage failed: %v", err)
		return ackError(ackId, err)
	}

	return ackOk(ackId, map[string]any{"messageId": deleteMsg.MessageId})
}
