package ws

import (
	"context"
	"log"

	"github.com/lmarques/sigilo/cache"
)

type subscription struct {
	client *Client
	chatId string
}

type broadcast struct {
	chatId  string
	payload []byte
}

// Hub maintains the set of active clients and the per-chat redis
// subscriptions feeding them. All maps are owned by the Run goroutine and
// only ever touched through the channels; redis callbacks hand their
// payloads to BroadcastCh instead of reaching into the maps.
type Hub struct {
	sigiloCache            cache.SigiloCache
	OpenCh                 chan *Client
	CloseCh                chan *Client
	SubscribeCh            chan subscription
	UnsubscribeCh          chan subscription
	BroadcastCh            chan broadcast
	userToClients          map[string]map[*Client]struct{}
	chatToClients          map[string]map[*Client]struct{}
	chatToSubscriberCancel map[string]context.CancelFunc
}

func NewHub(sigiloCache cache.SigiloCache) *Hub {
	return &Hub{
		sigiloCache:            sigiloCache,
		OpenCh:                 make(chan *Client, 256),
		CloseCh:                make(chan *Client, 256),
		SubscribeCh:            make(chan subscription, 1024),
		UnsubscribeCh:          make(chan subscription, 1024),
		BroadcastCh:            make(chan broadcast, 1024),
		userToClients:          make(map[string]map[*Client]struct{}),
		chatToClients:          make(map[string]map[*Client]struct{}),
		chatToSubscriberCancel: make(map[string]context.CancelFunc),
	}
}

const (
	maxConnectionsPerUser         = 3
	maxSubscriptionsPerConnection = 100
)

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.OpenCh:
			if _, ok := h.userToClients[client.user.Id]; !ok {
				h.userToClients[client.user.Id] = make(map[*Client]struct{})
			}

			if len(h.userToClients[client.user.Id]) >= maxConnectionsPerUser {
				log.Printf("User %s reached max connections (%d)", client.user.Id, maxConnectionsPerUser)
				close(client.Send)
				continue
			}

			h.userToClients[client.user.Id][client] = struct{}{}

		case client := <-h.CloseCh:
			for chatId := range client.subscribedChats {
				delete(h.chatToClients[chatId], client)
				if len(h.chatToClients[chatId]) == 0 {
					if cancel, ok := h.chatToSubscriberCancel[chatId]; ok {
						cancel()
						delete(h.chatToSubscriberCancel, chatId)
					}
					delete(h.chatToClients, chatId)
				}
			}
			delete(h.userToClients[client.user.Id], client)
			if len(h.userToClients[client.user.Id]) == 0 {
				delete(h.userToClients, client.user.Id)
			}

		case sub := <-h.SubscribeCh:
			if len(sub.client.subscribedChats) >= maxSubscriptionsPerConnection {
				log.Printf("Connection by user %s reached max subscriptions (%d)", sub.client.user.Id, maxSubscriptionsPerConnection)
				continue
			}
			if h.chatToClients[sub.chatId] == nil {
				// First local subscriber for this chat, open the redis sub
				ctx, cancel := context.WithCancel(context.Background())
				chatId := sub.chatId
				channel := "chat:" + chatId

				err := h.sigiloCache.Subscribe(ctx, channel, func(messageBytes []byte) {
					h.BroadcastCh <- broadcast{chatId: chatId, payload: messageBytes}
				})
				if err != nil {
					log.Printf("Failed to create redis sub for channel %s: %v", channel, err)
					cancel()
					continue
				}

				h.chatToClients[sub.chatId] = make(map[*Client]struct{})
				h.chatToSubscriberCancel[sub.chatId] = cancel
			}
			h.chatToClients[sub.chatId][sub.client] = struct{}{}
			sub.client.subscribedChats[sub.chatId] = struct{}{}

		case b := <-h.BroadcastCh:
			for client := range h.chatToClients[b.chatId] {
				select {
				case client.Send <- b.payload:
				default:
					// Slow consumer, drop the frame rather than stall the hub
				}
			}

		case unsub := <-h.UnsubscribeCh:
			delete(h.chatToClients[unsub.chatId], unsub.client)
			delete(unsub.client.subscribedChats, unsub.chatId)
			if len(h.chatToClients[unsub.chatId]) == 0 {
				if cancel, ok := h.chatToSubscriberCancel[unsub.chatId]; ok {
					cancel()
					delete(h.chatToSubscriberCancel, unsub.chatId)
				}
				delete(h.chatToClients, unsub.chatId)
			}
		}
	}
}
