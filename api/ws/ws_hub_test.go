package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	cachemocks "github.com/lmarques/sigilo/cache/mocks"
	"github.com/lmarques/sigilo/models"
)

func setupHub(t *testing.T) (*Hub, *cachemocks.MockCache) {
	t.Helper()
	mockCache := new(cachemocks.MockCache)
	hub := NewHub(mockCache)
	go hub.Run()
	return hub, mockCache
}

func openAndJoin(hub *Hub, userId string, chatId string) *Client {
	client := NewClient(hub, nil, models.User{Id: userId}, nil)
	hub.OpenCh <- client
	hub.SubscribeCh <- subscription{client: client, chatId: chatId}
	return client
}

func TestHub_BroadcastReachesAllChatSubscribers(t *testing.T) {
	hub, mockCache := setupHub(t)
	mockCache.On("Subscribe", mock.Anything, "chat:chat1", mock.Anything).Return(nil)

	first := openAndJoin(hub, "user1", "chat1")
	second := openAndJoin(hub, "user2", "chat1")

	hub.BroadcastCh <- broadcast{chatId: "chat1", payload: []byte(`{"type":"message:new"}`)}

	for _, client := range []*Client{first, second} {
		select {
		case got := <-client.Send:
			assert.Equal(t, []byte(`{"type":"message:new"}`), got)
		case <-time.After(time.Second):
			t.Fatal("client did not receive the broadcast")
		}
	}
}

func TestHub_SlowClientDoesNotStallBroadcast(t *testing.T) {
	hub, mockCache := setupHub(t)
	mockCache.On("Subscribe", mock.Anything, "chat:chat1", mock.Anything).Return(nil)

	slow := openAndJoin(hub, "user1", "chat1")
	healthy := openAndJoin(hub, "user2", "chat1")

	// Fill the slow client's outbound buffer; its frame gets dropped while
	// the rest of the chat keeps receiving
	for i := 0; i < cap(slow.Send); i++ {
		slow.Send <- []byte("backlog")
	}

	hub.BroadcastCh <- broadcast{chatId: "chat1", payload: []byte("fresh")}

	select {
	case got := <-healthy.Send:
		assert.Equal(t, []byte("fresh"), got)
	case <-time.After(time.Second):
		t.Fatal("broadcast stalled behind a slow client")
	}
}

func TestHub_BroadcastSkipsOtherChats(t *testing.T) {
	hub, mockCache := setupHub(t)
	mockCache.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	member := openAndJoin(hub, "user1", "chat1")
	outsider := openAndJoin(hub, "user2", "chat2")

	hub.BroadcastCh <- broadcast{chatId: "chat1", payload: []byte("hello")}

	select {
	case <-member.Send:
	case <-time.After(time.Second):
		t.Fatal("member did not receive the broadcast")
	}

	select {
	case <-outsider.Send:
		t.Fatal("broadcast leaked into another chat")
	case <-time.After(50 * time.Millisecond):
	}
}
