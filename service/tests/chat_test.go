package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/service"
	"github.com/lmarques/sigilo/worker"
)

func TestCreateChat_DirectChat(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("GetUser", ctx, "user2").Return(models.User{Id: "user2"}, nil)
	mockStore.On("CreateChat", ctx, mock.MatchedBy(func(c models.Chat) bool {
		return !c.IsGroup && c.CreatedById == "user1"
	}), []string{"user1", "user2"}).Return(models.Chat{Id: "chat1", CreatedById: "user1"}, nil)
	mockStore.On("UpsertChatKeys", ctx, mock.MatchedBy(func(copies []models.ChatKeyCopy) bool {
		return len(copies) == 2
	})).Return(nil)

	chat, err := svc.CreateChat(ctx, user, service.CreateChatParams{
		MemberIds: []string{"user2"},
		KeyCopies: map[string]string{"user1": "encKey1", "user2": "encKey2"},
	})

	assert.NoError(t, err)
	assert.Equal(t, "chat1", chat.Id)
	mockStore.AssertExpectations(t)
}

func TestCreateChat_DirectChatNeedsExactlyTwoMembers(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	_, err := svc.CreateChat(ctx, user, service.CreateChatParams{MemberIds: []string{}})
	assert.ErrorIs(t, err, service.ErrBadRequest)

	_, err = svc.CreateChat(ctx, user, service.CreateChatParams{MemberIds: []string{"user2", "user3"}})
	assert.ErrorIs(t, err, service.ErrBadRequest)

	mockStore.AssertNotCalled(t, "CreateChat", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateChat_GroupNeedsTitle(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	_, err := svc.CreateChat(ctx, user, service.CreateChatParams{
		IsGroup:   true,
		MemberIds: []string{"user2", "user3"},
	})

	assert.ErrorIs(t, err, service.ErrBadRequest)
	mockStore.AssertNotCalled(t, "CreateChat", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateChat_DuplicateMembersCollapsed(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("GetUser", ctx, "user2").Return(models.User{Id: "user2"}, nil)
	mockStore.On("CreateChat", ctx, mock.Anything, []string{"user1", "user2"}).
		Return(models.Chat{Id: "chat1"}, nil)

	_, err := svc.CreateChat(ctx, user, service.CreateChatParams{
		MemberIds: []string{"user2", "user2", "user1"},
	})

	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestListMyChats_SortedByActivity(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("ListUserChats", ctx, "user1").Return([]models.Chat{
		{Id: "stale", LastMessageAt: 10},
		{Id: "fresh", LastMessageAt: 30},
		{Id: "middle", LastMessageAt: 20},
	}, nil)

	chats, err := svc.ListMyChats(ctx, user)

	assert.NoError(t, err)
	assert.Equal(t, []string{"fresh", "middle", "stale"}, []string{chats[0].Id, chats[1].Id, chats[2].Id})
}

func TestGetChatDetail(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("IsChatMember", ctx, "chat1", "user1").Return(true, nil)
	mockStore.On("GetChat", ctx, "chat1").Return(models.Chat{Id: "chat1", Title: "Team"}, nil)
	mockStore.On("GetChatMembers", ctx, "chat1").Return([]string{"user1", "user2"}, nil)
	mockStore.On("GetChatKey", ctx, "chat1", "user1").Return(models.ChatKeyCopy{EncryptedKey: "encKey1"}, nil)

	detail, err := svc.GetChatDetail(ctx, user, "chat1")

	assert.NoError(t, err)
	assert.Equal(t, "chat1", detail.Chat.Id)
	assert.Equal(t, []string{"user1", "user2"}, detail.MemberIds)
	assert.Equal(t, "encKey1", detail.EncryptedKey)
}

func TestGetChatDetail_NotMember(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "intruder"}

	mockStore.On("IsChatMember", ctx, "chat1", "intruder").Return(false, nil)

	_, err := svc.GetChatDetail(ctx, user, "chat1")
	assert.ErrorIs(t, err, service.ErrNotInChat)
	mockStore.AssertNotCalled(t, "GetChat", mock.Anything, mock.Anything)
}

func TestAddParticipants_CreatorOnly(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user2"}

	mockStore.On("GetChat", ctx, "chat1").Return(models.Chat{
		Id:          "chat1",
		IsGroup:     true,
		CreatedById: "user1",
	}, nil)

	err := svc.AddParticipants(ctx, user, "chat1", []string{"user3"})
	assert.ErrorIs(t, err, service.ErrNotChatCreator)
	mockStore.AssertNotCalled(t, "AddChatMembers", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddParticipants_DirectChatRejected(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("GetChat", ctx, "chat1").Return(models.Chat{
		Id:          "chat1",
		IsGroup:     false,
		CreatedById: "user1",
	}, nil)

	err := svc.AddParticipants(ctx, user, "chat1", []string{"user3"})
	assert.ErrorIs(t, err, service.ErrBadRequest)
}

func TestAddParticipants_Success(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("GetChat", ctx, "chat1").Return(models.Chat{
		Id:          "chat1",
		IsGroup:     true,
		CreatedById: "user1",
	}, nil)
	mockStore.On("GetChatMembers", ctx, "chat1").Return([]string{"user1", "user2"}, nil)
	mockStore.On("GetUser", ctx, "user3").Return(models.User{Id: "user3"}, nil)
	mockStore.On("AddChatMembers", ctx, "chat1", []string{"user3"}).Return(nil)

	publishDone := wrapMockWithSignal(
		mockCache.On("Publish", mock.Anything, "chat:chat1", mock.Anything).Return(nil))

	err := svc.AddParticipants(ctx, user, "chat1", []string{"user3", "user2"})
	assert.NoError(t, err)

	select {
	case <-publishDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for Publish")
	}
	mockStore.AssertExpectations(t)
}

func TestRemoveParticipant_QueuesRekey(t *testing.T) {
	svc, mockStore, _, mockMQ, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1"}

	mockStore.On("GetChat", ctx, "chat1").Return(models.Chat{
		Id:          "chat1",
		IsGroup:     true,
		CreatedById: "user1",
	}, nil)
	mockStore.On("RemoveChatMember", ctx, "chat1", "user2").Return(nil)
	mockStore.On("DeleteChatKey", ctx, "chat1", "user2").Return(nil)

	sendDone := wrapMockWithSignal(
		mockMQ.On("Send", mock.Anything, mock.MatchedBy(func(body string) bool {
			var msg worker.ChatRekeyMessage
			if err := json.Unmarshal([]byte(body), &msg); err != nil {
				return false
			}
			return msg.ChatId == "chat1" && msg.RemovedUserId == "user2"
		})).Return(nil))

	err := svc.RemoveParticipant(ctx, user, "chat1", "user2")
	assert.NoError(t, err)

	select {
	case <-sendDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for rekey enqueue")
	}
	mockStore.AssertExpectations(t)
}

func TestRemoveParticipant_SelfLeaveAllowed(t *testing.T) {
	svc, mockStore, _, mockMQ, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user2"}

	mockStore.On("GetChat", ctx, "chat1").Return(models.Chat{
		Id:          "chat1",
		IsGroup:     true,
		CreatedById: "user1",
	}, nil)
	mockStore.On("RemoveChatMember", ctx, "chat1", "user2").Return(nil)
	mockStore.On("DeleteChatKey", ctx, "chat1", "user2").Return(nil)

	sendDone := wrapMockWithSignal(mockMQ.On("Send", mock.Anything, mock.Anything).Return(nil))

	err := svc.RemoveParticipant(ctx, user, "chat1", "user2")
	assert.NoError(t, err)

	select {
	case <-sendDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for rekey enqueue")
	}
}

func TestRemoveParticipant_StrangerRejected(t *testing.T) {
	svc, mockStore, _, mockMQ, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user3"}

	mockStore.On("GetChat", ctx, "chat1").Return(models.Chat{
		Id:          "chat1",
		IsGroup:     true,
		CreatedById: "user1",
	}, nil)

	err := svc.RemoveParticipant(ctx, user, "chat1", "user2")
	assert.ErrorIs(t, err, service.ErrNotChatCreator)
	mockStore.AssertNotCalled(t, "RemoveChatMember", mock.Anything, mock.Anything, mock.Anything)
	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
