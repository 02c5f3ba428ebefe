package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	cachemocks "github.com/lmarques/sigilo/cache/mocks"
	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/mq"
	mqmocks "github.com/lmarques/sigilo/mq/mocks"
	storemocks "github.com/lmarques/sigilo/store/mocks"
	"github.com/lmarques/sigilo/worker"
)

func TestRekeyConsumer_RekeysAndInvalidates(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	jobBody, err := json.Marshal(worker.ChatRekeyMessage{ChatId: "chat1", RemovedUserId: "user3"})
	assert.NoError(t, err)
	job := &mq.Message{ReceiptHandle: "receipt-1", Body: string(jobBody)}

	mockMQ.On("Receive", mock.Anything, int32(60)).Return(job, nil).Once()
	mockMQ.On("Receive", mock.Anything, int32(60)).Return(nil, context.Canceled)

	mockStore.On("GetChatMembers", mock.Anything, "chat1").Return([]string{"user1", "user2"}, nil)
	mockStore.On("GetUser", mock.Anything, "user1").Return(models.User{Id: "user1"}, nil)
	mockStore.On("GetUser", mock.Anything, "user2").Return(models.User{Id: "user2"}, nil)
	mockStore.On("UpsertChatKeys", mock.Anything, mock.MatchedBy(func(copies []models.ChatKeyCopy) bool {
		if len(copies) != 2 {
			return false
		}
		for _, c := range copies {
			if c.ChatId != "chat1" || c.EncryptedKey == "" {
				return false
			}
		}
		return true
	})).Return(nil)

	// Membership changed, so the chat's hot window is dropped
	mockCache.On("InvalidateChats", mock.Anything, []string{"chat1"}).Return(nil)
	mockCache.On("Publish", mock.Anything, "chat:chat1", mock.MatchedBy(func(b []byte) bool {
		var event struct {
			Type string `json:"type"`
		}
		return json.Unmarshal(b, &event) == nil && event.Type == "chat:rekeyed"
	})).Return(nil)

	deleted := make(chan struct{})
	mockMQ.On("Delete", mock.Anything, job).Return(nil).Run(func(mock.Arguments) {
		close(deleted)
	})

	consumer := worker.NewRekeyConsumer(mockMQ, mockStore, mockCache, true)
	done := make(chan struct{})
	go func() {
		consumer.Run(context.Background())
		close(done)
	}()

	select {
	case <-deleted:
	case <-time.After(2 * time.Second):
		assert.Fail(t, "timed out waiting for the job to be deleted")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		assert.Fail(t, "consumer did not stop on cancellation")
	}

	mockStore.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestRekeyConsumer_EmptyChatIsNoOp(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	jobBody, err := json.Marshal(worker.ChatRekeyMessage{ChatId: "chat1", RemovedUserId: "user3"})
	assert.NoError(t, err)
	job := &mq.Message{ReceiptHandle: "receipt-1", Body: string(jobBody)}

	mockMQ.On("Receive", mock.Anything, int32(60)).Return(job, nil).Once()
	mockMQ.On("Receive", mock.Anything, int32(60)).Return(nil, context.Canceled)
	mockStore.On("GetChatMembers", mock.Anything, "chat1").Return([]string{}, nil)

	deleted := make(chan struct{})
	mockMQ.On("Delete", mock.Anything, job).Return(nil).Run(func(mock.Arguments) {
		close(deleted)
	})

	consumer := worker.NewRekeyConsumer(mockMQ, mockStore, mockCache, true)
	go consumer.Run(context.Background())

	select {
	case <-deleted:
	case <-time.After(2 * time.Second):
		assert.Fail(t, "timed out waiting for the job to be deleted")
	}

	mockStore.AssertNotCalled(t, "UpsertChatKeys", mock.Anything, mock.Anything)
	mockCache.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
