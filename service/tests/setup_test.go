package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	cachemocks "github.com/lmarques/sigilo/cache/mocks"
	mqmocks "github.com/lmarques/sigilo/mq/mocks"
	"github.com/lmarques/sigilo/service"
	storemocks "github.com/lmarques/sigilo/store/mocks"
	"github.com/lmarques/sigilo/worker"
)

// Helper to setup the service with mocks
func setupService(t *testing.T) (*service.Service, *storemocks.MockStore, *cachemocks.MockCache, *mqmocks.MockMQ, *worker.ActivityBatcher) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	// Real batcher is used; tests verify items are pushed to its channel
	activityBatcher := worker.NewActivityBatcher(mockStore, 1000)

	svc, err := service.NewService(
		mockStore,
		mockCache,
		mockMQ,
		activityBatcher,
		nil,
		[]byte("secret"),
		false,
	)
	assert.NoError(t, err)

	return svc, mockStore, mockCache, mockMQ, activityBatcher
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}
