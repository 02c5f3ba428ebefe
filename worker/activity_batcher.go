package worker

import (
	"context"
	"log"
	"time"

	"github.com/lmarques/sigilo/store"
)

type ActivityTouch struct {
	ChatId string
	At     int64
}

// ActivityBatcher coalesces per-chat last-activity updates so a burst of
// messages in one chat costs a single store write per flush interval.
type ActivityBatcher struct {
	TouchCh            chan ActivityTouch
	sigiloStore        store.SigiloStore
	tickerMilliseconds int
}

func NewActivityBatcher(sigiloStore store.SigiloStore, tickerMilliseconds int) *ActivityBatcher {
	return &ActivityBatcher{
		TouchCh:            make(chan ActivityTouch, 1024),
		sigiloStore:        sigiloStore,
		tickerMilliseconds: tickerMilliseconds,
	}
}

func (b *ActivityBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	// Key: chatId -> latest activity timestamp seen this interval
	pending := make(map[string]int64)

	flush := func() {
		for chatId, at := range pending {
			go func(chatId string, at int64) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := b.sigiloStore.TouchChatLastMessage(ctx, chatId, at); err != nil {
					log.Printf("Failed to touch chat activity for %s: %v", chatId, err)
				}
			}(chatId, at)
		}
		pending = make(map[string]int64)
	}

	for {
		select {
		case touch := <-b.TouchCh:
			if touch.At > pending[touch.ChatId] {
				pending[touch.ChatId] = touch.At
			}

			if len(pending) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			flush()
			return
		}
	}
}
