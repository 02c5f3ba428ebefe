package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/lmarques/sigilo/cache"
	"github.com/lmarques/sigilo/cryptox"
	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/mq"
	"github.com/lmarques/sigilo/store"
)

type ChatRekeyMessage struct {
	ChatId        string `json:"chatId"`
	RemovedUserId string `json:"removedUserId"`
}

// RekeyConsumer drains the re-key queue. Each job mints a fresh session key
// for a chat that lost a participant, encrypts a copy per remaining member
// and replaces the stored key copies, so the removed user's key copy is dead
// weight even if they kept it.
type RekeyConsumer struct {
	rekeyQueue  mq.MessageQueue
	sigiloStore store.SigiloStore
	sigiloCache cache.SigiloCache
	devMode     bool
}

func NewRekeyConsumer(rekeyQueue mq.MessageQueue, sigiloStore store.SigiloStore, sigiloCache cache.SigiloCache, devMode bool) *RekeyConsumer {
	return &RekeyConsumer{
		rekeyQueue:  rekeyQueue,
		sigiloStore: sigiloStore,
		sigiloCache: sigiloCache,
		devMode:     devMode,
	}
}

// visibilityTimeout bounds one re-key attempt, in seconds
const visibilityTimeout = 60

type rekeyedEvent struct {
	Type string           `json:"type"`
	Data ChatRekeyMessage `json:"data"`
}

func (rekeyConsumer RekeyConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := rekeyConsumer.rekeyQueue.Receive(shutdownCtx, visibilityTimeout)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("rekeyConsumer receive error: %v", err)
			continue
		}

		if msg == nil {
			continue
		}

		var rekeyMsg ChatRekeyMessage
		if err := json.Unmarshal([]byte(msg.Body), &rekeyMsg); err != nil {
			log.Printf("rekeyConsumer dropping malformed message: %v", err)
			rekeyConsumer.rekeyQueue.Delete(context.Background(), msg)
			continue
		}

		// timeout should be a little less than queue visibility timeout
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)
		err = rekeyConsumer.rekeyChat(ctx, rekeyMsg)
		cancel()

		if err != nil {
			log.Printf("Failed to re-key chat %s: %v", rekeyMsg.ChatId, err)
			continue
		}

		err = rekeyConsumer.rekeyQueue.Delete(context.Background(), msg)
		if err != nil {
			log.Printf("rekeyConsumer delete error: %v", err)
			continue
		}
	}
}

func (rekeyConsumer RekeyConsumer) rekeyChat(ctx context.Context, rekeyMsg ChatRekeyMessage) error {
	memberIds, err := rekeyConsumer.sigiloStore.GetChatMembers(ctx, rekeyMsg.ChatId)
	if err != nil {
		return err
	}
	if len(memberIds) == 0 {
		// Everyone left, nothing to protect
		return nil
	}

	memberPubKeys := make(map[string]string, len(memberIds))
	for _, memberId := range memberIds {
		user, err := rekeyConsumer.sigiloStore.GetUser(ctx, memberId)
		if err != nil {
			if errors.Is(err, store.ErrItemNotFound) {
				continue
			}
			return err
		}
		memberPubKeys[memberId] = user.PublicKeyPem
	}

	newKey, err := cryptox.NewRandomSessionKey()
	if err != nil {
		return err
	}

	copies, err := cryptox.EncryptSessionKeyCopies(newKey, rekeyConsumer.devMode, memberPubKeys)
	if err != nil {
		return err
	}

	if err := rekeyConsumer.sigiloStore.UpsertChatKeys(ctx, chatKeyCopies(rekeyMsg.ChatId, copies)); err != nil {
		return err
	}

	// Drop the chat's hot window so the next page load rebuilds it after the
	// membership change
	if err := rekeyConsumer.sigiloCache.InvalidateChats(ctx, []string{rekeyMsg.ChatId}); err != nil {
		log.Printf("Failed to invalidate cache for chat %s: %v", rekeyMsg.ChatId, err)
	}

	// Clients re-fetch their key copy and re-seal drafts on this signal
	event, err := json.Marshal(rekeyedEvent{Type: "chat:rekeyed", Data: rekeyMsg})
	if err != nil {
		return err
	}
	if err := rekeyConsumer.sigiloCache.Publish(ctx, "chat:"+rekeyMsg.ChatId, event); err != nil {
		log.Printf("Failed to publish rekeyed event for chat %s: %v", rekeyMsg.ChatId, err)
	}

	log.Printf("Re-keyed chat %s after removing user %s (%d key copies)", rekeyMsg.ChatId, rekeyMsg.RemovedUserId, len(copies))
	return nil
}

func chatKeyCopies(chatId string, copies map[string]string) []models.ChatKeyCopy {
	out := make([]models.ChatKeyCopy, 0, len(copies))
	for userId, encryptedKey := range copies {
		out = append(out, models.ChatKeyCopy{
			ChatId:       chatId,
			UserId:       userId,
			EncryptedKey: encryptedKey,
		})
	}
	return out
}
