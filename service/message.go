package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/lmarques/sigilo/cache"
	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/store"
	"github.com/lmarques/sigilo/worker"
)

// Newest messages served per page load
const messagePageSize = 200

type SendParams struct {
	ChatId    string
	Type      models.MessageType
	Text      string
	ImageUrl  string
	Sha256    string
	Signature string
}

type NewMessageEvent struct {
	Type string         `json:"type"`
	Data models.Message `json:"data"`
}

type EditedMessageEvent struct {
	Type string         `json:"type"`
	Data models.Message `json:"data"`
}

type DeletedMessageEvent struct {
	Type string             `json:"type"`
	Data DeletedMessageData `json:"data"`
}

type DeletedMessageData struct {
	ChatId    string `json:"chatId"`
	MessageId string `json:"messageId"`
	DeletedAt int64  `json:"deletedAt"`
}

// SendMessage persists a sealed message and fans it out. The store write is
// synchronous so a delivered ack means the message is durable; cache fill
// and broadcast happen after the fact.
func (s *Service) SendMessage(ctx context.Context, user models.User, params SendParams) (models.Message, error) {
	// 1. Validation
	if err := ValidateSendMessage(params); err != nil {
		return models.Message{}, err
	}

	// 2. Membership gate before anything is written
	isMember, err := s.Store.IsChatMember(ctx, params.ChatId, user.Id)
	if err != nil {
		return models.Message{}, err
	}
	if !isMember {
		return models.Message{}, ErrNotInChat
	}

	msg := models.Message{
		ChatId:    params.ChatId,
		AuthorId:  user.Id,
		Type:      params.Type,
		Text:      params.Text,
		ImageUrl:  params.ImageUrl,
		Sha256:    params.Sha256,
		Signature: params.Signature,
	}

	// 3. Persist
	createdMsg, err := s.Store.CreateMessage(ctx, msg)
	if err != nil {
		return models.Message{}, err
	}

	// 4. Coalesced chat activity touch
	s.ActivityBatcher.TouchCh <- worker.ActivityTouch{
		ChatId: createdMsg.ChatId,
		At:     createdMsg.CreatedAt,
	}

	// Async side-effects - return to caller as soon as store operation is done
	go func() {
		// 5. Add to cache
		msgBytes, err := json.Marshal(createdMsg)
		if err == nil {
			_, messageKey, keyErr := splitMessageId(createdMsg.Id)
			if keyErr == nil {
				s.Cache.AddMessage(context.Background(), createdMsg.ChatId, messageKey, createdMsg.CreatedAt, msgBytes)
			}
		}

		// 6. Broadcast to the chat's channel
		event := NewMessageEvent{Type: "message:new", Data: createdMsg}
		if eventBytes, err := json.Marshal(event); err == nil {
			s.Cache.Publish(context.Background(), "chat:"+createdMsg.ChatId, eventBytes)
		}
	}()

	return createdMsg, nil
}

type EditParams struct {
	MessageId string
	Text      string
	Sha256    string
	Signature string
}

// EditMessage replaces a message's sealed text together with its integrity
// hash and signature; the old ones cover the old ciphertext and would never
// verify against the new text. Only the author may edit, and tombstoned
// messages stay tombstoned.
func (s *Service) EditMessage(ctx context.Context, user models.User, params EditParams) (models.Message, error) {
	if params.Text == "" {
		return models.Message{}, ErrEmptyText
	}
	if len(params.Text) > maxSealedTextBytes {
		return models.Message{}, ErrBadRequest
	}
	if err := validateSealedTextExtras(params.Text, params.Sha256, params.Signature); err != nil {
		return models.Message{}, err
	}

	chatId, messageKey, err := splitMessageId(params.MessageId)
	if err != nil {
		return models.Message{}, ErrMessageNotFound
	}

	msg, err := s.Store.GetMessage(ctx, chatId, messageKey)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.Message{}, ErrMessageNotFound
		}
		return models.Message{}, err
	}

	if msg.AuthorId != user.Id {
		return models.Message{}, ErrNotAuthor
	}
	if msg.DeletedAt > 0 {
		return models.Message{}, ErrMessageDeleted
	}

	updatedMsg, err := s.Store.EditMessage(ctx, chatId, messageKey, params.Text, params.Sha256, params.Signature, time.Now().UnixMilli())
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.Message{}, ErrMessageNotFound
		}
		return models.Message{}, err
	}

	// Async side-effects - return to caller as soon as store operation is done
	go func() {
		if msgBytes, err := json.Marshal(updatedMsg); err == nil {
			s.Cache.AddMessage(context.Background(), chatId, messageKey, updatedMsg.CreatedAt, msgBytes)
		}

		event := EditedMessageEvent{Type: "message:edited", Data: updatedMsg}
		if eventBytes, err := json.Marshal(event); err == nil {
			s.Cache.Publish(context.Background(), "chat:"+chatId, eventBytes)
		}
	}()

	return updatedMsg, nil
}

// DeleteMessage soft-deletes: the row survives as a tombstone so clients
// can render "message deleted" in place, but the sealed content is wiped.
func (s *Service) DeleteMessage(ctx context.Context, user models.User, messageId string) error {
	chatId, messageKey, err := splitMessageId(messageId)
	if err != nil {
		return ErrMessageNotFound
	}

	msg, err := s.Store.GetMessage(ctx, chatId, messageKey)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return ErrMessageNotFound
		}
		return err
	}

	if msg.AuthorId != user.Id {
		return ErrNotAuthor
	}
	if msg.DeletedAt > 0 {
		return nil
	}

	deletedAt := time.Now().UnixMilli()
	tombstone, err := s.Store.MarkMessageDeleted(ctx, chatId, messageKey, deletedAt)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return ErrMessageNotFound
		}
		return err
	}

	// Async side-effects - return to caller as soon as store operation is done
	go func() {
		if msgBytes, err := json.Marshal(tombstone); err == nil {
			s.Cache.AddMessage(context.Background(), chatId, messageKey, tombstone.CreatedAt, msgBytes)
		}

		event := DeletedMessageEvent{
			Type: "message:deleted",
			Data: DeletedMessageData{ChatId: chatId, MessageId: messageId, DeletedAt: deletedAt},
		}
		if eventBytes, err := json.Marshal(event); err == nil {
			s.Cache.Publish(context.Background(), "chat:"+chatId, eventBytes)
		}
	}()

	return nil
}

// PageMessages loads the newest page of a chat, serving from the cache when
// it is marked complete and falling back to a store read plus a cache seed
// otherwise.
func (s *Service) PageMessages(ctx context.Context, user models.User, chatId string) ([]models.Message, error) {
	isMember, err := s.Store.IsChatMember(ctx, chatId, user.Id)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrNotInChat
	}

	cachedRaw, cacheErr := s.Cache.GetMessages(ctx, chatId)
	cachedMsgs := []models.Message{}
	if cacheErr == nil {
		for _, b := range cachedRaw {
			var msg models.Message
			if err := json.Unmarshal(b, &msg); err == nil {
				cachedMsgs = append(cachedMsgs, msg)
			}
		}
	}

	isComplete, _ := s.Cache.IsChatComplete(ctx, chatId)
	if isComplete && cacheErr == nil {
		return cachedMsgs, nil
	}

	// Fallback to the store, merged with whatever the cache already had
	dbMsgs, err := s.Store.GetChatMessages(ctx, chatId, messagePageSize)
	if err != nil {
		return nil, err
	}

	finalMsgs := mergeMessages(dbMsgs, cachedMsgs)
	if len(finalMsgs) > messagePageSize {
		finalMsgs = finalMsgs[len(finalMsgs)-messagePageSize:]
	}

	batchItems := make([]cache.MessageCacheItem, 0, len(dbMsgs))
	for _, msg := range dbMsgs {
		_, messageKey, err := splitMessageId(msg.Id)
		if err != nil {
			continue
		}
		msgBytes, _ := json.Marshal(msg)
		batchItems = append(batchItems, cache.MessageCacheItem{
			MessageKey: messageKey,
			Score:      msg.CreatedAt,
			Data:       msgBytes,
		})
	}

	if len(batchItems) > 0 {
		if err := s.Cache.AddMessagesBatch(ctx, chatId, batchItems); err != nil {
			log.Printf("Failed to seed message cache for chat %s: %v", chatId, err)
		} else {
			// Cache now holds the full newest window, so the next page load
			// can skip the store
			s.Cache.SetChatComplete(ctx, chatId)
		}
	} else {
		// Mark as complete even if currently empty
		s.Cache.SetChatComplete(ctx, chatId)
	}

	return finalMsgs, nil
}

// mergeMessages zips two id-sorted message lists. On collision the cached
// copy wins; it carries the freshest edit or tombstone.
func mergeMessages(dbMsgs []models.Message, cachedMsgs []models.Message) []models.Message {
	finalMsgs := make([]models.Message, 0, len(dbMsgs)+len(cachedMsgs))
	i, j := 0, 0
	for i < len(dbMsgs) && j < len(cachedMsgs) {
		dbId := dbMsgs[i].Id
		cachedId := cachedMsgs[j].Id

		if dbId == cachedId {
			finalMsgs = append(finalMsgs, cachedMsgs[j])
			i++
			j++
		} else if dbId < cachedId {
			finalMsgs = append(finalMsgs, dbMsgs[i])
			i++
		} else {
			finalMsgs = append(finalMsgs, cachedMsgs[j])
			j++
		}
	}
	if i < len(dbMsgs) {
		finalMsgs = append(finalMsgs, dbMsgs[i:]...)
	}
	if j < len(cachedMsgs) {
		finalMsgs = append(finalMsgs, cachedMsgs[j:]...)
	}
	return finalMsgs
}

// Message ids are "<chatId>:<uuidv7>" so edit and delete requests can locate
// the row without a secondary index.
func splitMessageId(messageId string) (string, string, error) {
	chatId, messageKey, found := strings.Cut(messageId, ":")
	if !found || chatId == "" || messageKey == "" {
		return "", "", errors.New("malformed message id")
	}
	if _, err := getTimeFromUUIDv7(messageKey); err != nil {
		return "", "", err
	}
	return chatId, messageKey, nil
}

func getTimeFromUUIDv7(messageKey string) (time.Time, error) {
	id, err := uuid.FromString(messageKey)
	if err != nil {
		return time.Time{}, err
	}
	if id.Version() != uuid.V7 {
		return time.Time{}, errors.New("not a v7 uuid")
	}
	ts, err := uuid.TimestampFromV7(id)
	if err != nil {
		return time.Time{}, err
	}
	return ts.Time()
}
