package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"

	"github.com/lmarques/sigilo/cryptox"
	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/store"
	"github.com/lmarques/sigilo/worker"
)

type CreateChatParams struct {
	Title     string
	IsGroup   bool
	MemberIds []string
	// Per-recipient encrypted session key copies, keyed by user id. Optional:
	// members can exchange keys after creation instead.
	KeyCopies map[string]string
}

type MembersAddedMessage struct {
	Type string           `json:"type"`
	Data MembersAddedData `json:"data"`
}

type MembersAddedData struct {
	ChatId  string   `json:"chatId"`
	UserIds []string `json:"userIds"`
}

func (s *Service) CreateChat(ctx context.Context, user models.User, params CreateChatParams) (models.Chat, error) {
	memberIds := dedupeWith(params.MemberIds, user.Id)

	if params.IsGroup {
		if params.Title == "" || len(memberIds) < 2 {
			return models.Chat{}, ErrBadRequest
		}
	} else {
		// Direct chats are exactly two people and take their title client-side
		if len(memberIds) != 2 {
			return models.Chat{}, ErrBadRequest
		}
	}

	for _, memberId := range memberIds {
		if memberId == user.Id {
			continue
		}
		if _, err := s.Store.GetUser(ctx, memberId); err != nil {
			if errors.Is(err, store.ErrItemNotFound) {
				return models.Chat{}, ErrUserNotFound
			}
			return models.Chat{}, err
		}
	}

	chat := models.Chat{
		Title:       params.Title,
		IsGroup:     params.IsGroup,
		CreatedById: user.Id,
	}

	createdChat, err := s.Store.CreateChat(ctx, chat, memberIds)
	if err != nil {
		return models.Chat{}, err
	}

	copies := params.KeyCopies
	if len(copies) == 0 && s.DevMode {
		// Dev chats get a server-minted key stored as raw base64 so clients
		// without a key pair can still read it
		copies, err = s.mintDevChatKey(memberIds)
		if err != nil {
			log.Printf("Failed to mint dev chat key for %s: %v", createdChat.Id, err)
			copies = nil
		}
	}

	if len(copies) > 0 {
		keyCopies := make([]models.ChatKeyCopy, 0, len(copies))
		for _, memberId := range memberIds {
			if encryptedKey, ok := copies[memberId]; ok && encryptedKey != "" {
				keyCopies = append(keyCopies, models.ChatKeyCopy{
					ChatId:       createdChat.Id,
					UserId:       memberId,
					EncryptedKey: encryptedKey,
				})
			}
		}
		if len(keyCopies) > 0 {
			if err := s.Store.UpsertChatKeys(ctx, keyCopies); err != nil {
				return models.Chat{}, err
			}
		}
	}

	return createdChat, nil
}

func (s *Service) mintDevChatKey(memberIds []string) (map[string]string, error) {
	key, err := cryptox.NewRandomSessionKey()
	if err != nil {
		return nil, err
	}

	memberPubKeys := make(map[string]string, len(memberIds))
	for _, memberId := range memberIds {
		memberPubKeys[memberId] = ""
	}

	return cryptox.EncryptSessionKeyCopies(key, true, memberPubKeys)
}

func (s *Service) ListMyChats(ctx context.Context, user models.User) ([]models.Chat, error) {
	chats, err := s.Store.ListUserChats(ctx, user.Id)
	if err != nil {
		return nil, err
	}

	// Most recently active first
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].LastMessageAt > chats[j].LastMessageAt
	})

	return chats, nil
}

type ChatDetail struct {
	Chat      models.Chat `json:"chat"`
	MemberIds []string    `json:"memberIds"`
	// The caller's own encrypted key copy, empty when none was exchanged yet
	EncryptedKey string `json:"encryptedKey,omitempty"`
}

func (s *Service) GetChatDetail(ctx context.Context, user models.User, chatId string) (ChatDetail, error) {
	isMember, err := s.Store.IsChatMember(ctx, chatId, user.Id)
	if err != nil {
		return ChatDetail{}, err
	}
	if !isMember {
		return ChatDetail{}, ErrNotInChat
	}

	chat, err := s.Store.GetChat(ctx, chatId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return ChatDetail{}, ErrChatNotFound
		}
		return ChatDetail{}, err
	}

	memberIds, err := s.Store.GetChatMembers(ctx, chatId)
	if err != nil {
		return ChatDetail{}, err
	}

	detail := ChatDetail{Chat: chat, MemberIds: memberIds}

	keyCopy, err := s.Store.GetChatKey(ctx, chatId, user.Id)
	if err == nil {
		detail.EncryptedKey = keyCopy.EncryptedKey
	} else if !errors.Is(err, store.ErrItemNotFound) {
		return ChatDetail{}, err
	}

	return detail, nil
}

func (s *Service) AddParticipants(ctx context.Context, user models.User, chatId string, userIds []string) error {
	chat, err := s.Store.GetChat(ctx, chatId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return ErrChatNotFound
		}
		return err
	}

	if !chat.IsGroup {
		return ErrBadRequest
	}
	if chat.CreatedById != user.Id {
		return ErrNotChatCreator
	}

	existing, err := s.Store.GetChatMembers(ctx, chatId)
	if err != nil {
		return err
	}
	members := make(map[string]bool, len(existing))
	for _, id := range existing {
		members[id] = true
	}

	newIds := make([]string, 0, len(userIds))
	for _, id := range dedupeWith(userIds) {
		if members[id] {
			continue
		}
		if _, err := s.Store.GetUser(ctx, id); err != nil {
			if errors.Is(err, store.ErrItemNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		newIds = append(newIds, id)
	}
	if len(newIds) == 0 {
		return nil
	}

	if err := s.Store.AddChatMembers(ctx, chatId, newIds); err != nil {
		return err
	}

	if s.DevMode {
		// Dev key copies are raw base64, so the creator's copy can simply be
		// replicated for the newcomers. Production members run a key exchange.
		if keyCopy, err := s.Store.GetChatKey(ctx, chatId, user.Id); err == nil {
			keyCopies := make([]models.ChatKeyCopy, 0, len(newIds))
			for _, id := range newIds {
				keyCopies = append(keyCopies, models.ChatKeyCopy{
					ChatId:       chatId,
					UserId:       id,
					EncryptedKey: keyCopy.EncryptedKey,
				})
			}
			if err := s.Store.UpsertChatKeys(ctx, keyCopies); err != nil {
				log.Printf("Failed to replicate dev chat key for %s: %v", chatId, err)
			}
		}
	}

	// Async side-effects - return to caller as soon as store operation is done
	go func() {
		msg := MembersAddedMessage{
			Type: "chat:members-added",
			Data: MembersAddedData{ChatId: chatId, UserIds: newIds},
		}
		if msgBytes, err := json.Marshal(msg); err == nil {
			s.Cache.Publish(context.Background(), "chat:"+chatId, msgBytes)
		}
	}()

	return nil
}

// RemoveParticipant takes a user out of a group chat, drops their key copy
// and queues a re-key so the remaining members move to a fresh session key.
// The creator can remove anyone; everyone else can only remove themselves.
func (s *Service) RemoveParticipant(ctx context.Context, user models.User, chatId string, targetUserId string) error {
	chat, err := s.Store.GetChat(ctx, chatId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return ErrChatNotFound
		}
		return err
	}

	if !chat.IsGroup {
		return ErrBadRequest
	}
	if chat.CreatedById != user.Id && user.Id != targetUserId {
		return ErrNotChatCreator
	}

	if err := s.Store.RemoveChatMember(ctx, chatId, targetUserId); err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return ErrNotInChat
		}
		return err
	}

	if err := s.Store.DeleteChatKey(ctx, chatId, targetUserId); err != nil {
		log.Printf("Failed to delete chat key for %s in %s: %v", targetUserId, chatId, err)
	}

	// Async side-effects - return to caller as soon as store operation is done
	go func() {
		msg := worker.ChatRekeyMessage{
			ChatId:        chatId,
			RemovedUserId: targetUserId,
		}
		if msgBytes, err := json.Marshal(msg); err == nil {
			if err := s.RekeyQueue.Send(context.Background(), string(msgBytes)); err != nil {
				log.Printf("Failed to enqueue re-key for chat %s: %v", chatId, err)
			}
		}
	}()

	return nil
}

func dedupeWith(ids []string, extra ...string) []string {
	seen := make(map[string]bool, len(ids)+len(extra))
	out := make([]string, 0, len(ids)+len(extra))
	for _, id := range append(append([]string{}, extra...), ids...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
