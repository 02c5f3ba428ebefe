package rest

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/service"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type oauthLoginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

// authResponse carries the user's encrypted key material so a fresh device
// can unlock its private key with nothing but the password.
type authResponse struct {
	Id                  string `json:"id"`
	Name                string `json:"name"`
	Email               string `json:"email"`
	Token               string `json:"token"`
	PublicKeyPem        string `json:"publicKeyPem,omitempty"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey,omitempty"`
	PrivateKeyNonce     string `json:"iv,omitempty"`
}

func newAuthResponse(user models.User, token string) authResponse {
	return authResponse{
		Id:                  user.Id,
		Name:                user.Name,
		Email:               user.Email,
		Token:               token,
		PublicKeyPem:        user.PublicKeyPem,
		EncryptedPrivateKey: user.EncryptedPrivateKey,
		PrivateKeyNonce:     user.PrivateKeyNonce,
	}
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.Service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		log.Printf("Register failed: %v", err)
		h.sendError(w, err)
		return
	}

	h.sendResponse(w, newAuthResponse(user, token))
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.Service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		log.Printf("Login failed: %v", err)
		h.sendError(w, err)
		return
	}

	h.sendResponse(w, newAuthResponse(user, token))
}

func (h *Handler) HandleOauthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req oauthLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.Service.LoginOauth(r.Context(), req.Provider, req.Code)
	if err != nil {
		log.Printf("OAuth login failed: %v", err)
		h.sendError(w, err)
		return
	}

	h.sendResponse(w, newAuthResponse(user, token))
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	h.sendResponse(w, newAuthResponse(user, ""))
}

type publicKeyRequest struct {
	PublicKeyPem string `json:"publicKeyPem"`
}

type publicKeyResponse struct {
	UserId       string `json:"userId"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// HandleMyPublicKey handles PUT /keys/public
func (h *Handler) HandleMyPublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req publicKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.UpsertMyPublicKey(r.Context(), user, req.PublicKeyPem); err != nil {
		h.sendError(w, err)
		return
	}

	h.sendResponse(w, publicKeyResponse{UserId: user.Id, PublicKeyPem: req.PublicKeyPem})
}

// HandleGetPublicKey handles GET /keys/public/{userId}
func (h *Handler) HandleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	userId := strings.TrimPrefix(r.URL.Path, "/keys/public/")
	if userId == "" || strings.Contains(userId, "/") {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	pem, err := h.Service.GetPublicKey(r.Context(), userId)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.sendResponse(w, publicKeyResponse{UserId: userId, PublicKeyPem: pem})
}

type rotateKeyPairRequest struct {
	Password string `json:"password"`
}

type rotateKeyPairResponse struct {
	PublicKeyPem        string `json:"publicKeyPem"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
	PrivateKeyNonce     string `json:"iv"`
	PrivateKeyPem       string `json:"privateKeyPem"`
}

// HandleRotateKeyPair handles POST /keys/rotate. The plaintext private PEM
// goes back to the requesting client only; it is never stored.
func (h *Handler) HandleRotateKeyPair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req rotateKeyPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	keyPair, privatePem, err := h.Service.RotateKeyPair(r.Context(), user, req.Password)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.sendResponse(w, rotateKeyPairResponse{
		PublicKeyPem:        keyPair.PublicKeyPem,
		EncryptedPrivateKey: keyPair.EncryptedPrivateKey,
		PrivateKeyNonce:     keyPair.Nonce,
		PrivateKeyPem:       privatePem,
	})
}

type keyExchangeRequest struct {
	ChatId string            `json:"chatId"`
	Copies map[string]string `json:"copies"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// HandleKeyExchange handles POST /keys/exchange
func (h *Handler) HandleKeyExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req keyExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.ExchangeChatKeys(r.Context(), user, req.ChatId, req.Copies); err != nil {
		h.sendError(w, err)
		return
	}

	h.sendResponse(w, successResponse{Success: true})
}

type chatKeyResponse struct {
	ChatId       string `json:"chatId"`
	EncryptedKey string `json:"encryptedKey"`
}

// HandleChatKey handles GET /keys/chat/{chatId}
func (h *Handler) HandleChatKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	chatId := strings.TrimPrefix(r.URL.Path, "/keys/chat/")
	if chatId == "" || strings.Contains(chatId, "/") {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	keyCopy, err := h.Service.FetchMyEncryptedKey(r.Context(), user, chatId)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.sendResponse(w, chatKeyResponse{ChatId: keyCopy.ChatId, EncryptedKey: keyCopy.EncryptedKey})
}

type createChatRequest struct {
	Title     string            `json:"title"`
	IsGroup   bool              `json:"isGroup"`
	MemberIds []string          `json:"memberIds"`
	KeyCopies map[string]string `json:"keyCopies"`
}

// HandleChats handles POST /chats (create) and GET /chats (list)
func (h *Handler) HandleChats(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req createChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		chat, err := h.Service.CreateChat(r.Context(), user, service.CreateChatParams{
			Title:     req.Title,
			IsGroup:   req.IsGroup,
			MemberIds: req.MemberIds,
			KeyCopies: req.KeyCopies,
		})
		if err != nil {
			h.sendError(w, err)
			return
		}
		h.sendResponse(w, chat)

	case http.MethodGet:
		chats, err := h.Service.ListMyChats(r.Context(), user)
		if err != nil {
			h.sendError(w, err)
			return
		}
		h.sendResponse(w, chats)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type participantsRequest struct {
	UserIds []string `json:"userIds"`
	UserId  string   `json:"userId"`
}

// HandleChatSubroutes handles /chats/{chatId}, /chats/{chatId}/participants
// and /chats/{chatId}/messages
func (h *Handler) HandleChatSubroutes(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/chats/"), "/")
	chatId := parts[0]
	if chatId == "" {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		detail, err := h.Service.GetChatDetail(r.Context(), user, chatId)
		if err != nil {
			h.sendError(w, err)
			return
		}
		h.sendResponse(w, detail)

	case len(parts) == 2 && parts[1] == "participants":
		var req participantsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodPost:
			if err := h.Service.AddParticipants(r.Context(), user, chatId, req.UserIds); err != nil {
				h.sendError(w, err)
				return
			}
		case http.MethodDelete:
			if err := h.Service.RemoveParticipant(r.Context(), user, chatId, req.UserId); err != nil {
				h.sendError(w, err)
				return
			}
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.sendResponse(w, successResponse{Success: true})

	case len(parts) == 2 && parts[1] == "messages":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		messages, err := h.Service.PageMessages(r.Context(), user, chatId)
		if err != nil {
			h.sendError(w, err)
			return
		}
		h.sendResponse(w, messages)

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	token := h.getTokenFromAuthHeader(r)
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return models.User{}, false
	}
	return user, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) sendError(w http.ResponseWriter, err error) {
	var status int
	switch service.KindOf(err) {
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindAuth:
		status = http.StatusUnauthorized
	case service.KindForbidden:
		status = http.StatusForbidden
	case service.KindNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: service.CodeOf(err)})
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
