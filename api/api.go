package api

import (
	"context"
	"log"
	"net/http"

	"github.com/lmarques/sigilo/api/rest"
	"github.com/lmarques/sigilo/api/ws"
	"github.com/lmarques/sigilo/cache"
	"github.com/lmarques/sigilo/mq"
	"github.com/lmarques/sigilo/service"
	"github.com/lmarques/sigilo/store"
	"github.com/lmarques/sigilo/worker"
	"golang.org/x/oauth2"
)

type SigiloAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewSigiloAPI(
	sigiloStore store.SigiloStore,
	rekeyQueue mq.MessageQueue,
	sigiloCache cache.SigiloCache,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
	devMode bool,
	shutdownCtx context.Context,
) (*SigiloAPI, error) {
	wsHub := ws.NewHub(sigiloCache)
	go wsHub.Run()

	activityBatcher := worker.NewActivityBatcher(sigiloStore, 60000)
	go activityBatcher.Run(shutdownCtx)

	rekeyConsumer := worker.NewRekeyConsumer(rekeyQueue, sigiloStore, sigiloCache, devMode)
	go rekeyConsumer.Run(shutdownCtx)

	svc, err := service.NewService(
		sigiloStore,
		sigiloCache,
		rekeyQueue,
		activityBatcher,
		oauthConfigs,
		jwtSecret,
		devMode,
	)
	if err != nil {
		log.Printf("Failed to create service: %v", err)
		return &SigiloAPI{}, err
	}

	restHandler := rest.NewHandler(svc)
	wsHandler := ws.NewHandler(svc, wsHub)

	return &SigiloAPI{
		restHandler: restHandler,
		wsHandler:   wsHandler,
		shutdownCtx: shutdownCtx,
	}, nil
}

func (sigiloAPI *SigiloAPI) RegisterRoutes(mux *http.ServeMux, requiredOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/register", sigiloAPI.restHandler.HandleRegister)
	mux.HandleFunc("/login", sigiloAPI.restHandler.HandleLogin)
	mux.HandleFunc("/oauth/login", sigiloAPI.restHandler.HandleOauthLogin)
	mux.HandleFunc("/me", sigiloAPI.restHandler.HandleMe)

	mux.HandleFunc("/keys/public", sigiloAPI.restHandler.HandleMyPublicKey)
	mux.HandleFunc("/keys/public/", sigiloAPI.restHandler.HandleGetPublicKey)
	mux.HandleFunc("/keys/rotate", sigiloAPI.restHandler.HandleRotateKeyPair)
	mux.HandleFunc("/keys/exchange", sigiloAPI.restHandler.HandleKeyExchange)
	mux.HandleFunc("/keys/chat/", sigiloAPI.restHandler.HandleChatKey)

	mux.HandleFunc("/chats", sigiloAPI.restHandler.HandleChats)
	mux.HandleFunc("/chats/", sigiloAPI.restHandler.HandleChatSubroutes)

	wsUpgrader := sigiloAPI.wsHandler.NewWsUpgrader(requiredOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		sigiloAPI.wsHandler.ServeWS(wsUpgrader, w, r, sigiloAPI.shutdownCtx)
	})
}
