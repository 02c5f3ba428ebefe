package service

import (
	"github.com/lmarques/sigilo/cache"
	"github.com/lmarques/sigilo/mq"
	"github.com/lmarques/sigilo/store"
	"github.com/lmarques/sigilo/worker"
	"golang.org/x/oauth2"
)

type Service struct {
	Store           store.SigiloStore
	Cache           cache.SigiloCache
	RekeyQueue      mq.MessageQueue
	ActivityBatcher *worker.ActivityBatcher
	OAuthConfigs    map[string]*oauth2.Config
	JWTSecret       []byte
	DevMode         bool
}

func NewService(
	store store.SigiloStore,
	cache cache.SigiloCache,
	rekeyQueue mq.MessageQueue,
	activityBatcher *worker.ActivityBatcher,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
	devMode bool,
) (*Service, error) {
	oauthConfigs, err := addOauthEndpointsAndScopes(oauthConfigs)
	if err != nil {
		return nil, err
	}

	return &Service{
		Store:           store,
		Cache:           cache,
		RekeyQueue:      rekeyQueue,
		ActivityBatcher: activityBatcher,
		OAuthConfigs:    oauthConfigs,
		JWTSecret:       jwtSecret,
		DevMode:         devMode,
	}, nil
}
