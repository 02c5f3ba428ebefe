package main

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmarques/sigilo/api"
	"github.com/lmarques/sigilo/cache/redis"
	"github.com/lmarques/sigilo/mq/sqsmq"
	"github.com/lmarques/sigilo/store/dynamo"
	"golang.org/x/oauth2"
)

const (
	DynamoDBTable     = "Sigilo"
	SQSChatRekeyQueue = "ChatRekeyQueue"
)

func main() {
	ctx := context.Background()
	devMode := os.Getenv("DEV_MODE") == "true"

	sigiloStore, err := dynamo.NewDynamoSigiloStore(ctx, devMode, os.Getenv("DYNAMODB_ENDPOINT"), DynamoDBTable)
	if err != nil {
		log.Fatalf("Failed to create dynamodb store: %v", err)
	}

	chatRekeyQueue, err := sqsmq.NewSQSMessageQueue(ctx, devMode, os.Getenv("SQS_ENDPOINT"), SQSChatRekeyQueue)
	if err != nil {
		log.Fatalf("Failed to create SQS MQ: %v", err)
	}

	sigiloCache, err := redis.NewRedisSigiloCache(ctx, devMode, os.Getenv("REDIS_ENDPOINT"))
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}

	oauthRedirectURL := os.Getenv("OAUTH_REDIRECT_URL")

	var oauthConfigs = map[string]*oauth2.Config{
		"github": {
			ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			RedirectURL:  oauthRedirectURL,
		},
		"google": {
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  oauthRedirectURL,
		},
	}

	jwtSecret, err := base64.StdEncoding.DecodeString(os.Getenv("JWT_SECRET"))
	if err != nil {
		log.Fatalf("Failed to decode base64 jwtSecret: %v", err)
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	sigiloApi, err := api.NewSigiloAPI(sigiloStore, chatRekeyQueue, sigiloCache, oauthConfigs, jwtSecret, devMode, shutdownCtx)
	if err != nil {
		log.Fatalf("Failed to create sigilo api: %v", err)
	}

	mux := http.NewServeMux()
	sigiloApi.RegisterRoutes(mux, os.Getenv("REQUIRED_ORIGIN"))

	hostPort := "8080"
	if p := os.Getenv("HOST_PORT"); p != "" {
		hostPort = p
	}
	log.Printf("Starting server on host port: %s\n", hostPort)
	log.Fatal(http.ListenAndServe(":"+hostPort, mux))
}
