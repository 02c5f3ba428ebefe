package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/lmarques/sigilo/cryptox"
	"github.com/lmarques/sigilo/models"
	"github.com/lmarques/sigilo/store"
)

// Provider-specific structs
type gitHubUser struct {
	Login string `json:"login"`
	ID    int    `json:"id"`
}

type googleUser struct {
	Email string `json:"email"`
	Sub   string `json:"sub"`
}

var oauthAPIs = map[string]struct {
	URL     string
	Headers map[string]string
}{
	"github": {
		URL: "https://api.github.com/user",
		Headers: map[string]string{
			"X-GitHub-Api-Version": "2022-11-28",
		},
	},
	"google": {
		URL:     "https://openidconnect.googleapis.com/v1/userinfo",
		Headers: map[string]string{},
	},
}

var oauthConfigsTemplate = map[string]*oauth2.Config{
	"github": {
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
		Scopes: []string{""},
	},
	"google": {
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"openid", "email"},
	},
}

func addOauthEndpointsAndScopes(oauthConfigs map[string]*oauth2.Config) (map[string]*oauth2.Config, error) {
	for provider := range oauthConfigs {
		template, ok := oauthConfigsTemplate[provider]
		if !ok {
			return nil, fmt.Errorf("unsupported provider: %s", provider)
		}
		oauthConfigs[provider].Endpoint = template.Endpoint
		oauthConfigs[provider].Scopes = template.Scopes
	}

	return oauthConfigs, nil
}

// Register creates a password account and generates the account's RSA key
// pair. Key generation failure is non-fatal; the client can upload a public
// key later.
func (s *Service) Register(ctx context.Context, name string, email string, password string) (models.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || !strings.Contains(email, "@") || len(password) < 8 {
		return models.User{}, "", ErrBadRequest
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", err
	}

	user := models.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(passwordHash),
	}

	keyPair, _, err := cryptox.GenerateKeyPair(password)
	if err != nil {
		log.Printf("Key pair generation failed for %s: %v", email, err)
	} else {
		user.PublicKeyPem = keyPair.PublicKeyPem
		user.EncryptedPrivateKey = keyPair.EncryptedPrivateKey
		user.PrivateKeyNonce = keyPair.Nonce
	}

	createdUser, err := s.Store.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return models.User{}, "", ErrEmailTaken
		}
		return models.User{}, "", err
	}

	token, err := s.CreateJWT(createdUser.Id)
	if err != nil {
		return models.User{}, "", err
	}

	return createdUser, token, nil
}

func (s *Service) Login(ctx context.Context, email string, password string) (models.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.Store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.User{}, "", ErrBadCredentials
		}
		return models.User{}, "", err
	}

	// OAuth accounts have no password hash
	if user.PasswordHash == "" {
		return models.User{}, "", ErrBadCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, "", ErrBadCredentials
	}

	token, err := s.CreateJWT(user.Id)
	if err != nil {
		return models.User{}, "", err
	}

	return user, token, nil
}

func (s *Service) HandleOauth(ctx context.Context, provider string, code string) (models.User, error) {
	conf, ok := s.OAuthConfigs[provider]
	if !ok {
		return models.User{}, fmt.Errorf("unsupported provider: %s", provider)
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		log.Println("Error:", err)
		return models.User{}, err
	}

	client := conf.Client(ctx, tok)
	api, ok := oauthAPIs[provider]
	if !ok {
		return models.User{}, fmt.Errorf("unsupported provider: %s", provider)
	}

	req, err := http.NewRequest("GET", api.URL, nil)
	if err != nil {
		log.Println("Error:", err)
		return models.User{}, err
	}
	for k, v := range api.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error:", err)
		return models.User{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Println("Error:", err)
		return models.User{}, err
	}

	return parseOauthUser(body, provider)
}

func parseOauthUser(jsonData []byte, provider string) (models.User, error) {
	var u models.User
	u.Provider = provider

	switch provider {
	case "github":
		var gh gitHubUser
		if err := json.Unmarshal(jsonData, &gh); err != nil {
			return models.User{}, err
		}
		u.Name = gh.Login
		u.ProviderId = strconv.Itoa(gh.ID)
	case "google":
		var g googleUser
		if err := json.Unmarshal(jsonData, &g); err != nil {
			return models.User{}, err
		}
		u.Name = g.Email
		u.Email = g.Email
		u.ProviderId = g.Sub
	default:
		return models.User{}, fmt.Errorf("unsupported provider: %s", provider)
	}

	return u, nil
}

// LoginOauth signs a user in through an OAuth provider. OAuth accounts start
// without a key pair, so they can read key copies only after uploading a
// public key of their own.
func (s *Service) LoginOauth(ctx context.Context, provider string, code string) (models.User, string, error) {
	user, err := s.HandleOauth(ctx, provider, code)
	if err != nil {
		return models.User{}, "", fmt.Errorf("oauth failed: %w", err)
	}

	createdUser, err := s.Store.GetOrCreateOAuthUser(ctx, user)
	if err != nil {
		return models.User{}, "", fmt.Errorf("create user failed: %w", err)
	}

	token, err := s.CreateJWT(createdUser.Id)
	if err != nil {
		return models.User{}, "", fmt.Errorf("token generation failed: %w", err)
	}

	return createdUser, token, nil
}

func (s *Service) CreateJWT(userId string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userId,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.JWTSecret)
	if err != nil {
		return "", err
	}

	return signedToken, nil
}

func (s *Service) VerifyJWT(tokenString string) (string, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", time.Time{}, err
	}

	if !token.Valid {
		return "", time.Time{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", time.Time{}, errors.New("invalid token claims")
	}

	userId, ok := claims["sub"].(string)
	if !ok {
		return "", time.Time{}, errors.New("missing sub claim")
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return "", time.Time{}, errors.New("missing exp claim")
	}
	expiry := time.Unix(int64(expFloat), 0)

	return userId, expiry, nil
}

func (s *Service) AuthenticateToken(ctx context.Context, token string) (models.User, error) {
	if len(token) == 0 {
		return models.User{}, ErrUnauthorized
	}

	userId, _, err := s.VerifyJWT(token)
	if err != nil {
		return models.User{}, ErrUnauthorized
	}

	user, err := s.Store.GetUser(ctx, userId)
	if err != nil {
		return models.User{}, ErrUnauthorized
	}

	return user, nil
}
