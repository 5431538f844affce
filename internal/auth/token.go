package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// TokenSource supplies an opaque bearer token for the monitoring API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

var ErrEmptyToken = errors.New("token endpoint returned an empty access token")

type ServiceAccount struct {
	ProjectID    string
	Email        string
	PrivateKey   string
	PrivateKeyID string
	ClientID     string
	TokenURL     string
}

// ServiceAccountTokenSource exchanges a signed JWT for an access token on every call.
// Tokens are not cached between runs.
type ServiceAccountTokenSource struct {
	conf   *jwt.Config
	client *http.Client
}

func NewServiceAccountTokenSource(sa ServiceAccount, client *http.Client, scopes ...string) (*ServiceAccountTokenSource, error) {
	keyJSON, err := json.Marshal(map[string]string{
		"type":                        "service_account",
		"project_id":                  sa.ProjectID,
		"private_key_id":              sa.PrivateKeyID,
		"private_key":                 sa.PrivateKey,
		"client_email":                sa.Email,
		"client_id":                   sa.ClientID,
		"auth_uri":                    "https://accounts.google.com/o/oauth2/auth",
		"token_uri":                   sa.TokenURL,
		"auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
		"client_x509_cert_url":        "https://www.googleapis.com/robot/v1/metadata/x509/" + url.PathEscape(sa.Email),
	})
	if err != nil {
		return nil, fmt.Errorf("encode service account: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(keyJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	if sa.TokenURL != "" {
		conf.TokenURL = sa.TokenURL
	}
	return &ServiceAccountTokenSource{conf: conf, client: client}, nil
}

func (s *ServiceAccountTokenSource) Token(ctx context.Context) (string, error) {
	if s.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	}
	tok, err := s.conf.TokenSource(ctx).Token()
	if err != nil {
		return "", fmt.Errorf("exchange service account token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", ErrEmptyToken
	}
	return tok.AccessToken, nil
}

// StaticTokenSource always returns the same token. Used for local runs against emulators.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrEmptyToken
	}
	return string(s), nil
}
