package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	issuerURLVar    = "ISSUER_URL"
	clientIDVar     = "CLIENT_ID"
	clientSecretVar = "CLIENT_SECRET"
	scopesVar       = "SCOPES"
	tokenFileVar    = "TOKEN_FILE"
)

type ProviderConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetTokenFile() string
}

type Provider struct{}

var _ ProviderConfig = Provider{}

func (Provider) GetIssuerURL() string {
	return GetEnv(issuerURLVar, "http://localhost:8080")
}

func (Provider) GetClientID() string {
	return GetEnv(clientIDVar, "")
}

func (Provider) GetClientSecret() string {
	return GetEnv(clientSecretVar, "")
}

func (Provider) GetScopes() []string {
	scopes := GetEnv(scopesVar, "openid profile email offline_access")
	return strings.Fields(scopes)
}

// GetTokenFile returns the path of the provider-owned token storage file.
// Defaults to a per-user location so multiple processes share one session.
func (Provider) GetTokenFile() string {
	if file := GetEnv(tokenFileVar, ""); file != "" {
		return file
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "go-auth-client", "session.bin")
}
