package oidcgateway

import (
	"context"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/sessionstore"
)

// Role claims that grant admin in the readiness contract.
var adminRoles = map[string]bool{
	"admin":        true,
	"super_admin":  true,
	"tenant_admin": true,
}

// sessionFromToken builds the Session/Profile pair for a token. Claims are
// read straight from the access token when it is a JWT - the provider
// already authenticated it to us, so no local signature check is needed.
// Opaque access tokens fall back to the UserInfo endpoint.
func (g *Gateway) sessionFromToken(ctx context.Context, token *oauth2.Token) (*sessionstore.Session, *sessionstore.Profile, error) {
	profile, err := profileFromAccessToken(token.AccessToken)
	if err != nil {
		profile, err = g.profileFromUserInfo(ctx, token)
		if err != nil {
			return nil, nil, err
		}
	}

	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = NowTimeFunc().Add(time.Minute)
	}

	session := &sessionstore.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiry,
		UserID:       profile.UserID,
	}
	if !session.Complete() {
		return nil, nil, errors.Wrapf(errors.ErrCorruptedStorage, "[sessionFromToken] provider returned a partial session")
	}
	return session, profile, nil
}

// profileFromAccessToken extracts the profile from JWT access-token claims.
func profileFromAccessToken(rawToken string) (*sessionstore.Profile, error) {
	parsed, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Wrapf(err, "[profileFromAccessToken] not a JWT")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.Wrapf(errors.ErrCorruptedStorage, "[profileFromAccessToken] claims extraction")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.Wrapf(errors.ErrCorruptedStorage, "[profileFromAccessToken] missing sub claim")
	}

	return &sessionstore.Profile{
		UserID:      sub,
		DisplayName: displayNameFromClaims(claims),
		IsAdmin:     isAdminFromClaims(claims),
	}, nil
}

// profileFromUserInfo queries the provider's UserInfo endpoint for opaque
// access tokens.
func (g *Gateway) profileFromUserInfo(ctx context.Context, token *oauth2.Token) (*sessionstore.Profile, error) {
	if g.provider == nil {
		return nil, errors.Wrapf(errors.ErrProviderUnavailable, "[profileFromUserInfo] no discovered provider")
	}
	info, err := g.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, mapProviderError(err)
	}

	var claims struct {
		Name              *string  `json:"name"`
		PreferredUsername *string  `json:"preferred_username"`
		Roles             []string `json:"roles"`
		Admin             bool     `json:"admin"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, errors.Wrapf(err, "[profileFromUserInfo] claims decode")
	}

	displayName := utils.Value(claims.Name)
	if displayName == "" {
		displayName = utils.Value(claims.PreferredUsername)
	}

	isAdmin := claims.Admin
	for _, role := range claims.Roles {
		if adminRoles[role] {
			isAdmin = true
		}
	}

	return &sessionstore.Profile{
		UserID:      info.Subject,
		DisplayName: displayName,
		IsAdmin:     isAdmin,
	}, nil
}

func displayNameFromClaims(claims jwtlib.MapClaims) string {
	if name, ok := claims["name"].(string); ok && name != "" {
		return name
	}
	if name, ok := claims["preferred_username"].(string); ok && name != "" {
		return name
	}
	if email, ok := claims["email"].(string); ok {
		return email
	}
	return ""
}

func isAdminFromClaims(claims jwtlib.MapClaims) bool {
	if admin, ok := claims["admin"].(bool); ok && admin {
		return true
	}
	if roles, ok := claims["roles"].([]any); ok {
		for _, role := range utils.ToStringSlice(roles) {
			if adminRoles[role] {
				return true
			}
		}
	}
	return false
}
