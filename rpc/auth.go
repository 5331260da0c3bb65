package rpc

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const defaultClockSkew = 2 * time.Minute

// authenticator validates HMAC-signed bearer tokens guarding transaction
// submission. A zero-length secret disables the check.
type authenticator struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

func newAuthenticator(secret, issuer string) *authenticator {
	return &authenticator{
		secret:    []byte(strings.TrimSpace(secret)),
		issuer:    strings.TrimSpace(issuer),
		clockSkew: defaultClockSkew,
	}
}

func (a *authenticator) enabled() bool {
	return a != nil && len(a.secret) > 0
}

// verify returns nil when the Authorization header carries a valid token.
func (a *authenticator) verify(header string) *RPCError {
	if !a.enabled() {
		return nil
	}
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	token := extractBearer(header)
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	claims, err := a.parseToken(token)
	if err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	if a.issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != a.issuer {
			return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
		}
	}
	return nil
}

func (a *authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.clockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
