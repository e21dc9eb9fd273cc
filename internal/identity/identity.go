package identity

import (
	"errors"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSubject = errors.New("token has no subject claim")

// Provider yields the local user id and announces session changes. An empty
// id means logged out; consumers tear down all open-conversation state when
// they observe one.
type Provider interface {
	UserID() string
	Changes() <-chan string
}

// TokenProvider derives the user id from the session's access token, the
// way the hosted auth layer encodes it: the JWT subject claim. The token is
// minted and verified server-side; the client only extracts identity from
// it, so the claims are read without signature verification.
type TokenProvider struct {
	mu      sync.Mutex
	userID  string
	changes chan string
}

// NewTokenProvider parses the initial token. An empty token starts logged
// out.
func NewTokenProvider(token string) (*TokenProvider, error) {
	p := &TokenProvider{changes: make(chan string, 4)}
	if token == "" {
		return p, nil
	}
	userID, err := subjectOf(token)
	if err != nil {
		return nil, err
	}
	p.userID = userID
	return p, nil
}

// UserID returns the current user id, or "" when logged out.
func (p *TokenProvider) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

// Changes delivers the new user id after each SetToken or Logout.
func (p *TokenProvider) Changes() <-chan string {
	return p.changes
}

// SetToken swaps the session token, notifying on an identity change.
func (p *TokenProvider) SetToken(token string) error {
	userID := ""
	if token != "" {
		var err error
		userID, err = subjectOf(token)
		if err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	changed := p.userID != userID
	p.userID = userID
	if !changed {
		return nil
	}

	// Latest value wins: when the consumer lags, drop its oldest pending
	// notification rather than this one. A logout must never go unobserved.
	for {
		select {
		case p.changes <- userID:
			return nil
		default:
		}
		select {
		case <-p.changes:
		default:
		}
	}
}

// Logout clears the session.
func (p *TokenProvider) Logout() {
	_ = p.SetToken("")
}

func subjectOf(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}

var _ Provider = (*TokenProvider)(nil)
