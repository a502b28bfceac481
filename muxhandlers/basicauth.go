package muxhandlers

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/vitalvas/relay/mux"
)

// ErrNoAuthSource is returned when BasicAuthConfig has neither Validate
// nor Credentials.
var ErrNoAuthSource = errors.New("basic auth: Validate or Credentials is required")

// ErrInvalidUsername is returned for a Credentials username containing a
// colon, which Basic credentials cannot carry.
var ErrInvalidUsername = errors.New("basic auth: username must not contain a colon")

const basicAuthUserValue = "auth.user"

// BasicAuthConfig configures BasicAuthMiddleware (RFC 7617).
type BasicAuthConfig struct {
	// Realm names the protection space, "Restricted" by default.
	Realm string

	// Validate checks credentials and wins over Credentials. It receives
	// the chain Context so decisions can depend on the route.
	Validate func(c *mux.Context, username, password string) bool

	// Credentials maps usernames to passwords. Passwords are compared as
	// SHA-256 digests in constant time.
	Credentials map[string]string
}

// BasicAuthUser returns the username BasicAuthMiddleware accepted for c,
// or "".
func BasicAuthUser(c *mux.Context) string {
	v, _ := c.Get(basicAuthUserValue)
	user, _ := v.(string)
	return user
}

// BasicAuthMiddleware admits requests carrying acceptable Basic
// credentials and stores the username for BasicAuthUser. Other requests
// get 401 with a challenge naming the realm and the UTF-8 charset.
func BasicAuthMiddleware(cfg BasicAuthConfig) (mux.Handler, error) {
	check := cfg.Validate
	if check == nil {
		if len(cfg.Credentials) == 0 {
			return nil, ErrNoAuthSource
		}

		store, err := newCredentialStore(cfg.Credentials)
		if err != nil {
			return nil, err
		}
		check = store.check
	}

	realm := cfg.Realm
	if realm == "" {
		realm = "Restricted"
	}
	challenge := "Basic realm=" + strconv.Quote(realm) + `, charset="UTF-8"`

	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		username, password, ok := c.Request.BasicAuth()
		if ok && check(c, username, password) {
			c.Set(basicAuthUserValue, username)
			return mux.Next()
		}

		c.Writer.Header().Set("WWW-Authenticate", challenge)
		return c.Error(http.StatusUnauthorized)
	}), nil
}

type credentialStore struct {
	digests map[string][sha256.Size]byte
	// decoy is compared for unknown users so lookups cost the same.
	decoy [sha256.Size]byte
}

func newCredentialStore(credentials map[string]string) (*credentialStore, error) {
	s := &credentialStore{
		digests: make(map[string][sha256.Size]byte, len(credentials)),
		decoy:   sha256.Sum256([]byte("\x00decoy")),
	}

	for user, password := range credentials {
		if strings.Contains(user, ":") {
			return nil, ErrInvalidUsername
		}
		s.digests[user] = sha256.Sum256([]byte(password))
	}

	return s, nil
}

func (s *credentialStore) check(_ *mux.Context, username, password string) bool {
	want, known := s.digests[username]
	if !known {
		want = s.decoy
	}

	got := sha256.Sum256([]byte(password))
	match := subtle.ConstantTimeCompare(got[:], want[:]) == 1

	return known && match
}
