package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/methminihima/medivault/internal/model"
)

// Persisted session keys.
const (
	KeyToken         = "token"
	KeyUser          = "user"
	KeySessionID     = "sessionId"
	KeySessionExpiry = "sessionExpiry"
	KeyRememberMe    = "rememberMe"
)

const sessionScope = "session"

// SessionStore persists the authenticated session one field per key. A
// session missing any of token, user or expiry loads as no session.
type SessionStore struct {
	*KVStore
	sealer *Sealer
}

// NewSessionStore creates a session store. When sealer is non-nil the token
// is encrypted at rest.
func NewSessionStore(db *sql.DB, sealer *Sealer) *SessionStore {
	return &SessionStore{
		KVStore: NewKVStore(db, sessionScope),
		sealer:  sealer,
	}
}

// Save writes every session field. The token is written last so an
// interrupted save leaves no usable session behind.
func (s *SessionStore) Save(ctx context.Context, sess *model.Session) error {
	if sess.Token == "" {
		return &StorageError{Op: "save", Key: KeyToken, Err: fmt.Errorf("empty token")}
	}
	if sess.ExpiresAt.IsZero() {
		return &StorageError{Op: "save", Key: KeySessionExpiry, Err: fmt.Errorf("missing expiry")}
	}

	user, err := json.Marshal(sess.User)
	if err != nil {
		return &StorageError{Op: "save", Key: KeyUser, Err: err}
	}
	if err := s.Set(ctx, KeyUser, string(user)); err != nil {
		return err
	}

	if sess.SessionID == "" {
		if err := s.Delete(ctx, KeySessionID); err != nil {
			return err
		}
	} else if err := s.Set(ctx, KeySessionID, sess.SessionID); err != nil {
		return err
	}

	expiry := strconv.FormatInt(sess.ExpiresAt.UnixMilli(), 10)
	if err := s.Set(ctx, KeySessionExpiry, expiry); err != nil {
		return err
	}
	if err := s.Set(ctx, KeyRememberMe, strconv.FormatBool(sess.RememberMe)); err != nil {
		return err
	}

	token := sess.Token
	if s.sealer != nil {
		token, err = s.sealer.Seal(token)
		if err != nil {
			return &StorageError{Op: "save", Key: KeyToken, Err: err}
		}
	}
	return s.Set(ctx, KeyToken, token)
}

// Load reads the stored session. It returns nil, nil when no complete
// session is stored. Expiry is not checked here.
func (s *SessionStore) Load(ctx context.Context) (*model.Session, error) {
	token, ok, err := s.Get(ctx, KeyToken)
	if err != nil || !ok {
		return nil, err
	}
	rawUser, ok, err := s.Get(ctx, KeyUser)
	if err != nil || !ok {
		return nil, err
	}
	rawExpiry, ok, err := s.Get(ctx, KeySessionExpiry)
	if err != nil || !ok {
		return nil, err
	}

	if IsSealed(token) {
		if s.sealer == nil {
			return nil, &StorageError{Op: "load", Key: KeyToken, Err: ErrCorrupt}
		}
		token, err = s.sealer.Open(token)
		if err != nil {
			return nil, &StorageError{Op: "load", Key: KeyToken, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
		}
	}

	sess := &model.Session{Token: token}
	if err := json.Unmarshal([]byte(rawUser), &sess.User); err != nil {
		return nil, &StorageError{Op: "load", Key: KeyUser, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}

	ms, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil {
		return nil, &StorageError{Op: "load", Key: KeySessionExpiry, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	sess.ExpiresAt = time.UnixMilli(ms)

	sessionID, _, err := s.Get(ctx, KeySessionID)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	remember, ok, err := s.Get(ctx, KeyRememberMe)
	if err != nil {
		return nil, err
	}
	if ok {
		sess.RememberMe, _ = strconv.ParseBool(remember)
	}

	return sess, nil
}
