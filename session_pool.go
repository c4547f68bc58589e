package archibald

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Credentials authenticate one logical user against the remote system.
type Credentials struct {
	Username string
	Password string
}

// CredentialSource resolves credentials per user when a fresh login is
// required.
type CredentialSource interface {
	CredentialsFor(userID string) (Credentials, error)
}

// DriverSession is the live automation resource the driver hands out. The
// pool owns it exclusively while checked out.
type DriverSession interface {
	Token() string
	Teardown(ctx context.Context) error
}

// Driver is the out-of-scope automation boundary: the pool only needs
// login, restore and teardown.
type Driver interface {
	Login(ctx context.Context, creds Credentials) (DriverSession, error)
	// RestoreSession rehydrates a session from a cached token. A nil session
	// with nil error means the token is no longer valid remotely.
	RestoreSession(ctx context.Context, token string) (DriverSession, error)
}

// SessionHandle is one exclusive, authenticated automation session for one
// logical user.
type SessionHandle struct {
	ID        string
	UserID    string
	Session   DriverSession
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PoolConfig controls SessionPool behavior.
type PoolConfig struct {
	Driver          Driver
	Credentials     CredentialSource
	CacheDir        string
	SessionTTL      time.Duration
	CleanupInterval time.Duration
}

type userEntry struct {
	// slot holds one token; owning it means owning the user's session.
	slot chan struct{}
	mu   sync.Mutex
	idle *SessionHandle
}

// SessionPool manages at most one live automation session per logical user,
// caching session tokens on disk so unexpired sessions skip the login flow.
type SessionPool struct {
	cfg    PoolConfig
	cache  *sessionCache
	clock  func() time.Time
	mu     sync.Mutex
	users  map[string]*userEntry
	closed bool
}

// NewSessionPool builds a pool over the given driver and credential source.
func NewSessionPool(cfg PoolConfig) (*SessionPool, error) {
	if cfg.Driver == nil {
		return nil, errors.New("driver cannot be nil")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("credential source cannot be nil")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	cache, err := newSessionCache(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	return &SessionPool{
		cfg:   cfg,
		cache: cache,
		clock: time.Now,
		users: make(map[string]*userEntry),
	}, nil
}

func (p *SessionPool) entryFor(userID string) (*userEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	entry, ok := p.users[userID]
	if !ok {
		entry = &userEntry{slot: make(chan struct{}, 1)}
		entry.slot <- struct{}{}
		p.users[userID] = entry
	}
	return entry, nil
}

// Acquire obtains exclusive use of userID's session, waiting while another
// caller holds it. A valid cached token replaces login with a cheap restore.
func (p *SessionPool) Acquire(ctx context.Context, userID string) (*SessionHandle, error) {
	entry, err := p.entryFor(userID)
	if err != nil {
		return nil, err
	}
	select {
	case <-entry.slot:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "wait for session slot")
	}
	handle, err := p.checkout(ctx, userID, entry)
	if err != nil {
		entry.slot <- struct{}{}
		return nil, err
	}
	return handle, nil
}

// TryAcquire is the non-waiting variant; it returns ErrSessionBusy when the
// user's session is checked out so callers can apply contention policy.
func (p *SessionPool) TryAcquire(ctx context.Context, userID string) (*SessionHandle, error) {
	entry, err := p.entryFor(userID)
	if err != nil {
		return nil, err
	}
	select {
	case <-entry.slot:
	default:
		return nil, errors.Wrapf(ErrSessionBusy, "user %s", userID)
	}
	handle, err := p.checkout(ctx, userID, entry)
	if err != nil {
		entry.slot <- struct{}{}
		return nil, err
	}
	return handle, nil
}

// checkout runs with the user's slot held.
func (p *SessionPool) checkout(ctx context.Context, userID string, entry *userEntry) (*SessionHandle, error) {
	now := p.clock()

	entry.mu.Lock()
	idle := entry.idle
	entry.idle = nil
	entry.mu.Unlock()

	if idle != nil {
		if idle.ExpiresAt.After(now) {
			log.Debug().Str("user_id", userID).Msg("reusing idle session")
			return idle, nil
		}
		p.teardown(ctx, userID, idle)
	}

	if cached, err := p.cache.load(userID, now); err == nil && cached != nil {
		session, err := p.cfg.Driver.RestoreSession(ctx, cached.Token)
		if err == nil && session != nil {
			log.Info().Str("user_id", userID).Msg("session restored from cached token")
			return &SessionHandle{
				ID:        uuid.NewString(),
				UserID:    userID,
				Session:   session,
				IssuedAt:  cached.IssuedAt,
				ExpiresAt: cached.ExpiresAt,
			}, nil
		}
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("session restore failed, falling back to login")
		}
		p.cache.delete(userID)
	}

	creds, err := p.cfg.Credentials.CredentialsFor(userID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve credentials for %s", userID)
	}
	session, err := p.cfg.Driver.Login(ctx, creds)
	if err != nil {
		return nil, errors.Wrapf(ErrLoginFailed, "user %s: %v", userID, err)
	}
	handle := &SessionHandle{
		ID:        uuid.NewString(),
		UserID:    userID,
		Session:   session,
		IssuedAt:  now,
		ExpiresAt: now.Add(p.cfg.SessionTTL),
	}
	if err := p.cache.save(cachedSession{
		UserID:    userID,
		Token:     session.Token(),
		IssuedAt:  handle.IssuedAt,
		ExpiresAt: handle.ExpiresAt,
	}); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("cache session token failed")
	}
	log.Info().Str("user_id", userID).Time("expires_at", handle.ExpiresAt).Msg("fresh session established")
	return handle, nil
}

// Release returns the handle to the pool. A successful run keeps the session
// idle for reuse under its TTL; a failed one tears the driver resource down
// so the next Acquire performs a fresh login.
func (p *SessionPool) Release(userID string, handle *SessionHandle, success bool) {
	if handle == nil {
		return
	}
	p.mu.Lock()
	entry, ok := p.users[userID]
	p.mu.Unlock()
	if !ok {
		// The user was evicted (or the pool closed) while this handle was
		// checked out. There is no slot to return it to, so the live
		// resource must not be left behind.
		p.teardown(context.Background(), userID, handle)
		p.cache.delete(userID)
		return
	}

	if success && handle.ExpiresAt.After(p.clock()) {
		entry.mu.Lock()
		entry.idle = handle
		entry.mu.Unlock()
	} else {
		p.teardown(context.Background(), userID, handle)
		p.cache.delete(userID)
	}

	select {
	case entry.slot <- struct{}{}:
	default:
		// Slot already free: double release is a no-op.
	}
}

// CloseUserContext force-evicts userID's session regardless of checked-out
// state. Unknown or already closed users are tolerated.
func (p *SessionPool) CloseUserContext(ctx context.Context, userID string) {
	p.mu.Lock()
	entry, ok := p.users[userID]
	if ok {
		delete(p.users, userID)
	}
	p.mu.Unlock()
	p.cache.delete(userID)
	if !ok {
		return
	}
	entry.mu.Lock()
	idle := entry.idle
	entry.idle = nil
	entry.mu.Unlock()
	if idle != nil {
		p.teardown(ctx, userID, idle)
	}
	log.Info().Str("user_id", userID).Msg("user session context closed")
}

// CleanupLoop periodically deletes expired cache files and force-closes the
// corresponding live resources. Runs until ctx is cancelled.
func (p *SessionPool) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cleanupExpired(ctx)
		}
	}
}

func (p *SessionPool) cleanupExpired(ctx context.Context) {
	now := p.clock()
	expired, err := p.cache.expiredUsers(now)
	if err != nil {
		log.Error().Err(err).Msg("session cache scan failed")
	}
	for _, userID := range expired {
		p.CloseUserContext(ctx, userID)
	}

	p.mu.Lock()
	entries := make(map[string]*userEntry, len(p.users))
	for userID, entry := range p.users {
		entries[userID] = entry
	}
	p.mu.Unlock()

	for userID, entry := range entries {
		entry.mu.Lock()
		idle := entry.idle
		if idle != nil && !idle.ExpiresAt.After(now) {
			entry.idle = nil
		} else {
			idle = nil
		}
		entry.mu.Unlock()
		if idle != nil {
			p.teardown(ctx, userID, idle)
			p.cache.delete(userID)
			log.Info().Str("user_id", userID).Msg("expired idle session evicted")
		}
	}
}

// Close tears down every idle session and rejects further acquisitions.
func (p *SessionPool) Close(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	entries := p.users
	p.users = make(map[string]*userEntry)
	p.mu.Unlock()
	for userID, entry := range entries {
		entry.mu.Lock()
		idle := entry.idle
		entry.idle = nil
		entry.mu.Unlock()
		if idle != nil {
			p.teardown(ctx, userID, idle)
		}
	}
}

func (p *SessionPool) teardown(ctx context.Context, userID string, handle *SessionHandle) {
	if handle == nil || handle.Session == nil {
		return
	}
	if err := handle.Session.Teardown(ctx); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("session teardown failed")
	}
}
