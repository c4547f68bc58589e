package archibald

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// cachedSession is the on-disk form of a reusable session token. Each file
// carries its own expiry so the cleanup job can prune without extra state.
type cachedSession struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionCache struct {
	dir string
}

func newSessionCache(dir string) (*sessionCache, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, errors.New("session cache dir is empty")
	}
	if err := os.MkdirAll(trimmed, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create session cache dir %s failed", trimmed)
	}
	return &sessionCache{dir: trimmed}, nil
}

func (c *sessionCache) pathFor(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])+".session.json")
}

func (c *sessionCache) save(entry cachedSession) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal session cache entry failed")
	}
	path := c.pathFor(entry.UserID)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return errors.Wrapf(err, "write session cache %s failed", path)
	}
	return nil
}

// load returns the cached entry for userID, or nil when absent or expired.
// Expired files are deleted on the way out.
func (c *sessionCache) load(userID string, now time.Time) (*cachedSession, error) {
	path := c.pathFor(userID)
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read session cache %s failed", path)
	}
	var entry cachedSession
	if err := json.Unmarshal(payload, &entry); err != nil {
		// Corrupt cache file behaves like a miss.
		os.Remove(path)
		return nil, nil
	}
	if !entry.ExpiresAt.After(now) {
		os.Remove(path)
		return nil, nil
	}
	return &entry, nil
}

func (c *sessionCache) delete(userID string) {
	os.Remove(c.pathFor(userID))
}

// expiredUsers scans the cache dir and returns the user IDs of expired
// entries, deleting their files.
func (c *sessionCache) expiredUsers(now time.Time) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.session.json"))
	if err != nil {
		return nil, errors.Wrap(err, "scan session cache dir failed")
	}
	var expired []string
	for _, path := range matches {
		payload, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry cachedSession
		if err := json.Unmarshal(payload, &entry); err != nil {
			os.Remove(path)
			continue
		}
		if entry.ExpiresAt.After(now) {
			continue
		}
		os.Remove(path)
		expired = append(expired, entry.UserID)
	}
	return expired, nil
}
