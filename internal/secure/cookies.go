package secure

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veloxapp/authcore/pkg/logger"
)

const cookieStoreKey = "http.cookies"

// persistedCookie is the serializable projection of a transport cookie.
type persistedCookie struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Domain    string    `json:"domain"`
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Secure    bool      `json:"secure"`
	HTTPOnly  bool      `json:"httpOnly"`
}

func (p persistedCookie) expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// CookieStore is a persistent cookie jar. The in-memory list is the single
// source of truth for outgoing requests; every mutation updates memory under
// the lock and schedules an asynchronous snapshot write to the encrypted
// store. A crash may lose the most recent write; requests never wait on disk.
type CookieStore struct {
	mu          sync.Mutex
	store       *Store
	log         *zap.Logger
	now         func() time.Time
	cookies     []persistedCookie
	initialized bool
	initOnce    sync.Once
	persisting  sync.WaitGroup

	// seq stamps each snapshot at capture time; persistedSeq tracks the newest
	// snapshot written so far. A persist goroutine that lost the race to a
	// newer one skips its write, so the durable snapshot never moves backwards.
	seq          uint64
	persistMu    sync.Mutex
	persistedSeq uint64
}

var _ http.CookieJar = (*CookieStore)(nil)

// NewCookieStore builds an uninitialized jar. Call Initialize before issuing
// requests; until then Cookies returns nothing.
func NewCookieStore(store *Store) (*CookieStore, error) {
	if store == nil {
		return nil, errors.New("secure: store is required")
	}
	return &CookieStore{
		store: store,
		log:   logger.WithModule("cookies"),
		now:   time.Now,
	}, nil
}

// Initialize loads the persisted snapshot into memory. It runs exactly once
// per process; later calls are no-ops. A snapshot that fails to decode is
// discarded and the jar starts empty.
func (c *CookieStore) Initialize() {
	c.initOnce.Do(func() {
		var loaded []persistedCookie
		if raw, ok := c.store.Get(cookieStoreKey); ok {
			if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
				c.log.Warn("discarding undecodable cookie snapshot", zap.Error(err))
				loaded = nil
			}
		}

		c.mu.Lock()
		c.cookies = loaded
		c.initialized = true
		c.mu.Unlock()
	})
}

// SetCookies stores response cookies, replacing any prior cookie with the
// same (name, domain). Expired cookies and MaxAge<0 remove the entry.
func (c *CookieStore) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	now := c.now()

	c.mu.Lock()
	for _, ck := range cookies {
		domain := strings.TrimPrefix(strings.ToLower(ck.Domain), ".")
		if domain == "" {
			domain = strings.ToLower(u.Hostname())
		}

		c.removeLocked(ck.Name, domain)

		if ck.MaxAge < 0 {
			continue
		}
		expires := ck.Expires
		if ck.MaxAge > 0 {
			expires = now.Add(time.Duration(ck.MaxAge) * time.Second)
		}
		if !expires.IsZero() && now.After(expires) {
			continue
		}

		path := ck.Path
		if path == "" {
			path = "/"
		}

		c.cookies = append(c.cookies, persistedCookie{
			Name:      ck.Name,
			Value:     ck.Value,
			Domain:    domain,
			Path:      path,
			ExpiresAt: expires,
			Secure:    ck.Secure,
			HTTPOnly:  ck.HttpOnly,
		})
	}
	c.seq++
	seq := c.seq
	snapshot := append([]persistedCookie(nil), c.cookies...)
	c.mu.Unlock()

	c.persisting.Add(1)
	go func() {
		defer c.persisting.Done()
		c.persist(seq, snapshot)
	}()
}

// Cookies returns the cookies applicable to u: non-expired and matching the
// URL's domain, path, and secure constraints. Before Initialize completes it
// returns nothing rather than stale or partial data.
func (c *CookieStore) Cookies(u *url.URL) []*http.Cookie {
	now := c.now()
	host := strings.ToLower(u.Hostname())

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil
	}

	var result []*http.Cookie
	for _, ck := range c.cookies {
		if ck.expired(now) {
			continue
		}
		if !domainMatch(host, ck.Domain) || !pathMatch(u.Path, ck.Path) {
			continue
		}
		if ck.Secure && u.Scheme != "https" {
			continue
		}
		result = append(result, &http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	return result
}

// Clear drops all cookies from memory and the encrypted store. Persists that
// were scheduled before the clear become stale and will not resurrect the
// deleted snapshot.
func (c *CookieStore) Clear() error {
	c.mu.Lock()
	c.cookies = nil
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if err := c.store.Delete(cookieStoreKey); err != nil {
		return err
	}
	c.persistedSeq = seq
	return nil
}

// Flush blocks until all scheduled persists have completed. Shutdown and
// tests only; the request path never calls this.
func (c *CookieStore) Flush() {
	c.persisting.Wait()
}

func (c *CookieStore) persist(seq uint64, snapshot []persistedCookie) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		c.log.Warn("cookie snapshot marshal failed", zap.Error(err))
		return
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if seq <= c.persistedSeq {
		// A newer snapshot already landed; writing this one would roll the
		// durable state back.
		return
	}
	if err := c.store.Set(cookieStoreKey, string(payload)); err != nil {
		c.log.Warn("cookie snapshot persist failed", zap.Error(err))
		return
	}
	c.persistedSeq = seq
}

func (c *CookieStore) removeLocked(name, domain string) {
	kept := c.cookies[:0]
	for _, ck := range c.cookies {
		if ck.Name == name && ck.Domain == domain {
			continue
		}
		kept = append(kept, ck)
	}
	c.cookies = kept
}

func domainMatch(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func pathMatch(requestPath, cookiePath string) bool {
	if requestPath == "" {
		requestPath = "/"
	}
	if cookiePath == "/" || requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}
