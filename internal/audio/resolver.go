package audio

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// NameResolver turns Discord IDs into display names for logs.
type NameResolver interface {
	UserName(userID string) string
	ChannelName(channelID string) string
}

type noopResolver struct{}

func (noopResolver) UserName(string) string    { return "" }
func (noopResolver) ChannelName(string) string { return "" }

// nameCacheTTL bounds how stale a cached display name can get.
var nameCacheTTL = 5 * time.Minute

type cachedName struct {
	val    string
	expiry time.Time
}

// sessionResolver looks names up through the gateway state first and the
// REST API second, caching what it finds.
type sessionResolver struct {
	s     *discordgo.Session
	mu    sync.Mutex
	cache map[string]cachedName
}

func newSessionResolver(s *discordgo.Session) *sessionResolver {
	return &sessionResolver{s: s, cache: make(map[string]cachedName)}
}

func (r *sessionResolver) lookup(key string, fetch func() string) string {
	r.mu.Lock()
	if e, ok := r.cache[key]; ok && time.Now().Before(e.expiry) {
		r.mu.Unlock()
		return e.val
	}
	r.mu.Unlock()

	val := fetch()
	if val == "" {
		return ""
	}
	r.mu.Lock()
	r.cache[key] = cachedName{val: val, expiry: time.Now().Add(nameCacheTTL)}
	r.mu.Unlock()
	return val
}

func (r *sessionResolver) UserName(userID string) string {
	if r.s == nil || userID == "" {
		return ""
	}
	return r.lookup("user:"+userID, func() string {
		if u, err := r.s.User(userID); err == nil && u != nil {
			return u.Username
		}
		return ""
	})
}

func (r *sessionResolver) ChannelName(channelID string) string {
	if r.s == nil || channelID == "" {
		return ""
	}
	return r.lookup("channel:"+channelID, func() string {
		if r.s.State != nil {
			if c, err := r.s.State.Channel(channelID); err == nil && c != nil {
				return c.Name
			}
		}
		if c, err := r.s.Channel(channelID); err == nil && c != nil {
			return c.Name
		}
		return ""
	})
}
