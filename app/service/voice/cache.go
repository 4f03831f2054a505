package voice

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type clip struct {
	data    []byte
	expires time.Time
}

// AudioCache keeps synthesized clips downloadable for a limited time.
type AudioCache struct {
	mu    sync.RWMutex
	clips map[string]clip
	ttl   time.Duration
	now   func() time.Time
}

func NewAudioCache(ttl time.Duration) *AudioCache {
	return &AudioCache{
		clips: make(map[string]clip),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put stores data under a fresh random id.
func (c *AudioCache) Put(data []byte) string {
	id := uuid.NewString()

	c.mu.Lock()
	c.clips[id] = clip{data: data, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return id
}

func (c *AudioCache) Get(id string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.clips[id]
	if !ok || !c.now().Before(item.expires) {
		return nil, false
	}

	return item.data, true
}

// Evict drops expired clips and reports how many were removed.
func (c *AudioCache) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	for id, item := range c.clips {
		if !now.Before(item.expires) {
			delete(c.clips, id)
			removed++
		}
	}

	return removed
}

func (c *AudioCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.clips)
}
