package memory

import (
	"time"

	"legal-qa-be/internal/engine"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// EngineRepository keeps one live engine per user. Engines are cheap to
// rebuild (session state reloads from the database), so idle ones are
// allowed to fall out of the cache.
type EngineRepository struct {
	cache *cache.Cache
}

func NewEngineRepository() *EngineRepository {
	// Default expiration of 1 hour, purge sweep every 10 minutes.
	c := cache.New(1*time.Hour, 10*time.Minute)
	// An engine whose dispatcher is still mid-stream must not lose its
	// busy flag to an expiry sweep: a rebuilt engine would accept a second
	// concurrent submission. Re-admit it and let a later sweep collect it
	// once idle.
	c.OnEvicted(func(key string, value interface{}) {
		if e, ok := value.(*engine.Engine); ok && e.Dispatcher.Busy() {
			c.Set(key, e, cache.DefaultExpiration)
		}
	})
	return &EngineRepository{
		cache: c,
	}
}

func (r *EngineRepository) Save(userId uuid.UUID, e *engine.Engine) {
	r.cache.Set(userId.String(), e, cache.DefaultExpiration)
}

func (r *EngineRepository) Get(userId uuid.UUID) (*engine.Engine, bool) {
	if x, found := r.cache.Get(userId.String()); found {
		return x.(*engine.Engine), true
	}
	return nil, false
}

func (r *EngineRepository) Delete(userId uuid.UUID) {
	r.cache.Delete(userId.String())
}
