package leaderboard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peerpulse/peerpulse/internal/cache"
)

// RankingCache caches computed leaderboard responses keyed by criterion
// and limit so repeated reads skip the full ranking pass.
type RankingCache struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewRankingCache creates a ranking cache with the given TTL.
func NewRankingCache(ttl time.Duration) *RankingCache {
	return &RankingCache{
		cache: cache.NewCache(ttl),
		ttl:   ttl,
	}
}

func leaderboardKey(criterion string, limit int) string {
	return fmt.Sprintf("leaderboard:%s:%d", strings.ToLower(criterion), limit)
}

// GetLeaderboard retrieves a cached leaderboard response.
func (rc *RankingCache) GetLeaderboard(criterion string, limit int) (*Response, bool) {
	data, found := rc.cache.Get(leaderboardKey(criterion, limit))
	if !found {
		return nil, false
	}

	var response Response
	if err := json.Unmarshal(data, &response); err != nil {
		slog.Warn("Failed to unmarshal cached leaderboard", "criterion", criterion, "error", err)
		rc.cache.Delete(leaderboardKey(criterion, limit))
		return nil, false
	}
	return &response, true
}

// SetLeaderboard stores a leaderboard response.
func (rc *RankingCache) SetLeaderboard(criterion string, limit int, response *Response) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Warn("Failed to marshal leaderboard for cache", "criterion", criterion, "error", err)
		return
	}
	rc.cache.Set(leaderboardKey(criterion, limit), data)
}

// Clear removes all cached rankings.
func (rc *RankingCache) Clear() {
	rc.cache.Clear()
}

// GetStats returns cache statistics.
func (rc *RankingCache) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"entries": rc.cache.Size(),
		"ttl":     rc.ttl.String(),
	}
}
