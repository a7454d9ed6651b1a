package ai

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/H4MSA/solivrah/internal/storage/kv"
)

const (
	KeyGuestRoadmap         = "guest_roadmap"
	KeyGuestCoachingHistory = "guest_coaching_history"

	coachingHistoryLimit = 50
)

type cachedRoadmap struct {
	Fingerprint string          `json:"fingerprint"`
	Response    RoadmapResponse `json:"response"`
}

// CoachingExchange is one guest coaching turn kept for display after reload.
type CoachingExchange struct {
	Message string    `json:"message"`
	Reply   string    `json:"reply"`
	At      time.Time `json:"at"`
}

// guestCache stores guest-only AI results in the device key/value file.
type guestCache struct {
	file *kv.File
}

// fingerprint hashes the canonical JSON form of a request.
func fingerprint(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (g *guestCache) roadmap(fp string) (RoadmapResponse, bool) {
	raw, ok := g.file.Get(KeyGuestRoadmap)
	if !ok {
		return RoadmapResponse{}, false
	}
	var c cachedRoadmap
	if err := json.Unmarshal([]byte(raw), &c); err != nil || c.Fingerprint != fp {
		return RoadmapResponse{}, false
	}
	return c.Response, true
}

func (g *guestCache) storeRoadmap(fp string, resp RoadmapResponse) error {
	b, err := json.Marshal(cachedRoadmap{Fingerprint: fp, Response: resp})
	if err != nil {
		return err
	}
	return g.file.Set(KeyGuestRoadmap, string(b))
}

func (g *guestCache) invalidateRoadmap() error {
	return g.file.Delete(KeyGuestRoadmap)
}

func (g *guestCache) coachingHistory() []CoachingExchange {
	raw, ok := g.file.Get(KeyGuestCoachingHistory)
	if !ok {
		return nil
	}
	var out []CoachingExchange
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func (g *guestCache) appendCoaching(ex CoachingExchange) error {
	hist := append(g.coachingHistory(), ex)
	if len(hist) > coachingHistoryLimit {
		hist = hist[len(hist)-coachingHistoryLimit:]
	}
	b, err := json.Marshal(hist)
	if err != nil {
		return err
	}
	return g.file.Set(KeyGuestCoachingHistory, string(b))
}

func (g *guestCache) clear() error {
	return g.file.Delete(KeyGuestRoadmap, KeyGuestCoachingHistory)
}
