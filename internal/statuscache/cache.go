// Package statuscache holds short-lived operational facts pushed by cluster
// nodes: per-cluster traffic, protocol, and per-peer live status. Entries
// are decoupled from the durable store so high-frequency push reports do not
// amplify writes there.
//
// Every entry carries the same fixed TTL, counted from the last write.
// Reads never renew the TTL, so an idle cluster's data expires and is
// reported stale even if it is occasionally read. Absence of an entry is a
// valid state meaning "unknown", never an error.
package statuscache

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"

	"github.com/gatewarden/warden/internal/model"
)

// DefaultMaxEntries bounds the cache when no explicit capacity is given.
const DefaultMaxEntries = 16384

// Cache is the TTL-backed status store. Values are kept as canonical JSON
// so that write-if-changed comparisons are deterministic.
type Cache struct {
	cache otter.Cache[string, string]
}

// New creates a Cache bounded to maxEntries with the given fixed TTL.
func New(maxEntries int, ttl time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	cache, err := otter.MustBuilder[string, string](maxEntries).
		Cost(func(_ string, _ string) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("statuscache: build cache: %w", err)
	}
	return &Cache{cache: cache}, nil
}

// Close releases resources held by the underlying cache.
func (c *Cache) Close() {
	c.cache.Close()
}

// --- key schema ---

func trafficKey(clusterID string) string {
	return "cluster:" + clusterID + ":traffic"
}

func protocolKey(clusterID string) string {
	return "cluster:" + clusterID + ":protocol"
}

func peerStatusKey(clusterID, publicKey string) string {
	return "cluster:" + clusterID + ":peer:" + publicKey + ":status"
}

func clusterPrefix(clusterID string) string {
	return "cluster:" + clusterID + ":"
}

// --- write-if-changed core ---

// set unconditionally upserts the payload, resetting the TTL.
func (c *Cache) set(key, payload string) error {
	if !c.cache.Set(key, payload) {
		return fmt.Errorf("statuscache: set %s: entry rejected", key)
	}
	return nil
}

// setIfChanged writes (and resets the TTL) only when the canonical payload
// differs from the stored one, and reports whether a write occurred.
// Payloads are compared by xxh3 digest of the canonical bytes.
func (c *Cache) setIfChanged(key, payload string) (bool, error) {
	if existing, ok := c.cache.Get(key); ok {
		if xxh3.HashString(existing) == xxh3.HashString(payload) {
			return false, nil
		}
	}
	if err := c.set(key, payload); err != nil {
		return false, err
	}
	return true, nil
}

// canonical marshals v into its canonical JSON form. Struct fields marshal
// in declaration order, so semantically equal values always produce
// identical bytes.
func canonical(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("statuscache: marshal: %w", err)
	}
	return string(data), nil
}

// --- traffic ---

// SaveTraffic unconditionally upserts a cluster's traffic snapshot.
func (c *Cache) SaveTraffic(clusterID string, t model.ClusterTraffic) error {
	payload, err := canonical(t)
	if err != nil {
		return err
	}
	return c.set(trafficKey(clusterID), payload)
}

// SaveTrafficIfChanged upserts the traffic snapshot only on difference and
// reports whether a write occurred.
func (c *Cache) SaveTrafficIfChanged(clusterID string, t model.ClusterTraffic) (bool, error) {
	payload, err := canonical(t)
	if err != nil {
		return false, err
	}
	return c.setIfChanged(trafficKey(clusterID), payload)
}

// GetTraffic returns the cached traffic snapshot, or absence. A corrupted
// entry is treated as a miss so it self-heals on the next write.
func (c *Cache) GetTraffic(clusterID string) (*model.ClusterTraffic, bool) {
	payload, ok := c.cache.Get(trafficKey(clusterID))
	if !ok {
		return nil, false
	}
	var t model.ClusterTraffic
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		log.Printf("[statuscache] discarding undecodable traffic entry for cluster %s: %v", clusterID, err)
		return nil, false
	}
	return &t, true
}

// --- protocol ---

// SaveProtocol unconditionally upserts a cluster's protocol name.
func (c *Cache) SaveProtocol(clusterID, protocol string) error {
	return c.set(protocolKey(clusterID), protocol)
}

// SaveProtocolIfChanged upserts the protocol only on difference and reports
// whether a write occurred.
func (c *Cache) SaveProtocolIfChanged(clusterID, protocol string) (bool, error) {
	return c.setIfChanged(protocolKey(clusterID), protocol)
}

// GetProtocol returns the cached protocol name, or absence.
func (c *Cache) GetProtocol(clusterID string) (string, bool) {
	return c.cache.Get(protocolKey(clusterID))
}

// --- per-peer status ---

// SavePeerStatus unconditionally upserts one peer's live status.
func (c *Cache) SavePeerStatus(clusterID, publicKey string, status model.PeerStatus) error {
	payload, err := canonical(status)
	if err != nil {
		return err
	}
	return c.set(peerStatusKey(clusterID, publicKey), payload)
}

// SavePeerStatusIfChanged upserts one peer's status only on difference and
// reports whether a write occurred.
func (c *Cache) SavePeerStatusIfChanged(clusterID, publicKey string, status model.PeerStatus) (bool, error) {
	payload, err := canonical(status)
	if err != nil {
		return false, err
	}
	return c.setIfChanged(peerStatusKey(clusterID, publicKey), payload)
}

// GetPeerStatus returns one peer's cached status, or absence. A corrupted
// entry is treated as a miss.
func (c *Cache) GetPeerStatus(clusterID, publicKey string) (*model.PeerStatus, bool) {
	payload, ok := c.cache.Get(peerStatusKey(clusterID, publicKey))
	if !ok {
		return nil, false
	}
	var status model.PeerStatus
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		log.Printf("[statuscache] discarding undecodable peer entry for cluster %s: %v", clusterID, err)
		return nil, false
	}
	return &status, true
}

// ListPeerStatuses returns every cached peer status for a cluster.
// Undecodable entries are skipped.
func (c *Cache) ListPeerStatuses(clusterID string) []model.PeerStatus {
	prefix := clusterPrefix(clusterID) + "peer:"
	var out []model.PeerStatus
	c.cache.Range(func(key, payload string) bool {
		if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ":status") {
			return true
		}
		var status model.PeerStatus
		if err := json.Unmarshal([]byte(payload), &status); err != nil {
			log.Printf("[statuscache] skipping undecodable peer entry %s: %v", key, err)
			return true
		}
		out = append(out, status)
		return true
	})
	return out
}

// ClearClusterCache deletes every entry under the cluster's namespace and
// returns how many were removed. Called exactly once, when a cluster is
// deleted. Entries of other clusters are untouched.
func (c *Cache) ClearClusterCache(clusterID string) int {
	prefix := clusterPrefix(clusterID)
	var keys []string
	c.cache.Range(func(key, _ string) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	for _, key := range keys {
		c.cache.Delete(key)
	}
	if len(keys) > 0 {
		log.Printf("[statuscache] cleared %d entries for cluster %s", len(keys), clusterID)
	}
	return len(keys)
}
