package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatewarden/warden/internal/blobstore"
	"github.com/gatewarden/warden/internal/model"
	"github.com/gatewarden/warden/internal/state"
)

// ClusterView is a cluster enriched with read-time projections: the
// effective status derived from handshake freshness and the cached traffic
// snapshot, when one is still live.
type ClusterView struct {
	model.Cluster
	EffectiveStatus string                `json:"effective_status"`
	Traffic         *model.ClusterTraffic `json:"traffic,omitempty"`
}

func (cp *ControlPlane) clusterView(c model.Cluster) ClusterView {
	view := ClusterView{
		Cluster:         c,
		EffectiveStatus: cp.Liveness.EffectiveStatus(c.ContainerStatus, c.LastHandshake),
	}
	if traffic, ok := cp.Cache.GetTraffic(c.ID); ok {
		view.Traffic = traffic
	}
	if view.Protocol == nil {
		if protocol, ok := cp.Cache.GetProtocol(c.ID); ok {
			view.Protocol = &protocol
		}
	}
	return view
}

// CreateCluster registers a new gateway cluster and mints its sync api key.
func (cp *ControlPlane) CreateCluster(name, endpoint string) (*model.Cluster, error) {
	name = strings.TrimSpace(name)
	endpoint = strings.TrimSpace(endpoint)
	if name == "" {
		return nil, invalidArg("name must not be empty")
	}
	if endpoint == "" {
		return nil, invalidArg("endpoint must not be empty")
	}

	now := cp.now()
	cluster := &model.Cluster{
		ID:        uuid.NewString(),
		Name:      name,
		Endpoint:  endpoint,
		APIKey:    uuid.NewString(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := cp.Store.CreateCluster(cluster); err != nil {
		if state.IsUniqueViolation(err) {
			return nil, conflict("cluster name already in use")
		}
		return nil, internal("create cluster", err)
	}
	log.Printf("[clusters] registered cluster %s (%s)", cluster.Name, cluster.ID)
	return cluster, nil
}

// GetCluster returns one cluster enriched with its live projections.
func (cp *ControlPlane) GetCluster(id string) (*ClusterView, error) {
	cluster, err := cp.Store.GetClusterByID(id)
	if err != nil {
		return nil, internal("get cluster", err)
	}
	if cluster == nil {
		return nil, notFound("cluster not found")
	}
	view := cp.clusterView(*cluster)
	return &view, nil
}

// ListClusters returns all clusters enriched with their live projections.
func (cp *ControlPlane) ListClusters() ([]ClusterView, error) {
	clusters, err := cp.Store.ListClusters()
	if err != nil {
		return nil, internal("list clusters", err)
	}
	out := make([]ClusterView, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, cp.clusterView(c))
	}
	return out, nil
}

// ClusterUpdate carries the patchable administrative fields of a cluster.
// Nil fields are left unchanged. RotateAPIKey mints a fresh sync secret.
type ClusterUpdate struct {
	Name         *string
	Endpoint     *string
	IsActive     *bool
	RotateAPIKey bool
}

// UpdateCluster applies an administrative patch and returns the new state.
func (cp *ControlPlane) UpdateCluster(id string, patch ClusterUpdate) (*model.Cluster, error) {
	cluster, err := cp.Store.GetClusterByID(id)
	if err != nil {
		return nil, internal("get cluster", err)
	}
	if cluster == nil {
		return nil, notFound("cluster not found")
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, invalidArg("name must not be empty")
		}
		cluster.Name = name
	}
	if patch.Endpoint != nil {
		endpoint := strings.TrimSpace(*patch.Endpoint)
		if endpoint == "" {
			return nil, invalidArg("endpoint must not be empty")
		}
		cluster.Endpoint = endpoint
	}
	if patch.IsActive != nil {
		cluster.IsActive = *patch.IsActive
	}
	if patch.RotateAPIKey {
		cluster.APIKey = uuid.NewString()
	}

	if err := cp.Store.UpdateCluster(cluster); err != nil {
		if state.IsUniqueViolation(err) {
			return nil, conflict("cluster name already in use")
		}
		return nil, internal("update cluster", err)
	}
	return cluster, nil
}

// DeleteCluster removes a cluster and everything hanging off it: remote
// peers (best effort, one failure does not block the others), durable peer
// rows, config blobs, cached status entries, and the pooled node client.
func (cp *ControlPlane) DeleteCluster(ctx context.Context, id string) error {
	cluster, err := cp.Store.GetClusterByID(id)
	if err != nil {
		return internal("get cluster", err)
	}
	if cluster == nil {
		return notFound("cluster not found")
	}

	peers, err := cp.Store.ListPeersByCluster(id)
	if err != nil {
		return internal("list cluster peers", err)
	}
	node := cp.Nodes.For(cluster)
	for _, peer := range peers {
		if err := node.DeletePeer(ctx, peer.PublicKey); err != nil {
			log.Printf("[clusters] delete %s: remote peer %s not removed: %v", cluster.Name, peer.ID, err)
		}
		if err := cp.Blobs.Delete(ctx, blobstore.PeerConfigKey(peer.ID)); err != nil {
			log.Printf("[clusters] delete %s: config blob for peer %s not removed: %v", cluster.Name, peer.ID, err)
		}
	}

	removed, err := cp.Store.DeletePeersByCluster(id)
	if err != nil {
		return internal("delete cluster peers", err)
	}
	deleted, err := cp.Store.DeleteCluster(id)
	if err != nil {
		return internal("delete cluster", err)
	}
	if !deleted {
		return notFound("cluster not found")
	}

	cleared := cp.Cache.ClearClusterCache(id)
	cp.Nodes.Forget(id)
	log.Printf("[clusters] deleted cluster %s (%s): %d peers, %d cache entries", cluster.Name, id, removed, cleared)
	return nil
}

// RestartCluster asks the cluster's node to restart its container.
func (cp *ControlPlane) RestartCluster(ctx context.Context, id string) error {
	cluster, err := cp.Store.GetClusterByID(id)
	if err != nil {
		return internal("get cluster", err)
	}
	if cluster == nil {
		return notFound("cluster not found")
	}
	if err := cp.Nodes.For(cluster).RestartServer(ctx); err != nil {
		return nodeUnavailable("cluster node did not accept the restart", err)
	}
	log.Printf("[clusters] restart requested for cluster %s (%s)", cluster.Name, id)
	return nil
}

// SyncRequest is a status push from a cluster node. Runtime descriptor
// fields are optional; absent fields leave the stored values untouched.
type SyncRequest struct {
	ContainerName   string                `json:"container_name"`
	ContainerStatus string                `json:"container_status"`
	Protocol        string                `json:"protocol"`
	Traffic         *model.ClusterTraffic `json:"traffic"`
	Peers           []model.PeerStatus    `json:"peers"`
}

// SyncResult acknowledges a status push and reports what it changed.
type SyncResult struct {
	ClusterID       string    `json:"cluster_id"`
	ReceivedAt      time.Time `json:"received_at"`
	RuntimeUpdated  bool      `json:"runtime_updated"`
	ProtocolUpdated bool      `json:"protocol_updated"`
	TrafficUpdated  bool      `json:"traffic_updated"`
	PeersReceived   int       `json:"peers_received"`
	PeerWrites      int       `json:"peer_writes"`
}

// SyncCluster ingests a status push from a node authenticated by its api
// key. The handshake timestamp is stamped unconditionally; everything else
// is written only when it differs from the stored value, so a steady-state
// fleet produces no write amplification.
func (cp *ControlPlane) SyncCluster(ctx context.Context, apiKey string, req SyncRequest) (*SyncResult, error) {
	cluster, err := cp.Store.GetClusterByAPIKey(apiKey)
	if err != nil {
		return nil, internal("resolve api key", err)
	}
	if cluster == nil {
		return nil, authFailure("unknown api key")
	}

	now := cp.now()
	if err := cp.Store.UpdateLastHandshake(cluster.ID, now); err != nil {
		return nil, internal("stamp handshake", err)
	}

	containerName := coalesce(req.ContainerName, cluster.ContainerName)
	containerStatus := coalesce(req.ContainerStatus, cluster.ContainerStatus)
	protocol := coalesce(req.Protocol, cluster.Protocol)

	// Any descriptor field unknown to both the push and the store is
	// backfilled from the node directly, without overwriting fields that
	// are already known. A failure here only delays the backfill until
	// the next push.
	if containerName == nil || containerStatus == nil {
		if status, err := cp.Nodes.For(cluster).GetServerStatus(ctx); err != nil {
			log.Printf("[sync] cluster %s: descriptor backfill failed: %v", cluster.Name, err)
		} else {
			if containerName == nil {
				containerName = coalesce(status.ContainerName, nil)
			}
			if containerStatus == nil {
				containerStatus = coalesce(status.Status, nil)
			}
			if protocol == nil {
				protocol = coalesce(status.Protocol, nil)
			}
		}
	}

	peersCount := len(req.Peers)
	onlineCount := 0
	for _, p := range req.Peers {
		if p.Online {
			onlineCount++
		}
	}
	if req.Traffic != nil {
		peersCount = req.Traffic.TotalPeers
		onlineCount = req.Traffic.OnlinePeers
	}

	result := &SyncResult{
		ClusterID:     cluster.ID,
		ReceivedAt:    now,
		PeersReceived: len(req.Peers),
	}

	result.RuntimeUpdated, err = cp.Store.UpdateClusterRuntime(
		cluster.ID, containerName, containerStatus, protocol, peersCount, onlineCount)
	if err != nil {
		return nil, internal("update cluster runtime", err)
	}

	if protocol != nil {
		changed, err := cp.Cache.SaveProtocolIfChanged(cluster.ID, *protocol)
		if err != nil {
			return nil, internal("cache protocol", err)
		}
		result.ProtocolUpdated = changed
	}
	if req.Traffic != nil {
		changed, err := cp.Cache.SaveTrafficIfChanged(cluster.ID, *req.Traffic)
		if err != nil {
			return nil, internal("cache traffic", err)
		}
		result.TrafficUpdated = changed
	}
	for _, peer := range req.Peers {
		if peer.PublicKey == "" {
			continue
		}
		changed, err := cp.Cache.SavePeerStatusIfChanged(cluster.ID, peer.PublicKey, peer)
		if err != nil {
			return nil, internal("cache peer status", err)
		}
		if changed {
			result.PeerWrites++
		}
	}

	log.Printf("[sync] cluster %s: peers=%d peer_writes=%d runtime=%v traffic=%v protocol=%v",
		cluster.Name, result.PeersReceived, result.PeerWrites,
		result.RuntimeUpdated, result.TrafficUpdated, result.ProtocolUpdated)
	return result, nil
}

// ListClusterPeerStatuses returns the live peer snapshots a cluster last
// pushed and are still within TTL.
func (cp *ControlPlane) ListClusterPeerStatuses(id string) ([]model.PeerStatus, error) {
	cluster, err := cp.Store.GetClusterByID(id)
	if err != nil {
		return nil, internal("get cluster", err)
	}
	if cluster == nil {
		return nil, notFound("cluster not found")
	}
	return cp.Cache.ListPeerStatuses(id), nil
}

// coalesce returns a pointer to pushed when non-empty, otherwise stored.
func coalesce(pushed string, stored *string) *string {
	if pushed != "" {
		return &pushed
	}
	return stored
}
