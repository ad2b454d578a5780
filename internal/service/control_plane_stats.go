package service

import (
	"github.com/gatewarden/warden/internal/model"
)

// SummaryStats is the fleet-wide overview.
type SummaryStats struct {
	Clusters        int                              `json:"clusters"`
	ActiveClusters  int                              `json:"active_clusters"`
	Clients         int                              `json:"clients"`
	ClientsByStatus map[model.SubscriptionStatus]int `json:"clients_by_status"`
	Peers           int                              `json:"peers"`
	PeersByAppType  map[model.AppType]int            `json:"peers_by_app_type"`
}

// Summary aggregates counts across the whole directory.
func (cp *ControlPlane) Summary() (*SummaryStats, error) {
	clusters, activeClusters, err := cp.Store.CountClusters()
	if err != nil {
		return nil, internal("count clusters", err)
	}
	clients, byStatus, err := cp.Store.CountClientsByStatus()
	if err != nil {
		return nil, internal("count clients", err)
	}
	peers, byAppType, err := cp.Store.CountPeersByAppType("")
	if err != nil {
		return nil, internal("count peers", err)
	}
	return &SummaryStats{
		Clusters:        clusters,
		ActiveClusters:  activeClusters,
		Clients:         clients,
		ClientsByStatus: byStatus,
		Peers:           peers,
		PeersByAppType:  byAppType,
	}, nil
}

// ClusterStats is the per-cluster operational view: durable counts joined
// with whatever live data is still within TTL.
type ClusterStats struct {
	ClusterID       string                `json:"cluster_id"`
	Name            string                `json:"name"`
	EffectiveStatus string                `json:"effective_status"`
	Peers           int                   `json:"peers"`
	PeersByAppType  map[model.AppType]int `json:"peers_by_app_type"`
	Clients         int                   `json:"clients"`
	OnlinePeers     int                   `json:"online_peers"`
	Traffic         *model.ClusterTraffic `json:"traffic,omitempty"`
	PeerCountries   map[string]int        `json:"peer_countries,omitempty"`
}

// ClusterStatsFor builds the operational view for one cluster. Online
// counts and countries come from the status cache; both sections vanish
// when the cluster stops pushing and its entries expire.
func (cp *ControlPlane) ClusterStatsFor(id string) (*ClusterStats, error) {
	cluster, err := cp.Store.GetClusterByID(id)
	if err != nil {
		return nil, internal("get cluster", err)
	}
	if cluster == nil {
		return nil, notFound("cluster not found")
	}

	peers, byAppType, err := cp.Store.CountPeersByAppType(id)
	if err != nil {
		return nil, internal("count peers", err)
	}
	clients, err := cp.Store.CountClusterClients(id)
	if err != nil {
		return nil, internal("count cluster clients", err)
	}

	stats := &ClusterStats{
		ClusterID:       cluster.ID,
		Name:            cluster.Name,
		EffectiveStatus: cp.Liveness.EffectiveStatus(cluster.ContainerStatus, cluster.LastHandshake),
		Peers:           peers,
		PeersByAppType:  byAppType,
		Clients:         clients,
	}
	if traffic, ok := cp.Cache.GetTraffic(id); ok {
		stats.Traffic = traffic
	}

	statuses := cp.Cache.ListPeerStatuses(id)
	countries := make(map[string]int)
	for _, status := range statuses {
		if status.Online {
			stats.OnlinePeers++
		}
		if cp.GeoIP != nil && status.Endpoint != "" {
			if country := cp.GeoIP.CountryForEndpoint(status.Endpoint); country != "" {
				countries[country]++
			}
		}
	}
	if len(countries) > 0 {
		stats.PeerCountries = countries
	}
	return stats, nil
}
