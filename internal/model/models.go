// Package model defines domain structs shared across the persistence and
// service layers.
package model

import "time"

// SubscriptionStatus is the lifecycle state of a client's subscription.
type SubscriptionStatus string

const (
	SubscriptionTrial   SubscriptionStatus = "trial"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// IsValid reports whether s is one of the closed set of statuses.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionTrial, SubscriptionActive, SubscriptionExpired:
		return true
	}
	return false
}

// AppType identifies the client application a peer config targets.
type AppType string

const (
	AppTypeAmneziaVPN AppType = "amnezia_vpn"
	AppTypeAmneziaWG  AppType = "amnezia_wg"
)

// IsValid reports whether a is one of the closed set of app types.
func (a AppType) IsValid() bool {
	switch a {
	case AppTypeAmneziaVPN, AppTypeAmneziaWG:
		return true
	}
	return false
}

// Cluster is a remote VPN gateway node under central management.
// Runtime fields (last_handshake, container_*, protocol, counters) are
// mutated by sync ingest; the rest by administrative update.
type Cluster struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Endpoint         string     `json:"endpoint"`
	APIKey           string     `json:"-"`
	IsActive         bool       `json:"is_active"`
	LastHandshake    *time.Time `json:"last_handshake"`
	ContainerStatus  *string    `json:"container_status"`
	ContainerName    *string    `json:"container_name"`
	Protocol         *string    `json:"protocol"`
	PeersCount       int        `json:"peers_count"`
	OnlinePeersCount int        `json:"online_peers_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Client is a subscriber account owning zero or more peers.
// A nil ExpiresAt means the account never expires (admin / no-subscription).
type Client struct {
	ID                 string             `json:"id"`
	Username           string             `json:"username"`
	ExpiresAt          *time.Time         `json:"expires_at"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	TrialUsed          bool               `json:"trial_used"`
	LastSubscriptionAt *time.Time         `json:"last_subscription_at"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Peer is one provisioned VPN credential on a specific cluster, owned by a
// client. The node is the sole authority for key generation; only a bcrypt
// hash of the node-issued private key is ever stored.
type Peer struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"client_id"`
	ClusterID      string    `json:"cluster_id"`
	PublicKey      string    `json:"public_key"`
	PrivateKeyHash string    `json:"-"`
	AllocatedIP    string    `json:"allocated_ip"`
	Endpoint       string    `json:"endpoint"`
	AppType        AppType   `json:"app_type"`
	Protocol       string    `json:"protocol"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Tariff is a purchasable subscription duration/price bundle.
type Tariff struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Days       int       `json:"days"`
	PriceRub   int       `json:"price_rub"`
	PriceStars int       `json:"price_stars"`
	IsActive   bool      `json:"is_active"`
	SortOrder  int       `json:"sort_order"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ClusterTraffic is the aggregate traffic snapshot a cluster reports for
// itself. Cached under cluster:{id}:traffic.
type ClusterTraffic struct {
	TotalRxBytes int64 `json:"total_rx_bytes"`
	TotalTxBytes int64 `json:"total_tx_bytes"`
	TotalPeers   int   `json:"total_peers"`
	OnlinePeers  int   `json:"online_peers"`
}

// PeerStatus is the live status snapshot a cluster reports for one peer.
// Cached under cluster:{id}:peer:{public_key}:status.
type PeerStatus struct {
	PublicKey           string     `json:"public_key"`
	Endpoint            string     `json:"endpoint"`
	AllowedIPs          []string   `json:"allowed_ips"`
	LastHandshake       *time.Time `json:"last_handshake"`
	RxBytes             int64      `json:"rx_bytes"`
	TxBytes             int64      `json:"tx_bytes"`
	Online              bool       `json:"online"`
	PersistentKeepalive int        `json:"persistent_keepalive"`
}
