package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatewarden/warden/internal/blobstore"
	"github.com/gatewarden/warden/internal/model"
	"github.com/gatewarden/warden/internal/state"
	"github.com/gatewarden/warden/internal/subscription"
)

// configURLTTL bounds how long a generated config download link stays valid.
const configURLTTL = time.Hour

// PeerProvision is the result of creating or re-provisioning a peer. Config
// is the ready-to-import blob; it is also persisted to the blob store and
// reachable through ConfigURL until the link expires.
type PeerProvision struct {
	Peer      model.Peer `json:"peer"`
	Config    string     `json:"config"`
	ConfigURL string     `json:"config_url,omitempty"`
}

// CreatePeer provisions a new peer for a client on a cluster. The node
// allocates the key pair and IP; a node failure aborts the operation so no
// orphan row is ever recorded.
func (cp *ControlPlane) CreatePeer(ctx context.Context, clientID, clusterID string, appType model.AppType, protocol string) (*PeerProvision, error) {
	if !appType.IsValid() {
		return nil, invalidArg("unknown app type")
	}
	client, err := cp.Store.GetClientByID(clientID)
	if err != nil {
		return nil, internal("get client", err)
	}
	if client == nil {
		return nil, notFound("client not found")
	}
	if subscription.Expired(client, cp.now()) {
		return nil, conflict("client subscription has expired")
	}
	cluster, err := cp.Store.GetClusterByID(clusterID)
	if err != nil {
		return nil, internal("get cluster", err)
	}
	if cluster == nil {
		return nil, notFound("cluster not found")
	}
	if !cluster.IsActive {
		return nil, conflict("cluster is disabled")
	}

	node := cp.Nodes.For(cluster)
	created, err := node.CreatePeer(ctx, string(appType), protocol)
	if err != nil {
		return nil, nodeUnavailable("cluster node did not provision the peer", err)
	}

	if existing, err := cp.Store.GetPeerByPublicKey(created.PublicKey); err != nil {
		return nil, internal("check public key", err)
	} else if existing != nil {
		// The node handed out a key we already track. Undo the remote
		// allocation before reporting the collision.
		if err := node.DeletePeer(ctx, created.PublicKey); err != nil {
			log.Printf("[peers] rollback of colliding peer on %s failed: %v", cluster.Name, err)
		}
		return nil, conflict("public key already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(created.PrivateKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, internal("hash private key", err)
	}

	now := cp.now()
	peer := model.Peer{
		ID:             uuid.NewString(),
		ClientID:       client.ID,
		ClusterID:      cluster.ID,
		PublicKey:      created.PublicKey,
		PrivateKeyHash: string(hash),
		AllocatedIP:    created.AllocatedIP,
		Endpoint:       created.Endpoint,
		AppType:        appType,
		Protocol:       created.Protocol,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := cp.Store.CreatePeer(&peer); err != nil {
		if deleteErr := node.DeletePeer(ctx, created.PublicKey); deleteErr != nil {
			log.Printf("[peers] rollback of unrecorded peer on %s failed: %v", cluster.Name, deleteErr)
		}
		if state.IsUniqueViolation(err) {
			return nil, conflict("public key already registered")
		}
		return nil, internal("create peer", err)
	}

	provision := &PeerProvision{Peer: peer, Config: created.Config}
	provision.ConfigURL = cp.storeConfig(ctx, peer.ID, created.Config)
	log.Printf("[peers] provisioned peer %s for client %s on cluster %s", peer.ID, client.Username, cluster.Name)
	return provision, nil
}

// storeConfig persists the config blob and returns a presigned download
// link. Blob store trouble is logged, not fatal; the caller already holds
// the config inline.
func (cp *ControlPlane) storeConfig(ctx context.Context, peerID, config string) string {
	key := blobstore.PeerConfigKey(peerID)
	if err := cp.Blobs.Put(ctx, key, []byte(config), "application/octet-stream"); err != nil {
		log.Printf("[peers] storing config for peer %s failed: %v", peerID, err)
		return ""
	}
	url, err := cp.Blobs.PresignedURL(ctx, key, configURLTTL)
	if err != nil {
		log.Printf("[peers] presigning config for peer %s failed: %v", peerID, err)
		return ""
	}
	return url
}

// GetPeer returns one peer by id.
func (cp *ControlPlane) GetPeer(id string) (*model.Peer, error) {
	peer, err := cp.Store.GetPeerByID(id)
	if err != nil {
		return nil, internal("get peer", err)
	}
	if peer == nil {
		return nil, notFound("peer not found")
	}
	return peer, nil
}

// ListPeers returns peers, optionally filtered by owner or host cluster.
func (cp *ControlPlane) ListPeers(clientID, clusterID string) ([]model.Peer, error) {
	var (
		peers []model.Peer
		err   error
	)
	switch {
	case clientID != "":
		peers, err = cp.Store.ListPeersByClient(clientID)
	case clusterID != "":
		peers, err = cp.Store.ListPeersByCluster(clusterID)
	default:
		peers, err = cp.Store.ListPeers()
	}
	if err != nil {
		return nil, internal("list peers", err)
	}
	return peers, nil
}

// UpdatePeer changes a peer's app type or protocol. The node cannot mutate
// an existing peer, so the change is a remote delete followed by a fresh
// provisioning under the same directory id. Requesting the current type and
// protocol is a no-op. The remote delete must succeed before anything else
// happens; otherwise the old allocation would leak on the node.
func (cp *ControlPlane) UpdatePeer(ctx context.Context, id string, appType model.AppType, protocol string) (*PeerProvision, error) {
	if !appType.IsValid() {
		return nil, invalidArg("unknown app type")
	}
	peer, err := cp.Store.GetPeerByID(id)
	if err != nil {
		return nil, internal("get peer", err)
	}
	if peer == nil {
		return nil, notFound("peer not found")
	}
	if peer.AppType == appType && (protocol == "" || peer.Protocol == protocol) {
		return &PeerProvision{Peer: *peer}, nil
	}
	cluster, err := cp.Store.GetClusterByID(peer.ClusterID)
	if err != nil {
		return nil, internal("get cluster", err)
	}
	if cluster == nil {
		return nil, notFound("cluster not found")
	}

	node := cp.Nodes.For(cluster)
	if err := node.DeletePeer(ctx, peer.PublicKey); err != nil {
		return nil, nodeUnavailable("cluster node did not release the old peer", err)
	}
	created, err := node.CreatePeer(ctx, string(appType), protocol)
	if err != nil {
		return nil, nodeUnavailable("cluster node did not provision the replacement peer", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(created.PrivateKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, internal("hash private key", err)
	}

	peer.PublicKey = created.PublicKey
	peer.PrivateKeyHash = string(hash)
	peer.AllocatedIP = created.AllocatedIP
	peer.Endpoint = created.Endpoint
	peer.AppType = appType
	peer.Protocol = created.Protocol
	if err := cp.Store.UpdatePeerMaterial(peer); err != nil {
		return nil, internal("update peer", err)
	}

	provision := &PeerProvision{Peer: *peer, Config: created.Config}
	provision.ConfigURL = cp.storeConfig(ctx, peer.ID, created.Config)
	log.Printf("[peers] re-provisioned peer %s on cluster %s as %s", peer.ID, cluster.Name, appType)
	return provision, nil
}

// DeletePeer removes a peer. The remote delete is best effort; the durable
// row and the config blob always go.
func (cp *ControlPlane) DeletePeer(ctx context.Context, id string) error {
	peer, err := cp.Store.GetPeerByID(id)
	if err != nil {
		return internal("get peer", err)
	}
	if peer == nil {
		return notFound("peer not found")
	}

	cluster, err := cp.Store.GetClusterByID(peer.ClusterID)
	if err != nil || cluster == nil {
		log.Printf("[peers] delete %s: cluster %s unavailable, skipping remote removal", id, peer.ClusterID)
	} else if err := cp.Nodes.For(cluster).DeletePeer(ctx, peer.PublicKey); err != nil {
		log.Printf("[peers] delete %s: remote removal failed: %v", id, err)
	}

	if _, err := cp.Store.DeletePeer(id); err != nil {
		return internal("delete peer", err)
	}
	if err := cp.Blobs.Delete(ctx, blobstore.PeerConfigKey(id)); err != nil {
		log.Printf("[peers] delete %s: config blob not removed: %v", id, err)
	}
	log.Printf("[peers] deleted peer %s", id)
	return nil
}

// PeerConfigURL returns a fresh presigned download link for a peer's stored
// config blob.
func (cp *ControlPlane) PeerConfigURL(ctx context.Context, id string) (string, error) {
	peer, err := cp.Store.GetPeerByID(id)
	if err != nil {
		return "", internal("get peer", err)
	}
	if peer == nil {
		return "", notFound("peer not found")
	}
	url, err := cp.Blobs.PresignedURL(ctx, blobstore.PeerConfigKey(id), configURLTTL)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", notFound("no config stored for this peer")
		}
		return "", internal("presign config", err)
	}
	return url, nil
}

// PeerLiveStatus returns the peer's last pushed live snapshot, or nil when
// none is within TTL.
func (cp *ControlPlane) PeerLiveStatus(id string) (*model.PeerStatus, error) {
	peer, err := cp.Store.GetPeerByID(id)
	if err != nil {
		return nil, internal("get peer", err)
	}
	if peer == nil {
		return nil, notFound("peer not found")
	}
	status, ok := cp.Cache.GetPeerStatus(peer.ClusterID, peer.PublicKey)
	if !ok {
		return nil, nil
	}
	return status, nil
}
