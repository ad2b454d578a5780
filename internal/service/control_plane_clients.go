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
	"github.com/gatewarden/warden/internal/subscription"
)

// CreateClient registers a new client account. Admin-created accounts are
// active with no expiry; otherwise the trial policy decides the initial
// lifecycle state.
func (cp *ControlPlane) CreateClient(username string, admin bool) (*model.Client, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, invalidArg("username must not be empty")
	}

	now := cp.now()
	initial := cp.Policy.InitialState(now, admin)
	client := &model.Client{
		ID:                 uuid.NewString(),
		Username:           username,
		ExpiresAt:          initial.ExpiresAt,
		SubscriptionStatus: initial.Status,
		TrialUsed:          initial.TrialUsed,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := cp.Store.CreateClient(client); err != nil {
		if state.IsUniqueViolation(err) {
			return nil, conflict("username already in use")
		}
		return nil, internal("create client", err)
	}
	log.Printf("[clients] created client %s (%s) status=%s", client.Username, client.ID, client.SubscriptionStatus)
	return client, nil
}

// GetClient returns one client by id.
func (cp *ControlPlane) GetClient(id string) (*model.Client, error) {
	client, err := cp.Store.GetClientByID(id)
	if err != nil {
		return nil, internal("get client", err)
	}
	if client == nil {
		return nil, notFound("client not found")
	}
	return client, nil
}

// ListClients returns all clients.
func (cp *ControlPlane) ListClients() ([]model.Client, error) {
	clients, err := cp.Store.ListClients()
	if err != nil {
		return nil, internal("list clients", err)
	}
	return clients, nil
}

// Subscribe applies a tariff purchase to a client. An active, unexpired
// subscription stacks the tariff period on top of its current expiry; a
// trial or expired client restarts from now and has its old peers torn
// down first so the new subscription begins with fresh provisioning.
func (cp *ControlPlane) Subscribe(ctx context.Context, clientID, tariffCode string) (*model.Client, error) {
	if !cp.Policy.Enabled {
		return nil, conflict("subscriptions are disabled")
	}
	client, err := cp.Store.GetClientByID(clientID)
	if err != nil {
		return nil, internal("get client", err)
	}
	if client == nil {
		return nil, notFound("client not found")
	}
	tariff, err := cp.Store.GetTariffByCode(tariffCode)
	if err != nil {
		return nil, internal("get tariff", err)
	}
	if tariff == nil {
		return nil, notFound("tariff not found")
	}
	if !tariff.IsActive {
		return nil, conflict("tariff is not active")
	}

	if subscription.NeedsTeardown(client) {
		cp.teardownClientPeers(ctx, client)
	}

	now := cp.now()
	period := time.Duration(tariff.Days) * 24 * time.Hour
	expires := subscription.Extend(client, now, period)

	if client.SubscriptionStatus == model.SubscriptionTrial {
		client.TrialUsed = true
	}
	client.ExpiresAt = &expires
	client.SubscriptionStatus = model.SubscriptionActive
	client.LastSubscriptionAt = &now
	if err := cp.Store.UpdateClientSubscription(client); err != nil {
		return nil, internal("update client subscription", err)
	}
	log.Printf("[clients] client %s subscribed tariff=%s expires=%s", client.Username, tariff.Code, expires.Format(time.RFC3339))
	return client, nil
}

// DeleteClient removes a client and its peers. Remote teardown is best
// effort per peer; durable rows always go.
func (cp *ControlPlane) DeleteClient(ctx context.Context, id string) error {
	client, err := cp.Store.GetClientByID(id)
	if err != nil {
		return internal("get client", err)
	}
	if client == nil {
		return notFound("client not found")
	}

	cp.teardownClientPeers(ctx, client)
	if _, err := cp.Store.DeleteClient(id); err != nil {
		return internal("delete client", err)
	}
	log.Printf("[clients] deleted client %s (%s)", client.Username, id)
	return nil
}

// teardownClientPeers removes all of a client's peers: remote deletion and
// blob purge are best effort per peer, the durable rows are removed
// unconditionally. A node that is down cannot hold the directory hostage.
func (cp *ControlPlane) teardownClientPeers(ctx context.Context, client *model.Client) {
	peers, err := cp.Store.ListPeersByClient(client.ID)
	if err != nil {
		log.Printf("[clients] teardown for %s: listing peers failed: %v", client.Username, err)
		return
	}
	for _, peer := range peers {
		cluster, err := cp.Store.GetClusterByID(peer.ClusterID)
		if err != nil || cluster == nil {
			log.Printf("[clients] teardown for %s: cluster %s unavailable for peer %s", client.Username, peer.ClusterID, peer.ID)
		} else if err := cp.Nodes.For(cluster).DeletePeer(ctx, peer.PublicKey); err != nil {
			log.Printf("[clients] teardown for %s: remote peer %s not removed: %v", client.Username, peer.ID, err)
		}
		if err := cp.Blobs.Delete(ctx, blobstore.PeerConfigKey(peer.ID)); err != nil {
			log.Printf("[clients] teardown for %s: config blob for peer %s not removed: %v", client.Username, peer.ID, err)
		}
	}
	if n, err := cp.Store.DeletePeersByClient(client.ID); err != nil {
		log.Printf("[clients] teardown for %s: deleting peer rows failed: %v", client.Username, err)
	} else if n > 0 {
		log.Printf("[clients] teardown for %s: removed %d peers", client.Username, n)
	}
}
