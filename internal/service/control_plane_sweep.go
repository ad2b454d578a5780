package service

import (
	"context"
	"log"

	"github.com/gatewarden/warden/internal/model"
	"github.com/gatewarden/warden/internal/subscription"
)

// ExpireLapsedClients flips every lapsed client to expired and tears down
// its peers. Clients with no expiry are never candidates. Each candidate is
// re-read and re-checked immediately before mutation, so a subscription
// bought between the candidate query and the mutation wins.
func (cp *ControlPlane) ExpireLapsedClients(ctx context.Context) (int, error) {
	now := cp.now()
	candidates, err := cp.Store.ListExpireCandidates(now)
	if err != nil {
		return 0, internal("list expire candidates", err)
	}

	expired := 0
	for _, candidate := range candidates {
		client, err := cp.Store.GetClientByID(candidate.ID)
		if err != nil {
			log.Printf("[sweep] re-reading client %s failed: %v", candidate.ID, err)
			continue
		}
		if client == nil || client.SubscriptionStatus == model.SubscriptionExpired || !subscription.Expired(client, now) {
			continue
		}

		cp.teardownClientPeers(ctx, client)

		if client.SubscriptionStatus == model.SubscriptionTrial {
			client.TrialUsed = true
		}
		client.SubscriptionStatus = model.SubscriptionExpired
		if err := cp.Store.UpdateClientSubscription(client); err != nil {
			log.Printf("[sweep] expiring client %s failed: %v", client.Username, err)
			continue
		}
		expired++
	}

	if expired > 0 || len(candidates) > 0 {
		log.Printf("[sweep] expired %d of %d lapsed clients", expired, len(candidates))
	}
	return expired, nil
}
