package nodeclient

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/gatewarden/warden/internal/model"
)

// Registry caches one Client per cluster so connection pools survive across
// calls. A client is rebuilt transparently when the cluster's endpoint or
// api key changes.
type Registry struct {
	clients *xsync.Map[string, *Client]
	timeout time.Duration
}

// NewRegistry creates a Registry whose clients use the given per-call
// timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		clients: xsync.NewMap[string, *Client](),
		timeout: timeout,
	}
}

// For returns the client for the given cluster, creating or replacing it as
// needed.
func (r *Registry) For(cluster *model.Cluster) *Client {
	client, _ := r.clients.Compute(cluster.ID,
		func(old *Client, loaded bool) (*Client, xsync.ComputeOp) {
			fresh := New(cluster.Endpoint, cluster.APIKey, r.timeout)
			if loaded && old.Endpoint() == fresh.Endpoint() && old.APIKey() == fresh.APIKey() {
				return old, xsync.UpdateOp
			}
			return fresh, xsync.UpdateOp
		})
	return client
}

// Forget drops the cached client for a cluster. Called when the cluster is
// deleted.
func (r *Registry) Forget(clusterID string) {
	r.clients.Delete(clusterID)
}
