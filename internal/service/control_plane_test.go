package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatewarden/warden/internal/blobstore"
	"github.com/gatewarden/warden/internal/geoip"
	"github.com/gatewarden/warden/internal/liveness"
	"github.com/gatewarden/warden/internal/model"
	"github.com/gatewarden/warden/internal/nodeclient"
	"github.com/gatewarden/warden/internal/state"
	"github.com/gatewarden/warden/internal/statuscache"
	"github.com/gatewarden/warden/internal/subscription"
)

// nodeStub fakes one cluster node's management API.
type nodeStub struct {
	srv *httptest.Server

	mu          sync.Mutex
	nextKeySeq  int
	fixedKey    string // when set, every created peer reuses this public key
	created     int
	deleted     []string
	failAll     bool
	restarts    int
	statusCalls int
}

func newNodeStub(t *testing.T) *nodeStub {
	t.Helper()
	stub := &nodeStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(stub.handle))
	t.Cleanup(stub.srv.Close)
	return stub
}

func (n *nodeStub) handle(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failAll {
		http.Error(w, "down", http.StatusInternalServerError)
		return
	}
	switch r.Method + " " + r.URL.Path {
	case "GET /api/v1/server/status":
		n.statusCalls++
		json.NewEncoder(w).Encode(nodeclient.ServerStatus{
			ContainerName: "amnezia-awg", Status: "running", Protocol: "awg",
		})
	case "POST /api/v1/server/restart":
		n.restarts++
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	case "POST /api/v1/peers/":
		n.created++
		key := n.fixedKey
		if key == "" {
			n.nextKeySeq++
			key = fmt.Sprintf("pk-%d", n.nextKeySeq)
		}
		json.NewEncoder(w).Encode(nodeclient.CreatedPeer{
			PublicKey:   key,
			PrivateKey:  "sk-" + key,
			AllocatedIP: "10.8.0.2",
			Endpoint:    n.srv.Listener.Addr().String(),
			Config:      "[Interface]\nPrivateKey = sk-" + key,
			Protocol:    "awg",
		})
	case "DELETE /api/v1/peers/":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		n.deleted = append(n.deleted, body["public_key"])
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (n *nodeStub) setFailAll(v bool) {
	n.mu.Lock()
	n.failAll = v
	n.mu.Unlock()
}

func (n *nodeStub) statusCallCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statusCalls
}

func (n *nodeStub) deletedKeys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.deleted...)
}

func newTestControlPlane(t *testing.T) (*ControlPlane, *blobstore.MemoryStore) {
	t.Helper()
	store, err := state.Open(t.TempDir() + "/warden.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := statuscache.New(1024, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cache.Close)

	resolver, err := geoip.Open("")
	if err != nil {
		t.Fatal(err)
	}

	blobs := blobstore.NewMemory()
	cp := &ControlPlane{
		Store:    store,
		Cache:    cache,
		Nodes:    nodeclient.NewRegistry(2 * time.Second),
		Blobs:    blobs,
		GeoIP:    resolver,
		Liveness: liveness.NewEvaluator(120*time.Second, time.UTC),
		Policy: subscription.Policy{
			Enabled:      true,
			TrialEnabled: true,
			TrialPeriod:  7 * 24 * time.Hour,
		},
	}
	return cp, blobs
}

func mustCreateCluster(t *testing.T, cp *ControlPlane, stub *nodeStub) *model.Cluster {
	t.Helper()
	cluster, err := cp.CreateCluster("test-cluster", stub.srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return cluster
}

func serviceCode(t *testing.T, err error) string {
	t.Helper()
	svcErr, ok := err.(*ServiceError)
	if !ok {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	return svcErr.Code
}

// --- sync ingest ---

func TestSyncCluster(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	ctx := context.Background()

	handshake := time.Now().UTC()
	req := SyncRequest{
		Protocol: "awg",
		Traffic:  &model.ClusterTraffic{TotalRxBytes: 100, TotalTxBytes: 50, TotalPeers: 2, OnlinePeers: 1},
		Peers: []model.PeerStatus{
			{PublicKey: "pk-a", Online: true, LastHandshake: &handshake},
			{PublicKey: "pk-b", Online: false},
		},
	}

	result, err := cp.SyncCluster(ctx, cluster.APIKey, req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.RuntimeUpdated || !result.TrafficUpdated || !result.ProtocolUpdated {
		t.Fatalf("first push must write everything: %+v", result)
	}
	if result.PeersReceived != 2 || result.PeerWrites != 2 {
		t.Fatalf("peer counters: %+v", result)
	}

	// The push omitted the container descriptor, so it was backfilled from
	// the node itself.
	stored, err := cp.Store.GetClusterByID(cluster.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ContainerName == nil || *stored.ContainerName != "amnezia-awg" {
		t.Fatalf("descriptor not backfilled: %+v", stored)
	}
	if stored.LastHandshake == nil {
		t.Fatal("handshake not stamped")
	}
	if stored.PeersCount != 2 || stored.OnlinePeersCount != 1 {
		t.Fatalf("counters not persisted: %+v", stored)
	}

	// An identical steady-state push writes nothing but still stamps the
	// handshake.
	before := *stored.LastHandshake
	time.Sleep(5 * time.Millisecond)
	result, err = cp.SyncCluster(ctx, cluster.APIKey, req)
	if err != nil {
		t.Fatal(err)
	}
	if result.RuntimeUpdated || result.TrafficUpdated || result.ProtocolUpdated || result.PeerWrites != 0 {
		t.Fatalf("steady-state push must write nothing: %+v", result)
	}
	stored, _ = cp.Store.GetClusterByID(cluster.ID)
	if !stored.LastHandshake.After(before) {
		t.Fatal("handshake must advance on every push")
	}

	// A changed peer snapshot writes exactly that peer.
	req.Peers[1].Online = true
	result, err = cp.SyncCluster(ctx, cluster.APIKey, req)
	if err != nil {
		t.Fatal(err)
	}
	if result.PeerWrites != 1 {
		t.Fatalf("expected exactly one peer write, got %+v", result)
	}
}

func TestSyncClusterUnknownKey(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	mustCreateCluster(t, cp, stub)

	_, err := cp.SyncCluster(context.Background(), "wrong-key", SyncRequest{})
	if code := serviceCode(t, err); code != "AUTH_FAILURE" {
		t.Fatalf("code = %s", code)
	}
}

func TestSyncClusterBackfillsPartialDescriptor(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	ctx := context.Background()

	// The push carries only the container name. The missing status must be
	// filled from the node while the pushed name is kept as-is.
	_, err := cp.SyncCluster(ctx, cluster.APIKey, SyncRequest{ContainerName: "custom-awg"})
	if err != nil {
		t.Fatal(err)
	}
	if stub.statusCallCount() != 1 {
		t.Fatalf("expected one backfill query, got %d", stub.statusCallCount())
	}
	stored, err := cp.Store.GetClusterByID(cluster.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ContainerName == nil || *stored.ContainerName != "custom-awg" {
		t.Fatalf("pushed name must win over the node's: %+v", stored.ContainerName)
	}
	if stored.ContainerStatus == nil || *stored.ContainerStatus != "running" {
		t.Fatalf("missing status not backfilled: %+v", stored.ContainerStatus)
	}

	// With both fields known the node is not asked again.
	if _, err := cp.SyncCluster(ctx, cluster.APIKey, SyncRequest{}); err != nil {
		t.Fatal(err)
	}
	if stub.statusCallCount() != 1 {
		t.Fatalf("complete descriptor must not trigger a backfill, got %d calls", stub.statusCallCount())
	}
}

func TestSyncClusterBackfillFailureIsNotFatal(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	stub.setFailAll(true)

	result, err := cp.SyncCluster(context.Background(), cluster.APIKey, SyncRequest{})
	if err != nil {
		t.Fatalf("sync must survive a dead node: %v", err)
	}
	stored, _ := cp.Store.GetClusterByID(cluster.ID)
	if stored.LastHandshake == nil {
		t.Fatal("handshake must be stamped even when backfill fails")
	}
	_ = result
}

// --- peers ---

func TestCreatePeer(t *testing.T) {
	cp, blobs := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	client, err := cp.CreateClient("ada", true)
	if err != nil {
		t.Fatal(err)
	}

	provision, err := cp.CreatePeer(context.Background(), client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if err != nil {
		t.Fatal(err)
	}
	peer := provision.Peer
	if peer.PublicKey != "pk-1" || peer.AllocatedIP != "10.8.0.2" {
		t.Fatalf("node material not recorded: %+v", peer)
	}
	if provision.Config == "" || provision.ConfigURL == "" {
		t.Fatalf("config not returned: %+v", provision)
	}

	// Only a hash of the node-issued private key is stored.
	if err := bcrypt.CompareHashAndPassword([]byte(peer.PrivateKeyHash), []byte("sk-pk-1")); err != nil {
		t.Fatalf("private key hash mismatch: %v", err)
	}

	if blobs.Len() != 1 {
		t.Fatalf("config blob not stored, have %d", blobs.Len())
	}
}

func TestCreatePeerNodeDownLeavesNoRow(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	client, _ := cp.CreateClient("ada", true)
	stub.setFailAll(true)

	_, err := cp.CreatePeer(context.Background(), client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if code := serviceCode(t, err); code != "NODE_UNAVAILABLE" {
		t.Fatalf("code = %s", code)
	}
	peers, _ := cp.Store.ListPeers()
	if len(peers) != 0 {
		t.Fatalf("no durable row may exist after a node failure: %+v", peers)
	}
}

func TestCreatePeerPublicKeyCollision(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	client, _ := cp.CreateClient("ada", true)
	stub.fixedKey = "pk-same"
	ctx := context.Background()

	if _, err := cp.CreatePeer(ctx, client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg"); err != nil {
		t.Fatal(err)
	}
	_, err := cp.CreatePeer(ctx, client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if code := serviceCode(t, err); code != "CONFLICT" {
		t.Fatalf("code = %s", code)
	}
	// The colliding remote allocation was rolled back.
	if deleted := stub.deletedKeys(); len(deleted) != 1 || deleted[0] != "pk-same" {
		t.Fatalf("expected rollback delete of pk-same, got %v", deleted)
	}
	peers, _ := cp.Store.ListPeers()
	if len(peers) != 1 {
		t.Fatalf("exactly one durable peer expected, got %d", len(peers))
	}
}

func TestCreatePeerExpiredClient(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	cp.Policy.TrialEnabled = false
	client, _ := cp.CreateClient("ada", false) // created expired, no trial

	_, err := cp.CreatePeer(context.Background(), client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if code := serviceCode(t, err); code != "CONFLICT" {
		t.Fatalf("code = %s", code)
	}
}

func TestUpdatePeer(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	client, _ := cp.CreateClient("ada", true)
	ctx := context.Background()

	provision, err := cp.CreatePeer(ctx, client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if err != nil {
		t.Fatal(err)
	}
	original := provision.Peer

	// Same type and protocol: no-op, nothing touched remotely.
	unchanged, err := cp.UpdatePeer(ctx, original.ID, original.AppType, original.Protocol)
	if err != nil {
		t.Fatal(err)
	}
	if unchanged.Peer.PublicKey != original.PublicKey || len(stub.deletedKeys()) != 0 {
		t.Fatal("no-op update must not touch the node")
	}

	// Type change: delete old allocation, record the new material.
	updated, err := cp.UpdatePeer(ctx, original.ID, model.AppTypeAmneziaVPN, "awg")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Peer.ID != original.ID {
		t.Fatal("directory id must survive re-provisioning")
	}
	if updated.Peer.PublicKey == original.PublicKey {
		t.Fatal("re-provisioned peer must carry fresh material")
	}
	if updated.Peer.AppType != model.AppTypeAmneziaVPN {
		t.Fatalf("app type not updated: %+v", updated.Peer)
	}
	if deleted := stub.deletedKeys(); len(deleted) != 1 || deleted[0] != original.PublicKey {
		t.Fatalf("old allocation not released: %v", deleted)
	}
}

func TestUpdatePeerAbortsWhenDeleteFails(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	client, _ := cp.CreateClient("ada", true)
	ctx := context.Background()

	provision, err := cp.CreatePeer(ctx, client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if err != nil {
		t.Fatal(err)
	}
	stub.setFailAll(true)

	_, err = cp.UpdatePeer(ctx, provision.Peer.ID, model.AppTypeAmneziaVPN, "awg")
	if code := serviceCode(t, err); code != "NODE_UNAVAILABLE" {
		t.Fatalf("code = %s", code)
	}
	stored, _ := cp.Store.GetPeerByID(provision.Peer.ID)
	if stored.AppType != model.AppTypeAmneziaWG || stored.PublicKey != provision.Peer.PublicKey {
		t.Fatalf("peer must be untouched after an aborted update: %+v", stored)
	}
}

func TestDeletePeerSurvivesDeadNode(t *testing.T) {
	cp, blobs := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	client, _ := cp.CreateClient("ada", true)
	ctx := context.Background()

	provision, err := cp.CreatePeer(ctx, client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if err != nil {
		t.Fatal(err)
	}
	stub.setFailAll(true)

	if err := cp.DeletePeer(ctx, provision.Peer.ID); err != nil {
		t.Fatalf("durable delete must succeed despite the node: %v", err)
	}
	if peers, _ := cp.Store.ListPeers(); len(peers) != 0 {
		t.Fatal("peer row must be gone")
	}
	if blobs.Len() != 0 {
		t.Fatal("config blob must be gone")
	}
}

func TestPeerConfigURLMissingBlob(t *testing.T) {
	cp, blobs := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	client, _ := cp.CreateClient("ada", true)
	ctx := context.Background()

	provision, err := cp.CreatePeer(ctx, client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cp.PeerConfigURL(ctx, provision.Peer.ID); err != nil {
		t.Fatalf("stored config must presign: %v", err)
	}

	// Once the blob is gone the link request reports absence, not a
	// server error.
	if err := blobs.Delete(ctx, blobstore.PeerConfigKey(provision.Peer.ID)); err != nil {
		t.Fatal(err)
	}
	_, err = cp.PeerConfigURL(ctx, provision.Peer.ID)
	if code := serviceCode(t, err); code != "NOT_FOUND" {
		t.Fatalf("code = %s", code)
	}
}

// --- clients and subscriptions ---

func TestCreateClientInitialStates(t *testing.T) {
	cp, _ := newTestControlPlane(t)

	trial, err := cp.CreateClient("trial-user", false)
	if err != nil {
		t.Fatal(err)
	}
	if trial.SubscriptionStatus != model.SubscriptionTrial || trial.ExpiresAt == nil {
		t.Fatalf("trial client: %+v", trial)
	}
	// The grant is not consumed by merely holding it.
	if trial.TrialUsed {
		t.Fatal("fresh trial client must not be marked trial_used")
	}

	admin, err := cp.CreateClient("admin-user", true)
	if err != nil {
		t.Fatal(err)
	}
	if admin.SubscriptionStatus != model.SubscriptionActive || admin.ExpiresAt != nil {
		t.Fatalf("admin client: %+v", admin)
	}

	if _, err := cp.CreateClient("trial-user", false); serviceCode(t, err) != "CONFLICT" {
		t.Fatal("duplicate username must conflict")
	}
}

func mustCreateTariff(t *testing.T, cp *ControlPlane, code string, days int, active bool) *model.Tariff {
	t.Helper()
	tariff, err := cp.CreateTariff(TariffInput{
		Code: code, Name: code, Days: days, PriceRub: 100, PriceStars: 50, IsActive: active,
	})
	if err != nil {
		t.Fatal(err)
	}
	return tariff
}

func TestSubscribeTrialClient(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	mustCreateTariff(t, cp, "month", 30, true)
	ctx := context.Background()

	client, _ := cp.CreateClient("ada", false) // trial
	provision, err := cp.CreatePeer(ctx, client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if err != nil {
		t.Fatal(err)
	}

	before := time.Now()
	subscribed, err := cp.Subscribe(ctx, client.ID, "month")
	if err != nil {
		t.Fatal(err)
	}
	if subscribed.SubscriptionStatus != model.SubscriptionActive || !subscribed.TrialUsed {
		t.Fatalf("subscribed client: %+v", subscribed)
	}
	// Trial remainder is discarded: the clock restarts from purchase time.
	wantMin := before.Add(30 * 24 * time.Hour)
	if subscribed.ExpiresAt == nil || subscribed.ExpiresAt.Before(wantMin.Add(-time.Minute)) ||
		subscribed.ExpiresAt.After(wantMin.Add(time.Minute)) {
		t.Fatalf("expiry = %v, want about %v", subscribed.ExpiresAt, wantMin)
	}
	if subscribed.LastSubscriptionAt == nil {
		t.Fatal("last_subscription_at not stamped")
	}

	// Trial peers were torn down for fresh provisioning.
	if peers, _ := cp.Store.ListPeersByClient(client.ID); len(peers) != 0 {
		t.Fatal("trial peers must be torn down on purchase")
	}
	if deleted := stub.deletedKeys(); len(deleted) != 1 || deleted[0] != provision.Peer.PublicKey {
		t.Fatalf("remote teardown missing: %v", deleted)
	}
}

func TestSubscribeActiveClientStacks(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	mustCreateTariff(t, cp, "month", 30, true)
	ctx := context.Background()

	client, _ := cp.CreateClient("ada", false)
	first, err := cp.Subscribe(ctx, client.ID, "month")
	if err != nil {
		t.Fatal(err)
	}
	provision, err := cp.CreatePeer(ctx, client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if err != nil {
		t.Fatal(err)
	}

	second, err := cp.Subscribe(ctx, client.ID, "month")
	if err != nil {
		t.Fatal(err)
	}
	want := first.ExpiresAt.Add(30 * 24 * time.Hour)
	if !second.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want stacked %v", second.ExpiresAt, want)
	}
	// Renewal of an already-active subscription touches no trial state.
	if !second.TrialUsed {
		t.Fatal("ex-trial client must keep trial_used after renewal")
	}
	// An active client keeps its peers across renewal.
	if peers, _ := cp.Store.ListPeersByClient(client.ID); len(peers) != 1 {
		t.Fatal("active client peers must survive renewal")
	}
	_ = provision
}

func TestSubscribeNeverTrialedClientKeepsGrant(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	mustCreateTariff(t, cp, "month", 30, true)
	ctx := context.Background()

	client, err := cp.CreateClient("ops", true) // active from the start, never in trial
	if err != nil {
		t.Fatal(err)
	}
	if client.TrialUsed {
		t.Fatalf("admin-created client must not be marked trial_used: %+v", client)
	}

	subscribed, err := cp.Subscribe(ctx, client.ID, "month")
	if err != nil {
		t.Fatal(err)
	}
	if subscribed.TrialUsed {
		t.Fatal("subscribing a never-trialed client must not consume the trial grant")
	}
	stored, _ := cp.Store.GetClientByID(client.ID)
	if stored.TrialUsed {
		t.Fatal("trial_used must stay false in the durable row too")
	}
}

func TestSubscribeRejections(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	mustCreateTariff(t, cp, "legacy", 30, false)
	client, _ := cp.CreateClient("ada", false)
	ctx := context.Background()

	if _, err := cp.Subscribe(ctx, client.ID, "missing"); serviceCode(t, err) != "NOT_FOUND" {
		t.Fatal("unknown tariff must be NOT_FOUND")
	}
	if _, err := cp.Subscribe(ctx, client.ID, "legacy"); serviceCode(t, err) != "CONFLICT" {
		t.Fatal("inactive tariff must be CONFLICT")
	}

	cp.Policy.Enabled = false
	if _, err := cp.Subscribe(ctx, client.ID, "legacy"); serviceCode(t, err) != "CONFLICT" {
		t.Fatal("disabled subscriptions must be CONFLICT")
	}
}

// --- expiry sweep ---

func TestExpireLapsedClients(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	ctx := context.Background()

	lapsed, _ := cp.CreateClient("lapsed", false) // trial
	provision, err := cp.CreatePeer(ctx, lapsed.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour).UTC()
	lapsed.ExpiresAt = &past
	if err := cp.Store.UpdateClientSubscription(lapsed); err != nil {
		t.Fatal(err)
	}

	forever, _ := cp.CreateClient("forever", true) // active, no expiry

	expired, err := cp.ExpireLapsedClients(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expiry, got %d", expired)
	}

	got, _ := cp.Store.GetClientByID(lapsed.ID)
	if got.SubscriptionStatus != model.SubscriptionExpired || !got.TrialUsed {
		t.Fatalf("lapsed client: %+v", got)
	}
	if peers, _ := cp.Store.ListPeersByClient(lapsed.ID); len(peers) != 0 {
		t.Fatal("lapsed client peers must be torn down")
	}
	if deleted := stub.deletedKeys(); len(deleted) != 1 || deleted[0] != provision.Peer.PublicKey {
		t.Fatalf("remote teardown missing: %v", deleted)
	}

	// A client with no expiry is never swept.
	got, _ = cp.Store.GetClientByID(forever.ID)
	if got.SubscriptionStatus != model.SubscriptionActive {
		t.Fatalf("no-expiry client must be untouched: %+v", got)
	}

	// The sweep is idempotent.
	expired, err = cp.ExpireLapsedClients(ctx)
	if err != nil || expired != 0 {
		t.Fatalf("second sweep: %d %v", expired, err)
	}
}

// --- cluster cascade ---

func TestDeleteClusterCascade(t *testing.T) {
	cp, blobs := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	client, _ := cp.CreateClient("ada", true)
	ctx := context.Background()

	provision, err := cp.CreatePeer(ctx, client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cp.SyncCluster(ctx, cluster.APIKey, SyncRequest{
		Protocol: "awg",
		Traffic:  &model.ClusterTraffic{TotalPeers: 1, OnlinePeers: 1},
	}); err != nil {
		t.Fatal(err)
	}

	if err := cp.DeleteCluster(ctx, cluster.ID); err != nil {
		t.Fatal(err)
	}
	if got, _ := cp.Store.GetClusterByID(cluster.ID); got != nil {
		t.Fatal("cluster row must be gone")
	}
	if peers, _ := cp.Store.ListPeers(); len(peers) != 0 {
		t.Fatal("hosted peers must be gone")
	}
	if _, ok := cp.Cache.GetTraffic(cluster.ID); ok {
		t.Fatal("cached entries must be cleared")
	}
	if deleted := stub.deletedKeys(); len(deleted) != 1 || deleted[0] != provision.Peer.PublicKey {
		t.Fatalf("remote teardown missing: %v", deleted)
	}
	if blobs.Len() != 0 {
		t.Fatal("config blobs must be purged")
	}

	// The client itself survives; only the hosting disappeared.
	if got, _ := cp.Store.GetClientByID(client.ID); got == nil {
		t.Fatal("client must survive a cluster delete")
	}
}

// --- views ---

func TestClusterViewStaleness(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	ctx := context.Background()

	// Unknown before the first push.
	view, err := cp.GetCluster(cluster.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.EffectiveStatus != liveness.StatusUnknown {
		t.Fatalf("pre-sync status = %q", view.EffectiveStatus)
	}

	if _, err := cp.SyncCluster(ctx, cluster.APIKey, SyncRequest{ContainerStatus: "running"}); err != nil {
		t.Fatal(err)
	}
	view, _ = cp.GetCluster(cluster.ID)
	if view.EffectiveStatus != "running" {
		t.Fatalf("fresh status = %q", view.EffectiveStatus)
	}

	// With an ancient handshake the same stored row reads as stale, with
	// no write-back.
	cp.Liveness.Now = func() time.Time { return time.Now().Add(time.Hour) }
	view, _ = cp.GetCluster(cluster.ID)
	if view.EffectiveStatus != liveness.StatusStale {
		t.Fatalf("aged status = %q", view.EffectiveStatus)
	}
	stored, _ := cp.Store.GetClusterByID(cluster.ID)
	if stored.ContainerStatus == nil || *stored.ContainerStatus != "running" {
		t.Fatalf("staleness must never be written back: %+v", stored.ContainerStatus)
	}
}

func TestClusterStats(t *testing.T) {
	cp, _ := newTestControlPlane(t)
	stub := newNodeStub(t)
	cluster := mustCreateCluster(t, cp, stub)
	client, _ := cp.CreateClient("ada", true)
	ctx := context.Background()

	provision, err := cp.CreatePeer(ctx, client.ID, cluster.ID, model.AppTypeAmneziaWG, "awg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cp.SyncCluster(ctx, cluster.APIKey, SyncRequest{
		ContainerStatus: "running",
		Peers: []model.PeerStatus{
			{PublicKey: provision.Peer.PublicKey, Online: true},
		},
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := cp.ClusterStatsFor(cluster.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Peers != 1 || stats.Clients != 1 || stats.OnlinePeers != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if stats.PeersByAppType[model.AppTypeAmneziaWG] != 1 {
		t.Fatalf("app type breakdown: %+v", stats.PeersByAppType)
	}

	summary, err := cp.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if summary.Clusters != 1 || summary.Clients != 1 || summary.Peers != 1 {
		t.Fatalf("summary: %+v", summary)
	}
}
