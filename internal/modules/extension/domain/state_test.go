package domain_test

import (
	"reflect"
	"testing"

	"ucx/internal/modules/extension/domain"
)

func TestOfferAddPeerIsIdempotent(t *testing.T) {
	t.Parallel()
	offer := domain.Offer{Manifest: validManifest()}
	if !offer.AddPeer("peer-a") {
		t.Fatalf("expected first add to change the set")
	}
	if offer.AddPeer("peer-a") {
		t.Fatalf("expected duplicate add to be a no-op")
	}
	if !reflect.DeepEqual(offer.PeerIDs, []string{"peer-a"}) {
		t.Fatalf("unexpected peer set: %v", offer.PeerIDs)
	}
}

func TestInstalledRemovePeerClearsLastSuccessful(t *testing.T) {
	t.Parallel()
	installed := domain.Installed{
		Manifest:             validManifest(),
		PeerIDs:              []string{"peer-a", "peer-b"},
		LastSuccessfulPeerID: "peer-b",
	}
	if !installed.RemovePeer("peer-b") {
		t.Fatalf("expected removal")
	}
	if installed.LastSuccessfulPeerID != "" {
		t.Fatalf("expected last-successful hint to be cleared")
	}
	if !reflect.DeepEqual(installed.PeerIDs, []string{"peer-a"}) {
		t.Fatalf("unexpected peer set: %v", installed.PeerIDs)
	}
}

func TestCandidatePeersPrefersLastSuccessful(t *testing.T) {
	t.Parallel()
	installed := domain.Installed{
		PeerIDs:              []string{"peer-a", "peer-b", "peer-c"},
		LastSuccessfulPeerID: "peer-b",
	}
	got := installed.CandidatePeers()
	want := []string{"peer-b", "peer-a", "peer-c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	// stored order must be untouched
	if !reflect.DeepEqual(installed.PeerIDs, []string{"peer-a", "peer-b", "peer-c"}) {
		t.Fatalf("stored set was reordered: %v", installed.PeerIDs)
	}
}

func TestCandidatePeersIgnoresStaleHint(t *testing.T) {
	t.Parallel()
	installed := domain.Installed{
		PeerIDs:              []string{"peer-a", "peer-c"},
		LastSuccessfulPeerID: "peer-gone",
	}
	got := installed.CandidatePeers()
	if !reflect.DeepEqual(got, []string{"peer-a", "peer-c"}) {
		t.Fatalf("candidates = %v", got)
	}
}
