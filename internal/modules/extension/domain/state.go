package domain

import "time"

// Offer is an extension seen on the network but not installed. PeerIDs keeps
// insertion order for display and never contains duplicates; an offer whose
// peer set becomes empty is deleted by the registry.
type Offer struct {
	Manifest    Manifest
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	PeerIDs     []string
}

// AddPeer appends the peer if not already present and reports whether the set
// changed.
func (o *Offer) AddPeer(peerID string) bool {
	for _, existing := range o.PeerIDs {
		if existing == peerID {
			return false
		}
	}
	o.PeerIDs = append(o.PeerIDs, peerID)
	return true
}

// RemovePeer drops the peer and reports whether the set changed.
func (o *Offer) RemovePeer(peerID string) bool {
	for i, existing := range o.PeerIDs {
		if existing == peerID {
			o.PeerIDs = append(o.PeerIDs[:i], o.PeerIDs[i+1:]...)
			return true
		}
	}
	return false
}

// Installed is the durable local record of an accepted extension. The
// manifest is a snapshot taken at install time. Enabled is informational
// only: it never gates command execution.
type Installed struct {
	Manifest             Manifest  `json:"manifest"`
	InstalledAt          time.Time `json:"installedAt"`
	Enabled              bool      `json:"enabled"`
	PeerIDs              []string  `json:"peerIds"`
	LastSuccessfulPeerID string    `json:"lastSuccessfulPeerId,omitempty"`
}

// AddPeer appends the peer if not already present and reports whether the set
// changed.
func (ins *Installed) AddPeer(peerID string) bool {
	for _, existing := range ins.PeerIDs {
		if existing == peerID {
			return false
		}
	}
	ins.PeerIDs = append(ins.PeerIDs, peerID)
	return true
}

// RemovePeer drops the peer, clearing the last-successful hint when it points
// at the removed peer. Reports whether anything changed.
func (ins *Installed) RemovePeer(peerID string) bool {
	changed := false
	for i, existing := range ins.PeerIDs {
		if existing == peerID {
			ins.PeerIDs = append(ins.PeerIDs[:i], ins.PeerIDs[i+1:]...)
			changed = true
			break
		}
	}
	if ins.LastSuccessfulPeerID == peerID {
		ins.LastSuccessfulPeerID = ""
		changed = true
	}
	return changed
}

// CandidatePeers returns peers in execution order: the last-successful peer
// first when it is still in the set, then the rest in stored insertion order.
// The stored set itself is never reordered.
func (ins Installed) CandidatePeers() []string {
	out := make([]string, 0, len(ins.PeerIDs))
	lead := ""
	for _, peerID := range ins.PeerIDs {
		if peerID == ins.LastSuccessfulPeerID {
			lead = peerID
			break
		}
	}
	if lead != "" {
		out = append(out, lead)
	}
	for _, peerID := range ins.PeerIDs {
		if peerID != lead {
			out = append(out, peerID)
		}
	}
	return out
}

// Published is a locally hosted extension served to remote peers. Binary is
// the extension backend executable spoken to over the plugin RPC contract.
type Published struct {
	Manifest Manifest `json:"manifest"`
	Binary   string   `json:"binary"`
}

// Validate checks the published record shape.
func (p Published) Validate() error {
	if err := p.Manifest.Validate(); err != nil {
		return err
	}
	if p.Binary == "" {
		return &ManifestError{Field: "binary", Reason: "must be a non-empty path"}
	}
	return nil
}
