package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"ucx/internal/modules/extension/domain"
	extout "ucx/internal/modules/extension/port/out"
	"ucx/internal/platform/clock"
)

// maxOffers bounds the transient offer table; the least-recently-seen offer
// is evicted when a new one would exceed it.
const maxOffers = 10

// RegistryService is the single source of truth for offer and installation
// state. Offer keys and installed keys are disjoint at all times; installing
// an extension removes its offer in the same critical section. Every
// installation-side mutation synchronously persists the full installation
// map; offers live only in memory and are rebuilt by discovery.
type RegistryService struct {
	store  extout.StateStore
	clk    clock.Clock
	logger *slog.Logger

	mu           sync.Mutex
	offers       map[string]*domain.Offer
	installed    map[string]*domain.Installed
	listeners    map[int]func()
	nextListener int
}

func NewRegistryService(store extout.StateStore, clk clock.Clock, logger *slog.Logger) *RegistryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryService{
		store:     store,
		clk:       clk,
		logger:    logger,
		offers:    map[string]*domain.Offer{},
		installed: map[string]*domain.Installed{},
		listeners: map[int]func(){},
	}
}

// Load replaces the installation map with the persisted one. Called once at
// startup, before discovery is attached.
func (s *RegistryService) Load(ctx context.Context) error {
	records, err := s.store.LoadInstalled(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.installed = map[string]*domain.Installed{}
	for id, record := range records {
		copied := record
		s.installed[id] = &copied
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Subscribe registers a listener fired after every mutation. The returned
// function removes it. A panicking listener is logged and isolated; it never
// affects the mutation or other listeners.
func (s *RegistryService) Subscribe(fn func()) func() {
	s.mu.Lock()
	handle := s.nextListener
	s.nextListener++
	s.listeners[handle] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, handle)
		s.mu.Unlock()
	}
}

// RecordOffer validates the manifest and records a sighting of the extension
// from the given peer. Invalid manifests and already-installed extensions are
// dropped silently (logged, never an error): one peer's bad manifest must not
// disturb anything else.
func (s *RegistryService) RecordOffer(ctx context.Context, peerID string, manifest domain.Manifest) {
	if err := manifest.Validate(); err != nil {
		s.logger.Warn("dropping offer with invalid manifest", "peer", peerID, "error", err)
		return
	}
	now := s.clk.Now()

	s.mu.Lock()
	if _, ok := s.installed[manifest.ID]; ok {
		s.mu.Unlock()
		s.logger.Debug("ignoring offer for installed extension", "extension", manifest.ID, "peer", peerID)
		return
	}
	offer, ok := s.offers[manifest.ID]
	if ok {
		offer.AddPeer(peerID)
		offer.LastSeenAt = now
	} else {
		s.offers[manifest.ID] = &domain.Offer{
			Manifest:    manifest,
			FirstSeenAt: now,
			LastSeenAt:  now,
			PeerIDs:     []string{peerID},
		}
		s.evictOldestLocked()
	}
	s.mu.Unlock()
	s.notify()
}

// evictOldestLocked enforces the offer cap by removing the offer with the
// smallest LastSeenAt, ties broken by smallest extension id.
func (s *RegistryService) evictOldestLocked() {
	for len(s.offers) > maxOffers {
		victim := ""
		for id, offer := range s.offers {
			if victim == "" {
				victim = id
				continue
			}
			current := s.offers[victim]
			if offer.LastSeenAt.Before(current.LastSeenAt) ||
				(offer.LastSeenAt.Equal(current.LastSeenAt) && id < victim) {
				victim = id
			}
		}
		s.logger.Debug("evicting oldest offer", "extension", victim)
		delete(s.offers, victim)
	}
}

// TrackPeer adds the peer to an existing offer's or installation's peer set
// and reports whether the extension was already known. Discovery uses it to
// avoid re-fetching manifests.
func (s *RegistryService) TrackPeer(ctx context.Context, extensionID, peerID string) bool {
	s.mu.Lock()
	if ins, ok := s.installed[extensionID]; ok {
		changed := ins.AddPeer(peerID)
		snapshot := s.snapshotInstalledLocked()
		s.mu.Unlock()
		if changed {
			s.persist(ctx, snapshot)
			s.notify()
		}
		return true
	}
	if offer, ok := s.offers[extensionID]; ok {
		offer.AddPeer(peerID)
		offer.LastSeenAt = s.clk.Now()
		s.mu.Unlock()
		s.notify()
		return true
	}
	s.mu.Unlock()
	return false
}

// Install moves an offer into the installation map, carrying its full peer
// set. No observer ever sees both entries present or both absent.
func (s *RegistryService) Install(ctx context.Context, extensionID string) (domain.Installed, error) {
	s.mu.Lock()
	if _, ok := s.installed[extensionID]; ok {
		s.mu.Unlock()
		return domain.Installed{}, domain.ErrAlreadyInstalled
	}
	offer, ok := s.offers[extensionID]
	if !ok {
		s.mu.Unlock()
		return domain.Installed{}, domain.ErrOfferNotFound
	}
	ins := &domain.Installed{
		Manifest:    offer.Manifest,
		InstalledAt: s.clk.Now(),
		Enabled:     true,
		PeerIDs:     append([]string(nil), offer.PeerIDs...),
	}
	delete(s.offers, extensionID)
	s.installed[extensionID] = ins
	result := copyInstalled(ins)
	snapshot := s.snapshotInstalledLocked()
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	s.notify()
	return result, nil
}

// Uninstall removes the installation. The offer is not resurrected; a later
// sighting recreates it through discovery.
func (s *RegistryService) Uninstall(ctx context.Context, extensionID string) error {
	s.mu.Lock()
	if _, ok := s.installed[extensionID]; !ok {
		s.mu.Unlock()
		return domain.ErrNotInstalled
	}
	delete(s.installed, extensionID)
	snapshot := s.snapshotInstalledLocked()
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	s.notify()
	return nil
}

// Dismiss drops an offer without installing it.
func (s *RegistryService) Dismiss(extensionID string) error {
	s.mu.Lock()
	if _, ok := s.offers[extensionID]; !ok {
		s.mu.Unlock()
		return domain.ErrOfferNotFound
	}
	delete(s.offers, extensionID)
	s.mu.Unlock()
	s.notify()
	return nil
}

// SetEnabled toggles the informational enabled flag. It never affects
// command execution eligibility.
func (s *RegistryService) SetEnabled(ctx context.Context, extensionID string, enabled bool) error {
	s.mu.Lock()
	ins, ok := s.installed[extensionID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotInstalled
	}
	ins.Enabled = enabled
	snapshot := s.snapshotInstalledLocked()
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	s.notify()
	return nil
}

// RemovePeer drops the peer from both the installation's and any matching
// offer's peer set for the extension. An offer left with no peers is deleted.
func (s *RegistryService) RemovePeer(ctx context.Context, extensionID, peerID string) {
	s.mu.Lock()
	changed := false
	persistNeeded := false
	if offer, ok := s.offers[extensionID]; ok && offer.RemovePeer(peerID) {
		changed = true
		if len(offer.PeerIDs) == 0 {
			delete(s.offers, extensionID)
		}
	}
	if ins, ok := s.installed[extensionID]; ok && ins.RemovePeer(peerID) {
		changed = true
		persistNeeded = true
	}
	snapshot := s.snapshotInstalledLocked()
	s.mu.Unlock()

	if persistNeeded {
		s.persist(ctx, snapshot)
	}
	if changed {
		s.notify()
	}
}

// PeerDisconnected removes the peer from every tracked extension.
func (s *RegistryService) PeerDisconnected(ctx context.Context, peerID string) {
	s.mu.Lock()
	changed := false
	persistNeeded := false
	for id, offer := range s.offers {
		if offer.RemovePeer(peerID) {
			changed = true
			if len(offer.PeerIDs) == 0 {
				delete(s.offers, id)
			}
		}
	}
	for _, ins := range s.installed {
		if ins.RemovePeer(peerID) {
			changed = true
			persistNeeded = true
		}
	}
	snapshot := s.snapshotInstalledLocked()
	s.mu.Unlock()

	if persistNeeded {
		s.persist(ctx, snapshot)
	}
	if changed {
		s.notify()
	}
}

// MarkSuccess records the peer that last served this extension successfully.
// Only read-time candidate ordering changes; the stored set keeps insertion
// order.
func (s *RegistryService) MarkSuccess(ctx context.Context, extensionID, peerID string) {
	s.mu.Lock()
	ins, ok := s.installed[extensionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	ins.LastSuccessfulPeerID = peerID
	snapshot := s.snapshotInstalledLocked()
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	s.notify()
}

// Offers returns offer snapshots, newest-first by last sighting.
func (s *RegistryService) Offers() []domain.Offer {
	s.mu.Lock()
	out := make([]domain.Offer, 0, len(s.offers))
	for _, offer := range s.offers {
		copied := *offer
		copied.PeerIDs = append([]string(nil), offer.PeerIDs...)
		out = append(out, copied)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].Manifest.ID < out[j].Manifest.ID
	})
	return out
}

// Installed returns installation snapshots sorted by extension id.
func (s *RegistryService) Installed() []domain.Installed {
	s.mu.Lock()
	out := make([]domain.Installed, 0, len(s.installed))
	for _, ins := range s.installed {
		out = append(out, copyInstalled(ins))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

// Get returns the installation snapshot for the extension, if installed.
func (s *RegistryService) Get(extensionID string) (domain.Installed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ins, ok := s.installed[extensionID]
	if !ok {
		return domain.Installed{}, false
	}
	return copyInstalled(ins), true
}

func (s *RegistryService) IsInstalled(extensionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.installed[extensionID]
	return ok
}

func (s *RegistryService) snapshotInstalledLocked() map[string]domain.Installed {
	out := make(map[string]domain.Installed, len(s.installed))
	for id, ins := range s.installed {
		out[id] = copyInstalled(ins)
	}
	return out
}

// persist writes the full installation map. Failures are logged and dropped:
// the in-memory state stays authoritative for this session, at the cost of
// losing at most the latest mutation across a restart.
func (s *RegistryService) persist(ctx context.Context, snapshot map[string]domain.Installed) {
	if err := s.store.SaveInstalled(ctx, snapshot); err != nil {
		s.logger.Warn("persisting installed extensions failed", "error", err)
	}
}

func (s *RegistryService) notify() {
	s.mu.Lock()
	listeners := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		s.invoke(fn)
	}
}

func (s *RegistryService) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("registry listener panicked", "panic", r)
		}
	}()
	fn()
}

func copyInstalled(ins *domain.Installed) domain.Installed {
	copied := *ins
	copied.PeerIDs = append([]string(nil), ins.PeerIDs...)
	return copied
}
