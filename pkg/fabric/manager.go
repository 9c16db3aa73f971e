package fabric

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
)

// Manager errors.
var (
	// ErrNotFound is returned by for/maybeFor-style lookups when no matching,
	// non-deleting fabric exists.
	ErrNotFound = errors.New("fabric: not found")
	// ErrIdentityNoOp is returned by ReplaceFabric when the supplied fabric
	// is identical to the one already stored at that index.
	ErrIdentityNoOp = errors.New("fabric: replace is a no-op, identical fabric")
)

// Event names fired by Manager (spec Section 4.2, 7, 9).
type Event string

const (
	// EventAdded fires once a freshly-built fabric has finished initializing.
	EventAdded Event = "added"
	// EventReplaced fires after UpdateNOC overwrites a fabric entry in place.
	EventReplaced Event = "replaced"
	// EventLeaving fires at the start of a graceful fabric removal.
	EventLeaving Event = "leaving"
	// EventDeleting fires once a fabric begins forced removal. Observers run
	// synchronously inside Delete, before it returns.
	EventDeleting Event = "deleting"
	// EventDeleted fires once a fabric's removal has completed. Observers run
	// synchronously inside Leave or Delete, before it returns.
	EventDeleted Event = "deleted"
	// EventFailsafeClosed fires when a fail-safe window closes (commit or expiry).
	EventFailsafeClosed Event = "failsafeClosed"
)

// Observer receives fabric lifecycle events. Implementations must not
// mutate the FabricInfo they're given; it is a read-only snapshot.
type Observer func(event Event, fabric *FabricInfo)

// Storage is the persistence black box fabric.Manager writes through to.
// It is the external collaborator named "Storage" in spec Section 1/6.5.
// A concrete node wires this to its real storage engine; MemoryStorage is
// provided for tests and simple deployments.
type Storage interface {
	// SaveFabrics persists the full fabric list plus the next-allocation
	// index, matching the single "fabrics" entry described in spec Section 6.5.
	SaveFabrics(fabrics []*FabricInfo, nextFabricIndex FabricIndex) error
	// LoadFabrics restores the persisted fabric list and next-allocation index.
	LoadFabrics() ([]*FabricInfo, FabricIndex, error)
	// DeleteFabricScope erases everything under fabric-<index>/… (ACL, groups,
	// bindings, and so on - content owned by other components).
	DeleteFabricScope(index FabricIndex) error
	// Clear discards all fabric and fabric-scoped storage (factory reset).
	Clear() error
}

// MemoryStorage is an in-memory Storage implementation, matching the
// teacher's acl.MemoryStore pattern: a mutex-guarded map with no
// third-party backing store, intended for tests and simple deployments.
type MemoryStorage struct {
	mu              sync.RWMutex
	fabrics         []*FabricInfo
	nextFabricIndex FabricIndex
}

// NewMemoryStorage creates an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// SaveFabrics implements Storage.
func (s *MemoryStorage) SaveFabrics(fabrics []*FabricInfo, nextFabricIndex FabricIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clones := make([]*FabricInfo, len(fabrics))
	for i, f := range fabrics {
		clones[i] = f.Clone()
	}
	s.fabrics = clones
	s.nextFabricIndex = nextFabricIndex
	return nil
}

// LoadFabrics implements Storage.
func (s *MemoryStorage) LoadFabrics() ([]*FabricInfo, FabricIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clones := make([]*FabricInfo, len(s.fabrics))
	for i, f := range s.fabrics {
		clones[i] = f.Clone()
	}
	return clones, s.nextFabricIndex, nil
}

// DeleteFabricScope implements Storage. Memory storage keeps no scoped
// sub-keys of its own; other components own that data.
func (s *MemoryStorage) DeleteFabricScope(index FabricIndex) error {
	return nil
}

// Clear implements Storage.
func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fabrics = nil
	s.nextFabricIndex = FabricIndexInvalid
	return nil
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// TableConfig configures the underlying fabric table.
	TableConfig TableConfig
	// Storage is the persistence black box. If nil, MemoryStorage is used.
	Storage Storage
	// LoggerFactory creates the logger used to report swallowed observer
	// errors (spec Section 7's propagation policy). Optional.
	LoggerFactory logging.LoggerFactory
}

// Manager is the FabricManager of spec Section 4.2: a table of fabrics
// indexed by FabricIndex/GlobalFabricId, with index allocation,
// persistence, and event fan-out.
type Manager struct {
	mu      sync.Mutex
	table   *Table
	storage Storage
	log     logging.LeveledLogger

	nextFabricIndex FabricIndex
	observers       map[Event][]Observer
}

// NewManager creates a Manager with the given configuration.
func NewManager(config ManagerConfig) *Manager {
	storage := config.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}

	tableConfig := config.TableConfig
	if tableConfig.MaxFabrics == 0 {
		tableConfig = DefaultTableConfig()
	}

	m := &Manager{
		table:           NewTable(tableConfig),
		storage:         storage,
		nextFabricIndex: FabricIndexMin,
		observers:       make(map[Event][]Observer),
	}

	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("fabric")
	}

	return m
}

// On registers an observer for an event (spec Section 4.2, 9).
func (m *Manager) On(event Event, observer Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers[event] = append(m.observers[event], observer)
}

// emit notifies every observer of event, catching and logging any panic or
// error so that lifecycle progression is never blocked (spec Section 7).
func (m *Manager) emit(event Event, f *FabricInfo) {
	m.mu.Lock()
	observers := append([]Observer(nil), m.observers[event]...)
	m.mu.Unlock()

	for _, obs := range observers {
		m.safeNotify(event, obs, f)
	}
}

func (m *Manager) safeNotify(event Event, obs Observer, f *FabricInfo) {
	defer func() {
		if r := recover(); r != nil {
			if m.log != nil {
				m.log.Errorf("fabric: observer for event %q panicked: %v", event, r)
			}
		}
	}()
	obs(event, f)
}

// AllocateFabricIndex returns the next free index in 1..254, wrapping at
// 254->1 and skipping in-use indices (spec Section 4.2). Unlike
// Table.AllocateFabricIndex's plain linear scan, Manager remembers the
// last-allocated index so successive allocations don't always start from 1.
func (m *Manager) AllocateFabricIndex() (FabricIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocateFabricIndexLocked()
}

func (m *Manager) allocateFabricIndexLocked() (FabricIndex, error) {
	if m.table.Count() >= int(m.table.SupportedFabrics()) {
		return FabricIndexInvalid, ErrTableFull
	}

	start := m.nextFabricIndex
	if start < FabricIndexMin || start > FabricIndexMax {
		start = FabricIndexMin
	}

	idx := start
	for i := 0; i < int(FabricIndexMax-FabricIndexMin)+1; i++ {
		if !m.table.IsFabricIndexInUse(idx) {
			next := idx + 1
			if next > FabricIndexMax {
				next = FabricIndexMin
			}
			m.nextFabricIndex = next
			return idx, nil
		}
		if idx == FabricIndexMax {
			idx = FabricIndexMin
		} else {
			idx++
		}
	}
	return FabricIndexInvalid, ErrTableFull
}

// AddFabric inserts a freshly-built fabric. Fails with ErrFabricIndexInUse if
// its index is already present, and with ErrFabricConflict if a fabric with
// the same root public key and fabric ID exists. Emits EventAdded once
// initialization is done (spec Section 4.2).
func (m *Manager) AddFabric(f *FabricInfo) error {
	if err := m.table.Add(f); err != nil {
		return err
	}
	m.emit(EventAdded, f)
	return nil
}

// ReplaceFabric overwrites an entry with the same index, used for UpdateNOC
// (spec Section 4.1, 4.2). Identity (byte-identical NOC/ICAC/root) is a
// no-op. Emits EventReplaced on success.
func (m *Manager) ReplaceFabric(f *FabricInfo) error {
	existing, ok := m.table.Get(f.FabricIndex)
	if !ok {
		return ErrFabricNotFound
	}

	if string(existing.NOC) == string(f.NOC) &&
		string(existing.ICAC) == string(f.ICAC) &&
		string(existing.RootCert) == string(f.RootCert) {
		return ErrIdentityNoOp
	}

	if err := m.table.Update(f.FabricIndex, func(info *FabricInfo) error {
		*info = *f.Clone()
		return nil
	}); err != nil {
		return err
	}

	m.emit(EventReplaced, f)
	return nil
}

// For looks up a fabric by FabricIndex, excluding fabrics marked isDeleting
// (spec Section 4.2's `for`/`maybeFor`).
func (m *Manager) For(index FabricIndex) (*FabricInfo, error) {
	info, ok := m.table.Get(index)
	if !ok || info.IsDeleting() {
		return nil, ErrNotFound
	}
	return info, nil
}

// MaybeFor is For but returns (nil, nil) instead of an error when the
// fabric does not exist or is deleting.
func (m *Manager) MaybeFor(index FabricIndex) (*FabricInfo, error) {
	info, err := m.For(index)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return info, err
}

// ForGlobalFabricID looks up a fabric by its GlobalFabricId (the big-endian
// uint64 reading of CompressedFabricID), excluding deleting fabrics.
func (m *Manager) ForGlobalFabricID(globalID uint64) (*FabricInfo, error) {
	var cfid [CompressedFabricIDSize]byte
	putBE64(cfid[:], globalID)

	info, ok := m.table.FindByCompressedFabricID(cfid)
	if !ok || info.IsDeleting() {
		return nil, ErrNotFound
	}
	return info, nil
}

// FindFabricFromDestinationID iterates fabrics and matches the destination
// ID computed via DestinationIdsFor (spec Section 4.1/4.2, Matter Section
// 4.14.2.3). Fails ErrNotFound if no match or if the matched fabric is
// deleting.
func (m *Manager) FindFabricFromDestinationID(dest [32]byte, random []byte) (*FabricInfo, error) {
	var found *FabricInfo
	_ = m.table.ForEach(func(f *FabricInfo) error {
		if found != nil || f.IsDeleting() {
			return nil
		}
		ids, err := f.DestinationIdsFor(f.NodeID, random)
		if err != nil {
			return nil
		}
		for _, id := range ids {
			if id == dest {
				found = f.Clone()
				return nil
			}
		}
		return nil
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// FindByKeyPair does a linear scan comparing publicKey with each fabric's
// root public key (MatchesKeyPair). Private keys and operational key pairs
// are not compared.
func (m *Manager) FindByKeyPair(publicKey []byte) (*FabricInfo, error) {
	var found *FabricInfo
	_ = m.table.ForEach(func(f *FabricInfo) error {
		if found == nil && f.MatchesKeyPair(publicKey) {
			found = f.Clone()
		}
		return nil
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// ForDescriptor does a linear scan by (fabricId, rootPublicKey) equality
// (spec Section 4.2).
func (m *Manager) ForDescriptor(fabricID FabricID, rootPublicKey []byte) (*FabricInfo, error) {
	var found *FabricInfo
	_ = m.table.ForEach(func(f *FabricInfo) error {
		if found == nil && f.MatchesFabricIDAndRootPublicKey(fabricID, rootPublicKey) {
			found = f.Clone()
		}
		return nil
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// PersistFabrics snapshots all non-deleting fabrics and nextFabricIndex
// into storage (spec Section 4.2).
func (m *Manager) PersistFabrics() error {
	m.mu.Lock()
	nextIndex := m.nextFabricIndex
	m.mu.Unlock()

	all := m.table.List()
	nonDeleting := make([]*FabricInfo, 0, len(all))
	for _, f := range all {
		if !f.IsDeleting() {
			nonDeleting = append(nonDeleting, f)
		}
	}
	return m.storage.SaveFabrics(nonDeleting, nextIndex)
}

// LoadFabrics restores the fabric table from storage.
func (m *Manager) LoadFabrics() error {
	fabrics, nextIndex, err := m.storage.LoadFabrics()
	if err != nil {
		return err
	}

	m.table.Clear()
	for _, f := range fabrics {
		if err := m.table.Add(f); err != nil {
			return fmt.Errorf("fabric: restoring fabric %d: %w", f.FabricIndex, err)
		}
	}

	m.mu.Lock()
	m.nextFabricIndex = nextIndex
	m.mu.Unlock()
	return nil
}

// Clear discards all fabrics and storage (spec Section 4.2).
func (m *Manager) Clear() error {
	m.table.Clear()
	m.mu.Lock()
	m.nextFabricIndex = FabricIndexMin
	m.mu.Unlock()
	return m.storage.Clear()
}

// Leave gracefully removes a fabric: emits EventLeaving, closes sessions
// (the caller's responsibility via onSessionsClosed), then deletes the
// entry and its scoped storage, finally emitting EventDeleted
// (spec Section 3 "Lifecycle", Section 4.1).
func (m *Manager) Leave(index FabricIndex, onSessionsClosed func(*FabricInfo)) error {
	info, ok := m.table.Get(index)
	if !ok {
		return ErrFabricNotFound
	}

	m.emit(EventLeaving, info)

	if err := m.table.Update(index, func(f *FabricInfo) error {
		f.MarkDeleting()
		return nil
	}); err != nil {
		return err
	}
	info.MarkDeleting()

	if onSessionsClosed != nil {
		onSessionsClosed(info)
	}

	if err := m.table.Remove(index); err != nil {
		return err
	}
	if err := m.storage.DeleteFabricScope(index); err != nil {
		return err
	}

	m.emit(EventDeleted, info)
	return nil
}

// Delete forcibly removes a fabric: emits EventDeleting, force-closes
// sessions, then removes the entry and scoped storage, finally emitting
// EventDeleted (spec Section 3 "Lifecycle").
func (m *Manager) Delete(index FabricIndex, forceCloseSessions func(*FabricInfo)) error {
	info, ok := m.table.Get(index)
	if !ok {
		return ErrFabricNotFound
	}

	if err := m.table.Update(index, func(f *FabricInfo) error {
		f.MarkDeleting()
		return nil
	}); err != nil {
		return err
	}
	info.MarkDeleting()

	m.emit(EventDeleting, info)

	if forceCloseSessions != nil {
		forceCloseSessions(info)
	}

	if err := m.table.Remove(index); err != nil {
		return err
	}
	if err := m.storage.DeleteFabricScope(index); err != nil {
		return err
	}

	m.emit(EventDeleted, info)
	return nil
}

// FailsafeClosed emits EventFailsafeClosed (spec Section 4.2).
func (m *Manager) FailsafeClosed() {
	m.emit(EventFailsafeClosed, nil)
}

// Table returns the underlying fabric table for read-heavy callers
// (attribute readers) that don't need the event/allocation machinery.
func (m *Manager) Table() *Table {
	return m.table
}

func putBE64(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
