package fabric

import (
	"errors"
	"testing"
)

func newTestFabricInfo(t *testing.T, index FabricIndex) *FabricInfo {
	t.Helper()
	rcac, icac, noc := validCertSet()
	var ipk [IPKSize]byte
	copy(ipk[:], []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10})

	info, err := NewFabricInfo(index, rcac, noc, icac, VendorIDTestVendor1, ipk)
	if err != nil {
		t.Fatalf("NewFabricInfo: %v", err)
	}
	return info
}

func TestManager_AllocateFabricIndex(t *testing.T) {
	m := NewManager(ManagerConfig{})

	idx, err := m.AllocateFabricIndex()
	if err != nil {
		t.Fatalf("AllocateFabricIndex: %v", err)
	}
	if idx != FabricIndexMin {
		t.Fatalf("AllocateFabricIndex = %d, want %d", idx, FabricIndexMin)
	}

	// The rolling pointer advances on every allocation, even when the index
	// is never installed, so the next call returns the following index.
	idx2, err := m.AllocateFabricIndex()
	if err != nil {
		t.Fatalf("AllocateFabricIndex: %v", err)
	}
	if idx2 != idx+1 {
		t.Fatalf("AllocateFabricIndex = %d, want %d", idx2, idx+1)
	}
}

func TestManager_AllocateFabricIndex_AdvancesAfterAdd(t *testing.T) {
	m := NewManager(ManagerConfig{})

	idx, err := m.AllocateFabricIndex()
	if err != nil {
		t.Fatalf("AllocateFabricIndex: %v", err)
	}
	info := newTestFabricInfo(t, idx)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}

	idx2, err := m.AllocateFabricIndex()
	if err != nil {
		t.Fatalf("AllocateFabricIndex: %v", err)
	}
	if idx2 == idx {
		t.Fatalf("AllocateFabricIndex returned in-use index %d", idx2)
	}
}

func TestManager_AddFabric_EmitsEventAdded(t *testing.T) {
	m := NewManager(ManagerConfig{})

	var got *FabricInfo
	m.On(EventAdded, func(event Event, f *FabricInfo) {
		got = f
	})

	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}
	if got == nil {
		t.Fatal("expected EventAdded observer to fire")
	}
	if got.FabricIndex != info.FabricIndex {
		t.Fatalf("observer fabric index = %d, want %d", got.FabricIndex, info.FabricIndex)
	}
}

func TestManager_AddFabric_Conflict(t *testing.T) {
	m := NewManager(ManagerConfig{})

	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}

	dup := newTestFabricInfo(t, FabricIndexMin+1)
	if err := m.AddFabric(dup); !errors.Is(err, ErrFabricConflict) {
		t.Fatalf("AddFabric() error = %v, want ErrFabricConflict", err)
	}
}

func TestManager_ReplaceFabric_IdentityNoOp(t *testing.T) {
	m := NewManager(ManagerConfig{})
	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}

	same := newTestFabricInfo(t, FabricIndexMin)
	if err := m.ReplaceFabric(same); !errors.Is(err, ErrIdentityNoOp) {
		t.Fatalf("ReplaceFabric() error = %v, want ErrIdentityNoOp", err)
	}
}

func TestManager_ReplaceFabric_NotFound(t *testing.T) {
	m := NewManager(ManagerConfig{})
	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.ReplaceFabric(info); !errors.Is(err, ErrFabricNotFound) {
		t.Fatalf("ReplaceFabric() error = %v, want ErrFabricNotFound", err)
	}
}

func TestManager_For_UnknownIndexNotFound(t *testing.T) {
	m := NewManager(ManagerConfig{})
	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}

	got, err := m.For(info.FabricIndex)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if got.FabricIndex != info.FabricIndex {
		t.Fatalf("For() fabric index = %d, want %d", got.FabricIndex, info.FabricIndex)
	}

	if _, err := m.For(info.FabricIndex + 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("For() error = %v, want ErrNotFound", err)
	}
}

func TestManager_MaybeFor_ReturnsNilWithoutError(t *testing.T) {
	m := NewManager(ManagerConfig{})
	info, err := m.MaybeFor(FabricIndexMin)
	if err != nil {
		t.Fatalf("MaybeFor: %v", err)
	}
	if info != nil {
		t.Fatalf("MaybeFor() = %v, want nil", info)
	}
}

func TestManager_FindByKeyPair(t *testing.T) {
	m := NewManager(ManagerConfig{})
	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}

	found, err := m.FindByKeyPair(info.RootPublicKey[:])
	if err != nil {
		t.Fatalf("FindByKeyPair: %v", err)
	}
	if found.FabricIndex != info.FabricIndex {
		t.Fatalf("FindByKeyPair() fabric index = %d, want %d", found.FabricIndex, info.FabricIndex)
	}

	other := make([]byte, RootPublicKeySize)
	if _, err := m.FindByKeyPair(other); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByKeyPair() error = %v, want ErrNotFound", err)
	}
}

func TestManager_ForDescriptor(t *testing.T) {
	m := NewManager(ManagerConfig{})
	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}

	found, err := m.ForDescriptor(info.FabricID, info.RootPublicKey[:])
	if err != nil {
		t.Fatalf("ForDescriptor: %v", err)
	}
	if found.FabricIndex != info.FabricIndex {
		t.Fatalf("ForDescriptor() fabric index = %d, want %d", found.FabricIndex, info.FabricIndex)
	}

	if _, err := m.ForDescriptor(info.FabricID+1, info.RootPublicKey[:]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ForDescriptor() error = %v, want ErrNotFound", err)
	}
}

func TestManager_PersistAndLoadFabrics(t *testing.T) {
	storage := NewMemoryStorage()
	m := NewManager(ManagerConfig{Storage: storage})

	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}
	if err := m.PersistFabrics(); err != nil {
		t.Fatalf("PersistFabrics: %v", err)
	}

	m2 := NewManager(ManagerConfig{Storage: storage})
	if err := m2.LoadFabrics(); err != nil {
		t.Fatalf("LoadFabrics: %v", err)
	}
	got, err := m2.For(info.FabricIndex)
	if err != nil {
		t.Fatalf("For after load: %v", err)
	}
	if got.FabricID != info.FabricID {
		t.Fatalf("loaded FabricID = %d, want %d", got.FabricID, info.FabricID)
	}
}

func TestManager_Clear(t *testing.T) {
	m := NewManager(ManagerConfig{})
	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := m.For(info.FabricIndex); !errors.Is(err, ErrNotFound) {
		t.Fatalf("For() after Clear error = %v, want ErrNotFound", err)
	}
}

func TestManager_Leave_EmitsLeavingAndDeleted(t *testing.T) {
	m := NewManager(ManagerConfig{})
	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}

	var leaving, deleted bool
	m.On(EventLeaving, func(event Event, f *FabricInfo) { leaving = true })
	m.On(EventDeleted, func(event Event, f *FabricInfo) { deleted = true })

	sessionsClosed := false
	if err := m.Leave(info.FabricIndex, func(f *FabricInfo) { sessionsClosed = true }); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	if !leaving || !deleted {
		t.Fatalf("expected both EventLeaving and EventDeleted to fire, got leaving=%v deleted=%v", leaving, deleted)
	}
	if !sessionsClosed {
		t.Fatal("expected onSessionsClosed callback to run")
	}
	if _, err := m.For(info.FabricIndex); !errors.Is(err, ErrNotFound) {
		t.Fatalf("For() after Leave error = %v, want ErrNotFound", err)
	}
}

func TestManager_Delete_EmitsDeletingAndDeleted(t *testing.T) {
	m := NewManager(ManagerConfig{})
	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric: %v", err)
	}

	var deleting, deleted bool
	m.On(EventDeleting, func(event Event, f *FabricInfo) { deleting = true })
	m.On(EventDeleted, func(event Event, f *FabricInfo) { deleted = true })

	forceClosed := false
	if err := m.Delete(info.FabricIndex, func(f *FabricInfo) { forceClosed = true }); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if !deleting || !deleted {
		t.Fatalf("expected both EventDeleting and EventDeleted to fire, got deleting=%v deleted=%v", deleting, deleted)
	}
	if !forceClosed {
		t.Fatal("expected forceCloseSessions callback to run")
	}
}

func TestManager_Delete_NotFound(t *testing.T) {
	m := NewManager(ManagerConfig{})
	if err := m.Delete(FabricIndexMin, nil); !errors.Is(err, ErrFabricNotFound) {
		t.Fatalf("Delete() error = %v, want ErrFabricNotFound", err)
	}
}

func TestManager_FailsafeClosed_NotifiesObservers(t *testing.T) {
	m := NewManager(ManagerConfig{})
	fired := false
	m.On(EventFailsafeClosed, func(event Event, f *FabricInfo) { fired = true })

	m.FailsafeClosed()

	if !fired {
		t.Fatal("expected EventFailsafeClosed observer to fire")
	}
}

func TestManager_ObserverPanicIsContained(t *testing.T) {
	m := NewManager(ManagerConfig{})
	m.On(EventAdded, func(event Event, f *FabricInfo) {
		panic("boom")
	})

	info := newTestFabricInfo(t, FabricIndexMin)
	if err := m.AddFabric(info); err != nil {
		t.Fatalf("AddFabric should succeed despite a panicking observer: %v", err)
	}
}
