package opcreds

import (
	"bytes"
	"sync"

	"github.com/backkem/matter/pkg/fabric"
)

// CSRPurpose records which command (CSRRequest's IsForUpdateNOC flag)
// produced the outstanding CSR, so AddNOC/UpdateNOC can reject a
// CSR generated for the wrong purpose (Spec 11.18.7.4/7.5).
type CSRPurpose int

const (
	// CSRPurposeNone indicates no CSR is outstanding.
	CSRPurposeNone CSRPurpose = iota
	// CSRPurposeForAdd indicates the CSR was requested for a subsequent AddNOC.
	CSRPurposeForAdd
	// CSRPurposeForUpdate indicates the CSR was requested for a subsequent UpdateNOC.
	CSRPurposeForUpdate
)

// windowState is the per-fail-safe-window state of the Operational
// Credentials command sequence (Spec 11.18.7, state diagram in Section 4.3
// of the runtime design this package implements).
type windowState int

const (
	// stateIdle is the state at the start of a fail-safe window, or after a
	// rollback/commit has reset it.
	stateIdle windowState = iota
	// stateRootAdded follows a successful AddTrustedRootCertificate.
	stateRootAdded
	// stateCSRIssued follows a successful CSRRequest; csrPurpose disambiguates
	// the add/update branch.
	stateCSRIssued
	// stateCommitted follows a successful AddNOC or UpdateNOC.
	stateCommitted
)

// FailSafeManager is the fail-safe context this package needs: enough to
// gate CSRRequest/AddNOC/UpdateNOC/AddTrustedRootCertificate on an armed
// fail-safe owned by the accessing fabric, and to record which fabric index
// AddNOC provisionally committed so a fail-safe rollback knows what to
// undo. This is intentionally narrower than
// generalcommissioning.FailSafeManager: that interface arms/disarms the
// timer, this one only reads its state and annotates it.
type FailSafeManager interface {
	// IsArmed reports whether the fail-safe timer is currently running.
	IsArmed() bool

	// ArmedFabricIndex returns the fabric index that armed the fail-safe, or
	// fabric.FabricIndexInvalid if not armed.
	ArmedFabricIndex() fabric.FabricIndex

	// SetNOCFabricIndex records the FabricIndex of a fabric added or
	// replaced during this fail-safe window, so that a later rollback
	// (fail-safe expiry without CommissioningComplete) knows which entry to
	// undo (Spec 11.10.7.2, "AddNOC/UpdateNOC effects are reverted on
	// fail-safe expiry unless committed").
	SetNOCFabricIndex(index fabric.FabricIndex)
}

// stateMachine tracks the Operational Credentials command sequence for the
// fabric that currently owns the fail-safe. It is reset whenever the
// fail-safe window closes, whether by commit or by expiry.
type stateMachine struct {
	mu sync.Mutex

	state      windowState
	csrPurpose CSRPurpose

	// rootCertAdded holds the trusted root certificate installed by
	// AddTrustedRootCertificate this window, pending being bound into a
	// fabric by AddNOC.
	rootCertAdded []byte

	// csrNonce is the nonce echoed into the CSR's subject so AddNOC/UpdateNOC
	// can verify the NOC was issued against the CSR this window produced.
	csrNonce []byte

	// provisionalFabricIndex is the FabricIndex committed by AddNOC/UpdateNOC
	// this window, used to roll back on fail-safe expiry.
	provisionalFabricIndex fabric.FabricIndex
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: stateIdle}
}

// reset returns the state machine to stateIdle, discarding any outstanding
// root certificate or CSR context. Called on fail-safe commit and on
// fail-safe expiry alike (Spec 11.18.7: both close the window).
func (sm *stateMachine) reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = stateIdle
	sm.csrPurpose = CSRPurposeNone
	sm.rootCertAdded = nil
	sm.csrNonce = nil
	sm.provisionalFabricIndex = fabric.FabricIndexInvalid
}

// recordRootAdded transitions stateIdle -> stateRootAdded. A byte-identical
// replay of the root already installed this window succeeds without
// mutation (Spec 11.18.7.1); any other root while one is already installed,
// or any root after a commit, is rejected.
func (sm *stateMachine) recordRootAdded(rootCert []byte) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch sm.state {
	case stateIdle:
		sm.state = stateRootAdded
		sm.rootCertAdded = append([]byte(nil), rootCert...)
		return nil
	case stateRootAdded:
		if bytes.Equal(sm.rootCertAdded, rootCert) {
			return nil
		}
		return ErrAlreadyHasRoot
	default:
		return ErrWrongState
	}
}

// recordCSRIssued transitions stateRootAdded -> stateCSRIssued for an
// AddNOC-bound CSR, or allows a fresh stateIdle -> stateCSRIssued for an
// UpdateNOC-bound CSR (which needs no prior AddTrustedRootCertificate,
// since UpdateNOC reuses the fabric's existing root).
func (sm *stateMachine) recordCSRIssued(purpose CSRPurpose, nonce []byte) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch purpose {
	case CSRPurposeForAdd:
		if sm.state != stateRootAdded {
			return ErrWrongState
		}
	case CSRPurposeForUpdate:
		if sm.state != stateIdle {
			return ErrWrongState
		}
	default:
		return ErrWrongState
	}

	sm.state = stateCSRIssued
	sm.csrPurpose = purpose
	sm.csrNonce = append([]byte(nil), nonce...)
	return nil
}

// consumeForAdd validates that a CSR for AddNOC is outstanding and returns
// the trusted root certificate it must be bound to, transitioning to
// stateCommitted on success.
func (sm *stateMachine) consumeForAdd(index fabric.FabricIndex) ([]byte, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state != stateCSRIssued || sm.csrPurpose != CSRPurposeForAdd {
		return nil, ErrWrongState
	}
	root := sm.rootCertAdded
	sm.state = stateCommitted
	sm.provisionalFabricIndex = index
	return root, nil
}

// consumeForUpdate validates that a CSR for UpdateNOC is outstanding,
// transitioning to stateCommitted on success.
func (sm *stateMachine) consumeForUpdate(index fabric.FabricIndex) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state != stateCSRIssued || sm.csrPurpose != CSRPurposeForUpdate {
		return ErrWrongState
	}
	sm.state = stateCommitted
	sm.provisionalFabricIndex = index
	return nil
}

// hasRoot reports whether AddTrustedRootCertificate has installed a root
// this window (used by CSRRequest's IsForUpdateNOC=false precondition).
func (sm *stateMachine) hasRoot() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state == stateRootAdded
}

// committedFabricIndex returns the FabricIndex committed this window, or
// fabric.FabricIndexInvalid if none.
func (sm *stateMachine) committedFabricIndex() fabric.FabricIndex {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state != stateCommitted {
		return fabric.FabricIndexInvalid
	}
	return sm.provisionalFabricIndex
}
