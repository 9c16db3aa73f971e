package fabric

import (
	"errors"
	"fmt"

	"github.com/backkem/matter/pkg/crypto"
)

// FabricBuilder errors.
var (
	// ErrBuilderMissingField is returned by Build when a required field was
	// never set.
	ErrBuilderMissingField = errors.New("fabric: builder missing required field")
	// ErrBuilderPublicKeyMismatch is returned when the NOC's public key does
	// not match the operational key pair's public key.
	ErrBuilderPublicKeyMismatch = errors.New("fabric: NOC public key does not match operational key pair")
)

// FabricBuilder accumulates the fields of a new fabric and produces an
// immutable *FabricInfo via Build. It is the Go-native counterpart of
// spec Section 3's "Lifecycle: created by FabricBuilder.build(fabricIndex)
// once all required fields are set."
//
// A FabricBuilder is single-use: call Build once all required setters have
// been invoked.
type FabricBuilder struct {
	rootCert []byte
	icac     []byte
	noc      []byte
	vvsc     []byte

	keyPair *crypto.P256KeyPair

	vendorID VendorID
	label    string

	ipk [IPKSize]byte
	set struct {
		rootCert bool
		noc      bool
		keyPair  bool
		ipk      bool
	}

	vidVerificationStatement []byte
}

// NewFabricBuilder creates an empty FabricBuilder.
func NewFabricBuilder() *FabricBuilder {
	return &FabricBuilder{}
}

// SetRootCert sets the Root CA Certificate (required).
func (b *FabricBuilder) SetRootCert(rootCert []byte) *FabricBuilder {
	b.rootCert = rootCert
	b.set.rootCert = true
	return b
}

// SetICAC sets the optional Intermediate CA Certificate.
func (b *FabricBuilder) SetICAC(icac []byte) *FabricBuilder {
	b.icac = icac
	return b
}

// SetNOC sets the Node Operational Certificate (required).
func (b *FabricBuilder) SetNOC(noc []byte) *FabricBuilder {
	b.noc = noc
	b.set.noc = true
	return b
}

// SetOperationalKeyPair sets the operational key pair bound into the NOC
// (required).
func (b *FabricBuilder) SetOperationalKeyPair(kp *crypto.P256KeyPair) *FabricBuilder {
	b.keyPair = kp
	b.set.keyPair = true
	return b
}

// SetVendorID sets the admin vendor ID supplied in AddNOC.
func (b *FabricBuilder) SetVendorID(vendorID VendorID) *FabricBuilder {
	b.vendorID = vendorID
	return b
}

// SetLabel sets the initial fabric label (may be empty).
func (b *FabricBuilder) SetLabel(label string) *FabricBuilder {
	b.label = label
	return b
}

// SetIPK sets the group key set 0 epoch key (required).
func (b *FabricBuilder) SetIPK(ipk [IPKSize]byte) *FabricBuilder {
	b.ipk = ipk
	b.set.ipk = true
	return b
}

// SetVVSC sets the optional Vendor ID Verification Signing Certificate.
// Mutually exclusive with an ICAC; Build rejects both being set.
func (b *FabricBuilder) SetVVSC(vvsc []byte) *FabricBuilder {
	b.vvsc = vvsc
	return b
}

// SetVIDVerificationStatement sets the optional VID verification statement.
// Must be exactly 0 or 85 bytes; Build validates this.
func (b *FabricBuilder) SetVIDVerificationStatement(statement []byte) *FabricBuilder {
	b.vidVerificationStatement = statement
	return b
}

// Build validates the accumulated fields and produces an immutable
// *FabricInfo bound to the given fabric index (spec Section 3).
func (b *FabricBuilder) Build(index FabricIndex) (*FabricInfo, error) {
	if !b.set.rootCert {
		return nil, fmt.Errorf("%w: root certificate", ErrBuilderMissingField)
	}
	if !b.set.noc {
		return nil, fmt.Errorf("%w: NOC", ErrBuilderMissingField)
	}
	if !b.set.keyPair {
		return nil, fmt.Errorf("%w: operational key pair", ErrBuilderMissingField)
	}
	if !b.set.ipk {
		return nil, fmt.Errorf("%w: IPK", ErrBuilderMissingField)
	}
	if len(b.vvsc) > 0 && len(b.icac) > 0 {
		return nil, fmt.Errorf("%w: VVSC not allowed with ICAC present", ErrInvalidVIDVerificationStatement)
	}
	if len(b.vidVerificationStatement) != 0 && len(b.vidVerificationStatement) != VIDVerificationStatementSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidVIDVerificationStatement, len(b.vidVerificationStatement))
	}

	info, err := NewFabricInfo(index, b.rootCert, b.noc, b.icac, b.vendorID, b.ipk)
	if err != nil {
		return nil, err
	}

	nocCert, err := ParseCertificate(b.noc)
	if err != nil {
		return nil, err
	}
	if len(nocCert.ECPubKey) != RootPublicKeySize ||
		string(nocCert.ECPubKey) != string(b.keyPair.P256PublicKey()) {
		return nil, ErrBuilderPublicKeyMismatch
	}
	info.OperationalKeyPair = b.keyPair

	if b.label != "" {
		if err := info.SetLabel(b.label); err != nil {
			return nil, err
		}
	}
	if len(b.vvsc) > 0 {
		info.VVSC = append([]byte(nil), b.vvsc...)
	}
	if len(b.vidVerificationStatement) > 0 {
		info.VIDVerificationStatement = append([]byte(nil), b.vidVerificationStatement...)
	}

	return info, nil
}
