package fabric

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/backkem/matter/pkg/crypto"
)

// FabricInfo errors.
var (
	// ErrInvalidIPK is returned when the IPK has invalid length.
	ErrInvalidIPK = errors.New("fabric: invalid IPK length")
	// ErrInvalidLabel is returned when the label exceeds max length.
	ErrInvalidLabel = errors.New("fabric: label exceeds maximum length")
	// ErrInvalidVIDVerificationStatement is returned when the statement length
	// is neither 0 nor 85 bytes, or when VVSC is supplied alongside an ICAC.
	ErrInvalidVIDVerificationStatement = errors.New("fabric: invalid VID verification statement")
	// ErrNoIPK is returned when a destination ID is requested but no IPK is installed.
	ErrNoIPK = errors.New("fabric: no IPK installed")
)

// VIDVerificationStatementSize is the fixed non-empty length of a
// VendorVerificationStatement (Matter Section 6.4.1.5).
const VIDVerificationStatementSize = 85

// FabricInfo stores the internal representation of a fabric entry.
// This is the runtime storage structure, not the wire format.
//
// FabricInfo is created when a node is commissioned into a fabric via AddNOC.
// It stores all the credentials and metadata needed for operational communication.
type FabricInfo struct {
	// FabricIndex is the local 8-bit index for this fabric (1-254).
	FabricIndex FabricIndex

	// FabricID is the 64-bit fabric identifier extracted from the NOC.
	FabricID FabricID

	// NodeID is the 64-bit node identifier extracted from the NOC.
	NodeID NodeID

	// VendorID is the admin vendor ID provided in the AddNOC command.
	VendorID VendorID

	// Label is a user-assigned label for this fabric (max 32 UTF-8 bytes).
	Label string

	// RootCert is the Root CA Certificate (RCAC) in Matter TLV encoding.
	RootCert []byte

	// NOC is the Node Operational Certificate in Matter TLV encoding.
	NOC []byte

	// ICAC is the Intermediate CA Certificate (optional) in Matter TLV encoding.
	// Nil if no ICAC is present in the chain.
	ICAC []byte

	// RootPublicKey is the 65-byte uncompressed public key from the RCAC.
	RootPublicKey [RootPublicKeySize]byte

	// CompressedFabricID is the pre-computed 8-byte compressed fabric ID.
	// Used for DNS-SD operational discovery.
	CompressedFabricID [CompressedFabricIDSize]byte

	// OperationalKeyPair is the fabric's operational P-256 key pair, whose
	// public key is bound into the NOC. Required for SignVIDVerificationRequest
	// and for any future CASE session establishment.
	OperationalKeyPair *crypto.P256KeyPair

	// IPK is the Identity Protection Key epoch key (16 bytes).
	// This is Group Key Set 0, provided in the AddNOC command.
	IPK [IPKSize]byte

	// IPKEpochKeys holds every epoch key still valid for this fabric's group
	// key set 0, in installation order. During an IPK rotation window both
	// the old and new epoch keys are present so destinationIdsFor can match
	// either. IPK always mirrors IPKEpochKeys[len-1], the current key.
	IPKEpochKeys [][IPKSize]byte

	// VIDVerificationStatement is the optional Vendor ID Verification
	// Statement (Matter Section 6.4.1.5). Present iff len == 85.
	VIDVerificationStatement []byte

	// VVSC is the optional Vendor ID Verification Signing Certificate.
	// Mutually exclusive with ICAC.
	VVSC []byte

	// isDeleting marks a fabric that is in the process of being removed.
	// Lookups through Manager must treat such fabrics as not found.
	isDeleting bool
}

// NewFabricInfo creates a FabricInfo from the provided certificates and parameters.
//
// It validates the certificate chain and extracts:
// - FabricID and NodeID from the NOC
// - RootPublicKey from the RCAC
// - Computes the CompressedFabricID
//
// Parameters:
//   - index: The local fabric index (1-254)
//   - rootCert: RCAC in Matter TLV encoding
//   - noc: NOC in Matter TLV encoding
//   - icac: ICAC in Matter TLV encoding (nil if no ICAC)
//   - vendorID: Admin vendor ID from AddNOC command
//   - ipk: Identity Protection Key epoch key (16 bytes)
func NewFabricInfo(
	index FabricIndex,
	rootCert, noc, icac []byte,
	vendorID VendorID,
	ipk [IPKSize]byte,
) (*FabricInfo, error) {
	// Validate fabric index
	if !index.IsValid() {
		return nil, fmt.Errorf("fabric: invalid fabric index: %d", index)
	}

	// Validate certificate chain
	if err := ValidateNOCChain(rootCert, noc, icac); err != nil {
		return nil, fmt.Errorf("fabric: certificate chain validation failed: %w", err)
	}

	// Extract chain info
	chainInfo, err := ExtractChainInfo(rootCert, noc)
	if err != nil {
		return nil, fmt.Errorf("fabric: failed to extract chain info: %w", err)
	}

	// Compute compressed fabric ID
	compressedID, err := CompressedFabricIDFromCert(chainInfo.RootPublicKey, chainInfo.FabricID)
	if err != nil {
		return nil, fmt.Errorf("fabric: failed to compute compressed fabric ID: %w", err)
	}

	// Create fabric info
	info := &FabricInfo{
		FabricIndex:        index,
		FabricID:           chainInfo.FabricID,
		NodeID:             chainInfo.NodeID,
		VendorID:           vendorID,
		Label:              "",
		RootCert:           make([]byte, len(rootCert)),
		NOC:                make([]byte, len(noc)),
		RootPublicKey:      chainInfo.RootPublicKey,
		CompressedFabricID: compressedID,
		IPK:                ipk,
		IPKEpochKeys:       [][IPKSize]byte{ipk},
	}

	// Copy certificates (don't hold references to caller's slices)
	copy(info.RootCert, rootCert)
	copy(info.NOC, noc)

	if icac != nil {
		info.ICAC = make([]byte, len(icac))
		copy(info.ICAC, icac)
	}

	return info, nil
}

// HasICAC returns true if this fabric has an intermediate CA certificate.
func (f *FabricInfo) HasICAC() bool {
	return len(f.ICAC) > 0
}

// SetLabel sets the fabric label. Returns error if label exceeds max length.
func (f *FabricInfo) SetLabel(label string) error {
	if len(label) > MaxLabelSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrInvalidLabel, len(label), MaxLabelSize)
	}
	f.Label = label
	return nil
}

// GetNOCStruct returns the NOCStruct wire format for this fabric.
func (f *FabricInfo) GetNOCStruct() NOCStruct {
	return NOCStruct{
		NOC:  f.NOC,
		ICAC: f.ICAC,
		VVSC: f.VVSC,
	}
}

// GetFabricDescriptor returns the FabricDescriptorStruct wire format for this fabric.
func (f *FabricInfo) GetFabricDescriptor() FabricDescriptorStruct {
	return FabricDescriptorStruct{
		RootPublicKey:            f.RootPublicKey,
		VendorID:                 f.VendorID,
		FabricID:                 f.FabricID,
		NodeID:                   f.NodeID,
		Label:                    f.Label,
		VIDVerificationStatement: f.VIDVerificationStatement,
	}
}

// MatchesRootPublicKey returns true if this fabric's root public key matches.
func (f *FabricInfo) MatchesRootPublicKey(key [RootPublicKeySize]byte) bool {
	return f.RootPublicKey == key
}

// MatchesCompressedFabricID returns true if this fabric's compressed ID matches.
func (f *FabricInfo) MatchesCompressedFabricID(cfid [CompressedFabricIDSize]byte) bool {
	return f.CompressedFabricID == cfid
}

// String returns a human-readable representation of the fabric info.
func (f *FabricInfo) String() string {
	icacStatus := "no"
	if f.HasICAC() {
		icacStatus = "yes"
	}
	return fmt.Sprintf("Fabric{Index=%d, FabricID=0x%016X, NodeID=0x%016X, Vendor=0x%04X, Label=%q, ICAC=%s}",
		f.FabricIndex, uint64(f.FabricID), uint64(f.NodeID), uint16(f.VendorID), f.Label, icacStatus)
}

// Clone returns a deep copy of the FabricInfo.
func (f *FabricInfo) Clone() *FabricInfo {
	clone := &FabricInfo{
		FabricIndex:        f.FabricIndex,
		FabricID:           f.FabricID,
		NodeID:             f.NodeID,
		VendorID:           f.VendorID,
		Label:              f.Label,
		RootPublicKey:      f.RootPublicKey,
		CompressedFabricID: f.CompressedFabricID,
		IPK:                f.IPK,
		OperationalKeyPair: f.OperationalKeyPair,
		isDeleting:         f.isDeleting,
	}

	clone.RootCert = make([]byte, len(f.RootCert))
	copy(clone.RootCert, f.RootCert)

	clone.NOC = make([]byte, len(f.NOC))
	copy(clone.NOC, f.NOC)

	if f.ICAC != nil {
		clone.ICAC = make([]byte, len(f.ICAC))
		copy(clone.ICAC, f.ICAC)
	}

	if f.VVSC != nil {
		clone.VVSC = make([]byte, len(f.VVSC))
		copy(clone.VVSC, f.VVSC)
	}

	if f.VIDVerificationStatement != nil {
		clone.VIDVerificationStatement = make([]byte, len(f.VIDVerificationStatement))
		copy(clone.VIDVerificationStatement, f.VIDVerificationStatement)
	}

	clone.IPKEpochKeys = make([][IPKSize]byte, len(f.IPKEpochKeys))
	copy(clone.IPKEpochKeys, f.IPKEpochKeys)

	return clone
}

// IsDeleting returns true if this fabric has begun its removal sequence.
func (f *FabricInfo) IsDeleting() bool {
	return f.isDeleting
}

// MarkDeleting flags the fabric as being removed. Once set, the fabric
// table treats lookups for this entry as NotFound (spec Section 3).
func (f *FabricInfo) MarkDeleting() {
	f.isDeleting = true
}

// MatchesKeyPair returns true if the supplied public key matches this
// fabric's root public key. Used for collision checks during CSRRequest.
func (f *FabricInfo) MatchesKeyPair(publicKey []byte) bool {
	if len(publicKey) != RootPublicKeySize {
		return false
	}
	var key [RootPublicKeySize]byte
	copy(key[:], publicKey)
	return f.MatchesRootPublicKey(key)
}

// MatchesFabricIDAndRootPublicKey reports whether this fabric's
// (fabricId, rootPublicKey) pair equals the supplied one, the collision
// check AddNOC performs before installing a new fabric (spec Section 4.2,
// "forDescriptor").
func (f *FabricInfo) MatchesFabricIDAndRootPublicKey(fabricID FabricID, rootPublicKey []byte) bool {
	if f.FabricID != fabricID {
		return false
	}
	return f.MatchesKeyPair(rootPublicKey)
}

// UpdateVendorVerificationData updates the optional VID verification fields.
// Mirrors the mutual-exclusion and length invariants from spec Section 3/4.1:
// VVSC may not be set while an ICAC is present, and the statement must be
// exactly 0 (erase) or 85 bytes.
func (f *FabricInfo) UpdateVendorVerificationData(vendorID *VendorID, statement []byte, vvsc []byte) error {
	if statement != nil && len(statement) != 0 && len(statement) != VIDVerificationStatementSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidVIDVerificationStatement, len(statement))
	}
	if len(vvsc) > 0 && f.HasICAC() {
		return fmt.Errorf("%w: VVSC not allowed with ICAC present", ErrInvalidVIDVerificationStatement)
	}

	if vendorID != nil {
		f.VendorID = *vendorID
	}
	if statement != nil {
		if len(statement) == 0 {
			f.VIDVerificationStatement = nil
		} else {
			f.VIDVerificationStatement = append([]byte(nil), statement...)
		}
	}
	if vvsc != nil {
		if len(vvsc) == 0 {
			f.VVSC = nil
		} else {
			f.VVSC = append([]byte(nil), vvsc...)
		}
	}
	return nil
}

// VerifyCredentials validates the optional ICAC against the root, then the
// NOC against the root (with the ICAC, if present). This mirrors the
// validation NewFabricInfo already performs at construction time and is
// exposed so UpdateNOC can re-validate a replacement NOC/ICAC pair before
// committing (spec Section 4.1).
func (f *FabricInfo) VerifyCredentials(noc, icac []byte) error {
	return ValidateNOCChain(f.RootCert, noc, icac)
}

// destinationInfoPreimage builds the HMAC preimage shared by
// destinationIdsFor and currentDestinationIdFor:
// random ‖ rootPublicKey ‖ fabricId_be64 ‖ nodeId_be64 (spec Section 4.1,
// Matter Section 4.14.2.3 "Destination Identifier Derivation").
func (f *FabricInfo) destinationInfoPreimage(random []byte, nodeID NodeID) []byte {
	buf := make([]byte, 0, len(random)+RootPublicKeySize+8+8)
	buf = append(buf, random...)
	buf = append(buf, f.RootPublicKey[:]...)

	var fidBuf [8]byte
	binary.BigEndian.PutUint64(fidBuf[:], uint64(f.FabricID))
	buf = append(buf, fidBuf[:]...)

	var nidBuf [8]byte
	binary.BigEndian.PutUint64(nidBuf[:], uint64(nodeID))
	buf = append(buf, nidBuf[:]...)

	return buf
}

// DestinationIdsFor returns the destination ID computed under every
// operational IPK in this fabric's IPK keyset, supporting in-flight IPK
// rotation (spec Section 4.1).
func (f *FabricInfo) DestinationIdsFor(nodeID NodeID, random []byte) ([][crypto.SHA256LenBytes]byte, error) {
	if len(f.IPKEpochKeys) == 0 {
		return nil, ErrNoIPK
	}
	preimage := f.destinationInfoPreimage(random, nodeID)

	ids := make([][crypto.SHA256LenBytes]byte, 0, len(f.IPKEpochKeys))
	for _, epochKey := range f.IPKEpochKeys {
		opKey, err := crypto.DeriveGroupOperationalKeyV1(epochKey[:], f.CompressedFabricID[:])
		if err != nil {
			return nil, err
		}
		ids = append(ids, crypto.HMACSHA256(opKey, preimage))
	}
	return ids, nil
}

// CurrentDestinationIdFor returns the destination ID computed under only
// the current (most recently installed) operational IPK.
func (f *FabricInfo) CurrentDestinationIdFor(nodeID NodeID, random []byte) ([crypto.SHA256LenBytes]byte, error) {
	if len(f.IPKEpochKeys) == 0 {
		return [crypto.SHA256LenBytes]byte{}, ErrNoIPK
	}
	current := f.IPKEpochKeys[len(f.IPKEpochKeys)-1]
	opKey, err := crypto.DeriveGroupOperationalKeyV1(current[:], f.CompressedFabricID[:])
	if err != nil {
		return [crypto.SHA256LenBytes]byte{}, err
	}
	preimage := f.destinationInfoPreimage(random, nodeID)
	return crypto.HMACSHA256(opKey, preimage), nil
}
