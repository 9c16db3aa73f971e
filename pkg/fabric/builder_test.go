package fabric

import (
	"errors"
	"testing"

	"github.com/backkem/matter/pkg/crypto"
)

func validCertSet() (rcac, icac, noc []byte) {
	return hexToBytes(rcacTLVHex), hexToBytes(icacTLVHex), hexToBytes(nocTLVHex)
}

func TestFabricBuilder_MissingFields(t *testing.T) {
	rcac, icac, noc := validCertSet()
	kp, err := crypto.P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair: %v", err)
	}
	var ipk [IPKSize]byte

	tests := []struct {
		name  string
		build func() *FabricBuilder
	}{
		{"no root cert", func() *FabricBuilder {
			return NewFabricBuilder().SetNOC(noc).SetOperationalKeyPair(kp).SetIPK(ipk)
		}},
		{"no NOC", func() *FabricBuilder {
			return NewFabricBuilder().SetRootCert(rcac).SetOperationalKeyPair(kp).SetIPK(ipk)
		}},
		{"no key pair", func() *FabricBuilder {
			return NewFabricBuilder().SetRootCert(rcac).SetNOC(noc).SetIPK(ipk)
		}},
		{"no IPK", func() *FabricBuilder {
			return NewFabricBuilder().SetRootCert(rcac).SetNOC(noc).SetOperationalKeyPair(kp)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().SetICAC(icac).Build(FabricIndex(1))
			if !errors.Is(err, ErrBuilderMissingField) {
				t.Fatalf("Build() error = %v, want ErrBuilderMissingField", err)
			}
		})
	}
}

func TestFabricBuilder_VVSCAndICACConflict(t *testing.T) {
	rcac, icac, noc := validCertSet()
	kp, err := crypto.P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair: %v", err)
	}
	var ipk [IPKSize]byte

	_, err = NewFabricBuilder().
		SetRootCert(rcac).
		SetNOC(noc).
		SetICAC(icac).
		SetOperationalKeyPair(kp).
		SetIPK(ipk).
		SetVVSC([]byte{0x01, 0x02}).
		Build(FabricIndex(1))
	if !errors.Is(err, ErrInvalidVIDVerificationStatement) {
		t.Fatalf("Build() error = %v, want ErrInvalidVIDVerificationStatement", err)
	}
}

func TestFabricBuilder_InvalidVIDVerificationStatementLength(t *testing.T) {
	rcac, icac, noc := validCertSet()
	kp, err := crypto.P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair: %v", err)
	}
	var ipk [IPKSize]byte

	_, err = NewFabricBuilder().
		SetRootCert(rcac).
		SetNOC(noc).
		SetICAC(icac).
		SetOperationalKeyPair(kp).
		SetIPK(ipk).
		SetVIDVerificationStatement(make([]byte, 10)).
		Build(FabricIndex(1))
	if !errors.Is(err, ErrInvalidVIDVerificationStatement) {
		t.Fatalf("Build() error = %v, want ErrInvalidVIDVerificationStatement", err)
	}
}

func TestFabricBuilder_PublicKeyMismatch(t *testing.T) {
	rcac, icac, noc := validCertSet()
	kp, err := crypto.P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair: %v", err)
	}
	var ipk [IPKSize]byte

	// A freshly generated key pair does not correspond to the public key
	// already bound into the fixed NOC test vector.
	_, err = NewFabricBuilder().
		SetRootCert(rcac).
		SetNOC(noc).
		SetICAC(icac).
		SetOperationalKeyPair(kp).
		SetIPK(ipk).
		Build(FabricIndex(1))
	if !errors.Is(err, ErrBuilderPublicKeyMismatch) {
		t.Fatalf("Build() error = %v, want ErrBuilderPublicKeyMismatch", err)
	}
}

func TestFabricBuilder_Success(t *testing.T) {
	t.Skip("requires an operational key pair whose public key matches the fixed NOC test vector's embedded key; no such private key fixture is available")
}
