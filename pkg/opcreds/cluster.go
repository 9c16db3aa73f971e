// Package opcreds implements the Operational Credentials Cluster (0x003E)
// and the fail-safe-scoped command sequencing behind it: installing a
// trusted root, issuing a CSR, committing a NOC via AddNOC/UpdateNOC,
// managing fabric labels and VID verification data, and removing fabrics.
//
// Spec Reference: Section 11.18
//
// C++ Reference: src/app/clusters/operational-credentials/OperationalCredentialsCluster.cpp
package opcreds

import (
	"context"
	"sync"

	"github.com/backkem/matter/pkg/acl"
	"github.com/backkem/matter/pkg/crypto"
	"github.com/backkem/matter/pkg/datamodel"
	"github.com/backkem/matter/pkg/fabric"
	"github.com/backkem/matter/pkg/tlv"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x003E
	ClusterRevision uint16              = 2
)

// Attribute IDs (Spec 11.18.6).
const (
	AttrNOCs                    datamodel.AttributeID = 0x0000
	AttrFabrics                 datamodel.AttributeID = 0x0001
	AttrSupportedFabrics        datamodel.AttributeID = 0x0002
	AttrCommissionedFabrics     datamodel.AttributeID = 0x0003
	AttrTrustedRootCertificates datamodel.AttributeID = 0x0004
	AttrCurrentFabricIndex      datamodel.AttributeID = 0x0005
)

// Command IDs (Spec 11.18.7). AttestationRequest/CertificateChainRequest
// are part of the cluster's wire surface but are serviced by the device
// attestation subsystem, not this package; Crypto and CertificateCodec are
// black boxes this package never needs to reach into for them.
const (
	CmdCSRRequest                  datamodel.CommandID = 0x04
	CmdCSRResponse                 datamodel.CommandID = 0x05
	CmdAddNOC                      datamodel.CommandID = 0x06
	CmdUpdateNOC                   datamodel.CommandID = 0x07
	CmdNOCResponse                 datamodel.CommandID = 0x08
	CmdUpdateFabricLabel           datamodel.CommandID = 0x09
	CmdRemoveFabric                datamodel.CommandID = 0x0A
	CmdAddTrustedRootCertificate   datamodel.CommandID = 0x0B
	CmdSetVIDVerificationStatement datamodel.CommandID = 0x0D
	CmdSignVIDVerificationRequest  datamodel.CommandID = 0x0E
	CmdSignVIDVerificationResponse datamodel.CommandID = 0x0F
)

// CSRGenerator is the CertificateCodec-adjacent black box that turns a
// freshly generated operational key pair into the NOCSRElements TLV
// structure (PKCS#10 CSR plus CSRNonce plus vendor reserved fields),
// matching spec Section 1's black-box treatment of certificate encoding.
type CSRGenerator interface {
	GenerateNOCSRElements(keyPair *crypto.P256KeyPair, csrNonce []byte) ([]byte, error)
}

// AttestationSigner is the Crypto-adjacent black box that signs
// NOCSRElements with the node's Device Attestation private key, producing
// the AttestationSignature field of CSRResponse.
type AttestationSigner interface {
	SignWithDAC(message []byte) ([]byte, error)
}

// Config provides dependencies for the Operational Credentials cluster.
type Config struct {
	// EndpointID is the endpoint this cluster belongs to (should be 0).
	EndpointID datamodel.EndpointID

	// FabricMgr is the fabric table this cluster sequences commands against.
	FabricMgr *fabric.Manager

	// ACLMgr creates the initial Administer ACL entry on AddNOC and clears
	// ACL entries on RemoveFabric.
	ACLMgr *acl.Manager

	// FailSafe gates CSRRequest/AddNOC/UpdateNOC/AddTrustedRootCertificate
	// on an armed fail-safe and records the provisional fabric index for
	// rollback. Required.
	FailSafe FailSafeManager

	// CSRGenerator produces NOCSRElements for CSRRequest. Required.
	CSRGenerator CSRGenerator

	// AttestationSigner signs NOCSRElements for CSRRequest. Required.
	AttestationSigner AttestationSigner

	// OnFabricCommitted is called after AddNOC installs a fabric on a
	// session that invoked it over PASE, so the owner of that session can
	// re-scope it to the new fabric index (Spec 11.18.7.2 step 7,
	// "If the invoking session is PASE: augments the session's accessing
	// fabric index to the new one"). sessionID is the local session ID the
	// AddNOC command arrived on. Optional; nil if the caller has no PASE
	// sessions to re-scope (e.g. tests).
	OnFabricCommitted func(sessionID uint16, index fabric.FabricIndex)
}

// Cluster implements the Operational Credentials cluster (0x003E).
type Cluster struct {
	*datamodel.ClusterBase
	config Config
	sm     *stateMachine

	// pendingKeyPair is the operational key pair generated by the most
	// recent successful CSRRequest this window, kept in memory only (never
	// persisted) until AddNOC/UpdateNOC consumes it.
	mu             sync.Mutex
	pendingKeyPair *crypto.P256KeyPair

	attrList []datamodel.AttributeEntry
}

// New creates a new Operational Credentials cluster.
func New(cfg Config) *Cluster {
	c := &Cluster{
		ClusterBase: datamodel.NewClusterBase(ClusterID, cfg.EndpointID, ClusterRevision),
		config:      cfg,
		sm:          newStateMachine(),
	}
	c.attrList = c.buildAttributeList()
	return c
}

func (c *Cluster) buildAttributeList() []datamodel.AttributeEntry {
	viewPriv := datamodel.PrivilegeView
	adminPriv := datamodel.PrivilegeAdminister

	attrs := []datamodel.AttributeEntry{
		datamodel.NewReadOnlyAttribute(AttrNOCs, datamodel.AttrQualityFabricSensitive, adminPriv),
		datamodel.NewReadOnlyAttribute(AttrFabrics, datamodel.AttrQualityFabricScoped, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrSupportedFabrics, datamodel.AttrQualityFixed, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrCommissionedFabrics, 0, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrTrustedRootCertificates, datamodel.AttrQualityList, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrCurrentFabricIndex, 0, viewPriv),
	}
	return datamodel.MergeAttributeLists(attrs)
}

// AttributeList implements datamodel.Cluster.
func (c *Cluster) AttributeList() []datamodel.AttributeEntry {
	return c.attrList
}

// AcceptedCommandList implements datamodel.Cluster.
func (c *Cluster) AcceptedCommandList() []datamodel.CommandEntry {
	adminPriv := datamodel.PrivilegeAdminister

	return []datamodel.CommandEntry{
		datamodel.NewCommandEntry(CmdCSRRequest, 0, adminPriv),
		datamodel.NewCommandEntry(CmdAddNOC, 0, adminPriv),
		datamodel.NewCommandEntry(CmdUpdateNOC, datamodel.CmdQualityFabricScoped, adminPriv),
		datamodel.NewCommandEntry(CmdUpdateFabricLabel, datamodel.CmdQualityFabricScoped, adminPriv),
		datamodel.NewCommandEntry(CmdRemoveFabric, 0, adminPriv),
		datamodel.NewCommandEntry(CmdAddTrustedRootCertificate, 0, adminPriv),
		datamodel.NewCommandEntry(CmdSetVIDVerificationStatement, datamodel.CmdQualityFabricScoped, adminPriv),
		datamodel.NewCommandEntry(CmdSignVIDVerificationRequest, 0, adminPriv),
	}
}

// GeneratedCommandList implements datamodel.Cluster.
func (c *Cluster) GeneratedCommandList() []datamodel.CommandID {
	return []datamodel.CommandID{
		CmdCSRResponse,
		CmdNOCResponse,
		CmdSignVIDVerificationResponse,
	}
}

// ReadAttribute implements datamodel.Cluster.
func (c *Cluster) ReadAttribute(ctx context.Context, req datamodel.ReadAttributeRequest, w *tlv.Writer) error {
	handled, err := c.ReadGlobalAttribute(ctx, req.Path.Attribute, w,
		c.attrList, c.AcceptedCommandList(), c.GeneratedCommandList())
	if handled || err != nil {
		return err
	}

	table := c.config.FabricMgr.Table()

	switch req.Path.Attribute {
	case AttrNOCs:
		return writeNOCList(w, table.GetNOCsList())

	case AttrFabrics:
		return writeFabricList(w, table.GetFabricsList())

	case AttrSupportedFabrics:
		return w.PutUint(tlv.Anonymous(), uint64(table.SupportedFabrics()))

	case AttrCommissionedFabrics:
		return w.PutUint(tlv.Anonymous(), uint64(table.CommissionedFabrics()))

	case AttrTrustedRootCertificates:
		return writeCertList(w, table.GetTrustedRootCertificates())

	case AttrCurrentFabricIndex:
		return w.PutUint(tlv.Anonymous(), uint64(req.FabricIndex()))

	default:
		return datamodel.ErrUnsupportedAttribute
	}
}

// WriteAttribute implements datamodel.Cluster. Every attribute on this
// cluster is read-only; all state mutation goes through commands.
func (c *Cluster) WriteAttribute(ctx context.Context, req datamodel.WriteAttributeRequest, r *tlv.Reader) error {
	return datamodel.ErrUnsupportedWrite
}

// InvokeCommand implements datamodel.Cluster.
func (c *Cluster) InvokeCommand(ctx context.Context, req datamodel.InvokeRequest, r *tlv.Reader) ([]byte, error) {
	switch req.Path.Command {
	case CmdCSRRequest:
		return c.handleCSRRequest(ctx, req, r)
	case CmdAddNOC:
		return c.handleAddNOC(ctx, req, r)
	case CmdUpdateNOC:
		return c.handleUpdateNOC(ctx, req, r)
	case CmdUpdateFabricLabel:
		return c.handleUpdateFabricLabel(ctx, req, r)
	case CmdRemoveFabric:
		return c.handleRemoveFabric(ctx, req, r)
	case CmdAddTrustedRootCertificate:
		return c.handleAddTrustedRootCertificate(ctx, req, r)
	case CmdSetVIDVerificationStatement:
		return c.handleSetVIDVerificationStatement(ctx, req, r)
	case CmdSignVIDVerificationRequest:
		return c.handleSignVIDVerificationRequest(ctx, req, r)
	default:
		return nil, datamodel.ErrUnsupportedCommand
	}
}

// HandleFailSafeExpiry rolls back any NOC committed but not yet confirmed
// by CommissioningComplete this window, and resets the command sequence to
// IDLE (spec Section 4.3 state diagram, "any -> IDLE (rolled back)").
// The commissioning fail-safe subsystem calls this on expiry; a successful
// CommissioningComplete should call Commit instead.
func (c *Cluster) HandleFailSafeExpiry() {
	index := c.sm.committedFabricIndex()
	if index != fabric.FabricIndexInvalid {
		_ = c.config.FabricMgr.Delete(index, nil)
		_ = c.config.ACLMgr.DeleteAllForFabric(index)
	}
	c.sm.reset()
	c.mu.Lock()
	c.pendingKeyPair = nil
	c.mu.Unlock()
}

// Commit finalizes the current fail-safe window: the command sequence
// resets to IDLE without undoing anything (spec Section 4.3,
// "COMMITTED -> IDLE' (fail-safe commit)").
func (c *Cluster) Commit() {
	c.sm.reset()
	c.mu.Lock()
	c.pendingKeyPair = nil
	c.mu.Unlock()
}

func writeNOCList(w *tlv.Writer, nocs []fabric.NOCStruct) error {
	if err := w.StartArray(tlv.Anonymous()); err != nil {
		return err
	}
	for i := range nocs {
		if err := nocs[i].EncodeTLV(w); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func writeFabricList(w *tlv.Writer, fabrics []fabric.FabricDescriptorStruct) error {
	if err := w.StartArray(tlv.Anonymous()); err != nil {
		return err
	}
	for i := range fabrics {
		if err := fabrics[i].EncodeTLV(w); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func writeCertList(w *tlv.Writer, certs [][]byte) error {
	if err := w.StartArray(tlv.Anonymous()); err != nil {
		return err
	}
	for _, cert := range certs {
		if err := w.PutBytes(tlv.Anonymous(), cert); err != nil {
			return err
		}
	}
	return w.EndContainer()
}
