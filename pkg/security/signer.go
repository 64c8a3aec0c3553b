package security

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
)

// XMLDSig algorithm URIs for the authority-mandated signature profile.
const (
	AlgorithmC14N10       = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgorithmEnvelopedSig = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	AlgorithmRSASHA1      = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgorithmRSASHA256    = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgorithmDigestSHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
	AlgorithmDigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	xmldsigNS             = "http://www.w3.org/2000/09/xmldsig#"
	referenceIDAttribute  = "Id"
)

// ErrNoSignableElement indicates the fragment carries no element with an Id
// attribute to reference.
var ErrNoSignableElement = errors.New("fragment has no element with an Id attribute")

// SignError reports a cryptographic or structural signing failure, distinct
// from transport and protocol errors.
type SignError struct {
	Err error
}

func (e *SignError) Error() string { return fmt.Sprintf("signature error: %v", e.Err) }
func (e *SignError) Unwrap() error { return e.Err }

// FragmentSigner produces enveloped XML signatures over Id-referenced
// fragments.
type FragmentSigner struct {
	hashAlgo crypto.Hash
}

// NewFragmentSigner creates a signer using the given digest/signature hash.
// Only SHA-1 and SHA-256 are accepted; the authority recognizes no others.
func NewFragmentSigner(hashAlgo crypto.Hash) (*FragmentSigner, error) {
	switch hashAlgo {
	case crypto.SHA1, crypto.SHA256:
	default:
		return nil, &SignError{Err: fmt.Errorf("unsupported hash algorithm %v", hashAlgo)}
	}
	return &FragmentSigner{hashAlgo: hashAlgo}, nil
}

// SignFragment signs the serialized XML fragment with the tenant's PEM
// certificate and key. The fragment must contain exactly one element with an
// Id attribute; the returned document is the same fragment with a Signature
// element inserted immediately after that element's closing tag.
func (s *FragmentSigner) SignFragment(fragment, certPEM, keyPEM []byte) ([]byte, error) {
	cert, key, err := LoadKeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(fragment); err != nil {
		return nil, &SignError{Err: fmt.Errorf("failed to parse fragment: %w", err)}
	}

	target := findElementWithID(doc.Root())
	if target == nil {
		return nil, &SignError{Err: ErrNoSignableElement}
	}
	refID := target.SelectAttrValue(referenceIDAttribute, "")

	parent := target.Parent()
	if parent == nil {
		// Id sits on the root element; the signature becomes its last child.
		parent = target
	}

	sig := s.buildSignatureTemplate(refID, base64.StdEncoding.EncodeToString(cert.Raw))
	if parent == target {
		parent.AddChild(sig)
	} else {
		parent.InsertChildAt(target.Index()+1, sig)
	}

	xmlStr, err := doc.WriteToString()
	if err != nil {
		return nil, &SignError{Err: fmt.Errorf("failed to serialize fragment: %w", err)}
	}

	signer, err := signedxml.NewSigner(xmlStr)
	if err != nil {
		return nil, &SignError{Err: fmt.Errorf("failed to create signer: %w", err)}
	}
	signer.SetReferenceIDAttribute(referenceIDAttribute)

	signed, err := signer.Sign(key)
	if err != nil {
		return nil, &SignError{Err: fmt.Errorf("failed to sign: %w", err)}
	}

	return []byte(signed), nil
}

// VerifyFragment validates the enveloped signature embedded in a signed
// fragment against the certificate it carries.
func VerifyFragment(signedFragment []byte) error {
	validator, err := signedxml.NewValidator(string(signedFragment))
	if err != nil {
		return &SignError{Err: fmt.Errorf("failed to create validator: %w", err)}
	}
	validator.SetReferenceIDAttribute(referenceIDAttribute)

	if _, err := validator.ValidateReferences(); err != nil {
		return &SignError{Err: fmt.Errorf("signature validation failed: %w", err)}
	}
	return nil
}

func (s *FragmentSigner) buildSignatureTemplate(refID, certB64 string) *etree.Element {
	sig := etree.NewElement("Signature")
	sig.CreateAttr("xmlns", xmldsigNS)

	signedInfo := sig.CreateElement("SignedInfo")

	c14nMethod := signedInfo.CreateElement("CanonicalizationMethod")
	c14nMethod.CreateAttr("Algorithm", AlgorithmC14N10)

	sigMethod := signedInfo.CreateElement("SignatureMethod")
	sigMethod.CreateAttr("Algorithm", s.signatureAlgorithmURI())

	ref := signedInfo.CreateElement("Reference")
	ref.CreateAttr("URI", "#"+refID)

	transforms := ref.CreateElement("Transforms")
	enveloped := transforms.CreateElement("Transform")
	enveloped.CreateAttr("Algorithm", AlgorithmEnvelopedSig)
	c14n := transforms.CreateElement("Transform")
	c14n.CreateAttr("Algorithm", AlgorithmC14N10)

	digestMethod := ref.CreateElement("DigestMethod")
	digestMethod.CreateAttr("Algorithm", s.digestAlgorithmURI())

	// signedxml fills these in during Sign()
	ref.CreateElement("DigestValue").SetText("placeholder")
	sig.CreateElement("SignatureValue").SetText("placeholder")

	keyInfo := sig.CreateElement("KeyInfo")
	x509Data := keyInfo.CreateElement("X509Data")
	x509Data.CreateElement("X509Certificate").SetText(certB64)

	return sig
}

func (s *FragmentSigner) signatureAlgorithmURI() string {
	if s.hashAlgo == crypto.SHA1 {
		return AlgorithmRSASHA1
	}
	return AlgorithmRSASHA256
}

func (s *FragmentSigner) digestAlgorithmURI() string {
	if s.hashAlgo == crypto.SHA1 {
		return AlgorithmDigestSHA1
	}
	return AlgorithmDigestSHA256
}

func findElementWithID(elem *etree.Element) *etree.Element {
	if elem == nil {
		return nil
	}
	if elem.SelectAttr(referenceIDAttribute) != nil {
		return elem
	}
	for _, child := range elem.ChildElements() {
		if found := findElementWithID(child); found != nil {
			return found
		}
	}
	return nil
}
