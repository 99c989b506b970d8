package peerauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"
)

// CertValidity is how long a controller-issued node certificate remains
// valid before the node must present a fresh CSR.
const CertValidity = 90 * 24 * time.Hour

// CertAuthority signs CSRs presented by nodes joining the cluster. Full
// certificate lifecycle management (rotation policy, revocation lists,
// intermediate chains) is out of scope; this is the thin glue the
// internal HTTP contract's csr endpoint needs to hand back a usable leaf
// certificate.
type CertAuthority struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// LoadCertAuthority reads a PEM certificate and EC private key pair from
// disk.
func LoadCertAuthority(certFile, keyFile string) (*CertAuthority, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("peerauth: reading CA cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("peerauth: reading CA key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("peerauth: no PEM block in CA cert file")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("peerauth: parsing CA cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("peerauth: no PEM block in CA key file")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("peerauth: parsing CA key: %w", err)
	}

	return &CertAuthority{cert: cert, key: key}, nil
}

// GenerateSelfSignedCA creates a fresh root CA keypair and writes it to
// certFile/keyFile, for local development and tests where no CA has been
// provisioned out of band.
func GenerateSelfSignedCA(certFile, keyFile string) (*CertAuthority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("peerauth: generating CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("peerauth: generating CA serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "meowith internal CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("peerauth: creating CA certificate: %w", err)
	}

	if err := writePEM(certFile, "CERTIFICATE", der); err != nil {
		return nil, err
	}
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("peerauth: marshalling CA key: %w", err)
	}
	if err := writePEM(keyFile, "EC PRIVATE KEY", keyBytes); err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("peerauth: parsing generated CA certificate: %w", err)
	}
	return &CertAuthority{cert: cert, key: key}, nil
}

func writePEM(path, blockType string, bytes []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("peerauth: writing %s: %w", path, err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: bytes})
}

// SignCSR validates a DER-encoded PKCS#10 CSR and returns a DER-encoded
// leaf certificate for addrs (each parsed as an IP, falling back to a DNS
// name). The CSR's own subject is kept; its requested extensions are
// ignored in favor of the explicit address list from the caller's
// X-Addr header, since a node's own CSR is not a trusted source of its
// externally reachable address.
func (ca *CertAuthority) SignCSR(csrDER []byte, addrs []string) ([]byte, error) {
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("peerauth: parsing CSR: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("peerauth: invalid CSR signature: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("peerauth: generating certificate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      csr.Subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(CertValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if ip := net.ParseIP(addr); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, addr)
		}
	}

	return x509.CreateCertificate(rand.Reader, template, ca.cert, csr.PublicKey, ca.key)
}
