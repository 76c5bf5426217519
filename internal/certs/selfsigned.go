package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/lakowske/netcore/internal/core"
)

const selfSignedValidity = 365 * 24 * time.Hour

// KeyAlgorithm selects the private key type a self-signed certificate is
// generated with.
type KeyAlgorithm string

const (
	KeyAlgorithmRSA2048   KeyAlgorithm = "rsa2048"
	KeyAlgorithmECDSAP256 KeyAlgorithm = "ecdsa-p256"
)

// generateSelfSigned builds a self-signed certificate for domain valid for
// selfSignedValidity, with domain itself plus altNames (fully-qualified
// A-record names) as subjectAltName DNS entries. Returns PEM-encoded cert
// and key.
func generateSelfSigned(domain string, altNames []string, algorithm KeyAlgorithm, now time.Time) (certPEM, keyPEM []byte, notBefore, notAfter time.Time, cerr *core.Error) {
	notBefore = now
	notAfter = now.Add(selfSignedValidity)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, time.Time{}, time.Time{}, core.New(core.KindCertIssueFailed, "failed to generate certificate serial",
			map[string]any{"domain": domain, "error": err.Error()})
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domain},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dedupeNames(append([]string{domain}, altNames...)),
	}

	var privKey any
	var pub any
	switch algorithm {
	case KeyAlgorithmECDSAP256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, nil, time.Time{}, time.Time{}, core.New(core.KindCertIssueFailed, "failed to generate private key",
				map[string]any{"domain": domain, "error": err.Error()})
		}
		privKey, pub = key, &key.PublicKey
	default:
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, nil, time.Time{}, time.Time{}, core.New(core.KindCertIssueFailed, "failed to generate private key",
				map[string]any{"domain": domain, "error": err.Error()})
		}
		privKey, pub = key, &key.PublicKey
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, privKey)
	if err != nil {
		return nil, nil, time.Time{}, time.Time{}, core.New(core.KindCertIssueFailed, "failed to create self-signed certificate",
			map[string]any{"domain": domain, "error": err.Error()})
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return nil, nil, time.Time{}, time.Time{}, core.New(core.KindCertIssueFailed, "failed to marshal private key",
			map[string]any{"domain": domain, "error": err.Error()})
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM, notBefore, notAfter, nil
}

func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// altNamesFromDomain extracts the short A-record names (e.g. "www", "mail")
// for domain into fully-qualified subjectAltName entries.
func altNamesFromDomain(domainName string, aRecords map[string]string) []string {
	names := make([]string, 0, len(aRecords))
	for short := range aRecords {
		if short == "@" || short == "" {
			continue
		}
		names = append(names, fmt.Sprintf("%s.%s", short, domainName))
	}
	return names
}
