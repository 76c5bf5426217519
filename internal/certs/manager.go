// Package certs is the Certificate Manager: it provisions and
// renews each domain's TLS material under <state>/certificates/<domain>/,
// self-signed or via ACME, and notifies the event bus on every successful
// issuance so the Mail and HTTP Auth synchronizers can reconcile.
// Grounded on cuemby-warren/pkg/ingress/acme.go (ACMEUser, lego.Client,
// certificate.ObtainRequest shape) for the ACME path; the self-signed
// path has no pack grounding beyond stdlib crypto/x509 (see DESIGN.md).
package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/events"
	"github.com/lakowske/netcore/internal/fsatomic"
	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/store"
)

const renewalWindow = 30 * 24 * time.Hour

const acmeMaxAttempts = 6 // base 5s doubling: gaps of ~5s, 10s, 20s, 40s, 80s before giving up

// Manager provisions and renews certificates for one environment.
type Manager struct {
	paths   paths.Paths
	store   *store.Store
	bus     *events.Bus
	acme    ACMEConfig
	now     func() time.Time
	backoff backoffPolicy

	acmeClient *acmeClient
}

// New returns a Manager rooted at envPaths, reading/writing certs and the
// ACME account key through st. acmeCfg.DirectoryURL may be left empty
// until a domain actually requests CertificateMode acme.
func New(envPaths paths.Paths, st *store.Store, bus *events.Bus, acmeCfg ACMEConfig) *Manager {
	return &Manager{
		paths:   envPaths,
		store:   st,
		bus:     bus,
		acme:    acmeCfg,
		now:     time.Now,
		backoff: defaultBackoff(),
	}
}

// EnsureOptions tunes one Ensure call.
type EnsureOptions struct {
	Force         bool
	KeyAlgorithm  KeyAlgorithm
	ChallengeKind ChallengeKind
}

// Ensure brings domain's certificate material in line with its
// CertificateMode: generating/renewing as needed, or doing nothing for
// CertModeNone. Returns the resulting Certificate record (nil for none),
// and publishes events.KindCertificateIssued/KindCertificateRenewed to the
// bus on success.
func (m *Manager) Ensure(ctx context.Context, d schema.Domain, opts EnsureOptions) (*schema.Certificate, *core.Error) {
	switch d.CertificateMode {
	case schema.CertModeNone, "":
		return nil, nil
	case schema.CertModeSelfSigned:
		return m.ensureSelfSigned(d, opts)
	case schema.CertModeACME:
		return m.ensureACME(ctx, d, opts)
	default:
		return nil, core.New(core.KindConfigValidate, "unknown certificate mode",
			map[string]any{"domain": d.Name, "mode": string(d.CertificateMode)})
	}
}

func (m *Manager) ensureSelfSigned(d schema.Domain, opts EnsureOptions) (*schema.Certificate, *core.Error) {
	existing, _ := m.readCertificate(d.Name)
	if existing != nil && !opts.Force && !existing.ExpiresWithin(renewalWindow, m.now()) {
		return existing, nil
	}

	algorithm := opts.KeyAlgorithm
	if algorithm == "" {
		algorithm = KeyAlgorithmRSA2048
	}
	altNames := altNamesFromDomain(d.Name, d.ARecords)
	certPEM, keyPEM, notBefore, notAfter, cerr := generateSelfSigned(d.Name, altNames, algorithm, m.now())
	if cerr != nil {
		return nil, cerr
	}

	cert, cerr := m.place(d.Name, schema.CertModeSelfSigned, certPEM, keyPEM, certPEM, notBefore, notAfter)
	if cerr != nil {
		return nil, cerr
	}
	m.publish(events.KindCertificateIssued, d.Name)
	return cert, nil
}

func (m *Manager) ensureACME(ctx context.Context, d schema.Domain, opts EnsureOptions) (*schema.Certificate, *core.Error) {
	existing, _ := m.readCertificate(d.Name)
	renewing := existing != nil
	if existing != nil && !opts.Force && !existing.ExpiresWithin(renewalWindow, m.now()) {
		return existing, nil
	}

	if cerr := m.ensureACMEClient(); cerr != nil {
		return nil, cerr
	}

	kind := opts.ChallengeKind
	if kind == "" {
		kind = ChallengeHTTP01
	}

	var certPEM, keyPEM []byte
	domains := append([]string{d.Name}, altNamesFromDomain(d.Name, d.ARecords)...)
	retryErr := m.backoff.retry(ctx, acmeMaxAttempts, func() error {
		c, k, cerr := m.acmeClient.obtain(ctx, domains, kind)
		if cerr != nil {
			return cerr
		}
		certPEM, keyPEM = c, k
		return nil
	})
	if retryErr != nil {
		var cerr *core.Error
		if errors.As(retryErr, &cerr) {
			return nil, cerr
		}
		return nil, core.New(core.KindCertIssueFailed, "ACME issuance failed after retries",
			map[string]any{"domain": d.Name, "error": retryErr.Error()})
	}

	x509Cert, err := parseLeafCertificate(certPEM)
	if err != nil {
		return nil, core.New(core.KindCertIssueFailed, "failed to parse issued certificate",
			map[string]any{"domain": d.Name, "error": err.Error()})
	}

	cert, cerr := m.place(d.Name, schema.CertModeACME, certPEM, keyPEM, certPEM, x509Cert.NotBefore, x509Cert.NotAfter)
	if cerr != nil {
		return nil, cerr
	}
	if renewing {
		m.publish(events.KindCertificateRenewed, d.Name)
	} else {
		m.publish(events.KindCertificateIssued, d.Name)
	}
	return cert, nil
}

// ensureACMEClient lazily registers the ACME account on first use, saving
// the account key into secrets.yaml so subsequent runs reuse the same
// registration instead of re-registering per process.
func (m *Manager) ensureACMEClient() *core.Error {
	if m.acmeClient != nil {
		return nil
	}
	secrets, cerr := m.store.LoadSecrets()
	if cerr != nil {
		return cerr
	}
	cfg := m.acme
	cfg.AccountKeyPEM = secrets.Bundle.ACMEAccount

	client, cerr := newACMEClient(cfg)
	if cerr != nil {
		return cerr
	}
	m.acmeClient = client

	if secrets.Bundle.ACMEAccount == "" {
		if key, ok := client.user.key.(*ecdsa.PrivateKey); ok {
			pemKey, cerr := marshalAccountKey(key)
			if cerr != nil {
				return cerr
			}
			secrets.Bundle.ACMEAccount = pemKey
			if cerr := m.store.SaveSecrets(secrets); cerr != nil {
				return cerr
			}
		}
	}
	return nil
}

// place atomically writes privkey.pem (0600), cert.pem and fullchain.pem
// (0644) under <state>/certificates/<domain>/ and returns the resulting
// Certificate record.
func (m *Manager) place(domainName string, mode schema.CertificateMode, certPEM, keyPEM, fullchainPEM []byte, notBefore, notAfter time.Time) (*schema.Certificate, *core.Error) {
	dir := m.paths.CertificateDir(domainName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.New(core.KindIOFatal, "failed to create certificate directory",
			map[string]any{"domain": domainName, "error": err.Error()})
	}

	if err := fsatomic.Write(filepath.Join(dir, "privkey.pem"), keyPEM, 0o600); err != nil {
		return nil, core.New(core.KindIOFatal, "failed to write private key", map[string]any{"domain": domainName, "error": err.Error()})
	}
	if err := fsatomic.Write(filepath.Join(dir, "cert.pem"), certPEM, 0o644); err != nil {
		return nil, core.New(core.KindIOFatal, "failed to write certificate", map[string]any{"domain": domainName, "error": err.Error()})
	}
	if err := fsatomic.Write(filepath.Join(dir, "fullchain.pem"), fullchainPEM, 0o644); err != nil {
		return nil, core.New(core.KindIOFatal, "failed to write fullchain", map[string]any{"domain": domainName, "error": err.Error()})
	}

	return &schema.Certificate{
		Domain:            domainName,
		Mode:              mode,
		NotBefore:         notBefore,
		NotAfter:          notAfter,
		FingerprintSHA256: fingerprintFromPEM(certPEM),
	}, nil
}

// readCertificate loads the currently installed cert.pem for domainName,
// if any, deriving a schema.Certificate from the parsed X.509 leaf.
func (m *Manager) readCertificate(domainName string) (*schema.Certificate, *core.Error) {
	path := filepath.Join(m.paths.CertificateDir(domainName), "cert.pem")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, core.New(core.KindIOTransient, "failed to read existing certificate",
			map[string]any{"domain": domainName, "error": err.Error()})
	}
	leaf, err := parseLeafCertificate(data)
	if err != nil {
		return nil, core.New(core.KindIOFatal, "failed to parse existing certificate",
			map[string]any{"domain": domainName, "error": err.Error()})
	}
	return &schema.Certificate{
		Domain:            domainName,
		NotBefore:         leaf.NotBefore,
		NotAfter:          leaf.NotAfter,
		FingerprintSHA256: fingerprintFromPEM(data),
	}, nil
}

func (m *Manager) publish(kind events.Kind, domainName string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Kind: kind, Data: map[string]any{"domain": domainName}})
}

func parseLeafCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("no PEM block found in certificate data")
	}
	return x509.ParseCertificate(block.Bytes)
}

// fingerprintFromPEM returns the hex-encoded SHA-256 digest of the DER
// bytes inside the first PEM block of certPEM, empty if it can't decode.
func fingerprintFromPEM(certPEM []byte) string {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return ""
	}
	sum := sha256.Sum256(block.Bytes)
	return hex.EncodeToString(sum[:])
}
