package certs

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/lakowske/netcore/internal/core"
)

// ChallengeKind selects the ACME challenge type a domain is ordered with.
type ChallengeKind string

const (
	ChallengeHTTP01 ChallengeKind = "http-01"
	ChallengeDNS01  ChallengeKind = "dns-01"
)

// acmeUser implements lego's registration.User, modeled directly on the
// teacher-adjacent ACMEUser in cuemby-warren/pkg/ingress/acme.go.
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                       { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// acmeClient wraps a registered lego.Client for one ACME account, reused
// across every domain issuance/renewal so the account is only registered
// once per process.
type acmeClient struct {
	client      *lego.Client
	user        *acmeUser
	dnsProvider challenge.Provider
	http01Addr  string
}

// ACMEConfig configures how the Certificate Manager talks to an ACME
// directory. DNSProvider must be set to use ChallengeDNS01; leaving it nil
// makes any dns-01 order fail fast with a clear error instead of hanging.
type ACMEConfig struct {
	DirectoryURL  string
	AccountEmail  string
	AccountKeyPEM string // previously saved account key; empty generates a new one
	DNSProvider   challenge.Provider
	HTTP01Addr    string // address the standalone HTTP-01 server binds, e.g. ":80"
}

func newACMEClient(cfg ACMEConfig) (*acmeClient, *core.Error) {
	key, cerr := acmeAccountKey(cfg.AccountKeyPEM)
	if cerr != nil {
		return nil, cerr
	}

	user := &acmeUser{email: cfg.AccountEmail, key: key}
	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = cfg.DirectoryURL
	legoCfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, core.New(core.KindCertIssueFailed, "failed to create ACME client",
			map[string]any{"error": err.Error()})
	}

	addr := cfg.HTTP01Addr
	if addr == "" {
		addr = ":80"
	}
	if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", addr)); err != nil {
		return nil, core.New(core.KindCertIssueFailed, "failed to configure HTTP-01 provider",
			map[string]any{"error": err.Error()})
	}
	if cfg.DNSProvider != nil {
		if err := client.Challenge.SetDNS01Provider(cfg.DNSProvider); err != nil {
			return nil, core.New(core.KindCertIssueFailed, "failed to configure DNS-01 provider",
				map[string]any{"error": err.Error()})
		}
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, core.New(core.KindCertIssueFailed, "failed to register ACME account",
			map[string]any{"email": cfg.AccountEmail, "error": err.Error()})
	}
	user.registration = reg

	return &acmeClient{client: client, user: user, dnsProvider: cfg.DNSProvider, http01Addr: addr}, nil
}

// acmeAccountKey parses a previously saved PEM-encoded ECDSA account key,
// or generates a fresh P-256 key when keyPEM is empty (first registration).
func acmeAccountKey(keyPEM string) (crypto.PrivateKey, *core.Error) {
	if keyPEM == "" {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, core.New(core.KindCertIssueFailed, "failed to generate ACME account key",
				map[string]any{"error": err.Error()})
		}
		return key, nil
	}

	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, core.New(core.KindCertIssueFailed, "failed to decode saved ACME account key", nil)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, core.New(core.KindCertIssueFailed, "failed to parse saved ACME account key",
			map[string]any{"error": err.Error()})
	}
	return key, nil
}

// marshalAccountKey PEM-encodes an ECDSA account key for storage in
// secrets.yaml, the inverse of acmeAccountKey.
func marshalAccountKey(key *ecdsa.PrivateKey) (string, *core.Error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", core.New(core.KindCertIssueFailed, "failed to marshal ACME account key",
			map[string]any{"error": err.Error()})
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// obtain requests a new certificate for domain (plus any SANs) using the
// given challenge kind, returning PEM-encoded certificate and key bytes.
func (a *acmeClient) obtain(ctx context.Context, domainNames []string, kind ChallengeKind) ([]byte, []byte, *core.Error) {
	if len(domainNames) == 0 {
		return nil, nil, core.New(core.KindCertIssueFailed, "no domains to order a certificate for", nil)
	}
	if kind == ChallengeDNS01 && a.dnsProvider == nil {
		return nil, nil, core.New(core.KindCertIssueFailed, "dns-01 challenge requested with no DNS provider configured",
			map[string]any{"domains": domainNames})
	}

	request := certificate.ObtainRequest{Domains: domainNames, Bundle: true}
	certs, err := a.client.Certificate.Obtain(request)
	if err != nil {
		return nil, nil, core.New(core.KindCertIssueFailed, "ACME certificate order failed",
			map[string]any{"domains": domainNames, "challenge": string(kind), "error": err.Error()})
	}
	return certs.Certificate, certs.PrivateKey, nil
}
