package directory

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"certinv/internal/cache"
	"certinv/internal/certs"
	cierrors "certinv/internal/errors"
	"certinv/internal/logger"
)

const (
	vaultCacheTTL      = time.Minute
	vaultSerialsKey    = "serials"
	vaultRevokedKey    = "revoked"
	vaultCertKeyPrefix = "cert:"
)

// VaultConfig points the directory at a Vault PKI secrets engine.
type VaultConfig struct {
	Addr        string
	Token       string
	Mount       string
	TLSInsecure bool
}

type vaultClient struct {
	client   *api.Client
	mount    string
	cache    *cache.Cache
	stopChan chan struct{}
	now      func() time.Time
}

// vaultCertificate is the parsed part of a PEM served by the mount.
type vaultCertificate struct {
	commonName string
	issuer     string
	sans       []string
	notBefore  time.Time
	notAfter   time.Time
}

func NewVault(cfg VaultConfig) (Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("vault address is empty")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token is empty")
	}
	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "pki"
	}

	clientConfig := api.DefaultConfig()
	if clientConfig == nil {
		return nil, fmt.Errorf("failed to create default Vault config")
	}
	clientConfig.Address = cfg.Addr
	if err := clientConfig.ConfigureTLS(&api.TLSConfig{Insecure: cfg.TLSInsecure}); err != nil {
		return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
	}
	apiClient, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	apiClient.SetToken(cfg.Token)

	c := newVaultClient(apiClient, mount)
	go c.cache.RunJanitor(vaultCacheTTL, c.stopChan)
	return c, nil
}

func newVaultClient(apiClient *api.Client, mount string) *vaultClient {
	return &vaultClient{
		client:   apiClient,
		mount:    mount,
		cache:    cache.New(vaultCacheTTL),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// CheckConnection verifies Vault availability and seal status.
func (c *vaultClient) CheckConnection(ctx context.Context) error {
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health == nil {
		return fmt.Errorf("vault health response is nil")
	}
	if !health.Initialized {
		return fmt.Errorf("vault is not initialized")
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// Shutdown stops background goroutines.
func (c *vaultClient) Shutdown() {
	close(c.stopChan)
}

func (c *vaultClient) Search(ctx context.Context, q certs.Query) ([]certs.ExternalRecord, error) {
	started := c.now()
	serials, err := c.listKeys(ctx, vaultSerialsKey, c.mount+"/certs")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cierrors.ErrUpstream, err)
	}
	revoked, err := c.listKeys(ctx, vaultRevokedKey, c.mount+"/certs/revoked")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cierrors.ErrUpstream, err)
	}
	revokedSet := make(map[string]bool, len(revoked))
	for _, serial := range revoked {
		revokedSet[serial] = true
	}

	wantSerial := normalizeSerial(q.SerialNumber)
	result := make([]certs.ExternalRecord, 0)
	for _, serial := range serials {
		if wantSerial != "" && normalizeSerial(serial) != wantSerial {
			continue
		}
		parsed, err := c.readCertificate(ctx, serial)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", cierrors.ErrUpstream, err)
		}
		if q.CommonName != "" && !strings.Contains(parsed.commonName, q.CommonName) {
			continue
		}
		result = append(result, c.toRecord(serial, parsed, revokedSet[serial]))
	}
	sort.Slice(result, func(left, right int) bool {
		return result[left].CertificateIdentifier < result[right].CertificateIdentifier
	})
	logger.DirectoryEvent("vault", len(result), c.now().Sub(started)).Str("mount", c.mount).Msg("Directory search completed")
	return result, nil
}

func (c *vaultClient) toRecord(serial string, parsed vaultCertificate, revoked bool) certs.ExternalRecord {
	status := certs.StatusIssued
	if revoked {
		status = certs.StatusRevoked
	}
	current := !revoked && c.now().Before(parsed.notAfter)
	return certs.ExternalRecord{
		CertificateIdentifier: fmt.Sprintf("vault:%s:%s", c.mount, serial),
		CommonName:            certs.StringPtr(parsed.commonName),
		CertificateStatus:     certs.StringPtr(status),
		CurrentCert:           certs.BoolPtr(current),
		SerialNumber:          certs.StringPtr(serial),
		ValidFrom:             certs.StringPtr(parsed.notBefore.Format(time.RFC3339)),
		ValidTo:               certs.StringPtr(parsed.notAfter.Format(time.RFC3339)),
		SubjectAlternateNames: certs.StringPtr(strings.Join(parsed.sans, ",")),
		IssuerCertAuthName:    certs.StringPtr(parsed.issuer),
		CertType:              certs.StringPtr("x509"),
		IsAmexCert:            certs.BoolPtr(true),
	}
}

// listKeys lists a Vault path, caching the keys under cacheKey.
func (c *vaultClient) listKeys(ctx context.Context, cacheKey, path string) ([]string, error) {
	if cached, found := c.cache.Get(cacheKey); found {
		if keys, ok := cached.([]string); ok {
			return keys, nil
		}
	}
	secret, err := c.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	keys := make([]string, 0)
	if secret != nil && secret.Data != nil {
		rawKeys, _ := secret.Data["keys"].([]interface{})
		for _, value := range rawKeys {
			if serial, ok := value.(string); ok {
				keys = append(keys, serial)
			}
		}
	}
	c.cache.Set(cacheKey, keys)
	return keys, nil
}

func (c *vaultClient) readCertificate(ctx context.Context, serial string) (vaultCertificate, error) {
	cacheKey := vaultCertKeyPrefix + serial
	if cached, found := c.cache.Get(cacheKey); found {
		if parsed, ok := cached.(vaultCertificate); ok {
			return parsed, nil
		}
	}

	path := fmt.Sprintf("%s/cert/%s", c.mount, serial)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return vaultCertificate{}, fmt.Errorf("failed to read certificate %s from Vault: %w", serial, err)
	}
	if secret == nil || secret.Data == nil {
		return vaultCertificate{}, fmt.Errorf("certificate %s not found in Vault", serial)
	}
	certificatePEM, ok := secret.Data["certificate"].(string)
	if !ok || certificatePEM == "" {
		return vaultCertificate{}, fmt.Errorf("certificate field missing for %s", serial)
	}
	parsed, err := parseCertificatePEM(certificatePEM)
	if err != nil {
		return vaultCertificate{}, fmt.Errorf("certificate %s: %w", serial, err)
	}
	c.cache.Set(cacheKey, parsed)
	return parsed, nil
}

func parseCertificatePEM(certificatePEM string) (vaultCertificate, error) {
	block, _ := pem.Decode([]byte(certificatePEM))
	if block == nil {
		return vaultCertificate{}, fmt.Errorf("failed to decode PEM")
	}
	x509Certificate, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return vaultCertificate{}, fmt.Errorf("failed to parse certificate: %w", err)
	}

	sans := make([]string, 0, len(x509Certificate.DNSNames)+len(x509Certificate.IPAddresses)+len(x509Certificate.EmailAddresses))
	sans = append(sans, x509Certificate.DNSNames...)
	for _, address := range x509Certificate.IPAddresses {
		sans = append(sans, address.String())
	}
	sans = append(sans, x509Certificate.EmailAddresses...)

	issuer := x509Certificate.Issuer.CommonName
	if issuer == "" {
		issuer = x509Certificate.Issuer.String()
	}
	return vaultCertificate{
		commonName: x509Certificate.Subject.CommonName,
		issuer:     issuer,
		sans:       sans,
		notBefore:  x509Certificate.NotBefore.UTC(),
		notAfter:   x509Certificate.NotAfter.UTC(),
	}, nil
}

// normalizeSerial makes "AA:BB", "aa-bb" and "aabb" compare equal.
func normalizeSerial(serial string) string {
	return strings.ToLower(strings.NewReplacer(":", "", "-", "", " ", "").Replace(strings.TrimSpace(serial)))
}
