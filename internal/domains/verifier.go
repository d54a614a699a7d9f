// Package domains proves ownership of organization domains through DNS and
// keeps re-checking pending domains on a fixed interval.
package domains

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"evalgo.org/deployer/internal/config"
	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/models"
)

// RecordPrefix is prepended to a domain to form the verification record name.
const RecordPrefix = "_deployer-verify"

const defaultLookupTimeout = 10 * time.Second

// Store loads and saves organization domains.
type Store interface {
	GetOrganizationDomain(ctx context.Context, id string) (*models.OrganizationDomain, error)
	UpdateOrganizationDomain(ctx context.Context, d *models.OrganizationDomain) error
	ListOrganizationDomains(ctx context.Context, status models.VerificationStatus) ([]models.OrganizationDomain, error)
}

// Resolver is the DNS surface used for verification. *net.Resolver satisfies it.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// Observer is notified of every completed DNS check.
type Observer interface {
	ObserveDomainVerification(method models.VerificationMethod, verified bool)
}

// VerificationResult is the outcome of one verification attempt.
type VerificationResult struct {
	DomainID  string                    `json:"domainId"`
	Domain    string                    `json:"domain"`
	Method    models.VerificationMethod `json:"method"`
	Status    models.VerificationStatus `json:"status"`
	Verified  bool                      `json:"verified"`
	Reason    string                    `json:"reason,omitempty"`
	CheckedAt time.Time                 `json:"checkedAt"`
}

// Verifier runs DNS ownership checks and persists their outcome.
type Verifier struct {
	store         Store
	resolver      Resolver
	host          string
	lookupTimeout time.Duration
	logger        *slog.Logger
	observer      Observer
	now           func() time.Time
}

// NewVerifier creates a Verifier. CNAME targets are built under
// cfg.VerificationHost.
func NewVerifier(store Store, resolver Resolver, cfg config.DomainsConfig, logger *slog.Logger) *Verifier {
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Verifier{
		store:         store,
		resolver:      resolver,
		host:          cfg.VerificationHost,
		lookupTimeout: timeout,
		logger:        logging.OrDiscard(logger),
		now:           time.Now,
	}
}

// WithObserver attaches an Observer and returns v.
func (v *Verifier) WithObserver(o Observer) *Verifier {
	v.observer = o
	return v
}

// VerifyDomain checks the domain's DNS record and persists verified or
// failed. DNS problems never surface as errors; only loading or saving the
// record can fail. Verified domains are returned as is.
func (v *Verifier) VerifyDomain(ctx context.Context, id string) (*VerificationResult, error) {
	d, err := v.store.GetOrganizationDomain(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load domain %s: %w", id, err)
	}

	if d.VerificationStatus == models.VerificationVerified {
		res := v.result(d, "domain already verified")
		if d.LastCheckedAt != nil {
			res.CheckedAt = *d.LastCheckedAt
		}
		return res, nil
	}

	ok, reason := v.check(ctx, d)

	now := v.now().UTC()
	d.LastCheckedAt = &now
	if ok {
		d.VerificationStatus = models.VerificationVerified
		d.VerifiedAt = &now
	} else {
		d.VerificationStatus = models.VerificationFailed
	}
	if err := v.store.UpdateOrganizationDomain(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to save verification result for %s: %w", d.Domain, err)
	}

	if v.observer != nil {
		v.observer.ObserveDomainVerification(d.VerificationMethod, ok)
	}
	v.logger.InfoContext(ctx, "domain verification checked",
		"domain", d.Domain, "method", d.VerificationMethod, "verified", ok, "reason", reason)

	res := v.result(d, reason)
	res.CheckedAt = now
	return res, nil
}

// RetryVerification puts the domain back to pending and checks it again.
func (v *Verifier) RetryVerification(ctx context.Context, id string) (*VerificationResult, error) {
	d, err := v.store.GetOrganizationDomain(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load domain %s: %w", id, err)
	}

	d.VerificationStatus = models.VerificationPending
	d.VerifiedAt = nil
	if err := v.store.UpdateOrganizationDomain(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to reset domain %s: %w", d.Domain, err)
	}
	return v.VerifyDomain(ctx, id)
}

// Instructions returns the DNS record the owner of the domain must publish.
func (v *Verifier) Instructions(ctx context.Context, id string) (*VerificationInstructions, error) {
	d, err := v.store.GetOrganizationDomain(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load domain %s: %w", id, err)
	}
	in := Instructions(*d, v.host)
	return &in, nil
}

func (v *Verifier) result(d *models.OrganizationDomain, reason string) *VerificationResult {
	return &VerificationResult{
		DomainID: d.ID,
		Domain:   d.Domain,
		Method:   d.VerificationMethod,
		Status:   d.VerificationStatus,
		Verified: d.VerificationStatus == models.VerificationVerified,
		Reason:   reason,
	}
}

// check never returns an error: lookup failures count as not verified.
func (v *Verifier) check(ctx context.Context, d *models.OrganizationDomain) (bool, string) {
	name := RecordName(d.Domain)

	lookupCtx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()

	switch d.VerificationMethod {
	case models.VerificationTXT:
		records, err := v.resolver.LookupTXT(lookupCtx, name)
		if err != nil {
			v.logger.WarnContext(ctx, "TXT lookup failed", "record", name, "error", err)
			return false, fmt.Sprintf("TXT lookup for %s failed: %v", name, err)
		}
		if slices.Contains(records, d.VerificationToken) {
			return true, ""
		}
		return false, fmt.Sprintf("no TXT record at %s matches the verification token", name)

	case models.VerificationCNAME:
		target, err := v.resolver.LookupCNAME(lookupCtx, name)
		if err != nil {
			v.logger.WarnContext(ctx, "CNAME lookup failed", "record", name, "error", err)
			return false, fmt.Sprintf("CNAME lookup for %s failed: %v", name, err)
		}
		expected := CNAMETarget(d.VerificationToken, v.host)
		if normalizeHost(target) == normalizeHost(expected) {
			return true, ""
		}
		return false, fmt.Sprintf("CNAME at %s points to %s, expected %s", name, strings.TrimSuffix(target, "."), expected)

	default:
		return false, fmt.Sprintf("unsupported verification method %q", d.VerificationMethod)
	}
}

// RecordName is the DNS name holding the verification record of domain.
func RecordName(domain string) string {
	return RecordPrefix + "." + domain
}

// CNAMETarget is the value a CNAME verification record must point at.
func CNAMETarget(token, verificationHost string) string {
	return "verify-" + token + "." + verificationHost
}

// GenerateVerificationToken returns a fresh random token.
func GenerateVerificationToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
