package models

import (
	"fmt"
	"strings"
	"time"
)

// VerificationStatus of an organization domain.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// VerificationMethod is the DNS record type used to prove ownership.
type VerificationMethod string

const (
	VerificationTXT   VerificationMethod = "txt_record"
	VerificationCNAME VerificationMethod = "cname_record"
)

// OrganizationDomain is a custom domain owned by an organization.
// Status moves pending -> verified|failed only through a DNS check;
// a retry puts it back to pending.
type OrganizationDomain struct {
	ID                 string             `json:"id"`
	OrganizationID     string             `json:"organizationId"`
	Domain             string             `json:"domain"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	VerificationMethod VerificationMethod `json:"verificationMethod"`
	VerificationToken  string             `json:"verificationToken"`
	VerifiedAt         *time.Time         `json:"verifiedAt,omitempty"`
	LastCheckedAt      *time.Time         `json:"lastCheckedAt,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
}

// ProjectDomain attaches an organization domain to a project.
type ProjectDomain struct {
	ID                   string    `json:"id"`
	ProjectID            string    `json:"projectId"`
	OrganizationDomainID string    `json:"organizationDomainId"`
	Domain               string    `json:"domain"`
	CreatedAt            time.Time `json:"createdAt"`
}

// ServiceDomainMapping maps (subdomain, basePath) under a project domain to a service.
// Within one ProjectDomainID the (Subdomain, BasePath) pair is unique.
type ServiceDomainMapping struct {
	ID              string    `json:"id"`
	ServiceID       string    `json:"serviceId"`
	ProjectDomainID string    `json:"projectDomainId"`
	Subdomain       string    `json:"subdomain"`
	BasePath        string    `json:"basePath,omitempty"`
	IsPrimary       bool      `json:"isPrimary"`
	SSLEnabled      bool      `json:"sslEnabled"`
	SSLProvider     string    `json:"sslProvider,omitempty"`
	Domain          string    `json:"domain"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Host returns the fully qualified host name of the mapping.
func (m ServiceDomainMapping) Host() string {
	sub := strings.TrimSpace(m.Subdomain)
	if sub == "" || sub == "@" {
		return m.Domain
	}
	return sub + "." + m.Domain
}

// FullURL returns the public URL of the mapping.
func (m ServiceDomainMapping) FullURL() string {
	scheme := "http"
	if m.SSLEnabled {
		scheme = "https"
	}
	path := m.BasePath
	if path == "/" {
		path = ""
	}
	return fmt.Sprintf("%s://%s%s", scheme, m.Host(), path)
}
