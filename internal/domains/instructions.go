package domains

import (
	"fmt"

	"evalgo.org/deployer/models"
)

// VerificationInstructions tell a domain owner which record to publish.
type VerificationInstructions struct {
	Domain      string                    `json:"domain"`
	Method      models.VerificationMethod `json:"method"`
	RecordType  string                    `json:"recordType"`
	RecordName  string                    `json:"recordName"`
	RecordValue string                    `json:"recordValue"`
	Description string                    `json:"description"`
}

// Instructions builds the DNS instructions for d.
func Instructions(d models.OrganizationDomain, verificationHost string) VerificationInstructions {
	in := VerificationInstructions{
		Domain:     d.Domain,
		Method:     d.VerificationMethod,
		RecordName: RecordName(d.Domain),
	}
	switch d.VerificationMethod {
	case models.VerificationCNAME:
		in.RecordType = "CNAME"
		in.RecordValue = CNAMETarget(d.VerificationToken, verificationHost)
	default:
		in.Method = models.VerificationTXT
		in.RecordType = "TXT"
		in.RecordValue = d.VerificationToken
	}
	in.Description = fmt.Sprintf("Add a %s record named %s with the value %s, then run the verification again. DNS changes can take a while to propagate.",
		in.RecordType, in.RecordName, in.RecordValue)
	return in
}
