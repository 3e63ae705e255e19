package model

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Provider is the read model for an individual professional or a firm the
// assignment resolver and eligibility checks consume. Profile management
// itself lives outside this core.
type Provider struct {
	Base
	Type            ProviderType   `db:"provider_type" json:"provider_type"`
	Name            string         `db:"name" json:"name"`
	Verified        bool           `db:"verified" json:"verified"`
	Active          bool           `db:"active" json:"active"`
	Rating          float64        `db:"rating" json:"rating"`
	Specializations pq.StringArray `db:"specializations" json:"specializations"`
}

type FirmMemberRole string

const (
	FirmRoleMember  FirmMemberRole = "member"
	FirmRoleSenior  FirmMemberRole = "senior"
	FirmRolePartner FirmMemberRole = "partner"
)

// FirmMember is a professional working under a firm. ActiveRequests is a
// denormalized workload counter maintained by the request lifecycle.
type FirmMember struct {
	Base
	FirmID          uuid.UUID      `db:"firm_id" json:"firm_id"`
	MemberID        uuid.UUID      `db:"member_id" json:"member_id"`
	Role            FirmMemberRole `db:"role" json:"role"`
	Active          bool           `db:"active" json:"active"`
	Rating          float64        `db:"rating" json:"rating"`
	ActiveRequests  int            `db:"active_requests" json:"active_requests"`
	Specializations pq.StringArray `db:"specializations" json:"specializations"`
}
