package assignment

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
	apperrors "github.com/caconnect/market-api/pkg/errors"
	"github.com/caconnect/market-api/pkg/logger"
)

// Scoring weights for firm member selection.
const (
	specializationWeight = 10.0
	ratingWeight         = 2.0
	loadWeight           = 1.5
)

const membershipCacheTTL = 30 * time.Second

// Service resolves which provider a request binds to and validates payment
// share distributions for firms. Firm membership reads go through a short
// TTL cache; every write still goes through the repositories.
type Service struct {
	providers repository.ProviderRepository
	cache     *gocache.Cache
	logger    *logger.Logger
}

func NewService(providers repository.ProviderRepository, logger *logger.Logger) *Service {
	return &Service{
		providers: providers,
		cache:     gocache.New(membershipCacheTTL, 2*membershipCacheTTL),
		logger:    logger.WithComponent("assignment"),
	}
}

// Resolution is the outcome of binding a request to a provider.
type Resolution struct {
	ProviderID uuid.UUID
	FirmID     *uuid.UUID
}

// ResolveProvider decides the bound provider for a request. Individual
// providers bind directly; firm requests route through membership
// validation or member scoring depending on the preference.
func (s *Service) ResolveProvider(ctx context.Context, req *model.ServiceRequest, identity model.ProviderIdentity) (*Resolution, error) {
	if req.ProviderType == model.ProviderTypeIndividual {
		return &Resolution{ProviderID: identity.ProviderID}, nil
	}

	if identity.FirmID == nil {
		return nil, apperrors.Validation("firm id is required for firm-bound requests", nil)
	}
	firmID := *identity.FirmID

	pref := identity.Preference
	if pref == "" {
		pref = model.AssignmentSpecificCA
	}

	switch pref {
	case model.AssignmentSpecificCA:
		member, err := s.firmMember(ctx, firmID, identity.ProviderID)
		if err != nil {
			return nil, err
		}
		if !member.Active {
			return nil, apperrors.NotEligible("member is not active in this firm")
		}
		return &Resolution{ProviderID: member.MemberID, FirmID: &firmID}, nil

	case model.AssignmentSeniorOnly, model.AssignmentBestAvailable:
		member, err := s.selectMember(ctx, firmID, req.ServiceType, pref)
		if err != nil {
			return nil, err
		}
		return &Resolution{ProviderID: member.MemberID, FirmID: &firmID}, nil

	default:
		return nil, apperrors.Validation(fmt.Sprintf("unknown assignment preference %q", pref), nil)
	}
}

// IsEligible is the capability check injected into the request lifecycle.
// Individual providers must be verified and active; firm actors must be
// active members of the named firm.
func (s *Service) IsEligible(ctx context.Context, identity model.ProviderIdentity, req *model.ServiceRequest) (bool, error) {
	if req.ProviderType == model.ProviderTypeIndividual {
		provider, err := s.provider(ctx, identity.ProviderID)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return provider.Verified && provider.Active, nil
	}

	if identity.FirmID == nil {
		return false, nil
	}
	member, err := s.firmMember(ctx, *identity.FirmID, identity.ProviderID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return member.Active, nil
}

// selectMember scores active firm members and picks the best eligible one.
// The ordering is deterministic: score, then lowest workload, then member
// id.
func (s *Service) selectMember(ctx context.Context, firmID uuid.UUID, serviceType string, pref model.AssignmentPreference) (*model.FirmMember, error) {
	members, err := s.activeMembers(ctx, firmID)
	if err != nil {
		return nil, err
	}

	eligible := make([]*model.FirmMember, 0, len(members))
	for _, m := range members {
		if pref == model.AssignmentSeniorOnly && m.Role == model.FirmRoleMember {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return nil, apperrors.NotEligible("no eligible firm members available")
	}

	sort.Slice(eligible, func(i, j int) bool {
		si, sj := s.score(eligible[i], serviceType), s.score(eligible[j], serviceType)
		if math.Abs(si-sj) > 1e-9 {
			return si > sj
		}
		if eligible[i].ActiveRequests != eligible[j].ActiveRequests {
			return eligible[i].ActiveRequests < eligible[j].ActiveRequests
		}
		return eligible[i].MemberID.String() < eligible[j].MemberID.String()
	})

	return eligible[0], nil
}

func (s *Service) score(m *model.FirmMember, serviceType string) float64 {
	score := m.Rating * ratingWeight
	score -= float64(m.ActiveRequests) * loadWeight
	for _, spec := range m.Specializations {
		if strings.EqualFold(spec, serviceType) {
			score += specializationWeight
			break
		}
	}
	return score
}

// BuildDistribution validates share percentages and computes per-member
// amounts. The last share absorbs the rounding remainder so amounts always
// sum to the provider's cut.
func (s *Service) BuildDistribution(ctx context.Context, input model.BuildDistributionInput, providerCents int64) (*model.PaymentDistribution, error) {
	if len(input.Shares) == 0 {
		return nil, apperrors.Validation("distribution requires at least one share", nil)
	}

	var total float64
	seen := make(map[uuid.UUID]bool, len(input.Shares))
	for _, share := range input.Shares {
		if share.Percentage <= 0 {
			return nil, apperrors.Validation("share percentage must be positive", nil)
		}
		if seen[share.MemberID] {
			return nil, apperrors.Validation("duplicate member in distribution", nil)
		}
		seen[share.MemberID] = true
		total += share.Percentage
	}
	if math.Abs(total-100.0) > model.PercentageEpsilon {
		return nil, apperrors.Validation(
			fmt.Sprintf("distribution percentages sum to %.4f, expected 100", total), nil)
	}

	for _, share := range input.Shares {
		member, err := s.firmMember(ctx, input.FirmID, share.MemberID)
		if err != nil {
			return nil, err
		}
		if !member.Active {
			return nil, apperrors.Validation("distribution includes an inactive member", nil)
		}
	}

	dist := &model.PaymentDistribution{
		PaymentID: input.PaymentID,
		FirmID:    input.FirmID,
		Shares:    make([]model.DistributionShare, 0, len(input.Shares)),
	}
	var allocated int64
	for i, share := range input.Shares {
		amount := int64(math.Floor(float64(providerCents) * share.Percentage / 100.0))
		if i == len(input.Shares)-1 {
			amount = providerCents - allocated
		}
		allocated += amount
		dist.Shares = append(dist.Shares, model.DistributionShare{
			MemberID:    share.MemberID,
			Percentage:  share.Percentage,
			AmountCents: amount,
		})
	}
	return dist, nil
}

func (s *Service) provider(ctx context.Context, id uuid.UUID) (*model.Provider, error) {
	key := "provider:" + id.String()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.Provider), nil
	}
	provider, err := s.providers.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.NotFound("provider", err)
		}
		return nil, err
	}
	s.cache.SetDefault(key, provider)
	return provider, nil
}

func (s *Service) firmMember(ctx context.Context, firmID, memberID uuid.UUID) (*model.FirmMember, error) {
	key := "member:" + firmID.String() + ":" + memberID.String()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.FirmMember), nil
	}
	member, err := s.providers.GetFirmMember(ctx, firmID, memberID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.NotFound("firm member", err)
		}
		return nil, err
	}
	s.cache.SetDefault(key, member)
	return member, nil
}

func (s *Service) activeMembers(ctx context.Context, firmID uuid.UUID) ([]*model.FirmMember, error) {
	key := "firm:" + firmID.String()
	if cached, ok := s.cache.Get(key); ok {
		return cached.([]*model.FirmMember), nil
	}
	members, err := s.providers.ListActiveFirmMembers(ctx, firmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list firm members: %w", err)
	}
	s.cache.SetDefault(key, members)
	return members, nil
}
