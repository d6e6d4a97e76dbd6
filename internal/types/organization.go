package types

import "time"

// Plan is an organization's subscription tier
type Plan string

const (
	PlanFree         Plan = "free"
	PlanFoundation   Plan = "foundation"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// Organization owns vendors, document policy and alerts. The API key is the
// credential for the external compliance-check endpoint.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	APIKey    string    `json:"-"`
	Plan      Plan      `json:"plan"`
	CreatedAt time.Time `json:"createdAt"`
}

// Limits holds per-plan quotas. A nil field means unlimited.
type Limits struct {
	Vendors   *int
	Documents *int
	APICalls  *int // per calendar month
}

func limit(n int) *int { return &n }

var planLimits = map[Plan]Limits{
	PlanFree:         {Vendors: limit(3), Documents: limit(25), APICalls: limit(0)},
	PlanFoundation:   {Vendors: limit(20), Documents: limit(200), APICalls: limit(100)},
	PlanProfessional: {APICalls: limit(1000)},
	PlanEnterprise:   {},
}

// PlanLimits returns the quotas for plan, falling back to the free tier
func PlanLimits(plan Plan) Limits {
	if l, ok := planLimits[plan]; ok {
		return l
	}
	return planLimits[PlanFree]
}

// CanMakeAPICall reports whether another API call fits the monthly quota
func CanMakeAPICall(plan Plan, used int) bool {
	l := PlanLimits(plan)
	return l.APICalls == nil || used < *l.APICalls
}

// CanCreateVendor reports whether another vendor fits the plan
func CanCreateVendor(plan Plan, current int) bool {
	l := PlanLimits(plan)
	return l.Vendors == nil || current < *l.Vendors
}
