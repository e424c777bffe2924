package security

import (
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// RiskFactor scores one dimension of a request context in [0,1]
type RiskFactor interface {
	Name() string
	Weight() float64
	// Threshold is the score above which this factor's contribution is
	// amplified in the aggregate.
	Threshold() float64
	Score(ctx *sec.PermissionContext) float64
}

const amplification = 1.5

// RiskAssessor aggregates a fixed set of risk factors into a single score
type RiskAssessor struct {
	factors []RiskFactor
}

// NewRiskAssessor builds an assessor with the given factors, falling back to
// the built-in set when none are given.
func NewRiskAssessor(factors ...RiskFactor) *RiskAssessor {
	if len(factors) == 0 {
		factors = DefaultRiskFactors()
	}
	return &RiskAssessor{factors: factors}
}

// Assess computes the weighted aggregate risk of ctx. Factors scoring above
// their threshold contribute at 1.5x weight. The result is clamped to [0,1].
func (a *RiskAssessor) Assess(ctx *sec.PermissionContext) sec.RiskAssessment {
	assessment := sec.RiskAssessment{
		Factors: make([]sec.RiskFactorScore, 0, len(a.factors)),
	}

	var weighted, totalWeight float64
	for _, f := range a.factors {
		score := clamp01(f.Score(ctx))
		weight := f.Weight()
		amplified := score > f.Threshold()

		effective := weight
		if amplified {
			effective *= amplification
		}
		weighted += score * effective
		totalWeight += weight

		assessment.Factors = append(assessment.Factors, sec.RiskFactorScore{
			Name:      f.Name(),
			Score:     score,
			Weight:    weight,
			Amplified: amplified,
		})
	}

	if totalWeight > 0 {
		assessment.Score = clamp01(weighted / totalWeight)
	}
	return assessment
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DefaultRiskFactors returns the built-in factor set
func DefaultRiskFactors() []RiskFactor {
	return []RiskFactor{
		offHoursFactor{},
		untrustedDeviceFactor{},
		locationJumpFactor{},
		privilegeEscalationFactor{},
	}
}

// offHoursFactor scores requests made outside normal working hours
type offHoursFactor struct{}

func (offHoursFactor) Name() string       { return "off_hours_access" }
func (offHoursFactor) Weight() float64    { return 1.0 }
func (offHoursFactor) Threshold() float64 { return 0.7 }

func (offHoursFactor) Score(ctx *sec.PermissionContext) float64 {
	ts := ctx.Request.Timestamp
	if ts.IsZero() {
		return 0
	}
	hour := ts.Hour()
	if hour < 6 || hour >= 22 {
		return 0.8
	}
	return 0.1
}

// untrustedDeviceFactor scores requests from unrecognized devices
type untrustedDeviceFactor struct{}

func (untrustedDeviceFactor) Name() string       { return "untrusted_device" }
func (untrustedDeviceFactor) Weight() float64    { return 1.2 }
func (untrustedDeviceFactor) Threshold() float64 { return 0.7 }

func (untrustedDeviceFactor) Score(ctx *sec.PermissionContext) float64 {
	dev := ctx.Session.Device
	if dev == nil {
		return 0.5
	}
	if !dev.Trusted {
		return 0.9
	}
	return 0.1
}

// locationJumpFactor scores requests whose session country differs from the
// user's previously seen country
type locationJumpFactor struct{}

func (locationJumpFactor) Name() string       { return "location_jump" }
func (locationJumpFactor) Weight() float64    { return 1.0 }
func (locationJumpFactor) Threshold() float64 { return 0.6 }

func (locationJumpFactor) Score(ctx *sec.PermissionContext) float64 {
	prev := ctx.Request.Parameters["previous_country"]
	if prev == "" || ctx.Session.Location == nil {
		return 0
	}
	if ctx.Session.Location.Country != prev {
		return 0.7
	}
	return 0
}

// privilegeEscalationFactor scores requests that target a role above the
// actor's own level
type privilegeEscalationFactor struct {
	levels map[sec.RoleID]int
}

func (privilegeEscalationFactor) Name() string       { return "privilege_escalation" }
func (privilegeEscalationFactor) Weight() float64    { return 1.5 }
func (privilegeEscalationFactor) Threshold() float64 { return 0.5 }

func (f privilegeEscalationFactor) Score(ctx *sec.PermissionContext) float64 {
	target := sec.RoleID(ctx.Request.Parameters["target_role"])
	if target == "" {
		return 0
	}
	levels := f.levels
	if levels == nil {
		levels = defaultRoleLevels
	}
	actorLevel, ok := levels[ctx.Role]
	if !ok {
		return 0.5
	}
	targetLevel, ok := levels[target]
	if !ok {
		return 0.5
	}
	if targetLevel > actorLevel {
		return 0.95
	}
	if targetLevel == actorLevel {
		return 0.6
	}
	return 0.1
}

var defaultRoleLevels = map[sec.RoleID]int{
	sec.RoleViewer:      1,
	sec.RoleCoordinator: 2,
	sec.RoleAssistant:   3,
	sec.RoleOrganizer:   4,
	sec.RoleAdmin:       5,
	sec.RoleOrgAdmin:    6,
	sec.RoleSuperAdmin:  7,
}
