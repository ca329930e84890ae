package awsmcp

import (
	"context"
	"time"
)

// Severity indicates the severity level of a validation check.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// CheckStatus indicates the result of a validation check.
type CheckStatus string

const (
	CheckStatusPassed  CheckStatus = "passed"
	CheckStatusFailed  CheckStatus = "failed"
	CheckStatusSkipped CheckStatus = "skipped"
)

// ValidationCheck represents a single validation check result.
type ValidationCheck struct {
	// ID is a unique identifier for this check type.
	ID string `json:"id"`

	// Name is a human-readable name for the check.
	Name string `json:"name"`

	// Description explains what this check validates.
	Description string `json:"description"`

	// Status is the check result.
	Status CheckStatus `json:"status"`

	// Severity indicates how serious a failure would be.
	Severity Severity `json:"severity"`

	// Evidence contains data supporting the check result.
	Evidence map[string]any `json:"evidence,omitempty"`

	// Remediation contains steps to fix a failed check.
	Remediation string `json:"remediation,omitempty"`

	// Duration is how long the check took to run.
	Duration time.Duration `json:"duration"`
}

// ValidationReport contains the results of validating one account.
type ValidationReport struct {
	// Account is the validated account.
	Account string `json:"account"`

	// Checks contains all validation check results.
	Checks []ValidationCheck `json:"checks"`

	// Summary provides aggregate status.
	Summary ValidationSummary `json:"summary"`

	// ValidatedAt is when validation was performed.
	ValidatedAt time.Time `json:"validated_at"`
}

// ValidationSummary provides aggregate validation statistics.
type ValidationSummary struct {
	TotalChecks   int  `json:"total_checks"`
	PassedChecks  int  `json:"passed_checks"`
	FailedChecks  int  `json:"failed_checks"`
	SkippedChecks int  `json:"skipped_checks"`
	IsValid       bool `json:"is_valid"`
}

// IsValid returns true unless a check of error severity or worse failed.
func (r *ValidationReport) IsValid() bool {
	for _, check := range r.Checks {
		if check.Status == CheckStatusFailed && check.Severity.rank() >= SeverityError.rank() {
			return false
		}
	}
	return true
}

// FailedChecks returns only the checks that failed.
func (r *ValidationReport) FailedChecks() []ValidationCheck {
	var failed []ValidationCheck
	for _, check := range r.Checks {
		if check.Status == CheckStatusFailed {
			failed = append(failed, check)
		}
	}
	return failed
}

// Validator performs one pre-flight check against an account.
type Validator interface {
	// ID returns the unique identifier for this validator.
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Description returns what this validator checks.
	Description() string

	// Validate performs the validation check.
	Validate(ctx context.Context, reg *ClientRegistry) ValidationCheck
}

// RunValidation runs validators against one account and builds a report.
func RunValidation(ctx context.Context, reg *ClientRegistry, validators []Validator) *ValidationReport {
	report := &ValidationReport{
		Account:     reg.Account(),
		Checks:      make([]ValidationCheck, 0, len(validators)),
		ValidatedAt: time.Now(),
	}

	for _, v := range validators {
		check := v.Validate(ctx, reg)
		report.Checks = append(report.Checks, check)

		switch check.Status {
		case CheckStatusPassed:
			report.Summary.PassedChecks++
		case CheckStatusFailed:
			report.Summary.FailedChecks++
		case CheckStatusSkipped:
			report.Summary.SkippedChecks++
		}
		report.Summary.TotalChecks++
	}

	report.Summary.IsValid = report.IsValid()
	return report
}

// StandardValidators returns the offline checks every account runs.
func StandardValidators() []Validator {
	return []Validator{
		identityValidator{},
		regionPolicyValidator{},
		costPolicyValidator{},
	}
}

// NewCheck starts a check for v with the given severity.
func NewCheck(v Validator, severity Severity) ValidationCheck {
	return ValidationCheck{
		ID:          v.ID(),
		Name:        v.Name(),
		Description: v.Description(),
		Severity:    severity,
		Evidence:    make(map[string]any),
	}
}

type identityValidator struct{}

func (identityValidator) ID() string   { return "identity_configured" }
func (identityValidator) Name() string { return "Identity Configured" }
func (identityValidator) Description() string {
	return "Checks that the account has static keys, a role ARN or a profile"
}

func (v identityValidator) Validate(ctx context.Context, reg *ClientRegistry) ValidationCheck {
	start := time.Now()
	check := NewCheck(v, SeverityCritical)

	id := reg.Binding().Identity
	check.Evidence["source"] = string(id.Source())
	check.Evidence["region"] = id.Region
	if err := id.Validate(); err != nil {
		check.Status = CheckStatusFailed
		check.Evidence["error"] = err.Error()
		check.Remediation = "Set ACCESS_KEY_ID and SECRET_ACCESS_KEY, ROLE_ARN, or PROFILE for the account"
	} else {
		check.Status = CheckStatusPassed
	}
	check.Duration = time.Since(start)
	return check
}

type regionPolicyValidator struct{}

func (regionPolicyValidator) ID() string   { return "regions_known" }
func (regionPolicyValidator) Name() string { return "Regions Known" }
func (regionPolicyValidator) Description() string {
	return "Checks that every enabled region is a known AWS region and the default region is enabled"
}

func (v regionPolicyValidator) Validate(ctx context.Context, reg *ClientRegistry) ValidationCheck {
	start := time.Now()
	check := NewCheck(v, SeverityError)

	p := reg.Binding().Regions
	check.Evidence["enabled_regions"] = p.Enabled
	check.Evidence["default_region"] = p.Default
	check.Evidence["failover"] = p.Failover
	if err := p.Validate(); err != nil {
		check.Status = CheckStatusFailed
		check.Evidence["error"] = err.Error()
		check.Remediation = "Fix ENABLED_REGIONS and DEFAULT_REGION for the account"
	} else {
		check.Status = CheckStatusPassed
	}
	check.Duration = time.Since(start)
	return check
}

type costPolicyValidator struct{}

func (costPolicyValidator) ID() string   { return "cost_policy" }
func (costPolicyValidator) Name() string { return "Cost Policy" }
func (costPolicyValidator) Description() string {
	return "Checks that cost thresholds are non-negative"
}

func (v costPolicyValidator) Validate(ctx context.Context, reg *ClientRegistry) ValidationCheck {
	start := time.Now()
	check := NewCheck(v, SeverityError)

	p := reg.Binding().Cost
	check.Evidence["track_costs"] = p.TrackCosts
	check.Evidence["alert_threshold"] = p.AlertThreshold
	check.Evidence["require_approval"] = p.RequireApproval
	if p.DailyBudget != nil {
		check.Evidence["daily_budget"] = *p.DailyBudget
	}

	switch err := p.Validate(); {
	case err != nil:
		check.Status = CheckStatusFailed
		check.Evidence["error"] = err.Error()
		check.Remediation = "Use non-negative COST_ALERT_THRESHOLD and DAILY_BUDGET_LIMIT"
	case !p.TrackCosts:
		check.Status = CheckStatusSkipped
	default:
		check.Status = CheckStatusPassed
	}
	check.Duration = time.Since(start)
	return check
}
