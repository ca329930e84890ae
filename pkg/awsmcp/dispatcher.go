package awsmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ErrorTypeConfiguration is reported for unknown or invalid accounts.
	ErrorTypeConfiguration = "ConfigurationError"
	// ErrorTypeInternal is reported for unanticipated failures.
	ErrorTypeInternal = "InternalError"

	maxAuditArguments = 4096
)

// ErrorBody is the structured failure returned to callers.
type ErrorBody struct {
	Error     string         `json:"error"`
	ErrorCode string         `json:"error_code,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Result is the outcome of one invocation.
type Result struct {
	InvocationID string
	Tool         string
	Account      string

	// Payload is the success result. Nil on failure.
	Payload any

	// Failure is set on failure.
	Failure *ErrorBody

	// Err is the error behind Failure.
	Err error
}

// IsError reports whether the invocation failed.
func (r *Result) IsError() bool {
	return r.Failure != nil
}

// JSON renders the payload or the failure.
func (r *Result) JSON() ([]byte, error) {
	if r.Failure != nil {
		return json.MarshalIndent(r.Failure, "", "  ")
	}
	return json.MarshalIndent(r.Payload, "", "  ")
}

// AccessPolicy restricts which tools may run at all.
type AccessPolicy struct {
	// AllowedServices, when non-empty, lists the only services tools may call.
	AllowedServices []string

	// BlockedActions lists tool names that never run.
	BlockedActions []string
}

// Check fails with Authorization when spec is not permitted.
func (p AccessPolicy) Check(spec ToolSpec) error {
	if slices.Contains(p.BlockedActions, spec.Name) {
		return ErrAuthorization(fmt.Sprintf("Action %s is blocked by configuration", spec.Name)).
			WithDetail("tool", spec.Name)
	}
	if len(p.AllowedServices) > 0 && !slices.Contains(p.AllowedServices, spec.Service) {
		return ErrAuthorization(fmt.Sprintf("Service %s is not allowed by configuration", spec.Service)).
			WithDetail("service", spec.Service)
	}
	return nil
}

// internalError wraps an unanticipated failure caught at the dispatch boundary.
type internalError struct {
	value any
}

func (e *internalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.value)
}

// Dispatcher runs tool invocations against the configured accounts.
type Dispatcher struct {
	accounts *AccountSet
	tools    *ToolRegistry
	audit    *AuditLog
	guard    *CostGuard
	ledger   CostLedger
	holds    *budgetHolds
	access   AccessPolicy
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithAuditLog sets the audit log. Without it nothing is audited.
func WithAuditLog(l *AuditLog) DispatcherOption {
	return func(d *Dispatcher) {
		d.audit = l
	}
}

// WithCostGuard replaces the default CostGuard.
func WithCostGuard(g *CostGuard) DispatcherOption {
	return func(d *Dispatcher) {
		d.guard = g
	}
}

// WithLedger sets where executed cost estimates accumulate.
func WithLedger(l CostLedger) DispatcherOption {
	return func(d *Dispatcher) {
		d.ledger = l
	}
}

// WithAccessPolicy sets the allowed-services and blocked-actions policy.
func WithAccessPolicy(p AccessPolicy) DispatcherOption {
	return func(d *Dispatcher) {
		d.access = p
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithTracer sets the tracer used for invocation spans.
func WithTracer(t trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// WithClock sets the time source used for cost accounting.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a Dispatcher over accounts and tools.
func NewDispatcher(accounts *AccountSet, tools *ToolRegistry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		accounts: accounts,
		tools:    tools,
		guard:    NewCostGuard(),
		ledger:   NewMemoryLedger(),
		holds:    newBudgetHolds(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Tools returns the specs of the registered tools.
func (d *Dispatcher) Tools() []ToolSpec {
	return d.tools.Specs()
}

// Accounts returns the configured account names and the default account.
func (d *Dispatcher) Accounts() (names []string, defaultAccount string) {
	return d.accounts.Names(), d.accounts.Default()
}

// Dispatch runs one invocation to completion. It never panics and always
// writes one tool_call entry followed by exactly one tool_success or
// tool_error entry. Dispatch blocks; concurrent invocations run on the
// caller's goroutines.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, args json.RawMessage, accountHint string) *Result {
	res := &Result{
		InvocationID: d.newID(),
		Tool:         toolName,
		Account:      accountHint,
	}
	if res.Account == "" {
		res.Account = d.accounts.Default()
	}

	ctx, span := d.tracer.Start(ctx, "tool "+toolName, trace.WithAttributes(
		attribute.String("mcp.tool", toolName),
		attribute.String("aws.account", res.Account),
		attribute.String("invocation.id", res.InvocationID),
	))
	defer span.End()

	d.audit.Record(EventToolCall, map[string]any{
		"invocation_id": res.InvocationID,
		"tool":          toolName,
		"account":       res.Account,
		"arguments":     auditArguments(args),
	})

	start := d.now()
	payload, err := d.run(ctx, res, args, accountHint)
	elapsed := d.now().Sub(start)

	if err == nil {
		res.Payload = payload
		span.SetAttributes(attribute.String("outcome", "success"))
		span.SetStatus(codes.Ok, "")
		d.audit.Record(EventToolSuccess, map[string]any{
			"invocation_id": res.InvocationID,
			"tool":          toolName,
			"account":       res.Account,
			"duration_ms":   elapsed.Milliseconds(),
		})
		return res
	}

	res.Err = err
	res.Failure = d.failure(err)

	data := map[string]any{
		"invocation_id": res.InvocationID,
		"tool":          toolName,
		"account":       res.Account,
		"duration_ms":   elapsed.Milliseconds(),
		"error":         res.Failure.Error,
	}
	outcome := res.Failure.ErrorCode
	if outcome != "" {
		data["error_code"] = outcome
	} else {
		outcome = res.Failure.ErrorType
		data["error_type"] = outcome
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	span.SetStatus(codes.Error, res.Failure.Error)
	d.audit.Record(EventToolError, data)
	return res
}

// run walks the invocation through lookup, account resolution, region and
// cost checks, and execution. Panics become internal errors.
func (d *Dispatcher) run(ctx context.Context, res *Result, args json.RawMessage, accountHint string) (payload any, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("tool invocation panicked",
				"tool", res.Tool,
				"account", res.Account,
				"invocation_id", res.InvocationID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			payload, err = nil, &internalError{value: p}
		}
	}()

	tool, ok := d.tools.Get(res.Tool)
	if !ok {
		return nil, ErrInvalidParameter("tool", fmt.Sprintf("Unknown tool: %s", res.Tool))
	}
	spec := tool.Spec()

	if err := d.access.Check(spec); err != nil {
		return nil, err
	}

	reg, err := d.accounts.Registry(accountHint)
	if err != nil {
		return nil, err
	}
	res.Account = reg.Account()
	binding := reg.Binding()

	req, err := tool.Prepare(args)
	if err != nil {
		if _, ok := AsError(err); ok {
			return nil, err
		}
		return nil, ErrValidation(err.Error()).WithCause(err)
	}

	region := req.Region
	if region == "" {
		region = binding.Regions.Default
	}
	if region == "" {
		region = binding.Identity.Region
	}
	if err := binding.Regions.Check(region); err != nil {
		return nil, err
	}

	var est *Estimate
	if spec.Mutating && req.CostClass != "" {
		e, release, err := d.checkCost(ctx, spec, req, binding)
		if err != nil {
			return nil, err
		}
		// Runs after the ledger write below, or on failure.
		defer release()
		est = &e
		ctx = ContextWithEstimate(ctx, e)
	}

	payload, err = req.Exec(ctx, reg, region)
	if err != nil {
		err = TranslateError(spec.Service, spec.Name, err)
		if IsTag(err, TagAuthentication) {
			// Credentials may have expired; resolve afresh next time.
			reg.Invalidate()
		}
		return nil, err
	}

	if est != nil && binding.Cost.TrackCosts {
		d.recordCost(ctx, res, *est)
	}
	return payload, nil
}

// checkCost applies the cost policy. On success the estimate is held
// against the daily budget until release is called.
func (d *Dispatcher) checkCost(ctx context.Context, spec ToolSpec, req *Request, binding AccountBinding) (est Estimate, release func(), err error) {
	release = func() {}
	est, err = d.guard.Check(spec.Name, req.CostClass, binding.Cost)
	if err != nil {
		return est, release, err
	}
	if !binding.Cost.TrackCosts {
		return est, release, nil
	}

	var missing []string
	for _, tag := range binding.Cost.AllocationTags {
		if _, ok := req.Tags[tag]; !ok {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		return est, release, ErrInvalidParameter("tags",
			fmt.Sprintf("Missing cost allocation tags: %s", strings.Join(missing, ", "))).
			WithDetail("missing_tags", missing)
	}

	if binding.Cost.DailyBudget != nil {
		held, err := d.holds.reserve(ctx, d.guard, d.ledger, binding.Name, d.now(), est, binding.Cost)
		if err != nil {
			return est, release, err
		}
		release = held
	}
	return est, release, nil
}

func (d *Dispatcher) recordCost(ctx context.Context, res *Result, est Estimate) {
	err := d.ledger.Record(ctx, CostRecord{
		ID:            uuid.NewString(),
		InvocationID:  res.InvocationID,
		Account:       res.Account,
		Tool:          res.Tool,
		ResourceClass: est.ResourceClass,
		Estimate:      est.Monthly,
		RecordedAt:    d.now(),
	})
	if err != nil {
		d.logger.Error("cost ledger write failed", "invocation_id", res.InvocationID, "error", err)
	}
}

// failure shapes err for the caller. Raw provider errors never reach it.
func (d *Dispatcher) failure(err error) *ErrorBody {
	if e, ok := AsError(err); ok {
		body := &ErrorBody{
			Error:     e.Message,
			ErrorCode: e.Tag.Code(),
			RequestID: e.RequestID,
			Details:   maps.Clone(e.Details),
		}
		if body.Details == nil {
			body.Details = make(map[string]any)
		}
		if e.Tag == TagServiceError && e.Service != "" {
			body.Details["service"] = e.Service
			body.Details["operation"] = e.Operation
		}
		if e.Retryable {
			body.Details["retryable"] = true
		}
		if len(body.Details) == 0 {
			body.Details = nil
		}
		return body
	}

	var ce *ConfigError
	if errors.As(err, &ce) {
		msg := ce.Message
		if ce.Cause != nil {
			msg = fmt.Sprintf("%s: %v", msg, ce.Cause)
		}
		body := &ErrorBody{Error: msg, ErrorType: ErrorTypeConfiguration}
		if ce.Account != "" {
			body.Details = map[string]any{"account": ce.Account}
		}
		return body
	}

	if _, ok := err.(*internalError); !ok {
		d.logger.Error("untranslated dispatch error", "error", err)
	}
	return &ErrorBody{
		Error:     "Internal error while executing tool",
		ErrorType: ErrorTypeInternal,
	}
}

// auditArguments copies args for the audit trail, eliding large bodies.
func auditArguments(args json.RawMessage) any {
	if len(args) == 0 {
		return map[string]any{}
	}
	if len(args) > maxAuditArguments || !json.Valid(args) {
		return map[string]any{"elided": true, "size": len(args)}
	}
	return json.RawMessage(slices.Clone(args))
}
