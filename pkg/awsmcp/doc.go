// Package awsmcp is the invocation core of the AWS tool server.
//
// It turns declarative per-account configuration into live, cached AWS
// sessions and client handles, gates mutating operations behind a cost
// estimate, normalizes every failure into a fixed error taxonomy, and records
// an audit trail for each tool invocation.
//
// # Components
//
// The core is assembled from a small set of collaborating types:
//
//   - CredentialResolver turns an AccountIdentity into a Session, assuming an
//     IAM role through STS when one is configured.
//   - ClientRegistry caches one client handle per (service, region) for a
//     single account and enforces the account's RegionPolicy before any
//     credential or network work.
//   - Translate maps raw provider error codes onto the Tag taxonomy.
//   - CostGuard estimates the monthly cost of mutating operations and blocks
//     them when the account's CostPolicy requires approval.
//   - Dispatcher runs one invocation end to end and writes exactly one
//     tool_call and one terminal audit entry to the AuditLog.
//
// # Basic Usage
//
//	accounts, err := awsmcp.NewAccountSet("default", bindings,
//	    awsmcp.WithConfigLoader(provider),
//	    awsmcp.WithRoleAssumer(provider),
//	    awsmcp.WithClientFactory(provider),
//	)
//	if err != nil {
//	    return err
//	}
//
//	tools := awsmcp.NewToolRegistry()
//	_ = tools.Register(myTool)
//
//	d := awsmcp.NewDispatcher(accounts, tools, awsmcp.WithAuditLog(audit))
//	res := d.Dispatch(ctx, "aws_ec2_list_instances", args, "prod")
//	body, _ := res.JSON()
//
// # Security
//
// Secret material (secret access keys, session tokens) is held in Secret
// values which redact themselves when printed, logged or marshalled. The
// clear value is only read while building the SDK credentials provider.
package awsmcp
