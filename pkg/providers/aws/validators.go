package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

// LiveValidators returns the checks that call AWS with the account's
// credentials.
func LiveValidators() []awsmcp.Validator {
	return []awsmcp.Validator{
		callerIdentityValidator{},
		roleExistsValidator{},
	}
}

func homeRegion(b awsmcp.AccountBinding) string {
	if b.Regions.Default != "" {
		return b.Regions.Default
	}
	return b.Identity.Region
}

type callerIdentityValidator struct{}

func (callerIdentityValidator) ID() string   { return "aws_caller_identity" }
func (callerIdentityValidator) Name() string { return "AWS Caller Identity" }
func (callerIdentityValidator) Description() string {
	return "Checks that the account's credentials authenticate against STS"
}

func (v callerIdentityValidator) Validate(ctx context.Context, reg *awsmcp.ClientRegistry) (check awsmcp.ValidationCheck) {
	start := time.Now()
	check = awsmcp.NewCheck(v, awsmcp.SeverityCritical)
	defer func() { check.Duration = time.Since(start) }()

	client, err := stsClient(ctx, reg, homeRegion(reg.Binding()))
	if err == nil {
		var out *sts.GetCallerIdentityOutput
		out, err = client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err == nil {
			check.Status = awsmcp.CheckStatusPassed
			check.Evidence["account_id"] = awssdk.ToString(out.Account)
			check.Evidence["arn"] = awssdk.ToString(out.Arn)
			return check
		}
		err = awsmcp.TranslateError("sts", "GetCallerIdentity", err)
	}

	check.Status = awsmcp.CheckStatusFailed
	check.Evidence["error"] = err.Error()
	check.Remediation = "Verify the account's keys, profile or role trust policy"
	return check
}

type roleExistsValidator struct{}

func (roleExistsValidator) ID() string   { return "aws_role_exists" }
func (roleExistsValidator) Name() string { return "AWS Role Exists" }
func (roleExistsValidator) Description() string {
	return "Checks that the configured IAM role exists"
}

func (v roleExistsValidator) Validate(ctx context.Context, reg *awsmcp.ClientRegistry) (check awsmcp.ValidationCheck) {
	start := time.Now()
	check = awsmcp.NewCheck(v, awsmcp.SeverityWarning)
	defer func() { check.Duration = time.Since(start) }()

	roleARN := reg.Binding().Identity.RoleARN
	if roleARN == "" {
		check.Status = awsmcp.CheckStatusSkipped
		return check
	}
	roleName := roleNameFromARN(roleARN)
	check.Evidence["role_name"] = roleName

	client, err := reg.Client(ctx, "iam", homeRegion(reg.Binding()))
	if err == nil {
		api, ok := client.(IAMClient)
		if !ok {
			err = fmt.Errorf("unexpected iam client %T", client)
		} else {
			var out *iam.GetRoleOutput
			out, err = api.GetRole(ctx, &iam.GetRoleInput{RoleName: awssdk.String(roleName)})
			if err == nil {
				check.Status = awsmcp.CheckStatusPassed
				if out.Role != nil {
					check.Evidence["role_arn"] = awssdk.ToString(out.Role.Arn)
				}
				return check
			}
			err = awsmcp.TranslateError("iam", "GetRole", err)
		}
	}

	check.Status = awsmcp.CheckStatusFailed
	check.Evidence["error"] = err.Error()
	check.Remediation = "Create the IAM role or grant iam:GetRole to the account"
	return check
}

func stsClient(ctx context.Context, reg *awsmcp.ClientRegistry, region string) (STSClient, error) {
	client, err := reg.Client(ctx, "sts", region)
	if err != nil {
		return nil, err
	}
	api, ok := client.(STSClient)
	if !ok {
		return nil, fmt.Errorf("unexpected sts client %T", client)
	}
	return api, nil
}

// roleNameFromARN extracts the role name, dropping any path.
func roleNameFromARN(arn string) string {
	parts := strings.Split(arn, "/")
	return parts[len(parts)-1]
}
