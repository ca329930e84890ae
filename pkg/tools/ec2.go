package tools

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

// EC2API is the subset of the EC2 client used by the ec2 tools.
type EC2API interface {
	ec2.DescribeInstancesAPIClient
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
}

// Filter is an EC2 describe filter.
type Filter struct {
	Name   string   `json:"Name" jsonschema:"filter name, e.g. instance-state-name"`
	Values []string `json:"Values" jsonschema:"accepted values"`
}

// InstanceSummary is one instance as reported by the ec2 tools.
type InstanceSummary struct {
	InstanceID       string            `json:"InstanceId"`
	InstanceType     string            `json:"InstanceType"`
	State            string            `json:"State"`
	PublicIPAddress  *string           `json:"PublicIpAddress"`
	PrivateIPAddress *string           `json:"PrivateIpAddress"`
	LaunchTime       *string           `json:"LaunchTime"`
	Tags             map[string]string `json:"Tags"`
}

// EC2ListInstancesInput is the input of aws_ec2_list_instances.
type EC2ListInstancesInput struct {
	Filters []Filter `json:"filters,omitempty" jsonschema:"instance filters"`
	Region  string   `json:"region,omitempty" jsonschema:"AWS region"`
}

// EC2ListInstances lists instances across all pages.
func EC2ListInstances() awsmcp.Tool {
	return newTool("aws_ec2_list_instances", "List EC2 instances", "ec2", false,
		func(in EC2ListInstancesInput) (*awsmcp.Request, error) {
			input := &ec2.DescribeInstancesInput{}
			for _, f := range in.Filters {
				input.Filters = append(input.Filters, ec2types.Filter{Name: aws.String(f.Name), Values: f.Values})
			}

			return &awsmcp.Request{
				Region: in.Region,
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[EC2API](ctx, clients, "ec2", region)
					if err != nil {
						return nil, err
					}

					instances := []InstanceSummary{}
					p := ec2.NewDescribeInstancesPaginator(api, input)
					for p.HasMorePages() {
						page, err := p.NextPage(ctx)
						if err != nil {
							return nil, awsmcp.TranslateError("ec2", "DescribeInstances", err)
						}
						for _, r := range page.Reservations {
							for _, i := range r.Instances {
								instances = append(instances, summarizeInstance(i))
							}
						}
					}
					return map[string]any{"instances": instances}, nil
				},
			}, nil
		})
}

func summarizeInstance(i ec2types.Instance) InstanceSummary {
	s := InstanceSummary{
		InstanceID:       aws.ToString(i.InstanceId),
		InstanceType:     string(i.InstanceType),
		PublicIPAddress:  i.PublicIpAddress,
		PrivateIPAddress: i.PrivateIpAddress,
		LaunchTime:       formatTime(i.LaunchTime),
		Tags:             make(map[string]string, len(i.Tags)),
	}
	if i.State != nil {
		s.State = string(i.State.Name)
	}
	for _, tag := range i.Tags {
		s.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return s
}

// EC2CreateInstanceInput is the input of aws_ec2_create_instance.
type EC2CreateInstanceInput struct {
	AMIID            string            `json:"ami_id" jsonschema:"AMI ID"`
	InstanceType     string            `json:"instance_type" jsonschema:"instance type, e.g. t3.micro"`
	KeyName          string            `json:"key_name,omitempty" jsonschema:"key pair name"`
	SecurityGroupIDs []string          `json:"security_group_ids,omitempty" jsonschema:"security group IDs"`
	SubnetID         string            `json:"subnet_id,omitempty" jsonschema:"subnet ID"`
	Tags             map[string]string `json:"tags,omitempty" jsonschema:"instance tags"`
	Region           string            `json:"region,omitempty" jsonschema:"AWS region"`
}

// EC2CreateInstance launches one instance. It is cost checked by instance
// type.
func EC2CreateInstance() awsmcp.Tool {
	return newTool("aws_ec2_create_instance", "Create a new EC2 instance", "ec2", true,
		func(in EC2CreateInstanceInput) (*awsmcp.Request, error) {
			if err := required("ami_id", in.AMIID); err != nil {
				return nil, err
			}
			if err := required("instance_type", in.InstanceType); err != nil {
				return nil, err
			}

			input := &ec2.RunInstancesInput{
				ImageId:      aws.String(in.AMIID),
				InstanceType: ec2types.InstanceType(in.InstanceType),
				MinCount:     aws.Int32(1),
				MaxCount:     aws.Int32(1),
			}
			if in.KeyName != "" {
				input.KeyName = aws.String(in.KeyName)
			}
			if len(in.SecurityGroupIDs) > 0 {
				input.SecurityGroupIds = in.SecurityGroupIDs
			}
			if in.SubnetID != "" {
				input.SubnetId = aws.String(in.SubnetID)
			}
			if len(in.Tags) > 0 {
				spec := ec2types.TagSpecification{ResourceType: ec2types.ResourceTypeInstance}
				for k, v := range in.Tags {
					spec.Tags = append(spec.Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
				}
				input.TagSpecifications = []ec2types.TagSpecification{spec}
			}

			return &awsmcp.Request{
				Region:    in.Region,
				CostClass: in.InstanceType,
				Tags:      in.Tags,
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[EC2API](ctx, clients, "ec2", region)
					if err != nil {
						return nil, err
					}
					out, err := api.RunInstances(ctx, input)
					if err != nil {
						return nil, awsmcp.TranslateError("ec2", "RunInstances", err)
					}
					if len(out.Instances) == 0 {
						return nil, awsmcp.ErrService("RunInstances returned no instances", "ec2", "RunInstances")
					}

					i := out.Instances[0]
					instance := map[string]any{
						"InstanceId":   aws.ToString(i.InstanceId),
						"InstanceType": in.InstanceType,
						"LaunchTime":   formatTime(i.LaunchTime),
					}
					if i.State != nil {
						instance["State"] = string(i.State.Name)
					}
					if est, ok := awsmcp.EstimateFromContext(ctx); ok {
						instance["EstimatedMonthlyCost"] = est.Monthly
					}
					return map[string]any{"success": true, "instance": instance}, nil
				},
			}, nil
		})
}

// EC2InstanceInput is the input of the start and stop tools.
type EC2InstanceInput struct {
	InstanceID string `json:"instance_id" jsonschema:"instance ID"`
	Region     string `json:"region,omitempty" jsonschema:"AWS region"`
}

// EC2StopInstance stops one instance.
func EC2StopInstance() awsmcp.Tool {
	return newTool("aws_ec2_stop_instance", "Stop an EC2 instance", "ec2", true,
		func(in EC2InstanceInput) (*awsmcp.Request, error) {
			if err := required("instance_id", in.InstanceID); err != nil {
				return nil, err
			}
			return &awsmcp.Request{
				Region: in.Region,
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[EC2API](ctx, clients, "ec2", region)
					if err != nil {
						return nil, err
					}
					out, err := api.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{in.InstanceID}})
					if err != nil {
						return nil, awsmcp.TranslateError("ec2", "StopInstances", err)
					}
					return stateChange(in.InstanceID, out.StoppingInstances)
				},
			}, nil
		})
}

// EC2StartInstance starts one instance.
func EC2StartInstance() awsmcp.Tool {
	return newTool("aws_ec2_start_instance", "Start an EC2 instance", "ec2", true,
		func(in EC2InstanceInput) (*awsmcp.Request, error) {
			if err := required("instance_id", in.InstanceID); err != nil {
				return nil, err
			}
			return &awsmcp.Request{
				Region: in.Region,
				Exec: func(ctx context.Context, clients awsmcp.Clients, region string) (any, error) {
					api, err := clientFor[EC2API](ctx, clients, "ec2", region)
					if err != nil {
						return nil, err
					}
					out, err := api.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{in.InstanceID}})
					if err != nil {
						return nil, awsmcp.TranslateError("ec2", "StartInstances", err)
					}
					return stateChange(in.InstanceID, out.StartingInstances)
				},
			}, nil
		})
}

func stateChange(instanceID string, changes []ec2types.InstanceStateChange) (any, error) {
	for _, c := range changes {
		if aws.ToString(c.InstanceId) != instanceID || c.CurrentState == nil {
			continue
		}
		return map[string]any{"success": true, "state": string(c.CurrentState.Name)}, nil
	}
	return nil, awsmcp.ErrResourceNotFound("instance", instanceID)
}
