package provision

import (
	"context"
	"log/slog"

	"batchctl/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

// Managed policies attached to the roles a compute environment needs.
var (
	servicePolicies   = []string{"service-role/AWSBatchServiceRole"}
	instancePolicies  = []string{"service-role/AmazonEC2ContainerServiceforEC2Role", "service-role/AmazonAPIGatewayPushToCloudWatchLogs"}
	spotFleetPolicies = []string{"service-role/AmazonEC2SpotFleetTaggingRole"}
)

const spotFleetRole = "batchctl.spot_fleet"

// ComputeEnvironment summarises a compute environment.
type ComputeEnvironment struct {
	Name         string   `json:"computeEnvironmentName"`
	ARN          string   `json:"computeEnvironmentArn"`
	Type         string   `json:"type"`
	State        string   `json:"state"`
	Status       string   `json:"status"`
	StatusReason string   `json:"statusReason,omitempty"`
	ComputeType  string   `json:"computeType,omitempty"`
	MaxVCPUs     int32    `json:"maxvCpus,omitempty"`
	Instances    []string `json:"instanceTypes,omitempty"`
}

// ComputeEnvironmentOptions override the configured compute environment
// defaults for one creation. Zero values keep the defaults.
type ComputeEnvironmentOptions struct {
	ComputeType   string
	MinVCPUs      int32
	DesiredVCPUs  int32
	MaxVCPUs      int32
	InstanceTypes []string
	ImageID       string
	SSHKeyName    string
	InstanceRole  string
	ServiceRole   string
}

// ListComputeEnvironments describes every compute environment.
func (e *Ensurer) ListComputeEnvironments(ctx context.Context) ([]ComputeEnvironment, error) {
	var out []ComputeEnvironment
	p := batch.NewDescribeComputeEnvironmentsPaginator(e.clients.Batch, &batch.DescribeComputeEnvironmentsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, apperrors.FromAWS("batch.DescribeComputeEnvironments", err)
		}
		for _, ce := range page.ComputeEnvironments {
			item := ComputeEnvironment{
				Name:         aws.ToString(ce.ComputeEnvironmentName),
				ARN:          aws.ToString(ce.ComputeEnvironmentArn),
				Type:         string(ce.Type),
				State:        string(ce.State),
				Status:       string(ce.Status),
				StatusReason: aws.ToString(ce.StatusReason),
			}
			if r := ce.ComputeResources; r != nil {
				item.ComputeType = string(r.Type)
				item.MaxVCPUs = aws.ToInt32(r.MaxvCpus)
				item.Instances = r.InstanceTypes
			}
			out = append(out, item)
		}
	}
	return out, nil
}

// CreateComputeEnvironment creates a managed compute environment in the
// default VPC along with its roles, security group and key pair, then waits
// for it to become VALID.
func (e *Ensurer) CreateComputeEnvironment(ctx context.Context, name string, opts ComputeEnvironmentOptions) error {
	opts = e.mergeOptions(opts)
	logger := slog.With("component", "provision", "computeEnvironment", name)

	serviceRoleARN, err := e.ensureRole(ctx, opts.ServiceRole, "batch.amazonaws.com", servicePolicies)
	if err != nil {
		return err
	}
	instanceProfile, err := e.ensureInstanceProfile(ctx, opts.InstanceRole, instancePolicies)
	if err != nil {
		return err
	}
	vpcID, subnets, err := e.defaultSubnets(ctx)
	if err != nil {
		return err
	}
	sgID, err := e.ensureSecurityGroup(ctx, e.cfg.ComputeEnvironment.SecurityGroup, vpcID)
	if err != nil {
		return err
	}
	keyName, err := e.ensureKeyPair(ctx, opts.SSHKeyName)
	if err != nil {
		return err
	}

	resources := &types.ComputeResource{
		Type:             types.CRType(opts.ComputeType),
		MinvCpus:         aws.Int32(opts.MinVCPUs),
		DesiredvCpus:     aws.Int32(opts.DesiredVCPUs),
		MaxvCpus:         aws.Int32(opts.MaxVCPUs),
		InstanceTypes:    opts.InstanceTypes,
		Subnets:          subnets,
		SecurityGroupIds: []string{sgID},
		InstanceRole:     aws.String(instanceProfile),
		Ec2KeyPair:       aws.String(keyName),
	}
	if opts.ImageID != "" {
		resources.ImageId = aws.String(opts.ImageID)
	}
	if resources.Type == types.CRTypeSpot {
		fleetRoleARN, err := e.ensureRole(ctx, spotFleetRole, "spotfleet.amazonaws.com", spotFleetPolicies)
		if err != nil {
			return err
		}
		resources.BidPercentage = aws.Int32(100)
		resources.SpotIamFleetRole = aws.String(fleetRoleARN)
	}

	logger.Info("Creating compute environment", "vpc", vpcID, "subnets", len(subnets))
	_, err = e.clients.Batch.CreateComputeEnvironment(ctx, &batch.CreateComputeEnvironmentInput{
		ComputeEnvironmentName: aws.String(name),
		Type:                   types.CETypeManaged,
		ComputeResources:       resources,
		ServiceRole:            aws.String(serviceRoleARN),
	})
	if err != nil {
		return apperrors.FromAWS("batch.CreateComputeEnvironment", err)
	}
	return e.waitComputeEnvironmentValid(ctx, name, "")
}

// DeleteComputeEnvironment disables a compute environment, waits for the
// update to settle and deletes it.
func (e *Ensurer) DeleteComputeEnvironment(ctx context.Context, name string) error {
	_, err := e.clients.Batch.UpdateComputeEnvironment(ctx, &batch.UpdateComputeEnvironmentInput{
		ComputeEnvironment: aws.String(name),
		State:              types.CEStateDisabled,
	})
	if err != nil {
		return apperrors.FromAWS("batch.UpdateComputeEnvironment", err)
	}
	if err := e.waitComputeEnvironmentValid(ctx, name, types.CEStateDisabled); err != nil {
		return err
	}
	_, err = e.clients.Batch.DeleteComputeEnvironment(ctx, &batch.DeleteComputeEnvironmentInput{ComputeEnvironment: aws.String(name)})
	if err != nil {
		return apperrors.FromAWS("batch.DeleteComputeEnvironment", err)
	}
	slog.Info("Compute environment deleted", "computeEnvironment", name)
	return nil
}

func (e *Ensurer) mergeOptions(o ComputeEnvironmentOptions) ComputeEnvironmentOptions {
	d := e.cfg.ComputeEnvironment
	if o.ComputeType == "" {
		o.ComputeType = d.ComputeType
	}
	if o.MinVCPUs <= 0 {
		o.MinVCPUs = int32(d.MinVCPUs)
	}
	if o.DesiredVCPUs <= 0 {
		o.DesiredVCPUs = int32(d.DesiredVCPUs)
	}
	if o.MaxVCPUs <= 0 {
		o.MaxVCPUs = int32(d.MaxVCPUs)
	}
	if len(o.InstanceTypes) == 0 {
		o.InstanceTypes = d.InstanceTypes
	}
	if o.ImageID == "" {
		o.ImageID = d.ImageID
	}
	if o.SSHKeyName == "" {
		o.SSHKeyName = d.SSHKeyName
	}
	if o.InstanceRole == "" {
		o.InstanceRole = d.InstanceRole
	}
	if o.ServiceRole == "" {
		o.ServiceRole = d.ServiceRole
	}
	return o
}

func (e *Ensurer) waitComputeEnvironmentValid(ctx context.Context, name string, state types.CEState) error {
	return e.waitFor(ctx, "compute environment "+name, e.cfg.CEWaitAttempts, func(ctx context.Context) (bool, error) {
		out, err := e.clients.Batch.DescribeComputeEnvironments(ctx, &batch.DescribeComputeEnvironmentsInput{
			ComputeEnvironments: []string{name},
		})
		if err != nil {
			return false, apperrors.FromAWS("batch.DescribeComputeEnvironments", err)
		}
		for _, ce := range out.ComputeEnvironments {
			if ce.Status == types.CEStatusInvalid {
				return false, apperrors.Validation("computeEnvironment", "compute environment "+name+" is INVALID: "+aws.ToString(ce.StatusReason))
			}
			if ce.Status == types.CEStatusValid && (state == "" || ce.State == state) {
				return true, nil
			}
		}
		return false, nil
	})
}
