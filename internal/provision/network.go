package provision

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"batchctl/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

func filter(name string, values ...string) types.Filter {
	return types.Filter{Name: aws.String(name), Values: values}
}

// defaultSubnets returns the default VPC and all of its subnets.
func (e *Ensurer) defaultSubnets(ctx context.Context) (string, []string, error) {
	vpcs, err := e.clients.EC2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []types.Filter{filter("isDefault", "true")},
	})
	if err != nil {
		return "", nil, apperrors.FromAWS("ec2.DescribeVpcs", err)
	}
	if len(vpcs.Vpcs) == 0 {
		return "", nil, apperrors.NotFound("vpc", "default")
	}
	vpcID := aws.ToString(vpcs.Vpcs[0].VpcId)

	out, err := e.clients.EC2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []types.Filter{filter("vpc-id", vpcID)},
	})
	if err != nil {
		return "", nil, apperrors.FromAWS("ec2.DescribeSubnets", err)
	}
	subnets := make([]string, 0, len(out.Subnets))
	for _, s := range out.Subnets {
		subnets = append(subnets, aws.ToString(s.SubnetId))
	}
	if len(subnets) == 0 {
		return "", nil, apperrors.NotFound("subnets of vpc", vpcID)
	}
	return vpcID, subnets, nil
}

// ensureSecurityGroup returns the ID of security group name in vpcID,
// creating it with SSH ingress if needed.
func (e *Ensurer) ensureSecurityGroup(ctx context.Context, name, vpcID string) (string, error) {
	out, err := e.clients.EC2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{filter("group-name", name), filter("vpc-id", vpcID)},
	})
	if err != nil {
		return "", apperrors.FromAWS("ec2.DescribeSecurityGroups", err)
	}
	if len(out.SecurityGroups) > 0 {
		return aws.ToString(out.SecurityGroups[0].GroupId), nil
	}

	slog.Info("Creating security group", "securityGroup", name, "vpc", vpcID)
	created, err := e.clients.EC2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("Created by batchctl"),
		VpcId:       aws.String(vpcID),
	})
	if err != nil {
		return "", apperrors.FromAWS("ec2.CreateSecurityGroup", err)
	}
	groupID := aws.ToString(created.GroupId)

	_, err = e.clients.EC2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(groupID),
		IpPermissions: []types.IpPermission{{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(22),
			ToPort:     aws.Int32(22),
			IpRanges:   []types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		}},
	})
	if err != nil && !apperrors.IsAlreadyExists(err) {
		return "", apperrors.FromAWS("ec2.AuthorizeSecurityGroupIngress", err)
	}
	return groupID, nil
}

// ensureKeyPair makes sure key pair name exists. A newly created private
// key is written to KeyDir with owner-only permissions.
func (e *Ensurer) ensureKeyPair(ctx context.Context, name string) (string, error) {
	_, err := e.clients.EC2.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{KeyNames: []string{name}})
	if err == nil {
		return name, nil
	}
	if !apperrors.IsNotFound(err) {
		return "", apperrors.FromAWS("ec2.DescribeKeyPairs", err)
	}

	slog.Info("Creating SSH key pair", "keyName", name)
	out, err := e.clients.EC2.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{KeyName: aws.String(name)})
	if err != nil {
		if apperrors.IsAlreadyExists(err) {
			return name, nil
		}
		return "", apperrors.FromAWS("ec2.CreateKeyPair", err)
	}
	if e.cfg.KeyDir == "" || out.KeyMaterial == nil {
		return name, nil
	}
	if err := os.MkdirAll(e.cfg.KeyDir, 0o700); err != nil {
		return "", apperrors.Internal("provision.ensureKeyPair", err)
	}
	path := filepath.Join(e.cfg.KeyDir, name+".pem")
	if err := os.WriteFile(path, []byte(aws.ToString(out.KeyMaterial)), 0o600); err != nil {
		return "", apperrors.Internal("provision.ensureKeyPair", err)
	}
	slog.Info("SSH private key saved", "path", path)
	return name, nil
}
