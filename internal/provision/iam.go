package provision

import (
	"context"
	"encoding/json"
	"log/slog"

	"batchctl/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
)

const managedPolicyPrefix = "arn:aws:iam::aws:policy/"

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string            `json:"Effect"`
	Action    string            `json:"Action"`
	Principal map[string]string `json:"Principal,omitempty"`
	Resource  string            `json:"Resource,omitempty"`
}

func trustPolicy(service string) string {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Action:    "sts:AssumeRole",
			Principal: map[string]string{"Service": service},
		}},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func assumeAnyRolePolicy() string {
	doc := policyDocument{
		Version:   "2012-10-17",
		Statement: []policyStatement{{Effect: "Allow", Action: "sts:AssumeRole", Resource: "*"}},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

// ensureRole returns the ARN of role name, creating it with a trust policy
// for service if needed. The managed policies are attached every time.
func (e *Ensurer) ensureRole(ctx context.Context, name, service string, policies []string) (string, error) {
	var arn string
	out, err := e.clients.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	switch {
	case err == nil:
		arn = aws.ToString(out.Role.Arn)
	case apperrors.IsNotFound(err):
		slog.Info("Creating IAM role", "role", name, "trust", service)
		created, err := e.clients.IAM.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 aws.String(name),
			AssumeRolePolicyDocument: aws.String(trustPolicy(service)),
		})
		if err != nil && !apperrors.IsAlreadyExists(err) {
			return "", apperrors.FromAWS("iam.CreateRole", err)
		}
		if created != nil && created.Role != nil {
			arn = aws.ToString(created.Role.Arn)
		}
	default:
		return "", apperrors.FromAWS("iam.GetRole", err)
	}

	for _, p := range policies {
		_, err := e.clients.IAM.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(name),
			PolicyArn: aws.String(managedPolicyPrefix + p),
		})
		if err != nil {
			return "", apperrors.FromAWS("iam.AttachRolePolicy", err)
		}
	}
	return arn, nil
}

// ensureInstanceProfile ensures an EC2 role of the same name, allows it to
// assume other roles and wraps it in an instance profile. It returns the
// profile name.
func (e *Ensurer) ensureInstanceProfile(ctx context.Context, name string, policies []string) (string, error) {
	if _, err := e.ensureRole(ctx, name, "ec2.amazonaws.com", policies); err != nil {
		return "", err
	}
	_, err := e.clients.IAM.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(name),
		PolicyName:     aws.String("batchctl-assume-role"),
		PolicyDocument: aws.String(assumeAnyRolePolicy()),
	})
	if err != nil {
		return "", apperrors.FromAWS("iam.PutRolePolicy", err)
	}

	out, err := e.clients.IAM.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{InstanceProfileName: aws.String(name)})
	if err == nil {
		for _, r := range out.InstanceProfile.Roles {
			if aws.ToString(r.RoleName) == name {
				return name, nil
			}
		}
	} else if !apperrors.IsNotFound(err) {
		return "", apperrors.FromAWS("iam.GetInstanceProfile", err)
	} else {
		slog.Info("Creating instance profile", "instanceProfile", name)
		_, err := e.clients.IAM.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{InstanceProfileName: aws.String(name)})
		if err != nil && !apperrors.IsAlreadyExists(err) {
			return "", apperrors.FromAWS("iam.CreateInstanceProfile", err)
		}
	}

	_, err = e.clients.IAM.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: aws.String(name),
		RoleName:            aws.String(name),
	})
	if err != nil {
		return "", apperrors.FromAWS("iam.AddRoleToInstanceProfile", err)
	}
	return name, nil
}
