package jobspec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"batchctl/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/efs"
)

// DefaultFilesystemName is looked up when a shared mount names no filesystem.
const DefaultFilesystemName = "batchctl"

// EFSAPI is the part of the EFS client the resolver uses.
type EFSAPI interface {
	efs.DescribeFileSystemsAPIClient
	DescribeMountTargets(ctx context.Context, in *efs.DescribeMountTargetsInput, optFns ...func(*efs.Options)) (*efs.DescribeMountTargetsOutput, error)
}

// FilesystemResolver finds EFS filesystems and their mount targets.
type FilesystemResolver struct {
	api EFSAPI
}

// NewFilesystemResolver creates a resolver.
func NewFilesystemResolver(api EFSAPI) *FilesystemResolver {
	return &FilesystemResolver{api: api}
}

// mountTarget is the subset of a mount target the bootstrap script reads.
type mountTarget struct {
	FileSystemId         string
	MountTargetId        string
	SubnetId             string
	IpAddress            string
	AvailabilityZoneName string `json:",omitempty"`
}

// Resolve returns the filesystem ID for an ID or a Name tag.
func (r *FilesystemResolver) Resolve(ctx context.Context, nameOrID string) (string, error) {
	if nameOrID == "" {
		nameOrID = DefaultFilesystemName
	}
	if strings.HasPrefix(nameOrID, "fs-") {
		return nameOrID, nil
	}

	p := efs.NewDescribeFileSystemsPaginator(r.api, &efs.DescribeFileSystemsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return "", apperrors.FromAWS("efs.DescribeFileSystems", err)
		}
		for _, fs := range page.FileSystems {
			if aws.ToString(fs.Name) == nameOrID {
				return aws.ToString(fs.FileSystemId), nil
			}
		}
	}
	return "", &apperrors.Error{
		Sentinel: apperrors.ErrNotFound,
		Message:  fmt.Sprintf("Could not resolve %q to a valid EFS filesystem ID", nameOrID),
		Resource: "filesystem",
	}
}

// MountTargets resolves nameOrID and returns its mount targets as JSON.
func (r *FilesystemResolver) MountTargets(ctx context.Context, nameOrID string) (string, error) {
	id, err := r.Resolve(ctx, nameOrID)
	if err != nil {
		return "", err
	}

	out, err := r.api.DescribeMountTargets(ctx, &efs.DescribeMountTargetsInput{FileSystemId: aws.String(id)})
	if err != nil {
		return "", apperrors.FromAWS("efs.DescribeMountTargets", err)
	}

	targets := make([]mountTarget, 0, len(out.MountTargets))
	for _, mt := range out.MountTargets {
		targets = append(targets, mountTarget{
			FileSystemId:         aws.ToString(mt.FileSystemId),
			MountTargetId:        aws.ToString(mt.MountTargetId),
			SubnetId:             aws.ToString(mt.SubnetId),
			IpAddress:            aws.ToString(mt.IpAddress),
			AvailabilityZoneName: aws.ToString(mt.AvailabilityZoneName),
		})
	}
	data, err := json.Marshal(targets)
	if err != nil {
		return "", apperrors.Internal("efs.MountTargets", err)
	}
	return string(data), nil
}
