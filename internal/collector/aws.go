package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"cloudaudit/internal/invoke"
	"cloudaudit/internal/mode"
	"cloudaudit/internal/models"
)

// awsClients bundles the SDK service clients the AWS sources share. All
// calls go through the invoker; the SDK's own retryer stays at its default
// and the adapter supplies the outer retry policy.
type awsClients struct {
	sts     *sts.Client
	iam     *iam.Client
	s3      *s3.Client
	ec2     *ec2.Client
	invoker invoke.Invoker
}

// NewAWSSources builds the live AWS sub-collectors from the ambient SDK
// credential chain (env, shared config, instance role).
func NewAWSSources(ctx context.Context, invoker invoke.Invoker) ([]mode.Source, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}
	c := &awsClients{
		sts:     sts.NewFromConfig(cfg),
		iam:     iam.NewFromConfig(cfg),
		s3:      s3.NewFromConfig(cfg),
		ec2:     ec2.NewFromConfig(cfg),
		invoker: invoker,
	}
	return []mode.Source{
		&awsAccountSource{c: c},
		&awsIAMSource{c: c},
		&awsS3Source{c: c},
		&awsSecurityGroupSource{c: c},
	}, nil
}

// awsAccountSource resolves the caller's account identity via STS.
type awsAccountSource struct {
	c *awsClients
}

func (s *awsAccountSource) Name() string { return "aws/account" }

func (s *awsAccountSource) Collect(ctx context.Context) ([]models.Resource, error) {
	out, err := s.c.invoker.Invoke(ctx, invoke.Request{
		Service:   "aws.sts",
		Operation: "GetCallerIdentity",
		Call: func(ctx context.Context) (any, error) {
			return s.c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		},
	})
	if err != nil {
		return nil, err
	}
	ident := out.(*sts.GetCallerIdentityOutput)

	return []models.Resource{{
		ID:       "aws/accounts/" + aws.ToString(ident.Account),
		Type:     models.ResourceAWSAccount,
		Provider: "aws",
		Metadata: map[string]any{
			"arn":     aws.ToString(ident.Arn),
			"user_id": aws.ToString(ident.UserId),
		},
	}}, nil
}

// awsIAMSource lists IAM users and roles.
type awsIAMSource struct {
	c *awsClients
}

func (s *awsIAMSource) Name() string { return "aws/iam" }

func (s *awsIAMSource) Collect(ctx context.Context) ([]models.Resource, error) {
	users, err := s.listUsers(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := s.listRoles(ctx)
	if err != nil {
		return nil, err
	}
	return append(users, roles...), nil
}

func (s *awsIAMSource) listUsers(ctx context.Context) ([]models.Resource, error) {
	var out []models.Resource
	var marker *string
	for {
		resp, err := s.c.invoker.Invoke(ctx, invoke.Request{
			Service:   "aws.iam",
			Operation: "ListUsers",
			Call: func(ctx context.Context) (any, error) {
				return s.c.iam.ListUsers(ctx, &iam.ListUsersInput{Marker: marker})
			},
		})
		if err != nil {
			return nil, err
		}
		page := resp.(*iam.ListUsersOutput)

		for _, u := range page.Users {
			md := map[string]any{"path": aws.ToString(u.Path)}
			if u.CreateDate != nil {
				md["created"] = u.CreateDate.UTC().Format(time.RFC3339)
			}
			if u.PasswordLastUsed != nil {
				md["password_last_used"] = u.PasswordLastUsed.UTC().Format(time.RFC3339)
			}
			out = append(out, models.Resource{
				ID:       aws.ToString(u.Arn),
				Type:     models.ResourceAWSIAMUser,
				Provider: "aws",
				Metadata: md,
			})
		}

		if !page.IsTruncated {
			return out, nil
		}
		marker = page.Marker
	}
}

func (s *awsIAMSource) listRoles(ctx context.Context) ([]models.Resource, error) {
	var out []models.Resource
	var marker *string
	for {
		resp, err := s.c.invoker.Invoke(ctx, invoke.Request{
			Service:   "aws.iam",
			Operation: "ListRoles",
			Call: func(ctx context.Context) (any, error) {
				return s.c.iam.ListRoles(ctx, &iam.ListRolesInput{Marker: marker})
			},
		})
		if err != nil {
			return nil, err
		}
		page := resp.(*iam.ListRolesOutput)

		for _, r := range page.Roles {
			md := map[string]any{"path": aws.ToString(r.Path)}
			if r.CreateDate != nil {
				md["created"] = r.CreateDate.UTC().Format(time.RFC3339)
			}
			if r.AssumeRolePolicyDocument != nil {
				md["assume_role_policy"] = aws.ToString(r.AssumeRolePolicyDocument)
			}
			out = append(out, models.Resource{
				ID:       aws.ToString(r.Arn),
				Type:     models.ResourceAWSIAMRole,
				Provider: "aws",
				Metadata: md,
			})
		}

		if !page.IsTruncated {
			return out, nil
		}
		marker = page.Marker
	}
}

// awsS3Source lists the account's buckets. ListBuckets is account-global.
type awsS3Source struct {
	c *awsClients
}

func (s *awsS3Source) Name() string { return "aws/s3" }

func (s *awsS3Source) Collect(ctx context.Context) ([]models.Resource, error) {
	resp, err := s.c.invoker.Invoke(ctx, invoke.Request{
		Service:   "aws.s3",
		Operation: "ListBuckets",
		Call: func(ctx context.Context) (any, error) {
			return s.c.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
		},
	})
	if err != nil {
		return nil, err
	}
	list := resp.(*s3.ListBucketsOutput)

	out := make([]models.Resource, 0, len(list.Buckets))
	for _, b := range list.Buckets {
		md := map[string]any{}
		if b.CreationDate != nil {
			md["created"] = b.CreationDate.UTC().Format(time.RFC3339)
		}
		out = append(out, models.Resource{
			ID:       "aws/s3/" + aws.ToString(b.Name),
			Type:     models.ResourceAWSS3Bucket,
			Provider: "aws",
			Metadata: md,
		})
	}
	return out, nil
}

// awsSecurityGroupSource lists security groups in the configured region and
// flags groups with ingress open to the world.
type awsSecurityGroupSource struct {
	c *awsClients
}

func (s *awsSecurityGroupSource) Name() string { return "aws/security-groups" }

func (s *awsSecurityGroupSource) Collect(ctx context.Context) ([]models.Resource, error) {
	var out []models.Resource
	var token *string
	for {
		resp, err := s.c.invoker.Invoke(ctx, invoke.Request{
			Service:   "aws.ec2",
			Operation: "DescribeSecurityGroups",
			Call: func(ctx context.Context) (any, error) {
				return s.c.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{NextToken: token})
			},
		})
		if err != nil {
			return nil, err
		}
		page := resp.(*ec2.DescribeSecurityGroupsOutput)

		for _, g := range page.SecurityGroups {
			openToWorld := false
			for _, perm := range g.IpPermissions {
				for _, r := range perm.IpRanges {
					if aws.ToString(r.CidrIp) == "0.0.0.0/0" {
						openToWorld = true
					}
				}
				for _, r := range perm.Ipv6Ranges {
					if aws.ToString(r.CidrIpv6) == "::/0" {
						openToWorld = true
					}
				}
			}
			out = append(out, models.Resource{
				ID:       "aws/ec2/security-groups/" + aws.ToString(g.GroupId),
				Type:     models.ResourceAWSSecurityGroup,
				Provider: "aws",
				Metadata: map[string]any{
					"group_name":    aws.ToString(g.GroupName),
					"vpc_id":        aws.ToString(g.VpcId),
					"open_to_world": openToWorld,
				},
			})
		}

		token = page.NextToken
		if token == nil {
			return out, nil
		}
	}
}
