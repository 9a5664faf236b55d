// Package preflight runs read-only checks against the resources the
// analytics stack expects to exist before it is deployed: the proxy
// credential secret, the proxy security group and the launch scripts.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/xpeteliu/cis545-group-project/internal/policy"
	"github.com/xpeteliu/cis545-group-project/internal/stack"
)

// ProxyPorts must be reachable on the proxy security group.
var ProxyPorts = []int32{80, 443}

// IdentityAPI is the STS subset used here.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// SecretsAPI is the Secrets Manager subset used here.
type SecretsAPI interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// SecurityGroupsAPI is the EC2 subset used here.
type SecurityGroupsAPI interface {
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
}

// ObjectsAPI is the S3 subset used here.
type ObjectsAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Status is the outcome of one check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusSkip Status = "SKIP"
)

// Result is one check outcome.
type Result struct {
	Name   string
	Status Status
	Detail string
}

// Checker runs the preflight checks.
type Checker struct {
	Identity       IdentityAPI
	Secrets        SecretsAPI
	SecurityGroups SecurityGroupsAPI
	Objects        ObjectsAPI

	// Policy is the public access policy the cluster will run under.
	Policy policy.AccessPolicy
}

// NewFromConfig builds a Checker with real AWS clients.
func NewFromConfig(cfg aws.Config) *Checker {
	return &Checker{
		Identity:       sts.NewFromConfig(cfg),
		Secrets:        secretsmanager.NewFromConfig(cfg),
		SecurityGroups: ec2.NewFromConfig(cfg),
		Objects:        s3.NewFromConfig(cfg),
		Policy:         policy.Default(),
	}
}

// Run executes every check in order. It never stops early.
func (c *Checker) Run(ctx context.Context, p *stack.Parameters) []Result {
	results := []Result{c.checkIdentity(ctx)}
	results = append(results, c.checkSecret(ctx, p.ProxyCredentialSecretName))
	results = append(results, c.checkSecurityGroup(ctx, p.SecurityGroupID))
	for _, u := range p.ScriptURLs() {
		results = append(results, c.checkScript(ctx, u))
	}
	if !p.IncludeBootstrapActions() {
		results = append(results, Result{
			Name:   "bootstrap script",
			Status: StatusSkip,
			Detail: "BootstrapScriptUrl is empty, no bootstrap actions will be added",
		})
	}
	return results
}

// Failed reports whether any result failed.
func Failed(results []Result) bool {
	return slices.ContainsFunc(results, func(r Result) bool {
		return r.Status == StatusFail
	})
}

func (c *Checker) checkIdentity(ctx context.Context) Result {
	r := Result{Name: "caller identity"}
	out, err := c.Identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		r.Status, r.Detail = StatusFail, err.Error()
		return r
	}
	r.Status = StatusPass
	r.Detail = fmt.Sprintf("account %s as %s", aws.ToString(out.Account), aws.ToString(out.Arn))
	return r
}

// checkSecret confirms the proxy credential secret exists. Its value is
// never read.
func (c *Checker) checkSecret(ctx context.Context, name string) Result {
	r := Result{Name: "proxy credential secret"}
	if name == "" {
		r.Status, r.Detail = StatusFail, "no secret name given"
		return r
	}

	out, err := c.Secrets.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(name)})
	if err != nil {
		if apiErrorCode(err) == "ResourceNotFoundException" {
			r.Status, r.Detail = StatusFail, fmt.Sprintf("secret %q does not exist", name)
			return r
		}
		r.Status, r.Detail = StatusFail, err.Error()
		return r
	}
	if out.DeletedDate != nil {
		r.Status = StatusFail
		r.Detail = fmt.Sprintf("secret %q is scheduled for deletion on %s", name, out.DeletedDate.Format("2006-01-02"))
		return r
	}

	r.Status = StatusPass
	r.Detail = aws.ToString(out.ARN)
	return r
}

func (c *Checker) checkSecurityGroup(ctx context.Context, groupID string) Result {
	r := Result{Name: "proxy security group"}
	if groupID == "" {
		r.Status, r.Detail = StatusSkip, "SecurityGroupId is empty, the stack creates its own group"
		return r
	}

	out, err := c.SecurityGroups.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{groupID},
	})
	if err != nil {
		r.Status, r.Detail = StatusFail, err.Error()
		return r
	}
	if len(out.SecurityGroups) == 0 {
		r.Status, r.Detail = StatusFail, fmt.Sprintf("security group %s not found", groupID)
		return r
	}
	sg := out.SecurityGroups[0]

	var problems []string
	for _, port := range ProxyPorts {
		if !opensPort(sg.IpPermissions, port) {
			problems = append(problems, fmt.Sprintf("tcp/%d is not open", port))
		}
	}
	for _, pr := range publicRanges(sg.IpPermissions) {
		if !c.permits(pr) {
			problems = append(problems, fmt.Sprintf("public ingress on %s is blocked by the EMR public access policy", pr))
		}
	}

	if len(problems) > 0 {
		r.Status, r.Detail = StatusFail, strings.Join(problems, "; ")
		return r
	}
	r.Status = StatusPass
	r.Detail = fmt.Sprintf("%s opens %s", groupID, joinPorts(ProxyPorts))
	return r
}

func (c *Checker) permits(pr policy.PortRange) bool {
	for _, allowed := range c.Policy.AllowedPortRanges {
		if allowed.Min <= pr.Min && pr.Max <= allowed.Max {
			return true
		}
	}
	return false
}

func (c *Checker) checkScript(ctx context.Context, raw string) Result {
	r := Result{Name: "script " + raw}
	u, err := url.Parse(raw)
	if err != nil {
		r.Status, r.Detail = StatusFail, err.Error()
		return r
	}
	if u.Scheme != "s3" {
		r.Status, r.Detail = StatusSkip, "only s3:// locations are checked"
		return r
	}

	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	out, err := c.Objects.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		switch apiErrorCode(err) {
		case "NotFound", "NoSuchKey":
			r.Status, r.Detail = StatusFail, "object does not exist"
		case "Forbidden", "AccessDenied":
			r.Status, r.Detail = StatusFail, "access denied reading object"
		default:
			r.Status, r.Detail = StatusFail, err.Error()
		}
		return r
	}

	r.Status = StatusPass
	r.Detail = fmt.Sprintf("%d bytes", aws.ToInt64(out.ContentLength))
	return r
}

func apiErrorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

func opensPort(perms []ec2types.IpPermission, port int32) bool {
	for _, p := range perms {
		proto := aws.ToString(p.IpProtocol)
		if proto == "-1" {
			return true
		}
		if proto != "tcp" && proto != "6" {
			continue
		}
		if aws.ToInt32(p.FromPort) <= port && port <= aws.ToInt32(p.ToPort) {
			return true
		}
	}
	return false
}

// publicRanges lists the port ranges open to the whole internet.
func publicRanges(perms []ec2types.IpPermission) []policy.PortRange {
	var out []policy.PortRange
	for _, p := range perms {
		public := slices.ContainsFunc(p.IpRanges, func(r ec2types.IpRange) bool {
			return aws.ToString(r.CidrIp) == "0.0.0.0/0"
		}) || slices.ContainsFunc(p.Ipv6Ranges, func(r ec2types.Ipv6Range) bool {
			return aws.ToString(r.CidrIpv6) == "::/0"
		})
		if !public {
			continue
		}
		if aws.ToString(p.IpProtocol) == "-1" {
			out = append(out, policy.PortRange{Min: 0, Max: 65535})
			continue
		}
		out = append(out, policy.PortRange{Min: aws.ToInt32(p.FromPort), Max: aws.ToInt32(p.ToPort)})
	}
	return out
}

func joinPorts(ports []int32) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, fmt.Sprintf("tcp/%d", p))
	}
	return strings.Join(parts, ", ")
}
