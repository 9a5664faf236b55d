// Package stack validates the parameters of the analytics cluster stack
// that hosts the access guard.
package stack

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parameter names as they appear in the template.
const (
	ParamClusterName               = "ClusterName"
	ParamReleaseLabel              = "ReleaseLabel"
	ParamMasterInstanceType        = "MasterInstanceType"
	ParamCoreInstanceType          = "CoreInstanceType"
	ParamCoreInstanceCount         = "CoreInstanceCount"
	ParamSubnetID                  = "SubnetId"
	ParamSecurityGroupID           = "SecurityGroupId"
	ParamProxyScriptURL            = "ProxyScriptUrl"
	ParamBootstrapScriptURL        = "BootstrapScriptUrl"
	ParamProxyCredentialSecretName = "ProxyCredentialSecretName"
	ParamKeyName                   = "KeyName"
)

const (
	defaultInstanceType = "m5.xlarge"
	defaultCoreCount    = 2
	maxCoreCount        = 256
)

var releaseLabelRe = regexp.MustCompile(`^emr-\d+\.\d+\.\d+$`)

// Parameters are the typed stack parameters.
type Parameters struct {
	ClusterName               string
	ReleaseLabel              string
	MasterInstanceType        string
	CoreInstanceType          string
	CoreInstanceCount         int
	SubnetID                  string
	SecurityGroupID           string
	ProxyScriptURL            string
	BootstrapScriptURL        string
	ProxyCredentialSecretName string
	KeyName                   string
}

// IncludeBootstrapActions reports whether the cluster gets bootstrap
// actions. They are only added when a script URL was given.
func (p *Parameters) IncludeBootstrapActions() bool {
	return p.BootstrapScriptURL != ""
}

// IncludeSecurityGroup reports whether an additional security group is
// attached to the master node.
func (p *Parameters) IncludeSecurityGroup() bool {
	return p.SecurityGroupID != ""
}

// ScriptURLs returns every script the cluster will fetch at launch.
func (p *Parameters) ScriptURLs() []string {
	urls := []string{p.ProxyScriptURL}
	if p.IncludeBootstrapActions() {
		urls = append(urls, p.BootstrapScriptURL)
	}
	return urls
}

// FromMap builds Parameters from raw key/value pairs, filling defaults.
func FromMap(raw map[string]string) (*Parameters, error) {
	p := &Parameters{
		ClusterName:               raw[ParamClusterName],
		ReleaseLabel:              raw[ParamReleaseLabel],
		MasterInstanceType:        raw[ParamMasterInstanceType],
		CoreInstanceType:          raw[ParamCoreInstanceType],
		SubnetID:                  raw[ParamSubnetID],
		SecurityGroupID:           raw[ParamSecurityGroupID],
		ProxyScriptURL:            raw[ParamProxyScriptURL],
		BootstrapScriptURL:        strings.TrimSpace(raw[ParamBootstrapScriptURL]),
		ProxyCredentialSecretName: raw[ParamProxyCredentialSecretName],
		KeyName:                   raw[ParamKeyName],
		CoreInstanceCount:         defaultCoreCount,
	}
	if p.MasterInstanceType == "" {
		p.MasterInstanceType = defaultInstanceType
	}
	if p.CoreInstanceType == "" {
		p.CoreInstanceType = defaultInstanceType
	}
	if v := raw[ParamCoreInstanceCount]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", ParamCoreInstanceCount, v)
		}
		p.CoreInstanceCount = n
	}
	return p, nil
}

// Validate returns every problem found, joined.
func (p *Parameters) Validate() error {
	var errs []error
	required := []struct {
		name, value string
	}{
		{ParamClusterName, p.ClusterName},
		{ParamReleaseLabel, p.ReleaseLabel},
		{ParamSubnetID, p.SubnetID},
		{ParamProxyScriptURL, p.ProxyScriptURL},
		{ParamProxyCredentialSecretName, p.ProxyCredentialSecretName},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}

	if p.ReleaseLabel != "" && !releaseLabelRe.MatchString(p.ReleaseLabel) {
		errs = append(errs, fmt.Errorf("%s %q must look like emr-6.15.0", ParamReleaseLabel, p.ReleaseLabel))
	}
	if p.SubnetID != "" && !strings.HasPrefix(p.SubnetID, "subnet-") {
		errs = append(errs, fmt.Errorf("%s %q must start with subnet-", ParamSubnetID, p.SubnetID))
	}
	if p.SecurityGroupID != "" && !strings.HasPrefix(p.SecurityGroupID, "sg-") {
		errs = append(errs, fmt.Errorf("%s %q must start with sg-", ParamSecurityGroupID, p.SecurityGroupID))
	}
	if p.CoreInstanceCount < 1 || p.CoreInstanceCount > maxCoreCount {
		errs = append(errs, fmt.Errorf("%s must be between 1 and %d, got %d", ParamCoreInstanceCount, maxCoreCount, p.CoreInstanceCount))
	}
	scripts := []struct {
		name, value string
	}{
		{ParamProxyScriptURL, p.ProxyScriptURL},
		{ParamBootstrapScriptURL, p.BootstrapScriptURL},
	}
	for _, s := range scripts {
		if s.value == "" {
			continue
		}
		if err := validateScriptURL(s.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	return errors.Join(errs...)
}

func validateScriptURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "s3", "https":
	default:
		return fmt.Errorf("%q must be an s3:// or https:// URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no bucket or host", raw)
	}
	return nil
}

// cfnParameter is one entry of an `aws cloudformation` parameters file.
type cfnParameter struct {
	ParameterKey   string `yaml:"ParameterKey"`
	ParameterValue string `yaml:"ParameterValue"`
}

// Parse reads a parameters document. Both the CloudFormation CLI array
// form and a flat key/value map are accepted, in JSON or YAML.
func Parse(data []byte) (*Parameters, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse parameters: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, errors.New("parameters document is empty")
	}

	raw := make(map[string]string)
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		var list []cfnParameter
		if err := root.Decode(&list); err != nil {
			return nil, fmt.Errorf("failed to decode parameter list: %w", err)
		}
		for _, item := range list {
			if item.ParameterKey == "" {
				return nil, errors.New("parameter entry without ParameterKey")
			}
			raw[item.ParameterKey] = item.ParameterValue
		}
	case yaml.MappingNode:
		if err := root.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode parameter map: %w", err)
		}
	default:
		return nil, errors.New("parameters must be a list or a map")
	}

	return FromMap(raw)
}

// Load reads and parses a parameters file.
func Load(path string) (*Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameters file: %w", err)
	}
	return Parse(data)
}
