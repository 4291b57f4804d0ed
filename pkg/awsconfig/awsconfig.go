// Package awsconfig provides the STS side of assume-role: loading the AWS SDK
// configuration for the source identity and exchanging it for temporary role
// credentials.
package awsconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"

	"assumerole/pkg/rolecreds"
)

// DefaultRegion is used when neither a flag, the environment nor the config file names one.
const DefaultRegion = "us-east-1"

var loadDefaultConfig = config.LoadDefaultConfig

// Options selects the source identity used to call STS.
type Options struct {
	Region          string // STS region
	Profile         string // shared config profile of the caller
	CredentialsFile string // shared credentials file to read the caller from
	Proxy           string // proxy URL for the STS endpoint
}

// AssumeRoleError reports a failed AssumeRole call.
type AssumeRoleError struct {
	RoleARN string
	Code    string // API error code, empty for transport failures
	Err     error
}

func (e *AssumeRoleError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("assume role %s failed (%s): %v", e.RoleARN, e.Code, e.Err)
	}
	return fmt.Sprintf("assume role %s failed: %v", e.RoleARN, e.Err)
}

func (e *AssumeRoleError) Unwrap() error {
	return e.Err
}

// STSAPI is the subset of the STS client used here.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Client assumes roles through STS.
type Client struct {
	api STSAPI
}

// LoadConfig loads the AWS configuration for the calling identity.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	region := opts.Region
	if region == "" {
		region = DefaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.Profile != "" {
		slog.Debug("Using source profile", "profile", opts.Profile)
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.CredentialsFile != "" {
		slog.Debug("Using source credentials file", "path", opts.CredentialsFile)
		loadOpts = append(loadOpts, config.WithSharedCredentialsFiles([]string{opts.CredentialsFile}))
	}
	if opts.Proxy != "" {
		client, err := proxyHTTPClient(opts.Proxy)
		if err != nil {
			return aws.Config{}, err
		}
		loadOpts = append(loadOpts, config.WithHTTPClient(client))
	}

	slog.Debug("Loading AWS config", "region", region)
	cfg, err := loadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return cfg, nil
}

func proxyHTTPClient(proxy string) (*awshttp.BuildableClient, error) {
	proxyURL, err := url.Parse(proxy)
	if err != nil || proxyURL.Scheme == "" || proxyURL.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q", proxy)
	}

	slog.Debug("Routing STS requests through proxy", "proxy", proxyURL.Redacted())
	return awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		tr.Proxy = http.ProxyURL(proxyURL)
	}), nil
}

// NewClient returns a Client calling STS with cfg.
func NewClient(cfg aws.Config) *Client {
	return &Client{api: sts.NewFromConfig(cfg)}
}

// NewClientWithAPI returns a Client calling api.
func NewClientWithAPI(api STSAPI) *Client {
	return &Client{api: api}
}

// BuildAssumeRoleInput maps req onto the STS request.
func BuildAssumeRoleInput(req rolecreds.Request) *sts.AssumeRoleInput {
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(req.RoleARN),
		RoleSessionName: aws.String(req.SessionName),
	}
	if req.DurationSeconds > 0 {
		input.DurationSeconds = aws.Int32(req.DurationSeconds)
	}
	if req.ExternalID != "" {
		input.ExternalId = aws.String(req.ExternalID)
	}
	if req.MFASerial != "" {
		input.SerialNumber = aws.String(req.MFASerial)
	}
	if req.MFACode != "" {
		input.TokenCode = aws.String(req.MFACode)
	}
	for _, arn := range req.PolicyARNs {
		input.PolicyArns = append(input.PolicyArns, types.PolicyDescriptorType{Arn: aws.String(arn)})
	}
	if req.PolicyJSON != "" {
		input.Policy = aws.String(req.PolicyJSON)
	}
	return input
}

// AssumeRole exchanges the caller's identity for credentials of req.RoleARN.
func (c *Client) AssumeRole(ctx context.Context, req rolecreds.Request) (rolecreds.Credentials, error) {
	slog.Debug("Assuming role", "role_arn", req.RoleARN, "session_name", req.SessionName,
		"duration", req.DurationSeconds, "mfa_serial", req.MFASerial, "policy_arns", req.PolicyARNs)

	out, err := c.api.AssumeRole(ctx, BuildAssumeRoleInput(req))
	if err != nil {
		return rolecreds.Credentials{}, newAssumeRoleError(req.RoleARN, err)
	}

	if out == nil || out.Credentials == nil {
		return rolecreds.Credentials{}, &AssumeRoleError{RoleARN: req.RoleARN, Err: errors.New("no credentials in response")}
	}

	creds := rolecreds.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expiration:      aws.ToTime(out.Credentials.Expiration).UTC(),
	}
	if !creds.Valid() {
		return rolecreds.Credentials{}, &AssumeRoleError{RoleARN: req.RoleARN, Err: errors.New("incomplete credentials in response")}
	}

	if out.AssumedRoleUser != nil {
		slog.Debug("Assumed role", "arn", aws.ToString(out.AssumedRoleUser.Arn), "expiration", creds.Expiration)
	}

	return creds, nil
}

func newAssumeRoleError(roleARN string, err error) *AssumeRoleError {
	e := &AssumeRoleError{RoleARN: roleARN, Err: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		e.Code = apiErr.ErrorCode()
	}
	return e
}
