// Package aws implements the ResourceProvider capability on top of the AWS
// SDK, one resource kind family per file.
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/redshiftserverless"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"github.com/stackform-io/stackform/internal/provider"
)

// Resource kinds managed by this provider.
const (
	KindVpc                = "EC2.Vpc"
	KindSubnet             = "EC2.Subnet"
	KindSecurityGroup      = "EC2.SecurityGroup"
	KindRepository         = "ECR.Repository"
	KindSecret             = "SecretsManager.Secret"
	KindNamespace          = "RedshiftServerless.Namespace"
	KindWorkgroup          = "RedshiftServerless.Workgroup"
	KindComputeEnvironment = "Batch.ComputeEnvironment"
	KindJobQueue           = "Batch.JobQueue"
	KindJobDefinition      = "Batch.JobDefinition"
	KindRole               = "IAM.Role"
	KindLogGroup           = "Logs.LogGroup"
)

type Provider struct {
	ec2Client            *ec2.Client
	ecrClient            *ecr.Client
	iamClient            *iam.Client
	batchClient          *batch.Client
	logsClient           *cloudwatchlogs.Client
	redshiftClient       *redshiftserverless.Client
	secretsmanagerClient *secretsmanager.Client
}

// New loads default AWS configuration for the region and builds the
// per-service clients.
func New(ctx context.Context, region string) (*Provider, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return &Provider{
		ec2Client:            ec2.NewFromConfig(cfg),
		ecrClient:            ecr.NewFromConfig(cfg),
		iamClient:            iam.NewFromConfig(cfg),
		batchClient:          batch.NewFromConfig(cfg),
		logsClient:           cloudwatchlogs.NewFromConfig(cfg),
		redshiftClient:       redshiftserverless.NewFromConfig(cfg),
		secretsmanagerClient: secretsmanager.NewFromConfig(cfg),
	}, nil
}

func (p *Provider) Create(ctx context.Context, kind string, attrs map[string]any) (map[string]any, error) {
	switch kind {
	case KindVpc:
		return p.createVpc(ctx, attrs)
	case KindSubnet:
		return p.createSubnet(ctx, attrs)
	case KindSecurityGroup:
		return p.createSecurityGroup(ctx, attrs)
	case KindRepository:
		return p.createRepository(ctx, attrs)
	case KindSecret:
		return p.createSecret(ctx, attrs)
	case KindNamespace:
		return p.createNamespace(ctx, attrs)
	case KindWorkgroup:
		return p.createWorkgroup(ctx, attrs)
	case KindComputeEnvironment:
		return p.createComputeEnvironment(ctx, attrs)
	case KindJobQueue:
		return p.createJobQueue(ctx, attrs)
	case KindJobDefinition:
		return p.registerJobDefinition(ctx, attrs)
	case KindRole:
		return p.createRole(ctx, attrs)
	case KindLogGroup:
		return p.createLogGroup(ctx, attrs)
	}
	return nil, fmt.Errorf("%w: %s", provider.ErrUnknownKind, kind)
}

func (p *Provider) Update(ctx context.Context, kind, id string, attrs map[string]any) (map[string]any, error) {
	switch kind {
	case KindVpc:
		return p.updateVpc(ctx, id, attrs)
	case KindSubnet:
		return p.updateSubnet(ctx, id, attrs)
	case KindSecurityGroup:
		return p.updateSecurityGroup(ctx, id, attrs)
	case KindRepository:
		return p.updateRepository(ctx, id, attrs)
	case KindSecret:
		return p.updateSecret(ctx, id, attrs)
	case KindNamespace:
		return p.updateNamespace(ctx, id, attrs)
	case KindWorkgroup:
		return p.updateWorkgroup(ctx, id, attrs)
	case KindComputeEnvironment:
		return p.updateComputeEnvironment(ctx, id, attrs)
	case KindJobQueue:
		return p.updateJobQueue(ctx, id, attrs)
	case KindJobDefinition:
		// A job definition revision is immutable; an update registers the
		// next revision under the same name.
		return p.registerJobDefinition(ctx, attrs)
	case KindRole:
		return p.updateRole(ctx, id, attrs)
	case KindLogGroup:
		return p.updateLogGroup(ctx, id, attrs)
	}
	return nil, fmt.Errorf("%w: %s", provider.ErrUnknownKind, kind)
}

func (p *Provider) Destroy(ctx context.Context, kind, id string) error {
	switch kind {
	case KindVpc:
		return p.destroyVpc(ctx, id)
	case KindSubnet:
		return p.destroySubnet(ctx, id)
	case KindSecurityGroup:
		return p.destroySecurityGroup(ctx, id)
	case KindRepository:
		return p.destroyRepository(ctx, id)
	case KindSecret:
		return p.destroySecret(ctx, id)
	case KindNamespace:
		return p.destroyNamespace(ctx, id)
	case KindWorkgroup:
		return p.destroyWorkgroup(ctx, id)
	case KindComputeEnvironment:
		return p.destroyComputeEnvironment(ctx, id)
	case KindJobQueue:
		return p.destroyJobQueue(ctx, id)
	case KindJobDefinition:
		return p.deregisterJobDefinition(ctx, id)
	case KindRole:
		return p.destroyRole(ctx, id)
	case KindLogGroup:
		return p.destroyLogGroup(ctx, id)
	}
	return fmt.Errorf("%w: %s", provider.ErrUnknownKind, kind)
}

// schemas marks the attributes that cannot change in place per kind.
var schemas = map[string]provider.Schema{
	KindVpc:                {ForcesReplacement: []string{"cidrBlock"}},
	KindSubnet:             {ForcesReplacement: []string{"vpcId", "cidrBlock", "availabilityZone"}},
	KindSecurityGroup:      {ForcesReplacement: []string{"name", "vpcId"}},
	KindRepository:         {ForcesReplacement: []string{"repositoryName"}},
	KindSecret:             {ForcesReplacement: []string{"name"}},
	KindNamespace:          {ForcesReplacement: []string{"namespaceName", "dbName"}},
	KindWorkgroup:          {ForcesReplacement: []string{"workgroupName", "namespaceName"}},
	KindComputeEnvironment: {ForcesReplacement: []string{"name", "subnetIds"}},
	KindJobQueue:           {ForcesReplacement: []string{"name"}},
	KindJobDefinition:      {ForcesReplacement: nil}, // every change is a new revision
	KindRole:               {ForcesReplacement: []string{"name"}},
	KindLogGroup:           {ForcesReplacement: []string{"name"}},
}

func (p *Provider) Schema(kind string) (provider.Schema, error) {
	s, ok := schemas[kind]
	if !ok {
		return provider.Schema{}, fmt.Errorf("%w: %s", provider.ErrUnknownKind, kind)
	}
	return s, nil
}

// transientCodes are AWS API error codes expected to succeed on retry.
var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"RequestThrottled":                       true,
	"RequestThrottledException":              true,
	"SlowDown":                               true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"InternalServerError":                    true,
	"InternalFailure":                        true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
	"IDPCommunicationError":                  true,
	"EC2ThrottledException":                  true,
	"ProvisionedThroughputExceededException": true,
}

// Classify decides whether a call is worth retrying. Coded API errors are
// matched against the throttling/availability set; uncoded transport errors
// fall back to a message scan.
func (p *Provider) Classify(err error) provider.ErrorClass {
	if err == nil {
		return provider.Fatal
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		if transientCodes[ae.ErrorCode()] {
			return provider.Transient
		}
		if ae.ErrorFault() == smithy.FaultServer {
			return provider.Transient
		}
		return provider.Fatal
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"i/o timeout",
		"timeout",
		"tls handshake",
		"temporary failure",
	} {
		if strings.Contains(msg, pattern) {
			return provider.Transient
		}
	}
	return provider.Fatal
}

// decodeAttrs round-trips a resolved attribute map into a typed config
// struct through JSON, the same boundary the engine persists.
func decodeAttrs(attrs map[string]any, into any) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to decode attributes: %w", err)
	}
	return nil
}
