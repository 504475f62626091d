package aws

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/provider"
)

func apiError(code string, fault smithy.ErrorFault) error {
	return &smithy.GenericAPIError{Code: code, Message: "test", Fault: fault}
}

func TestClassify(t *testing.T) {
	p := &Provider{}

	tests := []struct {
		name string
		err  error
		want provider.ErrorClass
	}{
		{"throttling", apiError("ThrottlingException", smithy.FaultClient), provider.Transient},
		{"request limit", apiError("RequestLimitExceeded", smithy.FaultClient), provider.Transient},
		{"slow down", apiError("SlowDown", smithy.FaultServer), provider.Transient},
		{"server fault", apiError("SomethingInternal", smithy.FaultServer), provider.Transient},
		{"access denied", apiError("AccessDeniedException", smithy.FaultClient), provider.Fatal},
		{"validation", apiError("ValidationException", smithy.FaultClient), provider.Fatal},
		{"wrapped throttle", fmt.Errorf("create failed: %w", apiError("Throttling", smithy.FaultClient)), provider.Transient},
		{"connection reset", errors.New("read tcp: connection reset by peer"), provider.Transient},
		{"io timeout", errors.New("dial tcp: i/o timeout"), provider.Transient},
		{"plain failure", errors.New("invalid cidr block"), provider.Fatal},
		{"nil", nil, provider.Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.err))
		})
	}
}

func TestSchema(t *testing.T) {
	p := &Provider{}

	s, err := p.Schema(KindVpc)
	require.NoError(t, err)
	assert.Contains(t, s.ForcesReplacement, "cidrBlock")

	s, err = p.Schema(KindWorkgroup)
	require.NoError(t, err)
	assert.Contains(t, s.ForcesReplacement, "namespaceName")

	// A new revision replaces nothing; updates register the next revision.
	s, err = p.Schema(KindJobDefinition)
	require.NoError(t, err)
	assert.Empty(t, s.ForcesReplacement)

	_, err = p.Schema("Unknown.Kind")
	assert.ErrorIs(t, err, provider.ErrUnknownKind)
}

func TestOperationsRejectUnknownKind(t *testing.T) {
	p := &Provider{}
	ctx := context.Background()

	_, err := p.Create(ctx, "Unknown.Kind", nil)
	assert.ErrorIs(t, err, provider.ErrUnknownKind)
	_, err = p.Update(ctx, "Unknown.Kind", "id", nil)
	assert.ErrorIs(t, err, provider.ErrUnknownKind)
	err = p.Destroy(ctx, "Unknown.Kind", "id")
	assert.ErrorIs(t, err, provider.ErrUnknownKind)
}

func TestDecodeAttrs(t *testing.T) {
	var cfg VpcConfig
	err := decodeAttrs(map[string]any{
		"cidrBlock":        "10.0.0.0/16",
		"enableDnsSupport": true,
		"tags":             map[string]any{"env": "prod"},
	}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/16", cfg.CidrBlock)
	assert.True(t, cfg.EnableDnsSupport)
	assert.Equal(t, "prod", cfg.Tags["env"])
}
