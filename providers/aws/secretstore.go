package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type SecretConfig struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	KmsKeyID     string `json:"kmsKeyId"`
	SecretString string `json:"secretString"`
}

func (p *Provider) createSecret(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg SecretConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	input := &secretsmanager.CreateSecretInput{
		Name: &cfg.Name,
	}
	if cfg.Description != "" {
		input.Description = &cfg.Description
	}
	if cfg.KmsKeyID != "" {
		input.KmsKeyId = &cfg.KmsKeyID
	}
	if cfg.SecretString != "" {
		input.SecretString = &cfg.SecretString
	}

	resp, err := p.secretsmanagerClient.CreateSecret(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret: %w", err)
	}

	outputs := map[string]any{
		"id":   *resp.ARN,
		"arn":  *resp.ARN,
		"name": *resp.Name,
	}
	if resp.VersionId != nil {
		outputs["versionId"] = *resp.VersionId
	}
	return outputs, nil
}

func (p *Provider) updateSecret(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg SecretConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	input := &secretsmanager.UpdateSecretInput{
		SecretId: &id,
	}
	if cfg.Description != "" {
		input.Description = &cfg.Description
	}
	if cfg.KmsKeyID != "" {
		input.KmsKeyId = &cfg.KmsKeyID
	}
	resp, err := p.secretsmanagerClient.UpdateSecret(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to update secret: %w", err)
	}

	outputs := map[string]any{
		"id":   *resp.ARN,
		"arn":  *resp.ARN,
		"name": *resp.Name,
	}
	if cfg.SecretString != "" {
		put, err := p.secretsmanagerClient.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     &id,
			SecretString: &cfg.SecretString,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to put secret value: %w", err)
		}
		outputs["versionId"] = *put.VersionId
	}
	return outputs, nil
}

func (p *Provider) destroySecret(ctx context.Context, id string) error {
	force := true
	_, err := p.secretsmanagerClient.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   &id,
		ForceDeleteWithoutRecovery: &force,
	})
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// SecretSource reads secret material for input resolution. A path names a
// Secrets Manager secret whose string value is a flat JSON object of keys.
type SecretSource struct {
	client *secretsmanager.Client
}

func NewSecretSource(p *Provider) *SecretSource {
	return &SecretSource{client: p.secretsmanagerClient}
}

func (s *SecretSource) Fetch(ctx context.Context, path string) (map[string]string, error) {
	resp, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %q: %w", path, err)
	}
	if resp.SecretString == nil {
		return nil, fmt.Errorf("secret %q has no string value", path)
	}

	values := make(map[string]string)
	if err := json.Unmarshal([]byte(*resp.SecretString), &values); err != nil {
		return nil, fmt.Errorf("secret %q is not a JSON object of string keys: %w", path, err)
	}
	return values, nil
}
