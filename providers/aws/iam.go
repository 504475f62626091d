package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/iam"
)

type RoleConfig struct {
	Name                     string   `json:"name"`
	Description              string   `json:"description"`
	AssumeRolePolicyDocument string   `json:"assumeRolePolicyDocument"`
	ManagedPolicyArns        []string `json:"managedPolicyArns"`
}

func (p *Provider) createRole(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg RoleConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	input := &iam.CreateRoleInput{
		RoleName:                 &cfg.Name,
		AssumeRolePolicyDocument: &cfg.AssumeRolePolicyDocument,
	}
	if cfg.Description != "" {
		input.Description = &cfg.Description
	}

	resp, err := p.iamClient.CreateRole(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	for _, policyArn := range cfg.ManagedPolicyArns {
		arn := policyArn
		_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  &cfg.Name,
			PolicyArn: &arn,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach policy %s: %w", policyArn, err)
		}
	}

	return map[string]any{
		"id":   *resp.Role.RoleName,
		"arn":  *resp.Role.Arn,
		"name": *resp.Role.RoleName,
	}, nil
}

func (p *Provider) updateRole(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg RoleConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	if cfg.AssumeRolePolicyDocument != "" {
		_, err := p.iamClient.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       &id,
			PolicyDocument: &cfg.AssumeRolePolicyDocument,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update assume role policy: %w", err)
		}
	}

	attached, err := p.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: &id,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attached policies: %w", err)
	}

	desired := make(map[string]bool, len(cfg.ManagedPolicyArns))
	for _, arn := range cfg.ManagedPolicyArns {
		desired[arn] = true
	}
	current := make(map[string]bool, len(attached.AttachedPolicies))
	for _, policy := range attached.AttachedPolicies {
		arn := *policy.PolicyArn
		current[arn] = true
		if !desired[arn] {
			_, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
				RoleName:  &id,
				PolicyArn: policy.PolicyArn,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to detach policy %s: %w", arn, err)
			}
		}
	}
	for _, policyArn := range cfg.ManagedPolicyArns {
		if current[policyArn] {
			continue
		}
		arn := policyArn
		_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  &id,
			PolicyArn: &arn,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach policy %s: %w", policyArn, err)
		}
	}

	role, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: &id})
	if err != nil {
		return nil, fmt.Errorf("failed to read role: %w", err)
	}

	return map[string]any{
		"id":   *role.Role.RoleName,
		"arn":  *role.Role.Arn,
		"name": *role.Role.RoleName,
	}, nil
}

func (p *Provider) destroyRole(ctx context.Context, id string) error {
	attached, err := p.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: &id,
	})
	if err != nil {
		return fmt.Errorf("failed to list attached policies: %w", err)
	}
	for _, policy := range attached.AttachedPolicies {
		_, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  &id,
			PolicyArn: policy.PolicyArn,
		})
		if err != nil {
			return fmt.Errorf("failed to detach policy %s: %w", *policy.PolicyArn, err)
		}
	}

	_, err = p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: &id})
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}
