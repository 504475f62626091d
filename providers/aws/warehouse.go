package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/redshiftserverless"
	"github.com/aws/aws-sdk-go-v2/service/redshiftserverless/types"
)

type NamespaceConfig struct {
	NamespaceName     string   `json:"namespaceName"`
	DbName            string   `json:"dbName"`
	AdminUsername     string   `json:"adminUsername"`
	AdminUserPassword string   `json:"adminUserPassword"`
	IamRoles          []string `json:"iamRoles"`
	KmsKeyID          string   `json:"kmsKeyId"`
}

type WorkgroupConfig struct {
	WorkgroupName      string   `json:"workgroupName"`
	NamespaceName      string   `json:"namespaceName"`
	BaseCapacity       int32    `json:"baseCapacity"`
	PubliclyAccessible bool     `json:"publiclyAccessible"`
	SubnetIDs          []string `json:"subnetIds"`
	SecurityGroupIDs   []string `json:"securityGroupIds"`
}

func (p *Provider) createNamespace(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg NamespaceConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	input := &redshiftserverless.CreateNamespaceInput{
		NamespaceName: &cfg.NamespaceName,
	}
	if cfg.DbName != "" {
		input.DbName = &cfg.DbName
	}
	if cfg.AdminUsername != "" {
		input.AdminUsername = &cfg.AdminUsername
		input.AdminUserPassword = &cfg.AdminUserPassword
	}
	if len(cfg.IamRoles) > 0 {
		input.IamRoles = cfg.IamRoles
	}
	if cfg.KmsKeyID != "" {
		input.KmsKeyId = &cfg.KmsKeyID
	}

	resp, err := p.redshiftClient.CreateNamespace(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace: %w", err)
	}

	return map[string]any{
		"id":   *resp.Namespace.NamespaceName,
		"arn":  *resp.Namespace.NamespaceArn,
		"name": *resp.Namespace.NamespaceName,
	}, nil
}

func (p *Provider) updateNamespace(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg NamespaceConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	input := &redshiftserverless.UpdateNamespaceInput{
		NamespaceName: &id,
	}
	if cfg.AdminUsername != "" {
		input.AdminUsername = &cfg.AdminUsername
		input.AdminUserPassword = &cfg.AdminUserPassword
	}
	if len(cfg.IamRoles) > 0 {
		input.IamRoles = cfg.IamRoles
	}
	if cfg.KmsKeyID != "" {
		input.KmsKeyId = &cfg.KmsKeyID
	}

	resp, err := p.redshiftClient.UpdateNamespace(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to update namespace: %w", err)
	}

	return map[string]any{
		"id":   *resp.Namespace.NamespaceName,
		"arn":  *resp.Namespace.NamespaceArn,
		"name": *resp.Namespace.NamespaceName,
	}, nil
}

func (p *Provider) destroyNamespace(ctx context.Context, id string) error {
	_, err := p.redshiftClient.DeleteNamespace(ctx, &redshiftserverless.DeleteNamespaceInput{
		NamespaceName: &id,
	})
	if err != nil {
		return fmt.Errorf("failed to delete namespace: %w", err)
	}
	return nil
}

func (p *Provider) createWorkgroup(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg WorkgroupConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	input := &redshiftserverless.CreateWorkgroupInput{
		WorkgroupName:      &cfg.WorkgroupName,
		NamespaceName:      &cfg.NamespaceName,
		PubliclyAccessible: &cfg.PubliclyAccessible,
	}
	if cfg.BaseCapacity > 0 {
		input.BaseCapacity = &cfg.BaseCapacity
	}
	if len(cfg.SubnetIDs) > 0 {
		input.SubnetIds = cfg.SubnetIDs
	}
	if len(cfg.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = cfg.SecurityGroupIDs
	}

	resp, err := p.redshiftClient.CreateWorkgroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create workgroup: %w", err)
	}

	return workgroupOutputs(resp.Workgroup.WorkgroupName, resp.Workgroup.WorkgroupArn, resp.Workgroup.Endpoint), nil
}

func (p *Provider) updateWorkgroup(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg WorkgroupConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	input := &redshiftserverless.UpdateWorkgroupInput{
		WorkgroupName:      &id,
		PubliclyAccessible: &cfg.PubliclyAccessible,
	}
	if cfg.BaseCapacity > 0 {
		input.BaseCapacity = &cfg.BaseCapacity
	}
	if len(cfg.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = cfg.SecurityGroupIDs
	}

	resp, err := p.redshiftClient.UpdateWorkgroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to update workgroup: %w", err)
	}

	return workgroupOutputs(resp.Workgroup.WorkgroupName, resp.Workgroup.WorkgroupArn, resp.Workgroup.Endpoint), nil
}

func (p *Provider) destroyWorkgroup(ctx context.Context, id string) error {
	_, err := p.redshiftClient.DeleteWorkgroup(ctx, &redshiftserverless.DeleteWorkgroupInput{
		WorkgroupName: &id,
	})
	if err != nil {
		return fmt.Errorf("failed to delete workgroup: %w", err)
	}
	return nil
}

func workgroupOutputs(name, arn *string, endpoint *types.Endpoint) map[string]any {
	outputs := map[string]any{
		"id":   deref(name),
		"arn":  deref(arn),
		"name": deref(name),
	}
	if endpoint != nil {
		if endpoint.Address != nil {
			outputs["endpoint"] = *endpoint.Address
		}
		if endpoint.Port != nil {
			outputs["port"] = *endpoint.Port
		}
	}
	return outputs
}
