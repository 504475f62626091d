package aws

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

type ComputeEnvironmentConfig struct {
	Name             string   `json:"name"`
	ServiceRoleArn   string   `json:"serviceRoleArn"`
	MaxVCpus         int32    `json:"maxVCpus"`
	SubnetIDs        []string `json:"subnetIds"`
	SecurityGroupIDs []string `json:"securityGroupIds"`
}

type JobQueueConfig struct {
	Name                  string `json:"name"`
	Priority              int32  `json:"priority"`
	ComputeEnvironmentArn string `json:"computeEnvironmentArn"`
}

type JobDefinitionConfig struct {
	Name             string            `json:"name"`
	Image            string            `json:"image"`
	VCpus            string            `json:"vcpus"`
	Memory           string            `json:"memory"`
	JobRoleArn       string            `json:"jobRoleArn"`
	ExecutionRoleArn string            `json:"executionRoleArn"`
	Command          []string          `json:"command"`
	Environment      map[string]string `json:"environment"`
	LogGroupName     string            `json:"logGroupName"`
	AssignPublicIp   bool              `json:"assignPublicIp"`
}

func (p *Provider) createComputeEnvironment(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg ComputeEnvironmentConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxVCpus == 0 {
		cfg.MaxVCpus = 4
	}

	input := &batch.CreateComputeEnvironmentInput{
		ComputeEnvironmentName: &cfg.Name,
		Type:                   types.CETypeManaged,
		State:                  types.CEStateEnabled,
		ComputeResources: &types.ComputeResource{
			Type:             types.CRTypeFargate,
			MaxvCpus:         &cfg.MaxVCpus,
			Subnets:          cfg.SubnetIDs,
			SecurityGroupIds: cfg.SecurityGroupIDs,
		},
	}
	if cfg.ServiceRoleArn != "" {
		input.ServiceRole = &cfg.ServiceRoleArn
	}

	resp, err := p.batchClient.CreateComputeEnvironment(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute environment: %w", err)
	}

	return map[string]any{
		"id":   *resp.ComputeEnvironmentArn,
		"arn":  *resp.ComputeEnvironmentArn,
		"name": *resp.ComputeEnvironmentName,
	}, nil
}

func (p *Provider) updateComputeEnvironment(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg ComputeEnvironmentConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	input := &batch.UpdateComputeEnvironmentInput{
		ComputeEnvironment: &id,
		State:              types.CEStateEnabled,
	}
	if cfg.MaxVCpus > 0 || len(cfg.SecurityGroupIDs) > 0 {
		update := &types.ComputeResourceUpdate{}
		if cfg.MaxVCpus > 0 {
			update.MaxvCpus = &cfg.MaxVCpus
		}
		if len(cfg.SecurityGroupIDs) > 0 {
			update.SecurityGroupIds = cfg.SecurityGroupIDs
		}
		input.ComputeResources = update
	}

	resp, err := p.batchClient.UpdateComputeEnvironment(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to update compute environment: %w", err)
	}

	return map[string]any{
		"id":   *resp.ComputeEnvironmentArn,
		"arn":  *resp.ComputeEnvironmentArn,
		"name": *resp.ComputeEnvironmentName,
	}, nil
}

func (p *Provider) destroyComputeEnvironment(ctx context.Context, id string) error {
	// Batch refuses to delete an enabled compute environment.
	_, err := p.batchClient.UpdateComputeEnvironment(ctx, &batch.UpdateComputeEnvironmentInput{
		ComputeEnvironment: &id,
		State:              types.CEStateDisabled,
	})
	if err != nil {
		return fmt.Errorf("failed to disable compute environment: %w", err)
	}
	_, err = p.batchClient.DeleteComputeEnvironment(ctx, &batch.DeleteComputeEnvironmentInput{
		ComputeEnvironment: &id,
	})
	if err != nil {
		return fmt.Errorf("failed to delete compute environment: %w", err)
	}
	return nil
}

func (p *Provider) createJobQueue(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg JobQueueConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}
	if cfg.Priority == 0 {
		cfg.Priority = 1
	}
	order := int32(1)

	resp, err := p.batchClient.CreateJobQueue(ctx, &batch.CreateJobQueueInput{
		JobQueueName: &cfg.Name,
		Priority:     &cfg.Priority,
		State:        types.JQStateEnabled,
		ComputeEnvironmentOrder: []types.ComputeEnvironmentOrder{
			{Order: &order, ComputeEnvironment: &cfg.ComputeEnvironmentArn},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue: %w", err)
	}

	return map[string]any{
		"id":   *resp.JobQueueArn,
		"arn":  *resp.JobQueueArn,
		"name": *resp.JobQueueName,
	}, nil
}

func (p *Provider) updateJobQueue(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg JobQueueConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}
	if cfg.Priority == 0 {
		cfg.Priority = 1
	}
	order := int32(1)

	resp, err := p.batchClient.UpdateJobQueue(ctx, &batch.UpdateJobQueueInput{
		JobQueue: &id,
		Priority: &cfg.Priority,
		State:    types.JQStateEnabled,
		ComputeEnvironmentOrder: []types.ComputeEnvironmentOrder{
			{Order: &order, ComputeEnvironment: &cfg.ComputeEnvironmentArn},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update job queue: %w", err)
	}

	return map[string]any{
		"id":   *resp.JobQueueArn,
		"arn":  *resp.JobQueueArn,
		"name": cfg.Name,
	}, nil
}

func (p *Provider) destroyJobQueue(ctx context.Context, id string) error {
	_, err := p.batchClient.UpdateJobQueue(ctx, &batch.UpdateJobQueueInput{
		JobQueue: &id,
		State:    types.JQStateDisabled,
	})
	if err != nil {
		return fmt.Errorf("failed to disable job queue: %w", err)
	}
	_, err = p.batchClient.DeleteJobQueue(ctx, &batch.DeleteJobQueueInput{
		JobQueue: &id,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job queue: %w", err)
	}
	return nil
}

func (p *Provider) registerJobDefinition(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg JobDefinitionConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}
	if cfg.VCpus == "" {
		cfg.VCpus = "0.25"
	}
	if cfg.Memory == "" {
		cfg.Memory = "512"
	}

	container := &types.ContainerProperties{
		Image: &cfg.Image,
		ResourceRequirements: []types.ResourceRequirement{
			{Type: types.ResourceTypeVcpu, Value: &cfg.VCpus},
			{Type: types.ResourceTypeMemory, Value: &cfg.Memory},
		},
	}
	if cfg.JobRoleArn != "" {
		container.JobRoleArn = &cfg.JobRoleArn
	}
	if cfg.ExecutionRoleArn != "" {
		container.ExecutionRoleArn = &cfg.ExecutionRoleArn
	}
	if len(cfg.Command) > 0 {
		container.Command = cfg.Command
	}
	for k, v := range cfg.Environment {
		key, value := k, v
		container.Environment = append(container.Environment, types.KeyValuePair{
			Name:  &key,
			Value: &value,
		})
	}
	if cfg.LogGroupName != "" {
		container.LogConfiguration = &types.LogConfiguration{
			LogDriver: types.LogDriverAwslogs,
			Options:   map[string]string{"awslogs-group": cfg.LogGroupName},
		}
	}
	if cfg.AssignPublicIp {
		container.NetworkConfiguration = &types.NetworkConfiguration{
			AssignPublicIp: types.AssignPublicIpEnabled,
		}
	}

	resp, err := p.batchClient.RegisterJobDefinition(ctx, &batch.RegisterJobDefinitionInput{
		JobDefinitionName:    &cfg.Name,
		Type:                 types.JobDefinitionTypeContainer,
		PlatformCapabilities: []types.PlatformCapability{types.PlatformCapabilityFargate},
		ContainerProperties:  container,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register job definition: %w", err)
	}

	return map[string]any{
		"id":       *resp.JobDefinitionArn,
		"arn":      *resp.JobDefinitionArn,
		"name":     *resp.JobDefinitionName,
		"revision": strconv.Itoa(int(*resp.Revision)),
	}, nil
}

func (p *Provider) deregisterJobDefinition(ctx context.Context, id string) error {
	_, err := p.batchClient.DeregisterJobDefinition(ctx, &batch.DeregisterJobDefinitionInput{
		JobDefinition: &id,
	})
	if err != nil {
		return fmt.Errorf("failed to deregister job definition: %w", err)
	}
	return nil
}
