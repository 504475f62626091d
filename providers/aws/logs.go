package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

type LogGroupConfig struct {
	Name            string `json:"name"`
	RetentionInDays int32  `json:"retentionInDays"`
	KmsKeyID        string `json:"kmsKeyId"`
}

func (p *Provider) createLogGroup(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg LogGroupConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	input := &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: &cfg.Name,
	}
	if cfg.KmsKeyID != "" {
		input.KmsKeyId = &cfg.KmsKeyID
	}
	if _, err := p.logsClient.CreateLogGroup(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to create log group: %w", err)
	}

	if cfg.RetentionInDays > 0 {
		_, err := p.logsClient.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    &cfg.Name,
			RetentionInDays: &cfg.RetentionInDays,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set retention policy: %w", err)
		}
	}

	return p.logGroupOutputs(ctx, cfg.Name)
}

func (p *Provider) updateLogGroup(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg LogGroupConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	if cfg.RetentionInDays > 0 {
		_, err := p.logsClient.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    &id,
			RetentionInDays: &cfg.RetentionInDays,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set retention policy: %w", err)
		}
	} else {
		_, err := p.logsClient.DeleteRetentionPolicy(ctx, &cloudwatchlogs.DeleteRetentionPolicyInput{
			LogGroupName: &id,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to clear retention policy: %w", err)
		}
	}

	return p.logGroupOutputs(ctx, id)
}

func (p *Provider) destroyLogGroup(ctx context.Context, id string) error {
	_, err := p.logsClient.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
		LogGroupName: &id,
	})
	if err != nil {
		return fmt.Errorf("failed to delete log group: %w", err)
	}
	return nil
}

func (p *Provider) logGroupOutputs(ctx context.Context, name string) (map[string]any, error) {
	outputs := map[string]any{
		"id":   name,
		"name": name,
	}
	desc, err := p.logsClient.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: &name,
	})
	if err != nil {
		return outputs, nil
	}
	for _, group := range desc.LogGroups {
		if group.LogGroupName != nil && *group.LogGroupName == name {
			outputs["arn"] = deref(group.Arn)
			break
		}
	}
	return outputs, nil
}
