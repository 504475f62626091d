package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

type RepositoryConfig struct {
	RepositoryName     string `json:"repositoryName"`
	ImageTagMutability string `json:"imageTagMutability"`
	ScanOnPush         bool   `json:"scanOnPush"`
}

func (p *Provider) createRepository(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg RepositoryConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}
	if cfg.ImageTagMutability == "" {
		cfg.ImageTagMutability = string(types.ImageTagMutabilityMutable)
	}

	resp, err := p.ecrClient.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName:     &cfg.RepositoryName,
		ImageTagMutability: types.ImageTagMutability(cfg.ImageTagMutability),
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: cfg.ScanOnPush,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	return map[string]any{
		"id":            *resp.Repository.RepositoryName,
		"arn":           *resp.Repository.RepositoryArn,
		"repositoryUri": *resp.Repository.RepositoryUri,
	}, nil
}

func (p *Provider) updateRepository(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg RepositoryConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	if cfg.ImageTagMutability != "" {
		_, err := p.ecrClient.PutImageTagMutability(ctx, &ecr.PutImageTagMutabilityInput{
			RepositoryName:     &id,
			ImageTagMutability: types.ImageTagMutability(cfg.ImageTagMutability),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set image tag mutability: %w", err)
		}
	}
	_, err := p.ecrClient.PutImageScanningConfiguration(ctx, &ecr.PutImageScanningConfigurationInput{
		RepositoryName: &id,
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: cfg.ScanOnPush,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set scanning configuration: %w", err)
	}

	desc, err := p.ecrClient.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{id},
	})
	if err != nil || len(desc.Repositories) == 0 {
		return map[string]any{"id": id}, nil
	}
	repo := desc.Repositories[0]

	return map[string]any{
		"id":            *repo.RepositoryName,
		"arn":           *repo.RepositoryArn,
		"repositoryUri": *repo.RepositoryUri,
	}, nil
}

func (p *Provider) destroyRepository(ctx context.Context, id string) error {
	// Force delete clears remaining images along with the repository.
	_, err := p.ecrClient.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: &id,
		Force:          true,
	})
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	return nil
}
