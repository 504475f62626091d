package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

type VpcConfig struct {
	CidrBlock          string            `json:"cidrBlock"`
	EnableDnsSupport   bool              `json:"enableDnsSupport"`
	EnableDnsHostnames bool              `json:"enableDnsHostnames"`
	Tags               map[string]string `json:"tags"`
}

type SubnetConfig struct {
	VpcID               string            `json:"vpcId"`
	CidrBlock           string            `json:"cidrBlock"`
	AvailabilityZone    string            `json:"availabilityZone"`
	MapPublicIpOnLaunch bool              `json:"mapPublicIpOnLaunch"`
	Tags                map[string]string `json:"tags"`
}

type SecurityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpcId"`
	Ingress     []SecurityGroupRule `json:"ingress"`
	Egress      []SecurityGroupRule `json:"egress"`
	Tags        map[string]string   `json:"tags"`
}

type SecurityGroupRule struct {
	FromPort   int32    `json:"fromPort"`
	ToPort     int32    `json:"toPort"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidrBlocks"`
}

func (p *Provider) createVpc(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg VpcConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: &cfg.CidrBlock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC: %w", err)
	}
	vpcID := *resp.Vpc.VpcId

	if cfg.EnableDnsSupport {
		_, _ = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            &vpcID,
			EnableDnsSupport: &types.AttributeBooleanValue{Value: &cfg.EnableDnsSupport},
		})
	}
	if cfg.EnableDnsHostnames {
		_, _ = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              &vpcID,
			EnableDnsHostnames: &types.AttributeBooleanValue{Value: &cfg.EnableDnsHostnames},
		})
	}
	p.tagResources(ctx, cfg.Tags, vpcID)

	return map[string]any{
		"id":        vpcID,
		"arn":       fmt.Sprintf("arn:aws:ec2:::vpc/%s", vpcID),
		"cidrBlock": *resp.Vpc.CidrBlock,
	}, nil
}

func (p *Provider) updateVpc(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg VpcConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	_, err := p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:            &id,
		EnableDnsSupport: &types.AttributeBooleanValue{Value: &cfg.EnableDnsSupport},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to modify VPC: %w", err)
	}
	_, err = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              &id,
		EnableDnsHostnames: &types.AttributeBooleanValue{Value: &cfg.EnableDnsHostnames},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to modify VPC: %w", err)
	}
	p.tagResources(ctx, cfg.Tags, id)

	return map[string]any{
		"id":        id,
		"arn":       fmt.Sprintf("arn:aws:ec2:::vpc/%s", id),
		"cidrBlock": cfg.CidrBlock,
	}, nil
}

func (p *Provider) destroyVpc(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: &id})
	if err != nil {
		return fmt.Errorf("failed to delete VPC: %w", err)
	}
	return nil
}

func (p *Provider) createSubnet(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg SubnetConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	input := &ec2.CreateSubnetInput{
		VpcId:     &cfg.VpcID,
		CidrBlock: &cfg.CidrBlock,
	}
	if cfg.AvailabilityZone != "" {
		input.AvailabilityZone = &cfg.AvailabilityZone
	}
	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet: %w", err)
	}
	subnetID := *resp.Subnet.SubnetId

	if cfg.MapPublicIpOnLaunch {
		_, _ = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            &subnetID,
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: &cfg.MapPublicIpOnLaunch},
		})
	}
	p.tagResources(ctx, cfg.Tags, subnetID)

	return map[string]any{
		"id":               subnetID,
		"vpcId":            cfg.VpcID,
		"availabilityZone": deref(resp.Subnet.AvailabilityZone),
	}, nil
}

func (p *Provider) updateSubnet(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg SubnetConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	_, err := p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
		SubnetId:            &id,
		MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: &cfg.MapPublicIpOnLaunch},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to modify subnet: %w", err)
	}
	p.tagResources(ctx, cfg.Tags, id)

	return map[string]any{
		"id":               id,
		"vpcId":            cfg.VpcID,
		"availabilityZone": cfg.AvailabilityZone,
	}, nil
}

func (p *Provider) destroySubnet(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: &id})
	if err != nil {
		return fmt.Errorf("failed to delete subnet: %w", err)
	}
	return nil
}

func (p *Provider) createSecurityGroup(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	var cfg SecurityGroupConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}
	if cfg.Description == "" {
		cfg.Description = "Managed by stackform"
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   &cfg.Name,
		Description: &cfg.Description,
		VpcId:       &cfg.VpcID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create security group: %w", err)
	}
	groupID := *resp.GroupId

	if err := p.authorizeRules(ctx, groupID, cfg.Ingress, cfg.Egress); err != nil {
		return nil, err
	}
	p.tagResources(ctx, cfg.Tags, groupID)

	return map[string]any{
		"id":    groupID,
		"name":  cfg.Name,
		"vpcId": cfg.VpcID,
	}, nil
}

// updateSecurityGroup reconciles rules by revoking everything currently
// authorized and re-authorizing the desired set. Coarse but convergent.
func (p *Provider) updateSecurityGroup(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	var cfg SecurityGroupConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	desc, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{id},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe security group: %w", err)
	}
	if len(desc.SecurityGroups) == 1 {
		current := desc.SecurityGroups[0]
		if len(current.IpPermissions) > 0 {
			_, err = p.ec2Client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
				GroupId:       &id,
				IpPermissions: current.IpPermissions,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to revoke ingress rules: %w", err)
			}
		}
		if len(current.IpPermissionsEgress) > 0 {
			_, err = p.ec2Client.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
				GroupId:       &id,
				IpPermissions: current.IpPermissionsEgress,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to revoke egress rules: %w", err)
			}
		}
	}

	if err := p.authorizeRules(ctx, id, cfg.Ingress, cfg.Egress); err != nil {
		return nil, err
	}
	p.tagResources(ctx, cfg.Tags, id)

	return map[string]any{
		"id":    id,
		"name":  cfg.Name,
		"vpcId": cfg.VpcID,
	}, nil
}

func (p *Provider) destroySecurityGroup(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: &id})
	if err != nil {
		return fmt.Errorf("failed to delete security group: %w", err)
	}
	return nil
}

func (p *Provider) authorizeRules(ctx context.Context, groupID string, ingress, egress []SecurityGroupRule) error {
	if len(ingress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       &groupID,
			IpPermissions: ipPermissions(ingress),
		})
		if err != nil {
			return fmt.Errorf("failed to authorize ingress rules: %w", err)
		}
	}
	if len(egress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       &groupID,
			IpPermissions: ipPermissions(egress),
		})
		if err != nil {
			return fmt.Errorf("failed to authorize egress rules: %w", err)
		}
	}
	return nil
}

func ipPermissions(rules []SecurityGroupRule) []types.IpPermission {
	var perms []types.IpPermission
	for _, r := range rules {
		rule := r
		var ranges []types.IpRange
		for _, cidr := range rule.CidrBlocks {
			block := cidr
			ranges = append(ranges, types.IpRange{CidrIp: &block})
		}
		perms = append(perms, types.IpPermission{
			FromPort:   &rule.FromPort,
			ToPort:     &rule.ToPort,
			IpProtocol: &rule.Protocol,
			IpRanges:   ranges,
		})
	}
	return perms
}

func (p *Provider) tagResources(ctx context.Context, tagMap map[string]string, ids ...string) {
	if len(tagMap) == 0 {
		return
	}
	var tags []types.Tag
	for k, v := range tagMap {
		key, value := k, v
		tags = append(tags, types.Tag{Key: &key, Value: &value})
	}
	_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: ids,
		Tags:      tags,
	})
}

// deref unwraps an SDK string pointer for output maps.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
