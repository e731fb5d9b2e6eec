package aws

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2Types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/Sheefali07/PerfKitBenchmarker/provider"
)

const networkTagKey = "perfkitbenchmarker-network"

// One VPC per zone, with a subnet, an internet gateway, a default route,
// and a security group. Resources are found again by tag, so a handle
// rebuilt from a snapshot can still tear them down.
type network struct {
	project string
	zone    string

	vpcID    *string
	subnetID *string
	igwID    *string
	sgID     *string
}

func newNetwork(project, zone string) provider.Network {
	return &network{project: project, zone: zone}
}

func (n *network) Zone() string {
	return n.zone
}

func (n *network) tagValue() string {
	return n.zone
}

func (n *network) tagSpec(rt ec2Types.ResourceType) []ec2Types.TagSpecification {
	return []ec2Types.TagSpecification{{
		ResourceType: rt,
		Tags: []ec2Types.Tag{
			{Key: aws.String(networkTagKey), Value: aws.String(n.tagValue())},
			{Key: aws.String("Name"), Value: aws.String("pkb-network-" + n.zone)},
		},
	}}
}

func (n *network) Create() error {
	c, err := client(zoneRegion(n.zone))
	if err != nil {
		return err
	}
	ctx := context.Background()

	cidr := aws.String("10.0.0.0/16")
	vpc, err := c.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         cidr,
		TagSpecifications: n.tagSpec(ec2Types.ResourceTypeVpc),
	})
	if err != nil {
		return fmt.Errorf("creating VPC: %w", err)
	}
	n.vpcID = vpc.Vpc.VpcId
	slog.Debug("created VPC", slog.String("ID", *n.vpcID), slog.String("zone", n.zone))

	// DNS support and hostnames must be enabled in two requests.
	_, err = c.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:            n.vpcID,
		EnableDnsSupport: &ec2Types.AttributeBooleanValue{Value: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("enabling VPC DNS support: %w", err)
	}
	_, err = c.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              n.vpcID,
		EnableDnsHostnames: &ec2Types.AttributeBooleanValue{Value: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("enabling VPC DNS hostnames: %w", err)
	}

	subnet, err := c.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:             n.vpcID,
		CidrBlock:         cidr,
		AvailabilityZone:  aws.String(n.zone),
		TagSpecifications: n.tagSpec(ec2Types.ResourceTypeSubnet),
	})
	if err != nil {
		return fmt.Errorf("creating subnet: %w", err)
	}
	n.subnetID = subnet.Subnet.SubnetId

	igw, err := c.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: n.tagSpec(ec2Types.ResourceTypeInternetGateway),
	})
	if err != nil {
		return fmt.Errorf("creating internet gateway: %w", err)
	}
	n.igwID = igw.InternetGateway.InternetGatewayId
	_, err = c.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: n.igwID,
		VpcId:             n.vpcID,
	})
	if err != nil {
		return fmt.Errorf("attaching internet gateway: %w", err)
	}

	// The VPC comes with a main route table so we don't make one.
	routeTables, err := c.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2Types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{*n.vpcID}},
		},
	})
	if err != nil {
		return fmt.Errorf("finding route table: %w", err)
	}
	_, err = c.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         routeTables.RouteTables[0].RouteTableId,
		DestinationCidrBlock: aws.String("0.0.0.0/0"),
		GatewayId:            n.igwID,
	})
	if err != nil {
		return fmt.Errorf("creating default route: %w", err)
	}

	sg, err := c.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String("pkb-sg-" + n.zone),
		Description:       aws.String("perfkitbenchmarker"),
		VpcId:             n.vpcID,
		TagSpecifications: n.tagSpec(ec2Types.ResourceTypeSecurityGroup),
	})
	if err != nil {
		return fmt.Errorf("creating security group: %w", err)
	}
	n.sgID = sg.GroupId
	slog.Debug("created network", slog.String("zone", n.zone), slog.String("vpc", *n.vpcID))
	return nil
}

func (n *network) Exists() (bool, error) {
	vpcID, err := n.findVpc()
	if err != nil {
		return false, err
	}
	return vpcID != nil, nil
}

// Delete tears down in reverse dependency order. Every step is attempted;
// the first failure is reported after the rest have run.
func (n *network) Delete() error {
	c, err := client(zoneRegion(n.zone))
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := n.discover(); err != nil {
		return err
	}
	if n.vpcID == nil {
		return nil
	}

	var firstErr error
	keep := func(step string, err error) {
		if err == nil {
			return
		}
		slog.Error("network teardown step failed, continuing",
			slog.String("zone", n.zone), slog.String("step", step), slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step, err)
		}
	}

	if n.sgID != nil {
		_, err := c.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: n.sgID})
		keep("DeleteSecurityGroup", err)
	}
	if n.igwID != nil {
		_, err := c.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: n.igwID,
			VpcId:             n.vpcID,
		})
		keep("DetachInternetGateway", err)
		_, err = c.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: n.igwID})
		keep("DeleteInternetGateway", err)
	}
	if n.subnetID != nil {
		_, err := c.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: n.subnetID})
		keep("DeleteSubnet", err)
	}
	_, err = c.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: n.vpcID})
	keep("DeleteVpc", err)
	return firstErr
}

func (n *network) findVpc() (*string, error) {
	c, err := client(zoneRegion(n.zone))
	if err != nil {
		return nil, err
	}
	vpcs, err := c.DescribeVpcs(context.Background(), &ec2.DescribeVpcsInput{
		Filters: []ec2Types.Filter{
			{Name: aws.String("tag:" + networkTagKey), Values: []string{n.tagValue()}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("describing VPCs: %w", err)
	}
	if len(vpcs.Vpcs) == 0 {
		return nil, nil
	}
	return vpcs.Vpcs[0].VpcId, nil
}

// discover refreshes resource IDs by tag so snapshot-rebuilt handles can
// tear down resources created by an earlier invocation.
func (n *network) discover() error {
	vpcID, err := n.findVpc()
	if err != nil {
		return err
	}
	n.vpcID = vpcID
	if vpcID == nil {
		return nil
	}
	c, err := client(zoneRegion(n.zone))
	if err != nil {
		return err
	}
	ctx := context.Background()
	byVpc := []ec2Types.Filter{{Name: aws.String("vpc-id"), Values: []string{*vpcID}}}

	subnets, err := c.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{Filters: byVpc})
	if err != nil {
		return fmt.Errorf("describing subnets: %w", err)
	}
	if len(subnets.Subnets) > 0 {
		n.subnetID = subnets.Subnets[0].SubnetId
	}

	igws, err := c.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2Types.Filter{
			{Name: aws.String("attachment.vpc-id"), Values: []string{*vpcID}},
		},
	})
	if err != nil {
		return fmt.Errorf("describing internet gateways: %w", err)
	}
	if len(igws.InternetGateways) > 0 {
		n.igwID = igws.InternetGateways[0].InternetGatewayId
	}

	sgs, err := c.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: append(byVpc, ec2Types.Filter{
			Name: aws.String("tag:" + networkTagKey), Values: []string{n.tagValue()},
		}),
	})
	if err != nil {
		return fmt.Errorf("describing security groups: %w", err)
	}
	if len(sgs.SecurityGroups) > 0 {
		n.sgID = sgs.SecurityGroups[0].GroupId
	}
	return nil
}

// lookupSecurityGroup finds the zone's benchmark security group by tag.
func lookupSecurityGroup(zone string) (*string, error) {
	n := &network{zone: zone}
	if err := n.discover(); err != nil {
		return nil, err
	}
	if n.sgID == nil {
		return nil, fmt.Errorf("no security group found for zone %s", zone)
	}
	return n.sgID, nil
}

// lookupSubnet finds the zone's benchmark subnet by tag.
func lookupSubnet(zone string) (*string, error) {
	n := &network{zone: zone}
	if err := n.discover(); err != nil {
		return nil, err
	}
	if n.subnetID == nil {
		return nil, fmt.Errorf("no subnet found for zone %s", zone)
	}
	return n.subnetID, nil
}

// firewall drives security-group rules for every VM in one spec. Rule
// bookkeeping is in-memory and add-only under a lock; DisallowAllPorts
// revokes whatever this process granted plus anything tagged from an
// earlier invocation.
type firewall struct {
	project string

	mu      sync.Mutex
	allowed map[string]bool // "zone:port"
	zones   map[string]bool
}

func newFirewall(project string) provider.Firewall {
	return &firewall{
		project: project,
		allowed: map[string]bool{},
		zones:   map[string]bool{},
	}
}

func (f *firewall) AllowPort(vm provider.VirtualMachine, port int) error {
	zone := vm.Spec().Zone
	key := fmt.Sprintf("%s:%d", zone, port)

	f.mu.Lock()
	already := f.allowed[key]
	f.allowed[key] = true
	f.zones[zone] = true
	f.mu.Unlock()
	if already {
		return nil
	}

	sgID, err := lookupSecurityGroup(zone)
	if err != nil {
		return err
	}
	c, err := client(zoneRegion(zone))
	if err != nil {
		return err
	}
	_, err = c.AuthorizeSecurityGroupIngress(context.Background(), &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: sgID,
		IpPermissions: []ec2Types.IpPermission{
			{
				FromPort:   aws.Int32(int32(port)),
				ToPort:     aws.Int32(int32(port)),
				IpProtocol: aws.String("tcp"),
				IpRanges:   []ec2Types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			},
		},
	})
	if err != nil && !strings.Contains(err.Error(), "InvalidPermission.Duplicate") {
		return fmt.Errorf("authorizing port %d in zone %s: %w", port, zone, err)
	}
	return nil
}

func (f *firewall) DisallowAllPorts() error {
	f.mu.Lock()
	zones := make([]string, 0, len(f.zones))
	for zone := range f.zones {
		zones = append(zones, zone)
	}
	f.allowed = map[string]bool{}
	f.mu.Unlock()

	var firstErr error
	for _, zone := range zones {
		sgID, err := lookupSecurityGroup(zone)
		if err != nil {
			continue
		}
		c, err := client(zoneRegion(zone))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sgs, err := c.DescribeSecurityGroups(context.Background(), &ec2.DescribeSecurityGroupsInput{
			GroupIds: []string{*sgID},
		})
		if err != nil || len(sgs.SecurityGroups) == 0 {
			if firstErr == nil && err != nil {
				firstErr = err
			}
			continue
		}
		perms := sgs.SecurityGroups[0].IpPermissions
		if len(perms) == 0 {
			continue
		}
		_, err = c.RevokeSecurityGroupIngress(context.Background(), &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       sgID,
			IpPermissions: perms,
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("revoking rules in zone %s: %w", zone, err)
		}
	}
	return firstErr
}
