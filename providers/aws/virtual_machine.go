package aws

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2Types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"golang.org/x/crypto/ssh"

	"github.com/Sheefali07/PerfKitBenchmarker/provider"
	"github.com/Sheefali07/PerfKitBenchmarker/target"
	"github.com/Sheefali07/PerfKitBenchmarker/util"
)

const vmTagKey = "perfkitbenchmarker-vm"

// Local (instance-store) disk counts for machine types we know. Types not
// listed have no usable instance store.
var localDiskCounts = map[string]int{
	"i3.large":    1,
	"i3.xlarge":   1,
	"i3.2xlarge":  1,
	"i3.4xlarge":  2,
	"i3.8xlarge":  4,
	"i3.16xlarge": 8,
	"m5d.xlarge":  1,
	"m5d.4xlarge": 2,
	"m5d.8xlarge": 2,
	"m6id.xlarge": 1,
	"c5d.xlarge":  1,
	"c5d.4xlarge": 1,
}

type virtualMachine struct {
	spec *provider.VMSpec
	caps osCapability

	instanceID      *string
	ip              string
	tgt             *target.SSHTarget
	volumeIDs       []string
	nextLocalDevice int
	nextEBSDevice   int
}

func newVirtualMachine(spec *provider.VMSpec) (provider.VirtualMachine, error) {
	caps, ok := osCapabilities[spec.OSFamily]
	if !ok {
		return nil, provider.NewConfigError("AWS does not support OS family %q", spec.OSFamily)
	}
	return &virtualMachine{spec: spec, caps: caps}, nil
}

func (v *virtualMachine) Spec() *provider.VMSpec {
	return v.spec
}

func (v *virtualMachine) region() string {
	return zoneRegion(v.spec.Zone)
}

// Create launches the instance, retrying transient launch failures.
// Capacity failures are surfaced immediately as their own kind so
// benchmarks can branch on them.
func (v *virtualMachine) Create() error {
	if v.spec.Image == "" {
		return provider.NewConfigError("AWS VM %s has no image; an explicit image is required", v.spec.Name)
	}
	if err := keys.ensure(v.region()); err != nil {
		return err
	}
	subnetID, err := lookupSubnet(v.spec.Zone)
	if err != nil {
		return err
	}
	sgID, err := lookupSecurityGroup(v.spec.Zone)
	if err != nil {
		return err
	}
	c, err := client(v.region())
	if err != nil {
		return err
	}

	// One idempotency token for all attempts so a retry after a timed-out
	// call cannot launch a second instance.
	input := &ec2.RunInstancesInput{
		ClientToken:  aws.String(util.Randstring(16)),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		EbsOptimized: aws.Bool(true),
		ImageId:      aws.String(v.spec.Image),
		InstanceType: ec2Types.InstanceType(v.spec.MachineType),
		KeyName:      aws.String(keyName(v.region())),
		BlockDeviceMappings: []ec2Types.BlockDeviceMapping{
			{
				DeviceName: aws.String("/dev/sda1"),
				Ebs: &ec2Types.EbsBlockDevice{
					VolumeSize:          aws.Int32(32),
					VolumeType:          ec2Types.VolumeTypeGp3,
					DeleteOnTermination: aws.Bool(true),
				},
			},
		},
		NetworkInterfaces: []ec2Types.InstanceNetworkInterfaceSpecification{
			{
				DeviceIndex:              aws.Int32(0),
				AssociatePublicIpAddress: aws.Bool(true),
				Groups:                   []string{*sgID},
				SubnetId:                 subnetID,
				DeleteOnTermination:      aws.Bool(true),
			},
		},
		TagSpecifications: []ec2Types.TagSpecification{{
			ResourceType: ec2Types.ResourceTypeInstance,
			Tags: []ec2Types.Tag{
				{Key: aws.String("Name"), Value: aws.String(v.spec.Name)},
				{Key: aws.String(vmTagKey), Value: aws.String(v.spec.Name)},
			},
		}},
	}

	var resp *ec2.RunInstancesOutput
	for i := 0; i < 5; i++ {
		resp, err = c.RunInstances(context.Background(), input)
		if err == nil {
			break
		}
		if isCapacityError(err) {
			return fmt.Errorf("launching %s: %w: %v", v.spec.Name, provider.ErrInsufficientCapacity, err)
		}
		slog.Debug("waiting to launch instance", slog.String("vm", v.spec.Name), slog.String("error", err.Error()))
		time.Sleep(60 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("launching %s: %w", v.spec.Name, err)
	}
	v.instanceID = resp.Instances[0].InstanceId
	slog.Debug("launched instance", slog.String("vm", v.spec.Name), slog.String("instanceID", *v.instanceID))
	return nil
}

func isCapacityError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "InsufficientInstanceCapacity") ||
		strings.Contains(msg, "InstanceLimitExceeded") ||
		strings.Contains(msg, "MaxSpotInstanceCountExceeded")
}

func (v *virtualMachine) lookupInstance() (*ec2Types.Instance, error) {
	c, err := client(v.region())
	if err != nil {
		return nil, err
	}
	var input *ec2.DescribeInstancesInput
	if v.instanceID != nil {
		input = &ec2.DescribeInstancesInput{InstanceIds: []string{*v.instanceID}}
	} else {
		input = &ec2.DescribeInstancesInput{
			Filters: []ec2Types.Filter{
				{Name: aws.String("tag:" + vmTagKey), Values: []string{v.spec.Name}},
			},
		}
	}
	resp, err := c.DescribeInstances(context.Background(), input)
	if err != nil {
		return nil, fmt.Errorf("describing instance %s: %w", v.spec.Name, err)
	}
	for _, res := range resp.Reservations {
		for _, ins := range res.Instances {
			if ins.State.Name == ec2Types.InstanceStateNameTerminated {
				continue
			}
			v.instanceID = ins.InstanceId
			return &ins, nil
		}
	}
	return nil, nil
}

func (v *virtualMachine) Exists() (bool, error) {
	ins, err := v.lookupInstance()
	if err != nil || ins == nil {
		return false, err
	}
	switch ins.State.Name {
	case ec2Types.InstanceStateNamePending,
		ec2Types.InstanceStateNameRunning,
		ec2Types.InstanceStateNameStopping,
		ec2Types.InstanceStateNameStopped:
		return true, nil
	case ec2Types.InstanceStateNameShuttingDown,
		ec2Types.InstanceStateNameTerminated:
		return false, nil
	default:
		return false, fmt.Errorf("instance %s: %w: %q", v.spec.Name, provider.ErrUnknownState, ins.State.Name)
	}
}

func (v *virtualMachine) getIP() (string, error) {
	if v.ip != "" {
		return v.ip, nil
	}
	for i := 0; i < 10; i++ {
		ins, err := v.lookupInstance()
		if err != nil {
			return "", err
		}
		if ins != nil && ins.PublicIpAddress != nil {
			v.ip = *ins.PublicIpAddress
			return v.ip, nil
		}
		time.Sleep(3 * time.Second)
	}
	return "", fmt.Errorf("instance %s never got a public IP", v.spec.Name)
}

func (v *virtualMachine) ensureTarget() (*target.SSHTarget, error) {
	if v.tgt != nil {
		return v.tgt, nil
	}
	ip, err := v.getIP()
	if err != nil {
		return nil, err
	}
	signer, err := regionSigner(v.region())
	if err != nil {
		return nil, err
	}
	v.tgt = &target.SSHTarget{
		User:    v.caps.user,
		IP:      ip,
		SSHPort: 22,
		Auths:   []ssh.AuthMethod{ssh.PublicKeys(signer)},
	}
	return v.tgt, nil
}

func (v *virtualMachine) WaitForBootCompletion() error {
	tgt, err := v.ensureTarget()
	if err != nil {
		return err
	}
	return tgt.WaitReachable(30, 10*time.Second)
}

func (v *virtualMachine) Startup() error {
	for _, cmd := range v.caps.startupCommands {
		if _, err := v.RunCommand(cmd); err != nil {
			return fmt.Errorf("startup command %q on %s: %w", cmd, v.spec.Name, err)
		}
	}
	return nil
}

func (v *virtualMachine) AddMetadata(tags map[string]string) error {
	if v.instanceID == nil {
		return fmt.Errorf("cannot tag %s before it is created", v.spec.Name)
	}
	c, err := client(v.region())
	if err != nil {
		return err
	}
	ec2Tags := make([]ec2Types.Tag, 0, len(tags))
	for k, val := range tags {
		ec2Tags = append(ec2Tags, ec2Types.Tag{Key: aws.String(k), Value: aws.String(val)})
	}
	_, err = c.CreateTags(context.Background(), &ec2.CreateTagsInput{
		Resources: []string{*v.instanceID},
		Tags:      ec2Tags,
	})
	if err != nil {
		return fmt.Errorf("tagging %s: %w", v.spec.Name, err)
	}
	return nil
}

func (v *virtualMachine) SetupLocalDisks() error {
	_, err := v.RunCommand("sudo apt-get -y -qq install mdadm 2>/dev/null || sudo yum -y -q install mdadm")
	if err != nil {
		return fmt.Errorf("installing mdadm on %s: %w", v.spec.Name, err)
	}
	return nil
}

func (v *virtualMachine) CreateScratchDisk(spec *provider.DiskSpec) error {
	if spec.Type == provider.DiskLocal {
		return v.createLocalScratchDisk(spec)
	}
	return v.createEBSScratchDisk(spec)
}

// createLocalScratchDisk builds one scratch volume from the next
// NumStripedDisks instance-store devices.
func (v *virtualMachine) createLocalScratchDisk(spec *provider.DiskSpec) error {
	stripes := max(spec.NumStripedDisks, 1)
	var devices []string
	for i := 0; i < stripes; i++ {
		// The root volume is nvme0; instance-store devices follow.
		devices = append(devices, fmt.Sprintf("/dev/nvme%dn1", v.nextLocalDevice+i+1))
	}
	v.nextLocalDevice += stripes
	return v.buildVolume(devices, spec.MountPoint)
}

var ebsVolumeTypes = map[string]ec2Types.VolumeType{
	provider.DiskStandard: ec2Types.VolumeTypeGp2,
	provider.DiskSSD:      ec2Types.VolumeTypeGp3,
	provider.DiskIOPS:     ec2Types.VolumeTypeIo1,
}

func (v *virtualMachine) createEBSScratchDisk(spec *provider.DiskSpec) error {
	if v.instanceID == nil {
		return fmt.Errorf("cannot attach disks to %s before it is created", v.spec.Name)
	}
	volType, ok := ebsVolumeTypes[spec.Type]
	if !ok {
		return provider.NewConfigError("AWS does not support disk type %q", spec.Type)
	}
	c, err := client(v.region())
	if err != nil {
		return err
	}

	stripes := max(spec.NumStripedDisks, 1)
	var devices []string
	for i := 0; i < stripes; i++ {
		input := &ec2.CreateVolumeInput{
			AvailabilityZone: aws.String(v.spec.Zone),
			Size:             aws.Int32(int32(spec.SizeGB)),
			VolumeType:       volType,
		}
		if spec.Type == provider.DiskIOPS {
			input.Iops = aws.Int32(int32(spec.IOPS))
		}
		vol, err := c.CreateVolume(context.Background(), input)
		if err != nil {
			return fmt.Errorf("creating volume for %s: %w", v.spec.Name, err)
		}
		v.volumeIDs = append(v.volumeIDs, *vol.VolumeId)

		device := fmt.Sprintf("/dev/sd%c", 'f'+v.nextEBSDevice)
		v.nextEBSDevice++
		if err := v.attachVolume(c, *vol.VolumeId, device); err != nil {
			return err
		}
		devices = append(devices, device)
	}
	return v.buildVolume(devices, spec.MountPoint)
}

func (v *virtualMachine) attachVolume(c *ec2.Client, volumeID, device string) error {
	var err error
	for i := 0; i < 10; i++ {
		_, err = c.AttachVolume(context.Background(), &ec2.AttachVolumeInput{
			VolumeId:   aws.String(volumeID),
			InstanceId: v.instanceID,
			Device:     aws.String(device),
		})
		if err == nil {
			return nil
		}
		// Freshly created volumes report "creating" for a few seconds.
		if !strings.Contains(err.Error(), "IncorrectState") {
			break
		}
		time.Sleep(6 * time.Second)
	}
	return fmt.Errorf("attaching volume %s to %s: %w", volumeID, v.spec.Name, err)
}

// buildVolume formats the devices (striping when more than one) and mounts
// the result.
func (v *virtualMachine) buildVolume(devices []string, mountPoint string) error {
	device := devices[0]
	if len(devices) > 1 {
		device = "/dev/md0"
		cmd := fmt.Sprintf("yes | sudo mdadm --create %s --level=stripe --raid-devices=%d %s",
			device, len(devices), strings.Join(devices, " "))
		if out, err := v.RunCommand(cmd); err != nil {
			return fmt.Errorf("striping devices on %s: %w (output: %s)", v.spec.Name, err, string(out))
		}
	}
	cmd := fmt.Sprintf(
		"sudo mkfs.ext4 -F %s && sudo mkdir -p %s && sudo mount %s %s && sudo chmod 777 %s",
		device, mountPoint, device, mountPoint, mountPoint)
	if out, err := v.RunCommand(cmd); err != nil {
		return fmt.Errorf("formatting scratch disk on %s: %w (output: %s)", v.spec.Name, err, string(out))
	}
	return nil
}

func (v *virtualMachine) DeleteScratchDisks() error {
	c, err := client(v.region())
	if err != nil {
		return err
	}
	var firstErr error
	for _, volumeID := range v.volumeIDs {
		var err error
		// Volumes detach asynchronously while the instance terminates.
		for i := 0; i < 10; i++ {
			_, err = c.DeleteVolume(context.Background(), &ec2.DeleteVolumeInput{
				VolumeId: aws.String(volumeID),
			})
			if err == nil || strings.Contains(err.Error(), "InvalidVolume.NotFound") {
				err = nil
				break
			}
			time.Sleep(30 * time.Second)
		}
		if err != nil {
			slog.Error("failed to delete volume", slog.String("volumeID", volumeID), slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = fmt.Errorf("deleting volume %s: %w", volumeID, err)
			}
		}
	}
	v.volumeIDs = nil
	return firstErr
}

func (v *virtualMachine) Delete() error {
	ins, err := v.lookupInstance()
	if err != nil {
		return err
	}
	if ins == nil {
		return nil
	}
	c, err := client(v.region())
	if err != nil {
		return err
	}
	_, err = c.TerminateInstances(context.Background(), &ec2.TerminateInstancesInput{
		InstanceIds: []string{*v.instanceID},
	})
	if err != nil {
		return fmt.Errorf("terminating %s: %w", v.spec.Name, err)
	}

	// Wait for the instance to terminate, otherwise network teardown can
	// fail while interfaces are still attached.
	for i := 0; i < 5; i++ {
		resp, err := c.DescribeInstances(context.Background(), &ec2.DescribeInstancesInput{
			InstanceIds: []string{*v.instanceID},
		})
		if err == nil && len(resp.Reservations) > 0 &&
			resp.Reservations[0].Instances[0].State.Name == ec2Types.InstanceStateNameTerminated {
			return nil
		}
		slog.Debug("waiting for instance to finish terminating", slog.String("vm", v.spec.Name))
		time.Sleep(60 * time.Second)
	}
	return nil
}

func (v *virtualMachine) RunCommand(cmd string) ([]byte, error) {
	tgt, err := v.ensureTarget()
	if err != nil {
		return nil, err
	}
	return tgt.RunCommand(cmd)
}

func (v *virtualMachine) IPAddress() string {
	return v.ip
}

func (v *virtualMachine) RemoteAccessPorts() []int {
	return []int{22}
}

func (v *virtualMachine) MaxLocalDisks() int {
	return localDiskCounts[v.spec.MachineType]
}
