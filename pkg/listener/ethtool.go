//go:build linux

package listener

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ethtool sub-commands and flag bits used to toggle generic/large
// receive offload (linux/ethtool.h). Not exposed by golang.org/x/sys/unix,
// so named directly the way the kernel header does.
const (
	siocETHTOOL = 0x8946 // linux/sockios.h

	ethtoolGGRO   = 0x0000002b // Get GRO enable (ethtool_value)
	ethtoolSGRO   = 0x0000002c // Set GRO enable (ethtool_value)
	ethtoolGFLAGS = 0x00000025 // Get flags bitmap (ethtool_value)
	ethtoolSFLAGS = 0x00000026 // Set flags bitmap (ethtool_value)

	ethFlagLRO = 1 << 15 // ETH_FLAG_LRO
)

// ethtoolValue mirrors struct ethtool_value: a command code plus a
// single uint32 in/out parameter.
type ethtoolValue struct {
	Cmd  uint32
	Data uint32
}

// ifreqData mirrors struct ifreq as SIOCETHTOOL expects it: a 16-byte
// interface name followed by the ifr_ifru union, here used only for its
// ifr_data pointer member. The union is padded to 16 bytes (its size
// when holding a struct sockaddr) even though only the leading 8-byte
// pointer is ever read, matching what the kernel's copy_from_user(sizeof
// (struct ifreq)) expects to find.
type ifreqData struct {
	Name [unix.IFNAMSIZ]byte
	Data uintptr
	_    [8]byte
}

func ethtoolIoctl(ifname string, v *ethtoolValue) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	var ifr ifreqData
	copy(ifr.Name[:], ifname)
	ifr.Data = uintptr(unsafe.Pointer(v))

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(siocETHTOOL), uintptr(unsafe.Pointer(&ifr)))
	if errno != 0 {
		return errno
	}
	return nil
}

// disableOffload turns off GRO and LRO on ifname (spec §4.5 "receive
// offload policy": a scanner must see every frame exactly as it arrived
// on the wire, not a NIC-coalesced superframe spanning several replies).
// It reports the prior state of each so the caller can restore it on
// shutdown, and tolerates ioctls a driver doesn't support (virtual
// interfaces, loopback) by leaving that knob alone rather than failing
// the whole listener.
func disableOffload(ifname string) (groWasOn, lroWasOn bool, err error) {
	groGet := ethtoolValue{Cmd: ethtoolGGRO}
	if ethtoolIoctl(ifname, &groGet) == nil {
		groWasOn = groGet.Data != 0
		if groWasOn {
			if sErr := ethtoolIoctl(ifname, &ethtoolValue{Cmd: ethtoolSGRO, Data: 0}); sErr != nil {
				err = sErr
			}
		}
	}

	flagsGet := ethtoolValue{Cmd: ethtoolGFLAGS}
	if ethtoolIoctl(ifname, &flagsGet) == nil {
		lroWasOn = flagsGet.Data&ethFlagLRO != 0
		if lroWasOn {
			cleared := flagsGet.Data &^ uint32(ethFlagLRO)
			if sErr := ethtoolIoctl(ifname, &ethtoolValue{Cmd: ethtoolSFLAGS, Data: cleared}); sErr != nil && err == nil {
				err = sErr
			}
		}
	}
	return groWasOn, lroWasOn, err
}

// restoreOffload re-enables GRO/LRO if disableOffload found them on,
// leaving the interface exactly as the listener found it.
func restoreOffload(ifname string, groWasOn, lroWasOn bool) {
	if groWasOn {
		_ = ethtoolIoctl(ifname, &ethtoolValue{Cmd: ethtoolSGRO, Data: 1})
	}
	if lroWasOn {
		flagsGet := ethtoolValue{Cmd: ethtoolGFLAGS}
		if ethtoolIoctl(ifname, &flagsGet) == nil {
			_ = ethtoolIoctl(ifname, &ethtoolValue{Cmd: ethtoolSFLAGS, Data: flagsGet.Data | uint32(ethFlagLRO)})
		}
	}
}
