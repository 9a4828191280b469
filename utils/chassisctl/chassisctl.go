/* chassisctl.go: a small IPMI LAN client for exercising chassisd
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraken-hpc/chassisd/lib/chassis"
	"github.com/kraken-hpc/chassisd/lib/ipmi"
	"github.com/kraken-hpc/chassisd/lib/netsettings"
)

var quiet bool

func pError(f string, args ...interface{}) {
	log.Printf("ERROR: "+f, args...)
}

func pFail(f string, args ...interface{}) {
	log.Printf("FAIL: "+f, args...)
	os.Exit(1)
}

func pInfo(f string, args ...interface{}) {
	if !quiet {
		log.Printf("INFO: "+f, args...)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [--addr <host:port>] [--timeout <duration>] <command> [args]

Commands:
  status                       show chassis power status
  caps                         show chassis capabilities
  on | off | cycle | reset     chassis control
  bootdev <device>             set the boot device (%s)
  bootdev-get                  show the boot device
  netconf-get                  show host network settings
  netconf-set                  set host network settings (see --mac, --ip, --prefix, --gw, --dhcp)
  netconf-clear                clear host network settings

Options:
`, os.Args[0], "Default, Network, Disk, Safe, CDROM, Setup")
	flag.PrintDefaults()
}

var controls = map[string]uint8{
	"on":    ipmi.IPMIChassisCtlUp,
	"off":   ipmi.IPMIChassisCtlDown,
	"cycle": ipmi.IPMIChassisCtlCycle,
	"reset": ipmi.IPMIChassisCtlHardReset,
}

func send(c *ipmi.Client, cmd uint8, data []byte) []byte {
	cc, rsp, e := c.Send(ipmi.IPMIFnChassisReq, cmd, data)
	if e != nil {
		pFail("request failed: %v", e)
	}
	if cc != ipmi.IPMICmpNorm {
		pFail("command 0x%02x failed: %s (0x%02x)", cmd, ipmi.CmpString(cc), cc)
	}
	return rsp
}

func main() {
	addr := flag.StringP("addr", "a", "127.0.0.1:623", "chassisd IPMI address")
	timeout := flag.DurationP("timeout", "t", ipmi.DefaultTimeout, "response timeout")
	persistent := flag.Bool("persistent", false, "bootdev: keep the device for all future boots")
	mac := flag.String("mac", "", "netconf-set: host MAC address")
	ip := flag.String("ip", "", "netconf-set: host IPv4 address")
	prefix := flag.Uint8("prefix", 24, "netconf-set: network prefix length")
	gw := flag.String("gw", "", "netconf-set: IPv4 gateway")
	dhcp := flag.Bool("dhcp", false, "netconf-set: use DHCP instead of a static address")
	flag.BoolVarP(&quiet, "quiet", "q", false, "print only results")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	ua, e := net.ResolveUDPAddr("udp", *addr)
	if e != nil {
		pFail("bad address %s: %v", *addr, e)
	}
	c := ipmi.NewClient(ua)
	c.Timeout = *timeout
	if e = c.Dial(); e != nil {
		pFail("could not connect to %s: %v", *addr, e)
	}
	defer c.Close()
	pInfo("connected to %s", ua)

	cmd := flag.Arg(0)
	switch cmd {
	case "status":
		rsp := send(c, ipmi.IPMICmdChassisStatus, nil)
		if len(rsp) < 1 {
			pFail("short status response")
		}
		state := "off"
		if rsp[0]&0x1 == 1 {
			state = "on"
		}
		fmt.Printf("power: %s\npolicy: %d\n", state, (rsp[0]>>5)&0x3)
	case "caps":
		fmt.Printf("capabilities: % x\n", send(c, ipmi.IPMICmdChassisCap, nil))
	case "on", "off", "cycle", "reset":
		start := time.Now()
		send(c, ipmi.IPMICmdChassisCtl, []byte{controls[cmd]})
		pInfo("%s accepted in %s", cmd, time.Since(start))
	case "bootdev":
		if flag.NArg() != 2 {
			usage()
			os.Exit(1)
		}
		dev, ok := chassis.BootDevice(flag.Arg(1))
		if !ok {
			pFail("unknown boot device: %s", flag.Arg(1))
		}
		flags := chassis.BootFlagsValid
		if *persistent {
			flags |= chassis.BootFlagsPermanent
		}
		send(c, ipmi.IPMICmdSetSysBootOptions, []byte{chassis.ParamBootFlags, flags, dev << 2, 0, 0, 0})
		pInfo("boot device set to %s", flag.Arg(1))
	case "bootdev-get":
		rsp := send(c, ipmi.IPMICmdGetSysBootOptions, []byte{chassis.ParamBootFlags, 0, 0})
		if len(rsp) < 4 {
			pFail("short boot flags response")
		}
		name, ok := chassis.BootDeviceName((rsp[3] & 0x3C) >> 2)
		if !ok {
			name = "unknown"
		}
		policy := "persistent"
		if rsp[2]&chassis.BootFlagsPermanent == 0 {
			policy = "one time"
		}
		fmt.Printf("boot device: %s (%s)\n", name, policy)
	case "netconf-get":
		rsp := send(c, ipmi.IPMICmdGetSysBootOptions, []byte{chassis.ParamNetworkSettings, 0, 0})
		if len(rsp) < 2 {
			pFail("short network settings response")
		}
		b, e := netsettings.FromBytes(rsp[2:])
		if e != nil {
			pFail("bad network settings: %v", e)
		}
		s, e := netsettings.Decode(&b)
		if e != nil {
			pFail("bad network settings: %v", e)
		}
		if s.Clear {
			fmt.Println("network settings: cleared")
			break
		}
		fmt.Printf("mac: %s\naddress: %s/%d\ngateway: %s\norigin byte: %d\n",
			s.MAC, s.Address, s.Prefix, s.Gateway, b.Bytes()[netsettings.AddrTypeOffset])
	case "netconf-set":
		hw, e := net.ParseMAC(*mac)
		if e != nil {
			pFail("bad --mac: %v", e)
		}
		s := netsettings.Settings{
			MAC:     hw,
			Static:  !*dhcp,
			Prefix:  *prefix,
			Address: net.ParseIP(*ip),
			Gateway: net.ParseIP(*gw),
		}
		if s.Static && (s.Address.To4() == nil || s.Gateway.To4() == nil) {
			pFail("static settings need an IPv4 --ip and --gw")
		}
		b := netsettings.NewRequestBlob(s)
		send(c, ipmi.IPMICmdSetSysBootOptions, append([]byte{chassis.ParamNetworkSettings}, b.Bytes()...))
		pInfo("network settings applied")
	case "netconf-clear":
		b := netsettings.ClearRequest()
		send(c, ipmi.IPMICmdSetSysBootOptions, append([]byte{chassis.ParamNetworkSettings}, b.Bytes()...))
		pInfo("network settings cleared")
	default:
		pError("unknown command: %s", cmd)
		usage()
		os.Exit(1)
	}
}
