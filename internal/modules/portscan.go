package modules

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/aristath/conductor/internal/module"
	"github.com/aristath/conductor/internal/process"
)

// PortScanModule is the registered name of the nmap wrapper.
const PortScanModule = "portscan"

var hostnamePattern = regexp.MustCompile(`^([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]*[a-zA-Z0-9])(\.([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]*[a-zA-Z0-9]))*$`)

// PortScanConfig is the configuration of a portscan step.
type PortScanConfig struct {
	Targets          []string // IPs, CIDRs or hostnames
	Ports            string   // nmap -p syntax, empty for nmap's defaults
	Speed            int      // Timing template 0-5
	ServiceDetection bool
	ScriptScan       bool
	Arguments        []string // Extra nmap arguments
	Binary           string
}

// PortScan runs nmap and parses its XML report.
type PortScan struct {
	cfg PortScanConfig
	pm  *process.Manager
}

// ScanResult is the parsed outcome of a scan.
type ScanResult struct {
	Args      string     `json:"args"`
	StartTime string     `json:"start_time"`
	Version   string     `json:"version"`
	Hosts     []HostInfo `json:"hosts"`
}

// HostInfo describes one scanned host.
type HostInfo struct {
	Address   string     `json:"address"`
	Hostnames []string   `json:"hostnames,omitempty"`
	Status    string     `json:"status"`
	Ports     []PortInfo `json:"ports,omitempty"`
}

// PortInfo describes one port of a host.
type PortInfo struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
	Service  string `json:"service,omitempty"`
	Product  string `json:"product,omitempty"`
	Version  string `json:"version,omitempty"`
}

// OpenPorts returns the open ports of every host.
func (r ScanResult) OpenPorts() []PortInfo {
	var out []PortInfo
	for _, h := range r.Hosts {
		for _, p := range h.Ports {
			if p.State == "open" {
				out = append(out, p)
			}
		}
	}
	return out
}

// NewPortScanFactory returns the factory of the portscan module. Config keys:
// targets (or target), ports, speed, service_detection, script_scan,
// arguments, binary.
func NewPortScanFactory(pm *process.Manager) module.Factory {
	return func(cfg module.Config) (module.Handler, error) {
		pc, err := parsePortScanConfig(cfg)
		if err != nil {
			return nil, err
		}
		return &PortScan{cfg: pc, pm: pm}, nil
	}
}

func parsePortScanConfig(cfg module.Config) (PortScanConfig, error) {
	pc := PortScanConfig{Speed: 3, Binary: "nmap"}

	for _, key := range []string{"targets", "target"} {
		if v, ok := cfg[key]; ok && v != nil {
			targets, err := cast.ToStringSliceE(v)
			if err != nil {
				return pc, fmt.Errorf("portscan: invalid %q: %w", key, err)
			}
			pc.Targets = append(pc.Targets, targets...)
		}
	}
	if len(pc.Targets) == 0 {
		return pc, errors.New("portscan: no targets")
	}
	for _, t := range pc.Targets {
		if !validTarget(t) {
			return pc, fmt.Errorf("portscan: invalid target %q", t)
		}
	}

	pc.Ports = strings.ReplaceAll(cast.ToString(cfg["ports"]), " ", "")
	if v, ok := cfg["speed"]; ok {
		speed, err := cast.ToIntE(v)
		if err != nil || speed < 0 || speed > 5 {
			return pc, fmt.Errorf("portscan: speed must be 0-5, got %v", v)
		}
		pc.Speed = speed
	}
	pc.ServiceDetection = cast.ToBool(cfg["service_detection"])
	pc.ScriptScan = cast.ToBool(cfg["script_scan"])
	if v, ok := cfg["arguments"]; ok && v != nil {
		args, err := cast.ToStringSliceE(v)
		if err != nil {
			return pc, fmt.Errorf("portscan: invalid \"arguments\": %w", err)
		}
		pc.Arguments = args
	}
	if b := cast.ToString(cfg["binary"]); b != "" {
		pc.Binary = b
	}
	return pc, nil
}

func validTarget(t string) bool {
	if net.ParseIP(t) != nil {
		return true
	}
	if _, _, err := net.ParseCIDR(t); err == nil {
		return true
	}
	return hostnamePattern.MatchString(t)
}

// args builds the nmap command line. The XML report goes to stdout.
func (c PortScanConfig) args() []string {
	args := []string{"-T", strconv.Itoa(c.Speed)}
	if c.Ports != "" {
		args = append(args, "-p", c.Ports)
	}
	if c.ServiceDetection {
		args = append(args, "-sV")
	}
	if c.ScriptScan {
		args = append(args, "-sC")
	}
	args = append(args, c.Arguments...)
	args = append(args, "-oX", "-")
	return append(args, c.Targets...)
}

// Run executes the scan.
func (p *PortScan) Run(ctx context.Context) (any, error) {
	cmd := process.NewCommand(ctx, p.cfg.Binary, p.cfg.args()...)
	res, err := process.Execute(cmd, p.pm)
	if err != nil {
		return nil, fmt.Errorf("nmap scan failed: %w", err)
	}
	return ParseNmapXML(res.Stdout)
}

type nmapRun struct {
	Args    string     `xml:"args,attr"`
	Start   string     `xml:"startstr,attr"`
	Version string     `xml:"version,attr"`
	Hosts   []nmapHost `xml:"host"`
}

type nmapHost struct {
	Status struct {
		State string `xml:"state,attr"`
	} `xml:"status"`
	Addresses []struct {
		Addr     string `xml:"addr,attr"`
		AddrType string `xml:"addrtype,attr"`
	} `xml:"address"`
	Hostnames []struct {
		Name string `xml:"name,attr"`
	} `xml:"hostnames>hostname"`
	Ports []struct {
		Protocol string `xml:"protocol,attr"`
		PortID   int    `xml:"portid,attr"`
		State    struct {
			State string `xml:"state,attr"`
		} `xml:"state"`
		Service struct {
			Name    string `xml:"name,attr"`
			Product string `xml:"product,attr"`
			Version string `xml:"version,attr"`
		} `xml:"service"`
	} `xml:"ports>port"`
}

// ParseNmapXML parses an nmap -oX report.
func ParseNmapXML(data []byte) (ScanResult, error) {
	var run nmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return ScanResult{}, fmt.Errorf("parse nmap XML: %w", err)
	}

	out := ScanResult{Args: run.Args, StartTime: run.Start, Version: run.Version}
	for _, h := range run.Hosts {
		host := HostInfo{Status: h.Status.State}
		for _, a := range h.Addresses {
			// Prefer the IP address over the MAC address.
			if host.Address == "" || a.AddrType == "ipv4" || a.AddrType == "ipv6" {
				host.Address = a.Addr
			}
		}
		for _, hn := range h.Hostnames {
			host.Hostnames = append(host.Hostnames, hn.Name)
		}
		for _, p := range h.Ports {
			host.Ports = append(host.Ports, PortInfo{
				Port:     p.PortID,
				Protocol: p.Protocol,
				State:    p.State.State,
				Service:  p.Service.Name,
				Product:  p.Service.Product,
				Version:  p.Service.Version,
			})
		}
		out.Hosts = append(out.Hosts, host)
	}
	return out, nil
}
