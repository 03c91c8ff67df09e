// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/corinnepritchard/dhcpkit/logger"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/iana"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

var log = logger.GetLogger("config")

// Config holds the DHCPv6 server configuration
type Config struct {
	v       *viper.Viper
	Server6 *ServerConfig
}

// New returns a new initialized instance of a Config object
func New() *Config {
	return &Config{v: viper.New()}
}

// ServerConfig holds the configuration of the DHCPv6 server: where to
// listen, how the server identifies itself, the rapid commit policy, and
// the handler tree that requests are driven through.
type ServerConfig struct {
	Addresses             []net.UDPAddr
	ServerID              dhcpv6.DUID
	AllowRapidCommit      bool
	RapidCommitRejections bool
	Marks                 []string
	Handlers              []HandlerConfig
	Filters               []FilterConfig
}

// HandlerConfig holds the configuration of one handler
type HandlerConfig struct {
	Name string
	Args []string
}

// HandlerNames returns the names of every handler the configuration
// refers to, including those nested inside filters.
func (sc *ServerConfig) HandlerNames() []string {
	names := make([]string, 0, len(sc.Handlers))
	for _, h := range sc.Handlers {
		names = append(names, h.Name)
	}
	var walk func([]FilterConfig)
	walk = func(filters []FilterConfig) {
		for _, f := range filters {
			for _, h := range f.Handlers {
				names = append(names, h.Name)
			}
			walk(f.Filters)
		}
	}
	walk(sc.Filters)
	return names
}

// FilterConfig holds the configuration of a filter node: its condition
// and the sub-filters and sub-handlers that run below it.
type FilterConfig struct {
	Condition string
	Value     string
	Handlers  []HandlerConfig
	Filters   []FilterConfig
}

// Load reads a configuration file and returns a Config object, or an error if
// any.
func Load(pathOverride string) (*Config, error) {
	log.Print("Loading configuration")
	c := New()
	c.v.SetConfigType("yml")
	if pathOverride != "" {
		c.v.SetConfigFile(pathOverride)
	} else {
		c.v.SetConfigName("config")
		c.v.AddConfigPath(".")
		c.v.AddConfigPath("$XDG_CONFIG_HOME/dhcpkit/")
		c.v.AddConfigPath("$HOME/.dhcpkit/")
		c.v.AddConfigPath("/etc/dhcpkit/")
	}

	if err := c.v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := c.parseConfig(); err != nil {
		return nil, err
	}
	if c.Server6 == nil {
		return nil, ConfigErrorFromString("no server6 configuration found")
	}
	return c, nil
}

func (c *Config) parseConfig() error {
	if exists := c.v.Get("server6"); exists == nil {
		return nil
	}

	serverID, err := parseDUID(cast.ToString(c.v.Get("server6.server-id")))
	if err != nil {
		return err
	}

	handlers, err := parseHandlers(cast.ToSlice(c.v.Get("server6.handlers")))
	if err != nil {
		return err
	}
	for _, h := range handlers {
		log.Printf("Found handler `%s` with %d args: %v", h.Name, len(h.Args), h.Args)
	}

	filters, err := parseFilters(cast.ToSlice(c.v.Get("server6.filters")))
	if err != nil {
		return err
	}

	listeners, err := c.parseListen()
	if err != nil {
		return err
	}

	c.Server6 = &ServerConfig{
		Addresses:             listeners,
		ServerID:              serverID,
		AllowRapidCommit:      c.v.GetBool("server6.allow-rapid-commit"),
		RapidCommitRejections: c.v.GetBool("server6.rapid-commit-rejections"),
		Marks:                 c.v.GetStringSlice("server6.marks"),
		Handlers:              handlers,
		Filters:               filters,
	}
	return nil
}

// parseDUID understands the `server-id` directive: a DUID type followed
// by its value, e.g. `ll 00:13:72:65:ca:42`, `llt 488458703
// 00:13:72:65:ca:42` or `hex 000a0003...`.
func parseDUID(directive string) (dhcpv6.DUID, error) {
	fields := strings.Fields(directive)
	if len(fields) < 2 {
		return nil, ConfigErrorFromString("server-id needs a DUID type and value, got: '%s'", directive)
	}
	duidType := strings.ToLower(fields[0])
	switch duidType {
	case "ll", "duid-ll", "duid_ll":
		hwaddr, err := net.ParseMAC(fields[1])
		if err != nil {
			return nil, ConfigErrorFromError(err)
		}
		return &dhcpv6.DUIDLL{
			HWType:        iana.HWTypeEthernet,
			LinkLayerAddr: hwaddr,
		}, nil
	case "llt", "duid-llt", "duid_llt":
		if len(fields) < 3 {
			return nil, ConfigErrorFromString("llt server-id needs a time and a link-layer address")
		}
		duidTime, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, ConfigErrorFromString("invalid llt server-id time '%s'", fields[1])
		}
		hwaddr, err := net.ParseMAC(fields[2])
		if err != nil {
			return nil, ConfigErrorFromError(err)
		}
		return &dhcpv6.DUIDLLT{
			Time:          uint32(duidTime),
			HWType:        iana.HWTypeEthernet,
			LinkLayerAddr: hwaddr,
		}, nil
	case "hex":
		raw, err := hex.DecodeString(fields[1])
		if err != nil {
			return nil, ConfigErrorFromString("invalid hex server-id: %v", err)
		}
		duid, err := dhcpv6.DUIDFromBytes(raw)
		if err != nil {
			return nil, ConfigErrorFromError(err)
		}
		return duid, nil
	default:
		return nil, ConfigErrorFromString("unknown server-id DUID type '%s'", duidType)
	}
}

func parseHandlers(handlerList []interface{}) ([]HandlerConfig, error) {
	handlers := make([]HandlerConfig, 0, len(handlerList))
	for idx, val := range handlerList {
		conf := cast.ToStringMap(val)
		if conf == nil {
			return nil, ConfigErrorFromString("handler #%d is not a string map", idx)
		}
		// make sure that only one item is specified, since it's a
		// map name -> args
		if len(conf) != 1 {
			return nil, ConfigErrorFromString("exactly one handler per item can be specified")
		}
		var (
			name string
			args []string
		)
		// only one item, as enforced above, so read just that
		for k, v := range conf {
			name = k
			args = strings.Fields(cast.ToString(v))
			break
		}
		handlers = append(handlers, HandlerConfig{Name: name, Args: args})
	}
	return handlers, nil
}

// Condition keys a filter item can carry; everything else in the item is
// the filter's own content.
var filterConditions = []string{"marked-with", "subnet"}

func parseFilters(filterList []interface{}) ([]FilterConfig, error) {
	filters := make([]FilterConfig, 0, len(filterList))
	for idx, val := range filterList {
		conf := cast.ToStringMap(val)
		if conf == nil {
			return nil, ConfigErrorFromString("filter #%d is not a string map", idx)
		}

		fc := FilterConfig{}
		for _, key := range filterConditions {
			if v, ok := conf[key]; ok {
				if fc.Condition != "" {
					return nil, ConfigErrorFromString("filter #%d has more than one condition", idx)
				}
				fc.Condition = key
				fc.Value = cast.ToString(v)
			}
		}
		if fc.Condition == "" {
			return nil, ConfigErrorFromString("filter #%d has no condition, expected one of %v", idx, filterConditions)
		}

		if v, ok := conf["handlers"]; ok {
			handlers, err := parseHandlers(cast.ToSlice(v))
			if err != nil {
				return nil, err
			}
			fc.Handlers = handlers
		}
		if v, ok := conf["filters"]; ok {
			subFilters, err := parseFilters(cast.ToSlice(v))
			if err != nil {
				return nil, err
			}
			fc.Filters = subFilters
		}
		if len(fc.Handlers) == 0 && len(fc.Filters) == 0 {
			return nil, ConfigErrorFromString("filter #%d has neither handlers nor filters", idx)
		}

		filters = append(filters, fc)
	}
	return filters, nil
}

// splitHostPort splits an address of the form ip%zone:port into ip,zone and port.
// It still returns if any of these are unset (unlike net.SplitHostPort which
// returns an error if there is no port)
func splitHostPort(hostport string) (ip string, zone string, port string, err error) {
	ip, port, err = net.SplitHostPort(hostport)
	if err != nil {
		// Either there is no port, or a more serious error.
		// Supply a synthetic port to differentiate cases
		var altErr error
		if ip, _, altErr = net.SplitHostPort(hostport + ":0"); altErr != nil {
			// Invalid even with a fake port. Return the original error
			return
		}
		err = nil
	}
	if i := strings.LastIndexByte(ip, '%'); i >= 0 {
		ip, zone = ip[:i], ip[i+1:]
	}
	return
}

func (c *Config) getListenAddress(addr string) (*net.UDPAddr, error) {
	ipStr, ifname, portStr, err := splitHostPort(addr)
	if err != nil {
		return nil, ConfigErrorFromError(err)
	}

	ip := net.ParseIP(ipStr)
	if ipStr == "" {
		ip = net.IPv6unspecified
	}
	if ip == nil {
		return nil, ConfigErrorFromString("invalid IP address in `listen` directive: %s", ipStr)
	}
	if ip.To4() != nil {
		return nil, ConfigErrorFromString("not a valid IPv6 address in `listen` directive: '%s'", ipStr)
	}

	port := dhcpv6.DefaultServerPort
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return nil, ConfigErrorFromString("invalid `listen` port '%s'", portStr)
		}
	}

	listener := net.UDPAddr{
		IP:   ip,
		Port: port,
		Zone: ifname,
	}
	return &listener, nil
}

// FindInterfaceFor returns the name of the local interface carrying the
// given address, or an error when no interface does.
func FindInterfaceFor(ip net.IP) (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("could not list network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if ok && ipnet.IP.Equal(ip) {
				return iface.Name, nil
			}
		}
	}
	return "", fmt.Errorf("cannot find address %s on any interface", ip)
}

// validateUnicastAddress enforces the rules for unicast listeners: the
// address must be global unicast and must exist on a local interface,
// which also gives us the interface to listen on.
func validateUnicastAddress(l *net.UDPAddr) error {
	if !l.IP.IsGlobalUnicast() {
		return ConfigErrorFromString("the listener address %s must be a global unicast address", l.IP)
	}
	ifname, err := FindInterfaceFor(l.IP)
	if err != nil {
		return ConfigErrorFromError(err)
	}
	if l.Zone == "" {
		l.Zone = ifname
	}
	return nil
}

func expandLLMulticast(addr *net.UDPAddr) ([]net.UDPAddr, error) {
	if !addr.IP.IsLinkLocalMulticast() && !addr.IP.IsInterfaceLocalMulticast() {
		return nil, errors.New("address is not multicast")
	}
	if addr.Zone != "" {
		return nil, errors.New("address is already zoned")
	}

	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("could not list network interfaces: %v", err)
	}
	ret := make([]net.UDPAddr, 0, len(ifs))
	for _, iface := range ifs {
		if (iface.Flags & net.FlagMulticast) != net.FlagMulticast {
			continue
		}
		caddr := *addr
		caddr.Zone = iface.Name
		ret = append(ret, caddr)
	}
	if len(ret) == 0 {
		return nil, errors.New("no suitable interface found for multicast listener")
	}
	return ret, nil
}

func defaultListen() ([]net.UDPAddr, error) {
	return expandLLMulticast(&net.UDPAddr{
		IP:   dhcpv6.AllDHCPRelayAgentsAndServers,
		Port: dhcpv6.DefaultServerPort,
	})
}

func (c *Config) parseListen() ([]net.UDPAddr, error) {
	listen := c.v.Get("server6.listen")
	if listen == nil {
		return defaultListen()
	}

	addrs, err := cast.ToStringSliceE(listen)
	if err != nil {
		addrs = []string{cast.ToString(listen)}
	}

	listeners := []net.UDPAddr{}
	for _, a := range addrs {
		l, err := c.getListenAddress(a)
		if err != nil {
			return nil, err
		}

		if l.Zone == "" && (l.IP.IsLinkLocalMulticast() || l.IP.IsInterfaceLocalMulticast()) {
			// link-local multicast specified without interface gets expanded to listen on all interfaces
			expanded, err := expandLLMulticast(l)
			if err != nil {
				return nil, err
			}
			listeners = append(listeners, expanded...)
			continue
		}

		if !l.IP.IsMulticast() && !l.IP.IsUnspecified() {
			if err := validateUnicastAddress(l); err != nil {
				return nil, err
			}
		}

		listeners = append(listeners, *l)
	}
	return listeners, nil
}
