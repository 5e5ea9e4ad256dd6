package netinfo

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Advertised is the address clients on the network should use to reach a
// listener, which differs from the bind address when that is a wildcard.
type Advertised struct {
	Host   string
	Port   int
	Source string // "config", "env", "lan", "loopback"
	Notes  []string
}

func (a Advertised) URL(scheme, path string) string {
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(a.Host, fmt.Sprint(a.Port)), path)
}

func Advertise(bindHost string, port int) Advertised {
	adv := Advertised{Port: port}

	if !isAllInterfaces(bindHost) {
		adv.Host = trimScheme(bindHost)
		adv.Source = "config"
		return adv
	}

	if env := strings.TrimSpace(os.Getenv("HUDDLE_PUBLIC_HOST")); env != "" {
		adv.Host = trimScheme(env)
		adv.Source = "env"
		return adv
	}

	if lan, err := detectLANIPPreferOutbound(); err == nil && lan != "" {
		adv.Host = lan
		adv.Source = "lan"
	} else if lan, err := firstPrivateIPv4(); err == nil && lan != "" {
		adv.Host = lan
		adv.Source = "lan"
	} else {
		adv.Host = "127.0.0.1"
		adv.Source = "loopback"
		adv.Notes = append(adv.Notes, "could not find a LAN address, falling back to 127.0.0.1")
	}

	adv.Notes = append(adv.Notes, fmt.Sprintf("bound to %q, advertising a detected address; set HUDDLE_PUBLIC_HOST to override", bindHost))
	return adv
}

func trimScheme(h string) string {
	h = strings.TrimSpace(h)
	h = strings.TrimPrefix(h, "https://")
	h = strings.TrimPrefix(h, "http://")
	return strings.TrimSuffix(h, "/")
}

func isAllInterfaces(h string) bool {
	h = strings.TrimSpace(strings.ToLower(h))
	return h == "" || h == "0.0.0.0" || h == "::" || h == "[::]"
}

// detectLANIPPreferOutbound asks the kernel which source address it would use
// for an outbound route. No packet is sent.
func detectLANIPPreferOutbound() (string, error) {
	conn, err := net.Dial("udp", "1.1.1.1:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || udpAddr.IP == nil {
		return "", errors.New("no local UDP addr")
	}
	return udpAddr.IP.String(), nil
}

func firstPrivateIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if (iface.Flags&net.FlagUp) == 0 || (iface.Flags&net.FlagLoopback) != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			ip, _, _ := net.ParseCIDR(a.String())
			if ip != nil && isPrivateIPv4(ip) {
				return ip.String(), nil
			}
		}
	}
	return "", errors.New("no private IPv4 found")
}

func isPrivateIPv4(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	switch {
	case ip4[0] == 10:
		return true
	case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
		return true
	case ip4[0] == 192 && ip4[1] == 168:
		return true
	default:
		return false
	}
}
