package relay

import (
	"net"
	"net/url"
	"strings"

	"nostr-messenger/internal/util"
)

// NormalizeRelayURL validates and normalizes a relay URL. Returns empty
// string if the URL is invalid or malformed.
func NormalizeRelayURL(relayURL string) string {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" {
		return ""
	}

	// Quick reject for obviously bad URLs (no colon = no protocol)
	if !strings.Contains(relayURL, "://") {
		return ""
	}

	// Reject URL-encoded spaces (indicates garbage text as URL)
	if strings.Contains(relayURL, "%20") || strings.Contains(relayURL, "+") {
		return ""
	}

	// Reject double protocols (wss://https://...)
	if strings.Count(relayURL, "://") > 1 {
		return ""
	}

	parsed, err := url.Parse(relayURL)
	if err != nil {
		return ""
	}

	// Must be ws:// or wss:// (not ww://, http://, etc)
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return ""
	}

	host := parsed.Hostname()
	if host == "" {
		return ""
	}

	// Reject hostnames that are clearly not relay URLs
	if len(host) < 3 {
		return ""
	}
	if !strings.Contains(host, ".") && host != "localhost" {
		return ""
	}
	if strings.Contains(host, " ") {
		return ""
	}
	// Block internal/unreachable hosts (.onion, .local, .internal)
	if util.IsInternalHost(host) {
		return ""
	}

	// Normalize: strip trailing slash, lowercase
	result := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(host)
	if parsed.Port() != "" {
		result += ":" + parsed.Port()
	}
	if parsed.Path != "" && parsed.Path != "/" {
		result += parsed.Path
	}
	return result
}

// isRelayURLSafe validates that a relay URL is safe to connect to.
// Allows localhost for development but blocks other private IP ranges.
func isRelayURLSafe(relayURL string) bool {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return false
	}

	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return false
	}

	host := parsed.Hostname()
	if host == "" {
		return false
	}

	// Allow localhost for development
	if util.IsLoopbackHost(host) {
		return true
	}

	// Resolve hostname and check IPs
	ips, err := net.LookupIP(host)
	if err != nil {
		// If we can't resolve, allow it (might be a valid external
		// host) but block obvious internal names
		if host[len(host)-1] == '.' || util.IsInternalHost(host) {
			return false
		}
		return true
	}

	for _, ip := range ips {
		if !isRelayIPSafe(ip) {
			return false
		}
	}

	return true
}

// isRelayIPSafe checks if an IP is safe for relay connections.
// Allows loopback (localhost) but blocks other private ranges.
func isRelayIPSafe(ip net.IP) bool {
	if ip == nil {
		return false
	}

	if ip.IsLoopback() {
		return true
	}

	// Block private networks (10.x, 172.16-31.x, 192.168.x)
	if ip.IsPrivate() {
		return false
	}

	// Block link-local (169.254.x.x), including the cloud metadata IP
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}

	// Block unspecified (0.0.0.0)
	if ip.IsUnspecified() {
		return false
	}

	if ip.IsMulticast() {
		return false
	}

	return true
}
