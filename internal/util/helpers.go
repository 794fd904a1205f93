package util

import (
	"encoding/json"
	"sort"
	"strings"
)

// =============================================================================
// Host Validation Helpers
// =============================================================================

// IsInternalHost checks if a hostname is internal/private and should not be
// connected to. Keeps relay lists from pointing the websocket dialer at
// internal networks.
func IsInternalHost(host string) bool {
	host = strings.ToLower(host)
	return strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".internal") ||
		strings.HasSuffix(host, ".onion") ||
		strings.HasSuffix(host, ".localhost")
}

// IsLoopbackHost checks if a hostname resolves to localhost.
func IsLoopbackHost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		host == "[::1]"
}

// =============================================================================
// Tag Extraction Helpers
// =============================================================================

// GetTagValue returns the first value for the given tag name, or empty string if not found.
// Example: GetTagValue(tags, "e") returns the first event ID tag value.
func GetTagValue(tags [][]string, tagName string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == tagName {
			return tag[1]
		}
	}
	return ""
}

// GetLastTagValue returns the last value for the given tag name, or empty string if not found.
// Useful for "e" tags in replies where the last e-tag is typically the direct parent.
func GetLastTagValue(tags [][]string, tagName string) string {
	var result string
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == tagName {
			result = tag[1]
		}
	}
	return result
}

// GetTagValues returns all values for the given tag name.
// Example: GetTagValues(tags, "p") returns all mentioned pubkeys.
func GetTagValues(tags [][]string, tagName string) []string {
	var results []string
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == tagName {
			results = append(results, tag[1])
		}
	}
	return results
}

// =============================================================================
// Content Helpers
// =============================================================================

// ExtractEmbeddedEventContent extracts the content field from embedded event JSON.
// Used for reposts (kind 6) where the actual text content is embedded as JSON.
// Returns empty string if parsing fails or content field is missing.
func ExtractEmbeddedEventContent(jsonContent string) string {
	var embedded struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(jsonContent), &embedded); err == nil {
		return embedded.Content
	}
	return ""
}

// =============================================================================
// Slice Utilities
// =============================================================================

// SortedCopy returns a sorted copy of a string slice.
// The original slice is not modified.
// Useful for building stable cache keys from unordered inputs.
func SortedCopy(slice []string) []string {
	if len(slice) == 0 {
		return nil
	}
	sorted := make([]string, len(slice))
	copy(sorted, slice)
	sort.Strings(sorted)
	return sorted
}
