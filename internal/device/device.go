package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/mssola/useragent"

	platformstrings "medigate/pkg/platform/strings"
)

// Profile is the canonicalized feature vector a fingerprint is derived from.
// None of the fields are secrets; together they are stable for one device and
// browser profile but vary across devices.
type Profile struct {
	UserAgent string
	Platform  string
	Display   string
	Timezone  string
	Hardware  []string
}

// Service derives stable, non-identifying device fingerprints. A disabled
// service returns empty fingerprints so session binding degrades to
// (subject, provider) only.
type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// minorVersion strips patch/build components from version tokens so routine
// browser updates do not rotate the fingerprint. Major version changes do.
var minorVersion = regexp.MustCompile(`(\d+)\.[\d.]+`)

// ComputeFingerprint hashes the canonicalized profile into a sha-256 hex
// string. Deterministic: the same profile always yields the same fingerprint.
func (s *Service) ComputeFingerprint(profile Profile) string {
	if s == nil || !s.enabled {
		return ""
	}

	features := []string{
		"ua=" + canonicalizeUserAgent(profile.UserAgent),
		"platform=" + strings.ToLower(strings.TrimSpace(profile.Platform)),
		"display=" + strings.TrimSpace(profile.Display),
		"tz=" + strings.TrimSpace(profile.Timezone),
	}
	hardware := platformstrings.DedupeAndTrimLower(profile.Hardware)
	sort.Strings(hardware)
	features = append(features, "hw="+strings.Join(hardware, ";"))

	sum := sha256.Sum256([]byte(strings.Join(features, "|")))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether two fingerprints match and whether the
// mismatch indicates device drift.
func (s *Service) CompareFingerprints(stored, current string) (matched, drift bool) {
	matched = stored == current
	return matched, !matched
}

// LocalProfile gathers the environment characteristics of the running
// process. Embedders with richer client context (real display metrics, engine
// quirks) should build their own Profile instead.
func LocalProfile() Profile {
	zone, _ := time.Now().Zone()
	return Profile{
		UserAgent: fmt.Sprintf("medigate/%s (%s)", runtime.Version(), runtime.GOOS),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Timezone:  zone,
		Hardware:  []string{fmt.Sprintf("cpus=%d", runtime.NumCPU())},
	}
}

// canonicalizeUserAgent keeps browser name, major version, and OS while
// dropping minor/patch noise.
func canonicalizeUserAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return ""
	}
	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	if major, _, found := strings.Cut(version, "."); found {
		version = major
	}
	parts := []string{strings.ToLower(name), version, strings.ToLower(parsed.OS())}
	canonical := strings.TrimSpace(strings.Join(parts, " "))
	if canonical == "" {
		return minorVersion.ReplaceAllString(ua, "$1")
	}
	return canonical
}

// ParseUserAgent turns a raw user-agent string into a short display name such
// as "Chrome on Mac OS X" for session listings.
func ParseUserAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return "Unknown Device"
	}
	parsed := useragent.New(ua)
	name, _ := parsed.Browser()
	os := parsed.OSInfo().Name
	if os == "" {
		os = parsed.Platform()
	}
	if name == "" {
		name = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(name + " on " + os)
}
