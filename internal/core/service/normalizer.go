package service

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/rl1809/inventory-scan/internal/core/domain"
)

const (
	PatternInventory = "inventory"
	PatternProduct   = "product"
	PatternGeneric   = "generic"
	PatternDigits    = "digits"

	DefaultScanPathMarker = "/scan/"
)

// IdentifierPattern is one entry of the ordered identifier extraction list.
type IdentifierPattern struct {
	Label   string
	Pattern *regexp.Regexp
}

// DefaultIdentifierPatterns returns the extraction list in priority order:
// inventory prefixes, product prefixes, any three letters with three or more
// digits, then a bare run of four or more digits.
func DefaultIdentifierPatterns(inventoryPrefixes, productPrefixes []string) []IdentifierPattern {
	if len(inventoryPrefixes) == 0 {
		inventoryPrefixes = []string{"INV"}
	}
	if len(productPrefixes) == 0 {
		productPrefixes = []string{"PRD"}
	}
	return []IdentifierPattern{
		{Label: PatternInventory, Pattern: prefixPattern(inventoryPrefixes)},
		{Label: PatternProduct, Pattern: prefixPattern(productPrefixes)},
		{Label: PatternGeneric, Pattern: regexp.MustCompile(`[A-Z]{3}\d{3,}`)},
		{Label: PatternDigits, Pattern: regexp.MustCompile(`\d{4,}`)},
	}
}

func prefixPattern(prefixes []string) *regexp.Regexp {
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = regexp.QuoteMeta(strings.ToUpper(p))
	}
	return regexp.MustCompile(`(?:` + strings.Join(quoted, "|") + `)\d+`)
}

type NormalizerConfig struct {
	// PublicHosts lists the hosts scan URLs are expected to point at. Empty
	// means any host is accepted.
	PublicHosts []string
	PathMarker  string
	Patterns    []IdentifierPattern
}

type Normalizer struct {
	publicHosts map[string]struct{}
	pathMarker  string
	patterns    []IdentifierPattern
}

func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	n := &Normalizer{
		publicHosts: make(map[string]struct{}, len(cfg.PublicHosts)),
		pathMarker:  cfg.PathMarker,
		patterns:    cfg.Patterns,
	}
	for _, h := range cfg.PublicHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			n.publicHosts[h] = struct{}{}
		}
	}
	if n.pathMarker == "" {
		n.pathMarker = DefaultScanPathMarker
	}
	if len(n.patterns) == 0 {
		n.patterns = DefaultIdentifierPatterns(nil, nil)
	}
	return n
}

func looksLikeURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// UnwrapURL returns the scan payload embedded in a URL: the path after the
// scan marker, or the last path segment when the marker is absent. Non-URL
// input and URLs with no usable segment come back unchanged. trusted is false
// when the host is not one of the configured public hosts.
func (n *Normalizer) UnwrapURL(raw string) (value string, trusted bool) {
	s := strings.TrimSpace(raw)
	if !looksLikeURL(s) {
		return raw, true
	}

	rest := s[strings.Index(s, "://")+3:]
	host, path, _ := strings.Cut(rest, "/")
	path = "/" + path
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	trusted = n.hostTrusted(host)

	var segment string
	if _, after, found := strings.Cut(path, n.pathMarker); found {
		segment = after
	} else {
		trimmed := strings.TrimRight(path, "/")
		segment = trimmed[strings.LastIndex(trimmed, "/")+1:]
	}
	segment = strings.Trim(segment, "/")
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return raw, trusted
	}
	return segment, trusted
}

func (n *Normalizer) hostTrusted(host string) bool {
	if len(n.publicHosts) == 0 {
		return true
	}
	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	host = strings.ToLower(host)
	if _, ok := n.publicHosts[host]; ok {
		return true
	}
	if h, _, found := strings.Cut(host, ":"); found {
		_, ok := n.publicHosts[h]
		return ok
	}
	return false
}

// ExtractIdentifier returns the first match of the first pattern that matches.
func (n *Normalizer) ExtractIdentifier(value string) (identifier, label string, ok bool) {
	for _, p := range n.patterns {
		if m := p.Pattern.FindString(value); m != "" {
			return m, p.Label, true
		}
	}
	return "", "", false
}

// Standardize rewrites scan input into the canonical record key form
// inventory:<name>|<identifier> where it can. Values already in that form are
// returned unchanged; input that matches no pattern is returned as is.
func (n *Normalizer) Standardize(raw string) string {
	value := strings.TrimSpace(raw)
	if looksLikeURL(value) {
		value, _ = n.UnwrapURL(value)
	}

	if hasCanonicalPrefix(value) && strings.Contains(value, domain.KeyDelimiter) {
		return value
	}

	if left, right, found := strings.Cut(value, domain.KeyDelimiter); found {
		return canonicalKey(strings.TrimSpace(left), strings.TrimSpace(right))
	}

	identifier, _, ok := n.ExtractIdentifier(value)
	if !ok {
		return value
	}
	name := strings.Replace(value, identifier, "", 1)
	name = strings.TrimPrefix(name, domain.KeyPrefix+":")
	name = strings.Trim(name, " \t-_:/")
	return canonicalKey(name, identifier)
}

func hasCanonicalPrefix(s string) bool {
	return strings.HasPrefix(s, domain.KeyPrefix+":")
}

func canonicalKey(name, identifier string) string {
	return domain.KeyPrefix + ":" + name + domain.KeyDelimiter + identifier
}
