package targeting

import (
	"regexp"

	"github.com/mileusna/useragent"
	"go.uber.org/zap"
)

// UnknownFamily is the sentinel for an OS or browser family the parser
// could not identify.
const UnknownFamily = "Other"

// UserAgentInfo is the minimal classification the fraud filters need.
type UserAgentInfo struct {
	Bot           bool
	OSFamily      string
	BrowserFamily string
}

// Unrecognized reports whether both families are unknown, a heuristic for
// bots, proxy servers and prefetchers.
func (u UserAgentInfo) Unrecognized() bool {
	return u.OSFamily == UnknownFamily && u.BrowserFamily == UnknownFamily
}

// UAParser classifies raw user agent strings.
type UAParser interface {
	Parse(ua string) UserAgentInfo
}

// Parser is the default UAParser. Parse failures degrade to the unknown
// sentinel, never to an error.
type Parser struct{}

// NewParser creates a user agent parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse classifies a user agent string.
func (p *Parser) Parse(ua string) UserAgentInfo {
	parsed := useragent.Parse(ua)

	info := UserAgentInfo{
		Bot:           parsed.Bot,
		OSFamily:      parsed.OS,
		BrowserFamily: parsed.Name,
	}
	if info.OSFamily == "" {
		info.OSFamily = UnknownFamily
	}
	if info.BrowserFamily == "" {
		info.BrowserFamily = UnknownFamily
	}

	return info
}

// UABlacklist matches user agent strings against configured patterns.
type UABlacklist struct {
	patterns []*regexp.Regexp
}

// NewUABlacklist compiles the configured patterns. Invalid patterns are
// logged and skipped so one bad entry cannot disable the rest.
func NewUABlacklist(patterns []string, logger *zap.Logger) *UABlacklist {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn("skipping invalid user agent blacklist pattern",
				zap.String("pattern", p),
				zap.Error(err),
			)
			continue
		}
		compiled = append(compiled, re)
	}
	return &UABlacklist{patterns: compiled}
}

// IsBlacklisted reports whether the user agent matches any pattern.
func (b *UABlacklist) IsBlacklisted(ua string) bool {
	for _, re := range b.patterns {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}
