package simplegrid

import (
	"strconv"
	"strings"
)

// DefaultCacheControl is sent when no cache policy is configured.
const DefaultCacheControl = "max-age=0, private, must-revalidate"

// CacheControl is the gateway's Cache-Control policy.
type CacheControl struct {
	NoCache        bool     `yaml:"no_cache" json:"no_cache"`
	MaxAge         *int     `yaml:"max_age" json:"max_age,omitempty"`
	Public         bool     `yaml:"public" json:"public"`
	MustRevalidate bool     `yaml:"must_revalidate" json:"must_revalidate"`
	Extras         []string `yaml:"extras" json:"extras,omitempty"`
}

// Header builds the Cache-Control header value. A nil policy yields
// DefaultCacheControl and NoCache overrides every other option.
func (c *CacheControl) Header() string {
	if c == nil {
		return DefaultCacheControl
	}
	if c.NoCache {
		return "no-cache"
	}

	var options []string
	if c.MaxAge != nil {
		options = append(options, "max-age="+strconv.Itoa(*c.MaxAge))
	}
	if c.Public {
		options = append(options, "public")
	} else {
		options = append(options, "private")
	}
	if c.MustRevalidate {
		options = append(options, "must-revalidate")
	}
	options = append(options, c.Extras...)
	return strings.Join(options, ", ")
}
