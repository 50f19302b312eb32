package mirror

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// FilterConfig is an immutable snapshot of the user's selection.
type FilterConfig struct {
	Protocol      Protocol
	Country       string
	MaxDelay      Optional[time.Duration]
	MinCompletion float64

	// MaxDuration caps duration_avg + duration_stddev, in seconds.
	MaxDuration Optional[float64]
	RequireIPv4 bool
	RequireIPv6 bool

	// Workers > 1 evaluates records concurrently. The result is identical
	// to sequential evaluation.
	Workers int
}

// DefaultFilterConfig matches any protocol and country, imposes no delay
// limit and keeps only fully synced mirrors.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Protocol:      ProtocolAny,
		Country:       "",
		MinCompletion: 1.0,
	}
}

// AnyCountry reports whether the config places no country restriction.
func (c FilterConfig) AnyCountry() bool {
	return c.Country == "" || strings.EqualFold(c.Country, "any")
}

func (c FilterConfig) String() string {
	proto := c.Protocol
	if proto == "" {
		proto = ProtocolAny
	}
	country := "any"
	if !c.AnyCountry() {
		country = strings.ToUpper(c.Country)
	}
	delay := "none"
	if d, ok := c.MaxDelay.Get(); ok {
		delay = fmt.Sprintf("%ds", int64(d/time.Second))
	}
	parts := []string{
		"protocol=" + string(proto),
		"country=" + country,
		"max_delay=" + delay,
		fmt.Sprintf("min_completion=%.2f", c.MinCompletion),
	}
	if d, ok := c.MaxDuration.Get(); ok {
		parts = append(parts, fmt.Sprintf("max_duration=%.2f", d))
	}
	if c.RequireIPv4 {
		parts = append(parts, "ipv4")
	}
	if c.RequireIPv6 {
		parts = append(parts, "ipv6")
	}
	return strings.Join(parts, " ")
}

type predicate struct {
	name  string
	check func(Record, FilterConfig) bool
}

// predicates run in order; Reject reports the first that fails.
var predicates = []predicate{
	{"protocol", matchProtocol},
	{"country", matchCountry},
	{"freshness", matchFreshness},
	{"completion", matchCompletion},
	{"unscored", func(r Record, _ FilterConfig) bool { return r.Score.Known() }},
	{"inactive", func(r Record, _ FilterConfig) bool { return r.Active }},
	{"ip_version", matchIPVersion},
	{"duration", matchDuration},
}

func matchProtocol(r Record, c FilterConfig) bool {
	if c.Protocol == "" || c.Protocol == ProtocolAny {
		return r.Protocols.Has(ProtocolHTTP) || r.Protocols.Has(ProtocolHTTPS)
	}
	return r.Protocols.Has(c.Protocol)
}

func matchCountry(r Record, c FilterConfig) bool {
	if c.AnyCountry() {
		return true
	}
	code, ok := r.CountryCode.Get()
	return ok && strings.EqualFold(code, strings.TrimSpace(c.Country))
}

func matchFreshness(r Record, c FilterConfig) bool {
	limit, ok := c.MaxDelay.Get()
	if !ok {
		return true
	}
	if !r.LastSync.Known() {
		return false
	}
	// compare in whole seconds; a feed delay can exceed time.Duration's range
	delay, ok := r.Delay.Get()
	return ok && delay <= int64(limit/time.Second)
}

func matchCompletion(r Record, c FilterConfig) bool {
	return r.CompletionPct >= c.MinCompletion
}

func matchIPVersion(r Record, c FilterConfig) bool {
	if c.RequireIPv4 && !r.IPv4 {
		return false
	}
	if c.RequireIPv6 && !r.IPv6 {
		return false
	}
	return true
}

func matchDuration(r Record, c FilterConfig) bool {
	limit, ok := c.MaxDuration.Get()
	if !ok {
		return true
	}
	avg, okAvg := r.DurationAvg.Get()
	stddev, okStd := r.DurationStddev.Get()
	return okAvg && okStd && avg+stddev <= limit
}

// Reject returns the name of the first predicate rec fails, or ok=true
// when rec passes all of them.
func Reject(rec Record, cfg FilterConfig) (reason string, ok bool) {
	for _, p := range predicates {
		if !p.check(rec, cfg) {
			return p.name, false
		}
	}
	return "", true
}

// Matches reports whether rec satisfies every active predicate.
func Matches(rec Record, cfg FilterConfig) bool {
	_, ok := Reject(rec, cfg)
	return ok
}

// Filter returns the records that satisfy cfg, in their original order.
// An empty result is not an error.
func Filter(records []Record, cfg FilterConfig) []Record {
	if cfg.Workers <= 1 || len(records) < 2 {
		out := make([]Record, 0, len(records))
		for _, r := range records {
			if Matches(r, cfg) {
				out = append(out, r)
			}
		}
		return out
	}
	return filterParallel(records, cfg)
}

// filterParallel evaluates predicates with at most cfg.Workers goroutines
// and keeps input order by marking results per index.
func filterParallel(records []Record, cfg FilterConfig) []Record {
	keep := make([]bool, len(records))
	sem := make(chan struct{}, cfg.Workers)
	var wg sync.WaitGroup

	for i := range records {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			keep[idx] = Matches(records[idx], cfg)
		}(i)
	}
	wg.Wait()

	out := make([]Record, 0, len(records))
	for i, r := range records {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out
}
