package main

import (
	"github.com/BadgerOps/mirrorgen/internal/config"
	"github.com/spf13/cobra"
)

// selectionFlags holds the filter and output overrides shared by generate,
// watch and serve. They only replace config values when set explicitly.
type selectionFlags struct {
	protocol      string
	country       string
	maxDelay      string
	minCompletion float64
	maxDuration   float64
	ipv4          bool
	ipv6          bool
	workers       int
	limit         int
	output        string
	feedFile      string
	feedURL       string
}

var flags selectionFlags

func addSelectionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flags.protocol, "protocol", "", "required protocol: http, https or any")
	f.StringVar(&flags.country, "country", "", "two-letter country code, or any")
	f.StringVar(&flags.maxDelay, "max-delay", "", "maximum sync delay: seconds, a duration like 90m, or none")
	f.Float64Var(&flags.minCompletion, "min-completion", 0, "minimum completion fraction in [0,1]")
	f.Float64Var(&flags.maxDuration, "max-duration", 0, "maximum mean+stddev check duration in seconds (0 disables)")
	f.BoolVar(&flags.ipv4, "ipv4", false, "require IPv4 support")
	f.BoolVar(&flags.ipv6, "ipv6", false, "require IPv6 support")
	f.IntVar(&flags.workers, "workers", 0, "evaluate filters with this many workers")
	f.IntVar(&flags.limit, "limit", 0, "emit at most this many mirrors (0 means all)")
	f.StringVar(&flags.feedFile, "feed-file", "", "read the status feed from a local file (may be zstd, xz or gzip compressed)")
	f.StringVar(&flags.feedURL, "feed-url", "", "status feed URL")
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output path, - for stdout")
}

// applyFlagOverrides copies explicitly set flags of cmd into cfg
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("protocol") {
		cfg.Filter.Protocol = flags.protocol
	}
	if changed("country") {
		cfg.Filter.Country = flags.country
	}
	if changed("max-delay") {
		cfg.Filter.MaxDelay = flags.maxDelay
	}
	if changed("min-completion") {
		cfg.Filter.MinCompletion = flags.minCompletion
	}
	if changed("max-duration") {
		cfg.Filter.MaxDuration = flags.maxDuration
	}
	if changed("ipv4") {
		cfg.Filter.RequireIPv4 = flags.ipv4
	}
	if changed("ipv6") {
		cfg.Filter.RequireIPv6 = flags.ipv6
	}
	if changed("workers") {
		cfg.Filter.Workers = flags.workers
	}
	if changed("limit") {
		cfg.Output.Limit = flags.limit
	}
	if changed("output") {
		cfg.Output.Path = flags.output
	}
	if changed("feed-url") {
		cfg.Feed.URL = flags.feedURL
	}
	if changed("listen") {
		cfg.Server.Listen = serveListen
	}
	if changed("cron") {
		cfg.Schedule.Cron = watchCron
	}
}
