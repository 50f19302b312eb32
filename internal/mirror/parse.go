package mirror

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BadgerOps/mirrorgen/internal/safety"
)

// rawRecord mirrors one entry of the Arch Linux mirror status JSON (v3).
// Score stays raw so a non-numeric value can be told apart from other
// field errors.
type rawRecord struct {
	URL            *string         `json:"url"`
	Protocol       *string         `json:"protocol"`
	Protocols      []string        `json:"protocols"`
	LastSync       *string         `json:"last_sync"`
	CompletionPct  *float64        `json:"completion_pct"`
	Delay          *int64          `json:"delay"`
	DurationAvg    *float64        `json:"duration_avg"`
	DurationStddev *float64        `json:"duration_stddev"`
	Score          json.RawMessage `json:"score"`
	Active         *bool           `json:"active"`
	Country        string          `json:"country"`
	CountryCode    string          `json:"country_code"`
	ISOs           bool            `json:"isos"`
	IPv4           bool            `json:"ipv4"`
	IPv6           bool            `json:"ipv6"`
}

// feedSchemes are the URL schemes the status feed publishes. rsync entries
// are kept as records so the protocol predicate rejects them rather than
// the parser.
var feedSchemes = []string{"http", "https", "rsync"}

type rawDocument struct {
	LastCheck *string `json:"last_check"`
	Cutoff    int64   `json:"cutoff"`
	Version   int     `json:"version"`
}

// Parse decodes a status document into a Feed. Only a document whose
// top-level shape is unrecognized yields an error (*ParseError); malformed
// entries are left out of Feed.Records and listed in Feed.Skipped.
func Parse(data []byte) (*Feed, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Reason: "empty document"}
	}
	if !json.Valid(data) {
		return nil, &ParseError{Reason: "document is not valid JSON"}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &ParseError{Reason: "document is not an object", Err: err}
	}

	rawURLs, ok := top["urls"]
	if !ok {
		return nil, &ParseError{Reason: `missing "urls" array`}
	}
	if bytes.Equal(bytes.TrimSpace(rawURLs), []byte("null")) {
		return nil, &ParseError{Reason: `"urls" is null`}
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(rawURLs, &entries); err != nil {
		return nil, &ParseError{Reason: `"urls" is not an array`, Err: err}
	}

	feed := &Feed{Records: make([]Record, 0, len(entries))}

	// Metadata is informational; a malformed header field does not reject the feed.
	var meta rawDocument
	if err := json.Unmarshal(data, &meta); err == nil {
		feed.Cutoff = meta.Cutoff
		feed.Version = meta.Version
		if meta.LastCheck != nil {
			if ts, err := time.Parse(time.RFC3339, *meta.LastCheck); err == nil {
				feed.LastCheck = Some(ts.UTC())
			}
		}
	}

	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		rec, err := parseRecord(i, entry)
		if err == nil {
			if _, dup := seen[rec.URL]; dup {
				err = ErrDuplicateURL
			}
		}
		if err != nil {
			feed.Skipped = append(feed.Skipped, SkippedRecord{
				Index: i,
				URL:   rec.URL,
				Stage: StageParse,
				Err:   err,
			})
			continue
		}
		seen[rec.URL] = struct{}{}
		feed.Records = append(feed.Records, rec)
	}

	return feed, nil
}

// parseRecord validates a single entry. On failure the returned Record
// carries whatever URL could be read, for diagnostics.
func parseRecord(index int, entry json.RawMessage) (Record, error) {
	rec := Record{Index: index}

	var raw rawRecord
	if err := json.Unmarshal(entry, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			if raw.URL != nil {
				rec.URL = *raw.URL
			}
			return rec, fmt.Errorf("%w %q: %v", ErrInvalidField, typeErr.Field, err)
		}
		return rec, fmt.Errorf("%w: entry is not an object: %v", ErrInvalidField, err)
	}

	if raw.URL == nil || strings.TrimSpace(*raw.URL) == "" {
		return rec, ErrMissingURL
	}
	rec.URL = strings.TrimSpace(*raw.URL)

	u, err := safety.ValidateURL(rec.URL, feedSchemes...)
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if len(raw.Score) > 0 && !bytes.Equal(raw.Score, []byte("null")) {
		var score float64
		if err := json.Unmarshal(raw.Score, &score); err != nil {
			return rec, fmt.Errorf("%w: %s", ErrInvalidScore, string(raw.Score))
		}
		rec.Score = Some(score)
	}

	if raw.CompletionPct != nil {
		pct := *raw.CompletionPct
		if pct < 0 || pct > 1 {
			return rec, fmt.Errorf("%w: %v", ErrCompletionRange, pct)
		}
		rec.CompletionPct = pct
	}

	if raw.Delay != nil {
		if *raw.Delay < 0 {
			return rec, fmt.Errorf("%w: %d", ErrNegativeDelay, *raw.Delay)
		}
		rec.Delay = Some(*raw.Delay)
	}

	if raw.LastSync != nil && *raw.LastSync != "" {
		ts, err := time.Parse(time.RFC3339, *raw.LastSync)
		if err != nil {
			return rec, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
		rec.LastSync = Some(ts.UTC())
	}

	if raw.DurationAvg != nil {
		rec.DurationAvg = Some(*raw.DurationAvg)
	}
	if raw.DurationStddev != nil {
		rec.DurationStddev = Some(*raw.DurationStddev)
	}

	rec.Protocols = protocolsOf(raw, u.Scheme)
	rec.Country = raw.Country
	if cc := strings.ToUpper(strings.TrimSpace(raw.CountryCode)); cc != "" {
		rec.CountryCode = Some(cc)
	}
	rec.Active = raw.Active == nil || *raw.Active
	rec.ISOs = raw.ISOs
	rec.IPv4 = raw.IPv4
	rec.IPv6 = raw.IPv6

	return rec, nil
}

func protocolsOf(raw rawRecord, scheme string) ProtocolSet {
	var protos []Protocol
	names := raw.Protocols
	if raw.Protocol != nil {
		names = append([]string{*raw.Protocol}, names...)
	}
	for _, name := range names {
		if p, ok := ParseProtocol(name); ok && p != ProtocolAny {
			protos = append(protos, p)
		}
	}
	if len(protos) == 0 {
		if p, ok := ParseProtocol(scheme); ok {
			protos = append(protos, p)
		}
	}
	return NewProtocolSet(protos...)
}
