// Package mapping converts remote platform attributes into matching engine records.
//
// Every remote type falls in exactly one class: Mapped types have an engine
// kind, Ignored types are known to be useless for matching and are dropped
// quietly, and anything else is Unmapped and dropped with a warning so new
// remote types get noticed.
package mapping

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/pkg/logger"
	"github.com/okian/intelsync/pkg/metrics"
)

// Class is the outcome of looking up a remote type.
type Class int

const (
	Unmapped Class = iota
	Mapped
	Ignored
)

func (c Class) String() string {
	switch c {
	case Mapped:
		return "mapped"
	case Ignored:
		return "ignored"
	default:
		return "unmapped"
	}
}

// typeTable maps remote types to engine kinds.
// Composite "|port" types map to addresses; the port is dropped.
var typeTable = map[string]model.IndicatorKind{ //nolint:gochecknoglobals // static lookup table
	"ip-dst":                model.KindAddr,
	"ip-src":                model.KindAddr,
	"ip-dst|port":           model.KindAddr,
	"ip-src|port":           model.KindAddr,
	"domain":                model.KindDomain,
	"hostname":              model.KindDomain,
	"md5":                   model.KindFileHash,
	"sha1":                  model.KindFileHash,
	"sha256":                model.KindFileHash,
	"sha512":                model.KindFileHash,
	"url":                   model.KindURL,
	"email-src":             model.KindEmail,
	"email-dst":             model.KindEmail,
	"filename":              model.KindFileName,
	"x509-fingerprint-sha1": model.KindCertHash,
}

// defaultIgnored lists remote types with no useful engine counterpart.
var defaultIgnored = []string{ //nolint:gochecknoglobals // static default set
	"ssdeep", "imphash", "tlsh", "impfuzzy", "pehash", "authentihash", "vhash",
	"comment", "text", "other", "attachment", "malware-sample",
	"yara", "sigma", "snort", "pattern-in-file",
}

var schemePrefix = regexp.MustCompile(`(?i)^https?://`)

// Stats counts the outcome of a batch conversion.
type Stats struct {
	Total    int `json:"total"`
	Mapped   int `json:"mapped"`
	Ignored  int `json:"ignored"`
	Unmapped int `json:"unmapped"`
}

// Mapper is stateless after construction and safe for concurrent use.
type Mapper struct {
	ignored         map[string]struct{}
	reportSightings bool
	baseURL         string
	log             logger.Logger
}

// New creates a Mapper with the default ignore set.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		ignored:         make(map[string]struct{}, len(defaultIgnored)),
		reportSightings: true,
		log:             logger.Get().Named("mapping"),
	}
	for _, t := range defaultIgnored {
		m.ignored[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MapType classifies a remote type. The ignore set takes precedence over the table.
func (m *Mapper) MapType(remoteType string) (model.IndicatorKind, Class) {
	if _, ok := m.ignored[remoteType]; ok {
		return "", Ignored
	}
	if kind, ok := typeTable[remoteType]; ok {
		return kind, Mapped
	}
	return "", Unmapped
}

// NormalizeValue rewrites a raw remote value into the form the engine matches on.
func NormalizeValue(remoteType, raw string) string {
	switch {
	case remoteType == "url":
		return schemePrefix.ReplaceAllString(raw, "")
	case strings.HasSuffix(remoteType, "|port"):
		host, _, _ := strings.Cut(raw, "|")
		return host
	default:
		return raw
	}
}

// ToLocal converts one attribute. The returned record is only meaningful when the class is Mapped.
func (m *Mapper) ToLocal(attr model.RemoteAttribute) (model.LocalIndicator, Class) {
	kind, class := m.MapType(attr.Type)
	if class != Mapped {
		return model.LocalIndicator{}, class
	}

	ref, err := attr.EventRef()
	if err != nil {
		m.log.Debug(context.Background(), "undecodable embedded event",
			logger.String("attribute_id", attr.ID),
			logger.Error(err),
		)
	}

	meta := model.Metadata{
		Source:           "MISP",
		Desc:             string(attr.Event),
		ReportSightings:  m.reportSightings,
		MISPEventID:      ref.ID,
		MISPAttributeUID: attr.UUID,
		MISPEvent:        attr.Event,
	}
	if ref.ID != "" {
		meta.Source += "-" + ref.ID
	}
	if m.baseURL != "" && ref.ID != "" {
		meta.URL = fmt.Sprintf("%s/events/view/%s", m.baseURL, ref.ID)
	}

	return model.LocalIndicator{
		Indicator: NormalizeValue(attr.Type, attr.Value),
		Kind:      kind,
		Meta:      meta,
	}, Mapped
}

// Convert maps a batch, logging ignored records at debug and unmapped ones at warn.
func (m *Mapper) Convert(ctx context.Context, attrs []model.RemoteAttribute) ([]model.LocalIndicator, Stats) {
	out := make([]model.LocalIndicator, 0, len(attrs))
	stats := Stats{Total: len(attrs)}

	for _, attr := range attrs {
		li, class := m.ToLocal(attr)
		switch class {
		case Mapped:
			stats.Mapped++
			out = append(out, li)
		case Ignored:
			stats.Ignored++
			m.log.Debug(ctx, "ignoring attribute",
				logger.String("type", attr.Type),
				logger.String("value", attr.Value),
			)
		default:
			stats.Unmapped++
			m.log.Warn(ctx, "unmapped attribute type",
				logger.String("type", attr.Type),
				logger.String("value", attr.Value),
				logger.String("attribute_uid", attr.UUID),
			)
		}
	}

	metrics.RecordAttributeClass(Mapped.String(), stats.Mapped)
	metrics.RecordAttributeClass(Ignored.String(), stats.Ignored)
	metrics.RecordAttributeClass(Unmapped.String(), stats.Unmapped)

	return out, stats
}
