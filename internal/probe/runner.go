package probe

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/okian/intelsync/internal/adapters/misp"
	"github.com/okian/intelsync/internal/domain/mapping"
	"github.com/okian/intelsync/internal/domain/model"
	"github.com/okian/intelsync/pkg/logger"
)

const outputFilePermission = 0600

// Run executes one probe and writes the per-type table to w.
func Run(ctx context.Context, cfg *Config, w io.Writer) (Summary, error) {
	log := logger.Get().Named("probe")

	client, err := misp.New(cfg.URL, cfg.APIKey,
		misp.WithInsecure(cfg.Insecure),
		misp.WithTimeout(cfg.Timeout),
		misp.WithLogger(log),
	)
	if err != nil {
		return Summary{}, fmt.Errorf("remote client: %w", err)
	}

	q := BuildQuery(cfg)
	log.Info(ctx, "searching remote platform",
		logger.String("url", client.BaseURL()),
		logger.Strings("event", q.EventID),
		logger.Strings("types", q.Types),
		logger.Strings("tags", q.Tags),
		logger.Int("limit", q.Limit),
	)

	start := time.Now()
	attrs, err := client.Search(ctx, q)
	if err != nil {
		return Summary{}, fmt.Errorf("search: %w", err)
	}

	sum := Summarize(attrs, mapping.New(mapping.WithLogger(log)))
	sum.Duration = time.Since(start)
	sum.Truncated = q.Limit > 0 && len(attrs) >= q.Limit

	if cfg.Output != "" {
		if err := saveAttributes(cfg.Output, attrs); err != nil {
			log.Warn(ctx, "failed to save attributes", logger.Error(err))
		} else {
			log.Info(ctx, "attributes saved", logger.String("file", cfg.Output))
		}
	}

	if err := Render(w, sum); err != nil {
		return sum, fmt.Errorf("render: %w", err)
	}
	return sum, nil
}

// BuildQuery translates the probe configuration into a search.
func BuildQuery(cfg *Config) misp.Query {
	q := misp.Query{
		Tags:  cfg.Tags,
		Types: cfg.Types,
		Limit: cfg.Limit,
	}
	if cfg.EventID != "" {
		q.EventID = []string{cfg.EventID}
	}
	if !cfg.From.IsZero() {
		q.From = cfg.From.Unix()
	}
	return q
}

// Summarize counts attributes per remote type and classifies each type.
func Summarize(attrs []model.RemoteAttribute, m *mapping.Mapper) Summary {
	counts := make(map[string]int)
	for _, a := range attrs {
		counts[a.Type]++
	}

	sum := Summary{Total: len(attrs), Types: make([]TypeCount, 0, len(counts))}
	for t, n := range counts {
		kind, class := m.MapType(t)
		sum.Types = append(sum.Types, TypeCount{Type: t, Count: n, Class: class, Kind: string(kind)})
		sum.Stats.Total += n
		switch class {
		case mapping.Mapped:
			sum.Stats.Mapped += n
		case mapping.Ignored:
			sum.Stats.Ignored += n
		default:
			sum.Stats.Unmapped += n
		}
	}
	sort.Slice(sum.Types, func(i, j int) bool {
		if sum.Types[i].Count != sum.Types[j].Count {
			return sum.Types[i].Count > sum.Types[j].Count
		}
		return sum.Types[i].Type < sum.Types[j].Type
	})
	return sum
}

// Render prints the summary as an aligned table.
func Render(w io.Writer, sum Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCOUNT\tCLASS\tKIND")
	for _, t := range sum.Types {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", t.Type, t.Count, t.Class, t.Kind)
	}
	fmt.Fprintf(tw, "\ntotal %d: mapped %d, ignored %d, unmapped %d (%s)\n",
		sum.Stats.Total, sum.Stats.Mapped, sum.Stats.Ignored, sum.Stats.Unmapped, sum.Duration.Round(time.Millisecond))
	if sum.Truncated {
		fmt.Fprintln(tw, "result hit the limit; counts may be incomplete")
	}
	return tw.Flush()
}

func saveAttributes(path string, attrs []model.RemoteAttribute) error {
	data, err := json.MarshalIndent(attrs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	if err := os.WriteFile(path, data, outputFilePermission); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
