package platform

import (
	"context"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/linkd/internal/logging"
)

// Verify compares the cache with a fresh dump from the transport and
// returns a unified diff, empty when they agree. Pending notifications are
// processed first.
func (p *Platform) Verify(ctx context.Context) (string, error) {
	var diff string
	err := p.operation(ctx, "verify", func(log *logging.Logger) error {
		links, err := p.transport.Dump(ctx)
		if err != nil {
			return err
		}

		// Run the dump through a scratch cache so derived fields compare.
		fresh := NewCache()
		for _, l := range links {
			fresh.Apply(RawEvent{Kind: EventAdded, Link: l})
		}

		diff, err = difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(renderLinks(p.cache.All())),
			B:        difflib.SplitLines(renderLinks(fresh.All())),
			FromFile: "cache",
			ToFile:   "kernel",
			Context:  1,
		})
		if err != nil {
			return err
		}
		if diff != "" {
			log.Warn("cache differs from kernel")
		}
		return nil
	})
	return diff, err
}

func renderLinks(links []Link) string {
	var b strings.Builder
	for _, l := range links {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return b.String()
}
