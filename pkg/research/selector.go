package research

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

// Selector routes a research request to the hosted deep-research service when
// a credential is configured and to the scraping fallback otherwise.
type Selector struct {
	// Credential is the hosted service API key. Empty selects the fallback.
	Credential string
	Deep       DeepResearcher
	Fallback   Fallback
	Observer   ProgressObserver
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Research never fails: errors and panics from either path come back as a
// fragment that starts with an error banner.
func (s *Selector) Research(ctx context.Context, query string, params Params) (fragment ReportFragment) {
	logger := s.logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Research path panicked", "query", query, "panic", r)
			s.Metrics.ObservePath(metrics.PathError)
			fragment = ErrorFragment(query, fmt.Errorf("%v", r))
		}
	}()

	if s.Credential != "" && s.Deep != nil {
		logger.Info("Using hosted deep research", "query", query,
			"max_depth", params.MaxDepth, "time_limit", params.TimeLimitSeconds, "max_urls", params.MaxURLs)
		s.Metrics.ObservePath(metrics.PathDeep)
		return s.Deep.Run(ctx, query, params, s.Observer)
	}

	if s.Fallback == nil {
		s.Metrics.ObservePath(metrics.PathError)
		return ErrorFragment(query, fmt.Errorf("no research path configured"))
	}

	logger.Warn("No deep research credential configured, using basic web scraping", "query", query)
	s.Metrics.ObservePath(metrics.PathScrape)
	return s.Fallback.Run(ctx, query)
}

func (s *Selector) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ErrorFragment is the degraded text handed to the agent when research could
// not run at all.
func ErrorFragment(query string, err error) ReportFragment {
	return fmt.Sprintf(`
# RESEARCH ERROR
Unable to complete web research for: %[1]s

Error: %[2]v

## Fallback Information:
Based on general knowledge about %[1]s, here are some key points to consider:

1. **Definition**: %[1]s is a topic that requires comprehensive analysis
2. **Current Trends**: Recent developments in this area show significant activity
3. **Key Considerations**: Important factors to consider include methodology, context, and implications
4. **Future Directions**: This topic continues to evolve with new research and applications

Please try again or consider using a different research approach.
`, query, err)
}
