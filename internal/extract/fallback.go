// File path: internal/extract/fallback.go
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	prose "github.com/jdkato/prose/v2"

	"formloop/internal/common"
)

// FuzzyThreshold is the minimum similarity score (0-100 scale) at which a
// short extraction label is accepted as a match for a template path.
const FuzzyThreshold = 65

var commonPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"email", regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)},
	{"phone", regexp.MustCompile(`\+?\d[\d\s-]{7,}\d`)},
	{"pan", regexp.MustCompile(`[A-Z]{5}\d{4}[A-Z]`)},
}

var nerLabels = map[string]struct{}{
	"person": {},
	"org":    {},
	"gpe":    {},
	"loc":    {},
	"date":   {},
}

// Fallback is the secondary extractor: regex patterns for well-known token
// shapes, named-entity recognition for the rest, then fuzzy matching of each
// short label against the candidate template paths.
type Fallback struct {
	metric *metrics.JaroWinkler
}

func NewFallback() *Fallback {
	return &Fallback{metric: metrics.NewJaroWinkler()}
}

// Extract produces a path -> value mapping from free text. Labels that fail
// to reach the fuzzy threshold against every candidate are dropped.
func (f *Fallback) Extract(text string, candidates []string) map[string]interface{} {
	logger := common.Logger()
	extracted := make(map[string]string)
	for _, pattern := range commonPatterns {
		if m := pattern.re.FindString(text); m != "" {
			extracted[pattern.name] = strings.TrimSpace(m)
		}
	}

	doc, err := prose.NewDocument(text)
	if err != nil {
		logger.Warn("extract: NER document failed", "error", err)
	} else {
		for _, ent := range doc.Entities() {
			label := strings.ToLower(ent.Label)
			if _, ok := nerLabels[label]; ok {
				extracted[label] = ent.Text
			}
		}
	}

	// Sorted labels keep the mapping deterministic when two labels collide
	// on the same path.
	labels := make([]string, 0, len(extracted))
	for label := range extracted {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	mapped := make(map[string]interface{})
	for _, label := range labels {
		path, score := f.bestMatch(label, candidates)
		if score >= FuzzyThreshold {
			mapped[path] = extracted[label]
		} else {
			logger.Debug("extract: fuzzy match below threshold", "label", label, "best", path, "score", score)
		}
	}
	return mapped
}

// bestMatch scores a label against every candidate path, taking for each
// path the best-scoring cleaned segment. The first candidate in template
// order wins ties.
func (f *Fallback) bestMatch(label string, candidates []string) (string, float64) {
	needle := strings.ToLower(label)
	bestPath := ""
	bestScore := 0.0
	for _, path := range candidates {
		score := f.pathScore(needle, path)
		if score > bestScore {
			bestScore = score
			bestPath = path
		}
	}
	return bestPath, bestScore
}

func (f *Fallback) pathScore(needle, path string) float64 {
	best := 0.0
	for _, segment := range strings.Split(path, ".") {
		clean := strings.ReplaceAll(segment, "_", " ")
		clean = strings.ReplaceAll(clean, "ID", "")
		clean = strings.ToLower(strings.TrimSpace(clean))
		if clean == "" {
			continue
		}
		if score := strutil.Similarity(needle, clean, f.metric) * 100; score > best {
			best = score
		}
	}
	return best
}
