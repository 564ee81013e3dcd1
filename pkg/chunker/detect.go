package chunker

import (
	"strings"

	"github.com/substrat/ragpipe/internal/models"
)

// Content-type detection scores a bounded sample against weighted
// indicator sets. A dominant signal over its threshold classifies the
// text as code.
const (
	detectSampleSize = 2000

	syntaxScoreThreshold  = 3.0 // weighted hits per 100 chars
	indentRatioThreshold  = 0.30
	punctDensityThreshold = 0.045
	commentRatioThreshold = 0.15
)

type indicator struct {
	token  string
	weight float64
}

var syntaxIndicators = []indicator{
	{"=>", 2},
	{"();", 2},
	{"!=", 1.5},
	{"==", 1.5},
	{"&&", 1.5},
	{"||", 1.5},
	{"func ", 3},
	{"def ", 3},
	{"class ", 2.5},
	{"import ", 2},
	{"#include", 3},
	{"return ", 2},
	{"const ", 1.5},
	{"var ", 1.5},
	{"{", 1},
	{"}", 1},
	{";", 1},
}

var commentPrefixes = []string{"//", "#", "/*", "*", "--"}

// DetectContentType classifies a text sample as code or prose.
func (c *Chunker) DetectContentType(text string) models.ContentType {
	sample := text
	if len(sample) > detectSampleSize {
		sample = sample[:detectSampleSize]
	}
	if len(sample) == 0 {
		return models.ContentTypeText
	}

	var syntaxScore float64
	for _, ind := range syntaxIndicators {
		syntaxScore += float64(strings.Count(sample, ind.token)) * ind.weight
	}
	syntaxScore = syntaxScore / float64(len(sample)) * 100

	lines := strings.Split(sample, "\n")
	var indented, comments, nonEmpty int
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		nonEmpty++
		if strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "    ") {
			indented++
		}
		for _, prefix := range commentPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				comments++
				break
			}
		}
	}

	var indentRatio, commentRatio float64
	if nonEmpty > 0 {
		indentRatio = float64(indented) / float64(nonEmpty)
		commentRatio = float64(comments) / float64(nonEmpty)
	}

	var punct int
	for _, r := range sample {
		switch r {
		case '{', '}', ';', '=', '(', ')', '<', '>':
			punct++
		}
	}
	punctDensity := float64(punct) / float64(len(sample))

	if syntaxScore > syntaxScoreThreshold ||
		indentRatio > indentRatioThreshold ||
		punctDensity > punctDensityThreshold ||
		commentRatio > commentRatioThreshold {
		return models.ContentTypeCode
	}
	return models.ContentTypeText
}
