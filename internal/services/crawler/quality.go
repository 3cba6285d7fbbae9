package crawler

import (
	"fmt"
	"strings"
)

const (
	qualityWordCap    = 60
	qualityHeadingCap = 25
	qualityCodeBonus  = 15
)

// AssessQuality scores extracted Markdown from 0 to 100. Word volume
// dominates, heading structure and code samples top it up. The reason
// string travels with url_crawled events and filtered results.
func AssessQuality(markdown string) (int, string) {
	words := len(strings.Fields(markdown))
	headings := countHeadings(markdown)
	hasCode := strings.Contains(markdown, "```")

	score := words / 10
	if score > qualityWordCap {
		score = qualityWordCap
	}

	headingScore := headings * 5
	if headingScore > qualityHeadingCap {
		headingScore = qualityHeadingCap
	}
	score += headingScore

	if hasCode {
		score += qualityCodeBonus
	}
	if score > 100 {
		score = 100
	}

	var reason string
	switch {
	case words == 0:
		reason = "no textual content"
	case score < 30:
		reason = fmt.Sprintf("thin content: %d words, %d headings", words, headings)
	case score < 70:
		reason = fmt.Sprintf("moderate content: %d words, %d headings", words, headings)
	default:
		reason = fmt.Sprintf("substantial content: %d words, %d headings", words, headings)
	}
	return score, reason
}

// countHeadings counts ATX heading lines outside fenced code blocks.
func countHeadings(markdown string) int {
	count := 0
	inFence := false
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			count++
		}
	}
	return count
}
