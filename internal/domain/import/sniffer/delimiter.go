package sniffer

import "strings"

// delimiterWindow bounds how many lines are inspected for a delimiter.
const delimiterWindow = 20

// DetectDelimiter picks the field delimiter of a CSV/TSV export. Each line in
// the first window votes for the candidate it contains most often; metadata
// lines above the header usually contain none and do not vote.
func DetectDelimiter(lines []string) rune {
	votes := make(map[rune]int)
	for i, line := range lines {
		if i >= delimiterWindow {
			break
		}
		d, count := detectDelimiter(cleanLine(line, i == 0))
		if count > 0 {
			votes[d] += count
		}
	}

	best, bestVotes := ';', 0
	for _, d := range []rune{';', '\t', ',', '|'} {
		if votes[d] > bestVotes {
			best, bestVotes = d, votes[d]
		}
	}
	return best
}

func cleanLine(line string, firstLine bool) string {
	line = strings.TrimRight(line, "\r")
	if firstLine {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}

func detectDelimiter(line string) (rune, int) {
	delimiters := []rune{';', '\t', ',', '|'}
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range delimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}
