package extract

import "strings"

// SelectAnswerFragment picks the fragment of a multi-part response most
// likely to hold the structured answer:
//
//  1. scanning from the end, the first fragment containing both braces and
//     at least one expected key;
//  2. scanning from the end, the first fragment containing both braces;
//  3. all fragments joined by newlines, if the result contains an expected
//     key;
//  4. the last fragment.
//
// An empty input yields "".
func SelectAnswerFragment(parts []string, expectedKeys []string) string {
	if len(parts) == 0 {
		return ""
	}

	for i := len(parts) - 1; i >= 0; i-- {
		if hasBraces(parts[i]) && hasAnyKey(parts[i], expectedKeys) {
			return parts[i]
		}
	}
	for i := len(parts) - 1; i >= 0; i-- {
		if hasBraces(parts[i]) {
			return parts[i]
		}
	}
	if joined := strings.Join(parts, "\n"); hasAnyKey(joined, expectedKeys) {
		return joined
	}
	return parts[len(parts)-1]
}

func hasBraces(s string) bool {
	return strings.Contains(s, "{") && strings.Contains(s, "}")
}

func hasAnyKey(s string, keys []string) bool {
	for _, k := range keys {
		if k != "" && strings.Contains(s, k) {
			return true
		}
	}
	return false
}
