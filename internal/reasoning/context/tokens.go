package context

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tiktokenOnce sync.Once
	tiktokenEnc  *tiktoken.Tiktoken
)

// loadTiktoken fetches the cl100k_base BPE ranks. The first call may need
// network access; afterwards tiktoken-go serves them from its local cache.
func loadTiktoken() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return
	}
	tiktokenEnc = enc
}

// EstimateTokens returns the cl100k_base token count of text, or a
// word/character heuristic when the encoding is unavailable.
func EstimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	tiktokenOnce.Do(loadTiktoken)
	if tiktokenEnc != nil {
		return len(tiktokenEnc.EncodeOrdinary(text))
	}
	return heuristicTokens(text)
}

func heuristicTokens(text string) int {
	wordBased := (len(strings.Fields(text))*4 + 2) / 3
	charBased := len(text) / 4
	if wordBased > charBased {
		return wordBased
	}
	return charBased
}
