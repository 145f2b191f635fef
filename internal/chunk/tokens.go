package chunk

import "github.com/pkoukk/tiktoken-go"

var sharedEncoding = loadEncoding()

func loadEncoding() *tiktoken.Tiktoken {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil
	}
	return enc
}

// tokenLen counts s in cl100k_base tokens, the same unit chunk_size and
// chunk_overlap are expressed in. Falls back to a byte-length heuristic if
// the encoding table failed to load.
func tokenLen(s string) int {
	if sharedEncoding == nil {
		return len(s) / 4
	}
	return len(sharedEncoding.Encode(s, nil, nil))
}
