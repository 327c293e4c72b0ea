package pipeline

// estimateTokens returns a conservative, deterministic upper bound on
// the token count of s without an exact tokenizer (spec.md §4.7). It
// approximates byte-pair tokenization as roughly 4 bytes per token,
// rounded up, which tracks real BPE tokenizers closely enough to bound
// a reservation without under-counting.
func estimateTokens(s string) int64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	return int64((n + 3) / 4)
}
