package messaging

// Topic suffixes for minter events; the full topic is "<prefix>.<suffix>".
const (
	SuffixSnapshots  = "snapshots"  // round parameters at fetch time
	SuffixCandidates = "candidates" // admissible secret found
	SuffixMints      = "mints"      // submission outcome, accepted or not
	SuffixFailures   = "failures"   // failed cycles
)

// Topics holds the resolved topic names
type Topics struct {
	Snapshots  string
	Candidates string
	Mints      string
	Failures   string
}

// NewTopics prefixes every topic with prefix
func NewTopics(prefix string) Topics {
	return Topics{
		Snapshots:  prefix + "." + SuffixSnapshots,
		Candidates: prefix + "." + SuffixCandidates,
		Mints:      prefix + "." + SuffixMints,
		Failures:   prefix + "." + SuffixFailures,
	}
}
