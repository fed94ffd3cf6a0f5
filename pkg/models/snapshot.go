package models

// Snapshot is the pre-joined state of one (flag, environment) pair. It is what
// the evaluation path consumes, what the config cache stores, and what
// /sdk/config ships to SDKs. It must round-trip JSON unchanged.
type Snapshot struct {
	Flag     Flag       `json:"flag"`
	Config   FlagConfig `json:"config"`
	Variants []Variant  `json:"variants"`
	Rules    []Rule     `json:"rules"`
}

// Valid reports whether the snapshot is complete enough to evaluate.
func (s *Snapshot) Valid() bool {
	if s == nil {
		return false
	}
	if s.Flag.Key == "" || s.Config.Environment == "" {
		return false
	}
	return true
}
