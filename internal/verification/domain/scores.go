package domain

// BiometricScores holds the per-modality outputs consumed by the fusion
// stage. Similarity, SpoofProbability, and PhraseMatch are probabilities in
// [0,1]; values outside the range are clamped by the fusion engine, never
// rejected. Fields are pointers where a stage may not have run: a pipeline
// that exits before the text stage leaves PhraseMatch and PhraseOK nil.
type BiometricScores struct {
	Similarity         *float64
	SpoofProbability   *float64
	PhraseMatch        *float64
	PhraseOK           *bool
	InferenceLatencyMS int64
}

// Float returns a pointer to v; helper for building partial score sets.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
