package hierarchy

// RuleSet is the explicit, configurable contradiction heuristic. A pair fires
// when two same-tier citations from the same jurisdiction each contain one
// side of the pair; the conflict is tolerated only when the answer text
// contains an acknowledgment term.
type RuleSet struct {
	ContradictionPairs [][2]string
	Acknowledgments    []string
}

// DefaultRuleSet covers the antonym pairs that show up in Spanish-language
// normative text. Callers may supply their own table; nothing here is learned
// or implicit.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		ContradictionPairs: [][2]string{
			{"prohibido", "permitido"},
			{"prohíbe", "permite"},
			{"obligatorio", "voluntario"},
			{"obligatoria", "voluntaria"},
			{"derogada", "vigente"},
			{"nulo", "válido"},
			{"exige", "exime"},
		},
		Acknowledgments: []string{
			"conflicto",
			"contradicción",
			"contradice",
			"obstante",
			"prevalece",
			"deroga",
		},
	}
}
