package risk

// conceptLexicon enumerates the legal concepts the budget estimator can
// recognize in query text. Each concept fires when any of its trigger tokens
// appears. The table is deliberately explicit so budget estimation stays a
// testable rule set rather than free-form pattern matching.
var conceptLexicon = map[string][]string{
	"integridad":          {"integridad", "compliance", "soborno", "corrupción", "cohecho"},
	"responsabilidad":     {"responsabilidad", "penal", "sanción", "sanciones"},
	"contratación":        {"contratación", "licitación", "contrato", "adjudicación"},
	"protección de datos": {"datos", "privacidad", "habeas"},
	"laboral":             {"laboral", "trabajo", "empleador", "despido"},
	"tributario":          {"impuesto", "tributo", "fiscal", "tributario"},
	"societario":          {"sociedad", "accionista", "directorio", "societario"},
	"ambiental":           {"ambiental", "ambiente", "contaminación"},
	"consumidor":          {"consumidor", "usuario", "defensa"},
	"vigencia":            {"vigencia", "derogación", "derogada", "vigente"},
}

// detectConcepts counts distinct lexicon concepts triggered by the token set.
func detectConcepts(tokens []string) []string {
	present := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		present[tok] = struct{}{}
	}

	concepts := make([]string, 0, 4)
	for concept, triggers := range conceptLexicon {
		for _, trigger := range triggers {
			if _, ok := present[trigger]; ok {
				concepts = append(concepts, concept)
				break
			}
		}
	}
	return concepts
}
