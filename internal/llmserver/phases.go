package llmserver

import "strings"

// blueprintPhases maps the architect's top-level keys to the progress notes
// streamed while the blueprint JSON is being written, in document order.
var blueprintPhases = []struct {
	key  string
	note string
}{
	{`"draft_blueprint":`, "Drafting initial blueprint..."},
	{`"critique":`, "Critiquing the draft for architectural flaws..."},
	{`"final_blueprint":`, "Refining the final blueprint based on the critique..."},
}

// phaseScanner spots blueprint phases in a streamed JSON object. A phase
// fires once, when its key is present while the stream sits at brace depth
// one, which keeps nested objects from triggering false matches.
type phaseScanner struct {
	acc   strings.Builder
	depth int
	fired [3]bool
	done  int
}

// feed consumes one chunk and returns the progress notes it unlocked.
func (s *phaseScanner) feed(chunk string) []string {
	if s.done == len(blueprintPhases) {
		return nil
	}
	s.acc.WriteString(chunk)

	var notes []string
	if s.depth == 1 {
		text := s.acc.String()
		for i, phase := range blueprintPhases {
			if !s.fired[i] && strings.Contains(text, phase.key) {
				s.fired[i] = true
				s.done++
				notes = append(notes, phase.note)
			}
		}
	}

	s.depth += strings.Count(chunk, "{") - strings.Count(chunk, "}")
	return notes
}
