package chunking

import "strings"

// Splitter cuts free-form document text into overlapping passages sized for
// retrieval. Passage boundaries prefer whitespace so terms are not cut in
// half mid-word.
type Splitter struct {
	PassageSize int
	Overlap     int
}

func NewSplitter(passageSize, overlap int) *Splitter {
	if passageSize <= 0 {
		passageSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= passageSize {
		overlap = passageSize / 4
	}
	return &Splitter{
		PassageSize: passageSize,
		Overlap:     overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.PassageSize - s.Overlap
	if step <= 0 {
		step = s.PassageSize
	}

	out := make([]string, 0, len(runes)/step+1)
	start := 0
	for start < len(runes) {
		end := start + s.PassageSize
		last := end >= len(runes)
		if last {
			end = len(runes)
		} else {
			end = breakAtWhitespace(runes, start, end)
		}
		passage := strings.TrimSpace(string(runes[start:end]))
		if passage != "" {
			out = append(out, passage)
		}
		if last {
			break
		}
		// Advance from the actual cut so no text is skipped when the
		// boundary search shortened the passage.
		next := end - s.Overlap
		if next <= start {
			next = start + step
		}
		start = next
	}
	return out
}

// breakAtWhitespace walks back from end looking for a space to cut at. Gives
// up after a quarter of the passage and cuts mid-word.
func breakAtWhitespace(runes []rune, start, end int) int {
	limit := end - (end-start)/4
	for i := end; i > limit; i-- {
		if runes[i-1] == ' ' || runes[i-1] == '\n' || runes[i-1] == '\t' {
			return i
		}
	}
	return end
}
