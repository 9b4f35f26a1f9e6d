package normalize

import "strings"

// ThinkSplitter separates reasoning embedded between inline tags from
// visible text. Tags may be split across any number of Push calls.
type ThinkSplitter struct {
	open    string
	close   string
	inside  bool
	pending string
}

// NewThinkSplitter creates a splitter for the given tag pair.
func NewThinkSplitter(open, close string) *ThinkSplitter {
	return &ThinkSplitter{open: open, close: close}
}

// Segment is a run of visible text or reasoning.
type Segment struct {
	Text      string
	Reasoning bool
}

// Segments consumes chunk and returns the runs it resolved, in the order
// they appeared. A trailing fragment that could still become a tag is held
// back.
func (t *ThinkSplitter) Segments(chunk string) []Segment {
	var segs []Segment
	emit := func(text string, reasoning bool) {
		if text == "" {
			return
		}
		if n := len(segs); n > 0 && segs[n-1].Reasoning == reasoning {
			segs[n-1].Text += text
			return
		}
		segs = append(segs, Segment{Text: text, Reasoning: reasoning})
	}

	buf := t.pending + chunk
	t.pending = ""
	for buf != "" {
		tag := t.open
		if t.inside {
			tag = t.close
		}
		if i := strings.Index(buf, tag); i >= 0 {
			emit(buf[:i], t.inside)
			buf = buf[i+len(tag):]
			t.inside = !t.inside
			continue
		}
		keep := partialSuffix(buf, tag)
		emit(buf[:len(buf)-keep], t.inside)
		t.pending = buf[len(buf)-keep:]
		break
	}
	return segs
}

// Push is Segments with the runs joined per kind.
func (t *ThinkSplitter) Push(chunk string) (text, reasoning string) {
	var out, think strings.Builder
	for _, seg := range t.Segments(chunk) {
		if seg.Reasoning {
			think.WriteString(seg.Text)
		} else {
			out.WriteString(seg.Text)
		}
	}
	return out.String(), think.String()
}

// Flush returns whatever was held back. An unterminated think block is
// reported as reasoning.
func (t *ThinkSplitter) Flush() (text, reasoning string) {
	rest := t.pending
	t.pending = ""
	if t.inside {
		return "", rest
	}
	return rest, ""
}

// Reset returns the splitter to its initial state.
func (t *ThinkSplitter) Reset() {
	t.inside = false
	t.pending = ""
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	for n := min(len(tag)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
