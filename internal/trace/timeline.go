package trace

// timeline keeps flushed entries in two halves. front holds the older part
// and is consumed from frontFirstValid as entries age out; new entries always
// go to back. When front is exhausted the halves swap, so aging out never
// moves memory.
type timeline struct {
	front           []Entry
	back            []Entry
	frontFirstValid int
}

func (t *timeline) append(entries []Entry) {
	t.back = append(t.back, entries...)
}

// defrag drops entries that began before oldest.
func (t *timeline) defrag(oldest float64) {
	for {
		for t.frontFirstValid < len(t.front) && t.front[t.frontFirstValid].Beginning < oldest {
			t.frontFirstValid++
		}
		if t.frontFirstValid < len(t.front) || len(t.back) == 0 {
			return
		}

		// front fully aged out: recycle it as the new back
		t.front, t.back = t.back, t.front[:0]
		t.frontFirstValid = 0
	}
}

func (t *timeline) len() int {
	return len(t.front) - t.frontFirstValid + len(t.back)
}

// drainTo appends all live entries in chronological order to out and resets
// the timeline.
func (t *timeline) drainTo(out []Entry) []Entry {
	out = append(out, t.front[t.frontFirstValid:]...)
	out = append(out, t.back...)

	t.front = t.front[:0]
	t.back = t.back[:0]
	t.frontFirstValid = 0
	return out
}
