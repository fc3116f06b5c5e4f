// Package natsort implements natural string ordering: embedded digit runs
// compare numerically instead of lexically, so "item2" sorts before "item10".
package natsort

import "sort"

type segment struct {
	text    string
	number  uint64
	isDigit bool
}

// key splits s into alternating text and digit segments.
func key(s string) []segment {
	segs := make([]segment, 0, 4)
	start := 0
	digit := false
	for i := 0; i <= len(s); i++ {
		var d bool
		if i < len(s) {
			d = s[i] >= '0' && s[i] <= '9'
		}
		if i == len(s) || d != digit {
			if i > start {
				seg := segment{text: s[start:i], isDigit: digit}
				if digit {
					seg.number = parseUint(s[start:i])
				}
				segs = append(segs, seg)
			}
			start = i
			digit = d
		}
	}
	return segs
}

func parseUint(s string) uint64 {
	var n uint64
	for i := 0; i < len(s); i++ {
		n = n*10 + uint64(s[i]-'0')
	}
	return n
}

// Less reports whether a orders before b under natural ordering.
func Less(a, b string) bool {
	ka, kb := key(a), key(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		sa, sb := ka[i], kb[i]
		switch {
		case sa.isDigit && sb.isDigit:
			if sa.number != sb.number {
				return sa.number < sb.number
			}
			// equal numeric value, fall back to text for stability ("07" vs "7")
			if sa.text != sb.text {
				return sa.text < sb.text
			}
		case sa.isDigit != sb.isDigit:
			// Deliberate tie-break for mixed kinds: digit segments rank first.
			// Ids built from a shared prefix shape ("img_7" vs "img_10") always
			// compare segment kinds pairwise and never reach this branch.
			return sa.isDigit
		default:
			if sa.text != sb.text {
				return sa.text < sb.text
			}
		}
	}
	return len(ka) < len(kb)
}

// Sort orders ss in place under natural ordering.
func Sort(ss []string) {
	sort.SliceStable(ss, func(i, j int) bool { return Less(ss[i], ss[j]) })
}
