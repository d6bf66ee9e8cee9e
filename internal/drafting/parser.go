package drafting

import (
	"strconv"
	"strings"
)

// Selection is one accepted record from a model response. Index is 1-based.
type Selection struct {
	Index   int
	Reply   string
	Rewrite string
}

type record struct {
	index   int
	valid   bool
	reply   string
	rewrite string
}

// Parse reads "Tweet <n>:" blocks out of free-form model output. A record is
// kept only when n is within 1..count, n was not already kept, and every
// required field is non-empty. Anything else is dropped.
func Parse(text string, count int, wantRewrite bool) []Selection {
	var (
		out  []Selection
		seen = make(map[int]bool)
		cur  *record
	)
	closeRecord := func() {
		if cur == nil || !cur.valid {
			return
		}
		if cur.index < 1 || cur.index > count || seen[cur.index] {
			return
		}
		if cur.reply == "" || (wantRewrite && cur.rewrite == "") {
			return
		}
		seen[cur.index] = true
		sel := Selection{Index: cur.index, Reply: cur.reply}
		if wantRewrite {
			sel.Rewrite = cur.rewrite
		}
		out = append(out, sel)
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.Trim(strings.TrimSpace(raw), "*")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "Tweet ") && strings.Contains(line, ":"):
			closeRecord()
			cur = &record{}
			cur.index, cur.valid = headerIndex(line)
		case strings.HasPrefix(line, "Reply:"):
			if cur != nil {
				cur.reply = fieldValue(line, "Reply:")
			}
		case strings.HasPrefix(line, "Repurpose:"):
			if cur != nil {
				cur.rewrite = fieldValue(line, "Repurpose:")
			}
		}
	}
	closeRecord()
	return out
}

func headerIndex(line string) (int, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimRight(fields[1], ":*"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func fieldValue(line, prefix string) string {
	v := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	return strings.TrimSpace(strings.Trim(v, "*"))
}
