package planner

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/example/nlagent/internal/providers/llm"
)

// MergeSections combines the accumulated sections into one script. The
// oracle is asked first; on any failure the deterministic text merge is
// used instead, so merging never fails.
func (p *Planner) MergeSections(ctx context.Context, goal string, u *UnifiedContext) string {
	if p.LLM.Enabled() {
		var parts []string
		for i, s := range u.Sections {
			parts = append(parts, "# Section "+strconv.Itoa(i+1)+"\n"+s.Code)
		}
		user := "Goal: " + goal + "\n\nCombine these code sections into a single coherent Python script. " +
			"Deduplicate imports and keep the latest definition of each function. " +
			"Respond as JSON: {\"code\": \"...\"}.\n\n" + strings.Join(parts, "\n\n")
		obj, err := p.LLM.CompleteJSON(ctx, "You merge Python code sections into one runnable script.", user, 3000)
		if err == nil {
			if code := llm.GetString(obj, "code"); strings.TrimSpace(code) != "" {
				return code
			}
		}
	}
	return MergeSectionsText(u.Sections)
}

var defRe = regexp.MustCompile(`^def\s+(\w+)`)

// MergeSectionsText is the deterministic merge: unique import lines in
// first-seen order, then function definitions with last definition
// winning, then remaining top-level statements wrapped in a main().
func MergeSectionsText(sections []CodeSection) string {
	var importLines []string
	seenImports := make(map[string]struct{})
	funcs := make(map[string]string)
	var funcOrder []string
	var loose []string

	for _, sec := range sections {
		lines := strings.Split(sec.Code, "\n")
		for i := 0; i < len(lines); i++ {
			line := lines[i]
			trimmed := strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from "):
				if _, ok := seenImports[trimmed]; !ok {
					seenImports[trimmed] = struct{}{}
					importLines = append(importLines, trimmed)
				}
			case defRe.MatchString(line):
				name := defRe.FindStringSubmatch(line)[1]
				body := []string{line}
				for i+1 < len(lines) {
					next := lines[i+1]
					if strings.TrimSpace(next) != "" && !strings.HasPrefix(next, " ") && !strings.HasPrefix(next, "\t") {
						break
					}
					body = append(body, next)
					i++
				}
				if _, ok := funcs[name]; !ok {
					funcOrder = append(funcOrder, name)
				}
				funcs[name] = strings.TrimRight(strings.Join(body, "\n"), "\n")
			case trimmed == "" || strings.HasPrefix(trimmed, "#"):
				// skip
			default:
				loose = append(loose, line)
			}
		}
	}

	var out []string
	out = append(out, importLines...)
	if len(importLines) > 0 {
		out = append(out, "")
	}
	for _, name := range funcOrder {
		out = append(out, funcs[name], "")
	}
	if len(loose) > 0 {
		out = append(out, "def main():")
		// Keep each line's own indentation so block statements survive.
		for _, l := range loose {
			out = append(out, "    "+strings.TrimRight(l, " \t"))
		}
		out = append(out, "", "if __name__ == \"__main__\":", "    main()")
	}
	return strings.Join(out, "\n")
}
