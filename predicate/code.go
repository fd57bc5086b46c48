package predicate

import "regexp"

// codeIndicators match source code fragments in free text. The whole input is
// scanned, so code hidden deep inside a long document is still found.
var codeIndicators = []*regexp.Regexp{
	regexp.MustCompile("```"),
	// python
	regexp.MustCompile(`\b(def|class)\s+[A-Za-z_]\w*\s*[(:]`),
	regexp.MustCompile(`(?m)^\s*(import\s+[\w.]+|from\s+[\w.]+\s+import\s+\w+)`),
	regexp.MustCompile(`\b(eval|exec)\s*\(`),
	// javascript
	regexp.MustCompile(`\bfunction\s*[A-Za-z_$]*\s*\([^)]*\)\s*\{`),
	regexp.MustCompile(`\brequire\(\s*['"]`),
	regexp.MustCompile(`\b(const|let|var)\s+[A-Za-z_$][\w$]*\s*=\s*\(?[^;\n]*=>`),
	regexp.MustCompile(`(?i)<script\b`),
	// sql
	regexp.MustCompile(`(?i)\b(DROP|TRUNCATE)\s+TABLE\b`),
	regexp.MustCompile(`\bSELECT\s+[\w*,.\s]+?\s+FROM\s+\w+`),
	regexp.MustCompile(`(?i)\bINSERT\s+INTO\s+\w+`),
	regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`),
}

// ContainsCode reports whether s appears to contain source code.
func ContainsCode(s string) bool {
	for _, re := range codeIndicators {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
