package coverage

import (
	"strings"
	"time"
)

// Expand substitutes output-filename tokens:
//
//	%d  local timestamp, YYYY-MM-DD-HH:MM:SS
//	%s  program name, or "unknown" when progname is empty
//	%%  literal %
//
// Any other %X sequence is passed through unchanged. No directories are
// created on behalf of the result.
func Expand(template, progname string) string {
	datetime := time.Now().Format("2006-01-02-15:04:05")
	if progname == "" {
		progname = "unknown"
	}

	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c == '%' && i+1 < len(template) {
			switch template[i+1] {
			case 'd':
				b.WriteString(datetime)
				i++
				continue
			case 's':
				b.WriteString(progname)
				i++
				continue
			case '%':
				b.WriteByte('%')
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
