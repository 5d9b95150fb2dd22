// Package markup renders ANSI-styled game text for the web client.
package markup

import "strings"

// SGR codes recognized by the renderer. Anything else inside an escape
// sequence is dropped from the output in both modes.
var classNames = map[string]string{
	"1": "bold",
	"2": "dim",
	"3": "italic",
	"4": "underline",

	"30": "black",
	"31": "red",
	"32": "green",
	"33": "yellow",
	"34": "blue",
	"35": "magenta",
	"36": "cyan",
	"37": "white",

	"90": "bright-black",
	"91": "bright-red",
	"92": "bright-green",
	"93": "bright-yellow",
	"94": "bright-blue",
	"95": "bright-magenta",
	"96": "bright-cyan",
	"97": "bright-white",

	"40": "bg-black",
	"41": "bg-red",
	"42": "bg-green",
	"43": "bg-yellow",
	"44": "bg-blue",
	"45": "bg-magenta",
	"46": "bg-cyan",
	"47": "bg-white",
}

// Render converts ANSI SGR sequences in text to HTML span markers. When strip
// is true, the sequences are removed instead and the text is returned
// otherwise untouched. Render is a pure function with no per-connection
// state; unterminated escape sequences are dropped along with the text they
// would have styled nothing of.
func Render(text string, strip bool) string {
	if strip {
		return stripSequences(text)
	}
	return translate(text)
}

// translate escapes HTML metacharacters and wraps each styled run in a span
// with one class per recognized SGR code. A reset (code 0 or an empty
// parameter list) closes the current run.
func translate(text string) string {
	var b strings.Builder
	open := false

	i := 0
	for i < len(text) {
		codes, next, ok := scanSequence(text, i)
		if ok {
			if open {
				b.WriteString("</span>")
				open = false
			}
			if classes := classList(codes); classes != "" {
				b.WriteString(`<span class="`)
				b.WriteString(classes)
				b.WriteString(`">`)
				open = true
			}
			i = next
			continue
		}

		switch text[i] {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteByte(text[i])
		}
		i++
	}

	if open {
		b.WriteString("</span>")
	}
	return b.String()
}

// stripSequences removes ANSI escape sequences, leaving the text verbatim.
func stripSequences(text string) string {
	var b strings.Builder
	i := 0
	for i < len(text) {
		if _, next, ok := scanSequence(text, i); ok {
			i = next
			continue
		}
		b.WriteByte(text[i])
		i++
	}
	return b.String()
}

// scanSequence matches an SGR escape sequence ("\033[...m") starting at i.
// It returns the parameter codes and the index just past the terminator.
func scanSequence(text string, i int) (codes []string, next int, ok bool) {
	if i+1 >= len(text) || text[i] != '\033' || text[i+1] != '[' {
		return nil, 0, false
	}
	j := i + 2
	for j < len(text) && text[j] != 'm' {
		j++
	}
	if j >= len(text) {
		// Unterminated sequence: swallow the introducer, keep the rest.
		return nil, i + 2, true
	}
	params := text[i+2 : j]
	if params == "" {
		return nil, j + 1, true
	}
	return strings.Split(params, ";"), j + 1, true
}

// classList maps SGR codes to a space-separated class attribute value.
// A "0" anywhere resets: the sequence closes the run and opens nothing.
func classList(codes []string) string {
	var classes []string
	for _, code := range codes {
		if code == "0" {
			return ""
		}
		if name, ok := classNames[code]; ok {
			classes = append(classes, "ansi-"+name)
		}
	}
	return strings.Join(classes, " ")
}
