package codegen

var keywordRewrites = map[string]string{
	"and": "&&",
	"or":  "||",
	"not": "!",
}

// rewriteIdentifiers rewrites the python-style boolean keywords `and`,
// `or`, `not` to their C equivalents wherever they appear as whole
// identifiers outside of quoted strings. Every other identifier is
// copied through verbatim.
func rewriteIdentifiers(text string) string {
	toks := tokenize(text)
	out := make([]byte, 0, len(text))
	for _, tok := range toks {
		if tok.kind == tokIdent {
			if repl, ok := keywordRewrites[tok.text]; ok {
				out = append(out, repl...)
				continue
			}
		}
		out = append(out, tok.text...)
	}
	return string(out)
}
