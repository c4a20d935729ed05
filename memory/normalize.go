package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// StripMarkdown flattens content to plain text. Extracted facts often arrive
// with emphasis, lists, or code spans, and markup must not influence hashing
// or similarity.
func StripMarkdown(content string) string {
	// Parser instances are single-use.
	doc := markdown.Parse([]byte(content), parser.NewWithExtensions(parser.CommonExtensions))
	var b strings.Builder
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch n := node.(type) {
		case *ast.Text:
			b.Write(n.Literal)
			b.WriteByte(' ')
		case *ast.Code:
			b.Write(n.Literal)
			b.WriteByte(' ')
		case *ast.CodeBlock:
			b.Write(n.Literal)
			b.WriteByte(' ')
		}
		return ast.GoToNext
	})
	return strings.TrimSpace(b.String())
}

// NormalizeContent produces the canonical comparison form of fact content:
// markdown stripped, lowercased, whitespace collapsed.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(StripMarkdown(content))), " ")
}

// ContentHash is the exact-duplicate fingerprint stored with every fact.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}
