package rag

import (
	"fmt"
	"strings"

	"dev.ragsuite.platform/internal/domain"
)

const emptySourceSet = `<source_set empty="true" />`

// Source text lands inside attribute values as well as element bodies,
// so all five XML special characters are escaped.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// BuildSourceContext renders ranked sources as the XML-tagged block the
// generation prompt embeds under {retrieved_context}. Explicit source
// ids keep the model's citations checkable against the offered set.
func BuildSourceContext(sources []domain.RankedSource) string {
	if len(sources) == 0 {
		return emptySourceSet
	}

	blocks := make([]string, 0, len(sources)*4+2)
	blocks = append(blocks, "<source_set>")
	for _, source := range sources {
		blocks = append(blocks,
			fmt.Sprintf(`  <source id="%s" document_id="%s" document_name="%s" chunk_index="%d">`,
				xmlEscaper.Replace(source.SourceID),
				xmlEscaper.Replace(source.DocumentID),
				xmlEscaper.Replace(source.DocumentName),
				source.ChunkIndex,
			),
			"    <context_header>"+xmlEscaper.Replace(source.ContextHeader)+"</context_header>",
			"    <chunk_text>"+xmlEscaper.Replace(source.Text)+"</chunk_text>",
			"  </source>",
		)
	}
	blocks = append(blocks, "</source_set>")
	return strings.Join(blocks, "\n")
}
