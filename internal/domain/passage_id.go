package domain

import (
	"strings"

	"github.com/google/uuid"
)

var passageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("multirag:passage"))

// PassageID returns the content-addressed identifier of a chunk. The same
// (recipe, source, text) triple always yields the same UUID, so re-indexing
// unchanged content overwrites existing points instead of duplicating them.
// Fields are NUL-separated so that shifting characters between them changes the id.
func PassageID(recipeName, sourcePath, chunkText string) string {
	var b strings.Builder
	b.Grow(len(recipeName) + len(sourcePath) + len(chunkText) + 2)
	b.WriteString(recipeName)
	b.WriteByte(0)
	b.WriteString(sourcePath)
	b.WriteByte(0)
	b.WriteString(chunkText)
	return uuid.NewSHA1(passageNamespace, []byte(b.String())).String()
}
