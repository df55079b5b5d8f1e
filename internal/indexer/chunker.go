package indexer

import (
	"strings"

	"github.com/seanblong/codeindexer/pkg/models"
)

// ChunkLines splits content into windows of size lines, each starting
// size-overlap lines after the previous one. Windows that hold only
// whitespace are dropped. Callers must ensure 0 <= overlap < size.
func ChunkLines(content string, size, overlap int) []models.Chunk {
	lines := strings.Split(content, "\n")
	n := len(lines)

	// A trailing newline leaves an empty element that is kept in the windows
	// but is not a line of the file.
	total := n
	if strings.HasSuffix(content, "\n") {
		total--
	}

	step := size - overlap
	var chunks []models.Chunk
	for start := 0; start < n; start += step {
		end := min(start+size, n)
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Content:   text,
			StartLine: start + 1,
			EndLine:   min(start+size, total),
		})
	}
	return chunks
}
