package rag

// DefaultChunkSize is the chunk length, in characters, used at ingestion.
const DefaultChunkSize = 800

// ChunkText splits text into consecutive pieces of at most size runes.
func ChunkText(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
