package chat

// Chunk types emitted to websocket clients
const (
	ChunkText           = "text"
	ChunkResponseDone   = "response_done"
	ChunkFeatureCreated = "feature_created"
	ChunkError          = "error"
)

// Chunk is one unit of the outbound chat protocol. Chunks map one-to-one
// onto outgoing websocket JSON frames.
type Chunk struct {
	Type    string         `json:"type"`
	Content string         `json:"content,omitempty"`
	Feature map[string]any `json:"feature,omitempty"`
}

// TextChunk builds a streamed assistant text fragment
func TextChunk(content string) Chunk {
	return Chunk{Type: ChunkText, Content: content}
}

// ErrorChunk builds an error chunk
func ErrorChunk(content string) Chunk {
	return Chunk{Type: ChunkError, Content: content}
}
