package models

// DocChunk is an embedded slice of a document file indexed for retrieval.
type DocChunk struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	FileID    string    `json:"file_id"`
	Position  int       `json:"position"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
}
