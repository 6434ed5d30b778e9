package domain

// Embedding is a text embedding tagged with the pinned model identity that
// produced it. Vectors from different models are never compared.
type Embedding struct {
	Model  string
	Vector []float32
}

// Comparable reports whether e and other came from the same model and have
// the same dimension.
func (e Embedding) Comparable(other Embedding) bool {
	return e.Model != "" && e.Model == other.Model && len(e.Vector) > 0 && len(e.Vector) == len(other.Vector)
}
