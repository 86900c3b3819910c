package domain

type VectorPoint struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]string
}

type VectorMatch struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}
