package config

import "fmt"

// MemoryConfig configures long-term conversation memory.
type MemoryConfig struct {
	// RetrievalK is the default number of records returned per query.
	RetrievalK int `yaml:"retrieval_k"`

	// QueryExpansion toggles augmented query variants for known
	// semantic categories (temporal, role, schedule).
	QueryExpansion bool `yaml:"query_expansion"`

	// RequireVec fails startup when the sqlite-vec extension is not
	// compiled in, instead of falling back to in-process cosine scan.
	RequireVec bool `yaml:"require_vec"`
}

// DefaultMemoryConfig returns sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		RetrievalK:     5,
		QueryExpansion: true,
	}
}

// Validate checks the memory section.
func (c MemoryConfig) Validate() error {
	if c.RetrievalK <= 0 {
		return fmt.Errorf("memory retrieval_k must be positive, got %d", c.RetrievalK)
	}
	return nil
}

// EmbeddingConfig configures the embedding engine backing memory.
type EmbeddingConfig struct {
	// Provider: "ollama" or "genai"
	Provider string `yaml:"provider"`

	// Ollama
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	// Google GenAI
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
	TaskType    string `yaml:"task_type"`
}

// DefaultEmbeddingConfig returns sensible defaults.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
	}
}
