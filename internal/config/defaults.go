package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeoutMS == 0 {
		cfg.Server.RequestTimeoutMS = 60000
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/tanya/data/db/documents.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/tanya/data/indices/bleve"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/tanya/data/indices/vector"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/tanya/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 && cfg.Embedding.Provider != "openai" {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "flat"
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "l2"
		if cfg.Index.Backend == "qdrant" {
			cfg.Index.Metric = "cosine"
		}
	}
	if cfg.Index.Qdrant.Collection == "" {
		cfg.Index.Qdrant.Collection = "tanya_chunks"
	}
	if cfg.Index.Qdrant.APIKeyEnv == "" {
		cfg.Index.Qdrant.APIKeyEnv = "QDRANT_API_KEY"
	}
	if cfg.Index.Qdrant.TimeoutMS == 0 {
		cfg.Index.Qdrant.TimeoutMS = 15000
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 200
	}

	if cfg.Router.K == 0 {
		cfg.Router.K = 5
	}
	if cfg.Router.RawK == 0 {
		cfg.Router.RawK = 2 * cfg.Router.K
	}
	if cfg.Router.Threshold == nil {
		t := 0.5
		cfg.Router.Threshold = &t
	}
	if cfg.Router.MaxContextChunks == 0 {
		cfg.Router.MaxContextChunks = 5
	}
	if cfg.Router.AnswerMode == "" {
		cfg.Router.AnswerMode = "answer"
	}
	if cfg.Router.EmbedTimeoutMS == 0 {
		cfg.Router.EmbedTimeoutMS = 10000
	}
	if cfg.Router.SearchTimeoutMS == 0 {
		cfg.Router.SearchTimeoutMS = 5000
	}
	if cfg.Router.ValidateTimeoutMS == 0 {
		cfg.Router.ValidateTimeoutMS = 10000
	}
	if cfg.Router.GenerateTimeoutMS == 0 {
		cfg.Router.GenerateTimeoutMS = 60000
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.APIKeyEnv == "" {
		cfg.Generation.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.3
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 512
	}

	if cfg.Search.KeywordWeight == 0 && cfg.Search.SemanticWeight == 0 {
		cfg.Search.KeywordWeight = 0.3
		cfg.Search.SemanticWeight = 0.7
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 100
	}
	if cfg.Search.KeywordTitleBoost == 0 {
		cfg.Search.KeywordTitleBoost = 10.0
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".csv", ".pdf", ".docx", ".xlsx", ".pptx", ".odt", ".odp", ".ods", ".rtf"}
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 400
	}
	if cfg.Watch.RebuildDelayMS == 0 {
		cfg.Watch.RebuildDelayMS = 5000
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
