package types

import "time"

// AIConfig holds shared settings for components that call a text-generation API.
type AIConfig struct {
	// BaseURL is the OpenAI-compatible API root (e.g. "https://ark.cn-beijing.volces.com/api/v3").
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Model is the chat model identifier (e.g. "deepseek-v3-2-251201").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxRetries is the number of retry attempts for failed calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// Timeout bounds a single HTTP request (default 5m).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// EmbeddingBackend identifies the text embedding implementation.
type EmbeddingBackend string

const (
	EmbeddingHashing EmbeddingBackend = "hashing"
	EmbeddingHTTP    EmbeddingBackend = "http"
)

// EmbeddingConfig holds settings for the per-view embedder.
type EmbeddingConfig struct {
	// Backend selects the embedder: hashing (offline) or http.
	Backend EmbeddingBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Dims is the reduced vector dimension fed to fusion (default 20).
	Dims int `json:"dims" yaml:"dims" mapstructure:"dims"`

	// Features is the hashing space size for the offline backend (default 2048).
	Features int `json:"features" yaml:"features" mapstructure:"features"`

	// BaseURL, Model and APIKey configure the http backend.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// BatchSize caps the inputs sent per http request (default 32).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
}

// ClusterMethod names an unsupervised clustering backend.
type ClusterMethod string

const (
	MethodDBSCAN  ClusterMethod = "dbscan"
	MethodHDBSCAN ClusterMethod = "hdbscan"
	MethodKMeans  ClusterMethod = "kmeans"
)

// ClusterConfig holds the adaptive search and backend parameters.
type ClusterConfig struct {
	// Method selects the backend used for single-view runs and the
	// unsupervised fallback.
	Method ClusterMethod `json:"method" yaml:"method" mapstructure:"method"`

	// Eps is the starting DBSCAN radius (default 0.1).
	Eps float64 `json:"eps" yaml:"eps" mapstructure:"eps"`

	// MinSamples is the DBSCAN core-point threshold (default 3).
	MinSamples int `json:"min_samples" yaml:"min_samples" mapstructure:"min_samples"`

	// SelectionEpsilon is the starting HDBSCAN cluster-selection epsilon (default 0.3).
	SelectionEpsilon float64 `json:"selection_epsilon" yaml:"selection_epsilon" mapstructure:"selection_epsilon"`

	// MinClusterSize is the starting HDBSCAN minimum cluster size
	// (0 means max(5, N/10)).
	MinClusterSize int `json:"min_cluster_size" yaml:"min_cluster_size" mapstructure:"min_cluster_size"`

	// K fixes the centroid backend's cluster count (0 means search).
	K int `json:"k" yaml:"k" mapstructure:"k"`

	// KPenalty is subtracted from the silhouette score per cluster (default 0.02).
	KPenalty float64 `json:"k_penalty" yaml:"k_penalty" mapstructure:"k_penalty"`

	// MinK, MaxK and MaxNoise bound the accepted search result (defaults 2, 5, 0.4).
	MinK     int     `json:"min_k" yaml:"min_k" mapstructure:"min_k"`
	MaxK     int     `json:"max_k" yaml:"max_k" mapstructure:"max_k"`
	MaxNoise float64 `json:"max_noise" yaml:"max_noise" mapstructure:"max_noise"`

	// MaxIterations caps the parameter search (default 500).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`

	// Seed fixes every random choice in a run (default 42).
	Seed int64 `json:"seed" yaml:"seed" mapstructure:"seed"`
}

// AnchorConfig holds the adsorption thresholds.
type AnchorConfig struct {
	// LockCutoff is the raw distance under which Stage 1 locks (default 0.6).
	LockCutoff float64 `json:"lock_cutoff" yaml:"lock_cutoff" mapstructure:"lock_cutoff"`

	// SimilarityThreshold is the Stage 2 normalized similarity floor (default 0.75).
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" mapstructure:"similarity_threshold"`

	// MaxIterations caps Stage 3 migrations (default 25).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`

	// PoorFloor and PoorFraction define a poor category:
	// count <= PoorFloor or count <= total*PoorFraction (defaults 4, 0.1).
	PoorFloor    int     `json:"poor_floor" yaml:"poor_floor" mapstructure:"poor_floor"`
	PoorFraction float64 `json:"poor_fraction" yaml:"poor_fraction" mapstructure:"poor_fraction"`
}

// BandConfig is the ideal category size range for the balance score.
type BandConfig struct {
	Min int `json:"min" yaml:"min" mapstructure:"min"`
	Max int `json:"max" yaml:"max" mapstructure:"max"`
}

// RoundConfig holds the settings that differ between round 1 and round 2.
type RoundConfig struct {
	// Weights drives distance fusion.
	Weights Weights `json:"weights" yaml:"weights" mapstructure:"weights"`

	// KeywordWeights sets how much each view contributes to keyword profiles.
	KeywordWeights Weights `json:"keyword_weights" yaml:"keyword_weights" mapstructure:"keyword_weights"`

	// Band is the ideal category size range.
	Band BandConfig `json:"band" yaml:"band" mapstructure:"band"`

	// ContextTitles caps the documents quoted in the anchor prompt.
	ContextTitles int `json:"context_titles" yaml:"context_titles" mapstructure:"context_titles"`

	// ContextChars truncates the anchor prompt material (in runes).
	ContextChars int `json:"context_chars" yaml:"context_chars" mapstructure:"context_chars"`
}

// TaxonomyConfig groups everything the orchestrator needs.
type TaxonomyConfig struct {
	AI        AIConfig        `json:"ai" yaml:"ai" mapstructure:"ai"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	Cluster   ClusterConfig   `json:"cluster" yaml:"cluster" mapstructure:"cluster"`
	Anchor    AnchorConfig    `json:"anchor" yaml:"anchor" mapstructure:"anchor"`
	Round1    RoundConfig     `json:"round1" yaml:"round1" mapstructure:"round1"`
	Round2    RoundConfig     `json:"round2" yaml:"round2" mapstructure:"round2"`

	// PaperDescription describes the review being written; it grounds anchor prompts.
	PaperDescription string `json:"paper_description" yaml:"paper_description" mapstructure:"paper_description"`

	// Candidates is the number of anchor sets requested per round (default 3).
	Candidates int `json:"candidates" yaml:"candidates" mapstructure:"candidates"`

	// AnchorYear is the year given to injected anchors (default 2025).
	AnchorYear int `json:"anchor_year" yaml:"anchor_year" mapstructure:"anchor_year"`

	// Parallelism caps concurrent round-2 parents (default 4).
	Parallelism int `json:"parallelism" yaml:"parallelism" mapstructure:"parallelism"`

	// KeywordTopN is the number of keywords kept per category (default 5).
	KeywordTopN int `json:"keyword_top_n" yaml:"keyword_top_n" mapstructure:"keyword_top_n"`
}

// StoreConfig holds the output locations.
type StoreConfig struct {
	// OutputDir receives round1_results.json, round2_results.json and exports.
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`

	// DBFile is the run database file name inside OutputDir (default "runs.db").
	DBFile string `json:"db_file" yaml:"db_file" mapstructure:"db_file"`
}

// DefaultTaxonomyConfig returns the tuned defaults. The centroid penalty and
// the balance bands are corpus dependent and usually overridden per project.
func DefaultTaxonomyConfig() TaxonomyConfig {
	return TaxonomyConfig{
		AI: AIConfig{
			BaseURL:    "https://ark.cn-beijing.volces.com/api/v3",
			Model:      "deepseek-v3-2-251201",
			MaxRetries: 3,
			Timeout:    5 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Backend:   EmbeddingHashing,
			Dims:      20,
			Features:  2048,
			BatchSize: 32,
		},
		Cluster: ClusterConfig{
			Method:           MethodKMeans,
			Eps:              0.1,
			MinSamples:       3,
			SelectionEpsilon: 0.3,
			KPenalty:         0.02,
			MinK:             2,
			MaxK:             5,
			MaxNoise:         0.4,
			MaxIterations:    500,
			Seed:             42,
		},
		Anchor: AnchorConfig{
			LockCutoff:          0.6,
			SimilarityThreshold: 0.75,
			MaxIterations:       25,
			PoorFloor:           4,
			PoorFraction:        0.1,
		},
		Round1: RoundConfig{
			Weights:        Weights{Main: 0.05, Summary: 0.2, Map: 0.55, Lineage: 0.2, Year: 0},
			KeywordWeights: Weights{Main: 0.1, Summary: 0.2, Map: 0.35, Lineage: 0.35},
			Band:           BandConfig{Min: 20, Max: 50},
			ContextTitles:  200,
			ContextChars:   50000,
		},
		Round2: RoundConfig{
			Weights:        Weights{Main: 0.1, Summary: 0.2, Map: 0.4, Lineage: 0.2, Year: 0.1},
			KeywordWeights: Weights{Main: 0.2, Summary: 0.3, Map: 0.2, Lineage: 0.3},
			Band:           BandConfig{Min: 6, Max: 15},
			ContextTitles:  100,
			ContextChars:   40000,
		},
		Candidates:  3,
		AnchorYear:  2025,
		Parallelism: 4,
		KeywordTopN: 5,
	}
}

// DefaultStoreConfig returns the default output locations.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{OutputDir: "output/cluster", DBFile: "runs.db"}
}
