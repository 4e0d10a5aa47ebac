// Package reranker implements the cross-encoder scoring service: a
// registry mapping model names and aliases onto ONNX model directories,
// a tokenizer+onnxruntime scoring runtime, and the request-facing
// service with lazy model loading.
package reranker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"dev.ragsuite.platform/internal/domain"
)

// DefaultModelID is the cross-encoder the platform ships with.
const DefaultModelID = "BAAI/bge-reranker-v2-m3"

// XLM-RoBERTa special token ids, shared by the BGE reranker family.
const (
	defaultBOSToken int64 = 0
	defaultPadToken int64 = 1
	defaultEOSToken int64 = 2
)

// ModelSpec locates one ONNX cross-encoder on disk together with the
// special token ids its tokenizer uses for (query, document) pairs.
type ModelSpec struct {
	ID            string
	ModelPath     string
	TokenizerPath string

	BOSToken int64
	EOSToken int64
	PadToken int64
}

// Registry resolves model names and aliases onto ModelSpecs. The
// built-in default covers the BGE reranker; models.yaml adds or
// overrides entries per deployment.
type Registry struct {
	defaultModel string
	byID         map[string]ModelSpec
	aliases      map[string]string
}

// NewRegistry builds a registry holding only the built-in model, with
// its files expected under modelDir.
func NewRegistry(modelDir, defaultModel string) *Registry {
	registry := &Registry{
		defaultModel: defaultModel,
		byID:         make(map[string]ModelSpec),
		aliases:      make(map[string]string),
	}
	if registry.defaultModel == "" {
		registry.defaultModel = DefaultModelID
	}

	dir := filepath.Join(modelDir, "bge-reranker-v2-m3")
	registry.register(ModelSpec{
		ID:            DefaultModelID,
		ModelPath:     filepath.Join(dir, "model.onnx"),
		TokenizerPath: filepath.Join(dir, "tokenizer.json"),
		BOSToken:      defaultBOSToken,
		EOSToken:      defaultEOSToken,
		PadToken:      defaultPadToken,
	}, []string{
		"bge-reranker-v2-m3",
		"bge-reranker-v2-m3:latest",
		"BAAI/bge-reranker-v2-m3:latest",
	})
	return registry
}

// registryFile is the models.yaml document shape.
type registryFile struct {
	DefaultModel string          `yaml:"default_model"`
	Models       []registryEntry `yaml:"models"`
}

type registryEntry struct {
	ID            string         `yaml:"id"`
	Dir           string         `yaml:"dir"`
	ModelFile     string         `yaml:"model_file"`
	TokenizerFile string         `yaml:"tokenizer_file"`
	Aliases       []string       `yaml:"aliases"`
	SpecialTokens *specialTokens `yaml:"special_tokens"`
}

type specialTokens struct {
	BOS *int64 `yaml:"bos"`
	EOS *int64 `yaml:"eos"`
	Pad *int64 `yaml:"pad"`
}

// LoadRegistry builds the registry from the built-in defaults plus the
// optional models.yaml at path. A missing file leaves the built-ins
// untouched; a malformed one fails startup.
func LoadRegistry(path, modelDir, defaultModel string) (*Registry, error) {
	registry := NewRegistry(modelDir, defaultModel)
	if path == "" {
		return registry, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return registry, nil
		}
		return nil, fmt.Errorf("failed to read model registry %s: %w", path, err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse model registry %s: %w", path, err)
	}

	for _, entry := range file.Models {
		spec, err := entry.spec(modelDir)
		if err != nil {
			return nil, err
		}
		registry.register(spec, entry.Aliases)
	}
	if file.DefaultModel != "" {
		registry.defaultModel = file.DefaultModel
	}
	return registry, nil
}

func (e registryEntry) spec(modelDir string) (ModelSpec, error) {
	if strings.TrimSpace(e.ID) == "" {
		return ModelSpec{}, fmt.Errorf("model registry entry is missing an id")
	}
	if strings.TrimSpace(e.Dir) == "" {
		return ModelSpec{}, fmt.Errorf("model registry entry %q is missing a dir", e.ID)
	}

	dir := e.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(modelDir, dir)
	}
	modelFile := e.ModelFile
	if modelFile == "" {
		modelFile = "model.onnx"
	}
	tokenizerFile := e.TokenizerFile
	if tokenizerFile == "" {
		tokenizerFile = "tokenizer.json"
	}

	spec := ModelSpec{
		ID:            e.ID,
		ModelPath:     filepath.Join(dir, modelFile),
		TokenizerPath: filepath.Join(dir, tokenizerFile),
		BOSToken:      defaultBOSToken,
		EOSToken:      defaultEOSToken,
		PadToken:      defaultPadToken,
	}
	if e.SpecialTokens != nil {
		if e.SpecialTokens.BOS != nil {
			spec.BOSToken = *e.SpecialTokens.BOS
		}
		if e.SpecialTokens.EOS != nil {
			spec.EOSToken = *e.SpecialTokens.EOS
		}
		if e.SpecialTokens.Pad != nil {
			spec.PadToken = *e.SpecialTokens.Pad
		}
	}
	return spec, nil
}

func (r *Registry) register(spec ModelSpec, aliases []string) {
	r.byID[spec.ID] = spec
	for _, alias := range aliases {
		if alias != "" && alias != spec.ID {
			r.aliases[alias] = spec.ID
		}
	}
}

// DefaultModel returns the configured default name, which may itself be
// an alias.
func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

// Models returns the registered canonical ids, sorted.
func (r *Registry) Models() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve maps a requested model name onto its spec. An empty name
// selects the default; unknown names are rejected because there is no
// remote hub to fall back to.
func (r *Registry) Resolve(name string) (ModelSpec, error) {
	candidate := strings.TrimSpace(name)
	if candidate == "" {
		candidate = r.defaultModel
	}
	if canonical, ok := r.aliases[candidate]; ok {
		candidate = canonical
	}
	spec, ok := r.byID[candidate]
	if !ok {
		return ModelSpec{}, domain.Validationf("Unknown reranker model '%s'", candidate)
	}
	return spec, nil
}
