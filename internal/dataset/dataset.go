// Package dataset loads benchmark problem sets from the Hugging Face
// datasets server, with seeded shuffling and file-backed caching keyed by
// (size, seed).
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/adaptiveagents/collabsim/pkg/logging"
)

// Sample is one problem/solution pair. Identity is the problem text; the
// train split is kept disjoint from the test split by it.
type Sample struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
	Level    string `json:"level,omitempty"`
	Subject  string `json:"subject,omitempty"`
}

// Source produces the full raw sample list for one named dataset. The
// store shuffles, slices, and caches on top of it.
type Source interface {
	Name() string
	TaskDescription() string
	Fetch(ctx context.Context) ([]Sample, error)
}

// Store resolves named datasets with caching. Cache files live under
// <cacheDir>/<dataset>/{testset|trainset}_size<N>_seed<S>.json.
type Store struct {
	cacheDir string
	sources  map[string]Source
	logger   *logging.Logger
}

type StoreOption func(*Store)

func WithSource(src Source) StoreOption {
	return func(s *Store) { s.sources[src.Name()] = src }
}

func WithStoreLogger(logger *logging.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore builds a store with the built-in math-500 and mmlu sources
// registered. Additional sources can be added via WithSource.
func NewStore(cacheDir string, opts ...StoreOption) *Store {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	s := &Store{
		cacheDir: cacheDir,
		sources:  map[string]Source{},
		logger:   logging.Default(),
	}
	for _, src := range []Source{NewMath500Source(httpClient), NewMMLUSource(httpClient)} {
		s.sources[src.Name()] = src
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Names lists the registered dataset names, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskDescription returns the user-facing task framing for a dataset.
func (s *Store) TaskDescription(name string) (string, error) {
	src, ok := s.sources[name]
	if !ok {
		return "", fmt.Errorf("dataset: unknown dataset %q (available: %v)", name, s.Names())
	}
	return src.TaskDescription(), nil
}

// Get returns an ordered sample list for the dataset. The test split is
// the first size samples of a seeded shuffle; the train split walks the
// same shuffle skipping any problem text present in the test split. Both
// are cached to JSON after the first fetch.
func (s *Store) Get(ctx context.Context, name string, size int, seed int64, training bool) ([]Sample, error) {
	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("dataset: unknown dataset %q (available: %v)", name, s.Names())
	}

	if !training {
		return s.testSet(ctx, src, size, seed)
	}
	return s.trainSet(ctx, src, size, seed)
}

func (s *Store) testSet(ctx context.Context, src Source, size int, seed int64) ([]Sample, error) {
	cacheFile := s.cachePath(src.Name(), "testset", size, seed)
	if cached, err := readCache(cacheFile); err == nil {
		return cached, nil
	}

	shuffled, err := s.fetchShuffled(ctx, src, seed)
	if err != nil {
		return nil, err
	}
	if size > len(shuffled) {
		return nil, fmt.Errorf("dataset: %s has %d samples, requested %d", src.Name(), len(shuffled), size)
	}
	testset := shuffled[:size]

	if err := writeCache(cacheFile, testset); err != nil {
		return nil, err
	}
	return testset, nil
}

func (s *Store) trainSet(ctx context.Context, src Source, size int, seed int64) ([]Sample, error) {
	testset, err := s.testSet(ctx, src, size, seed)
	if err != nil {
		return nil, err
	}
	testProblems := make(map[string]struct{}, len(testset))
	for _, sample := range testset {
		testProblems[sample.Problem] = struct{}{}
	}

	cacheFile := s.cachePath(src.Name(), "trainset", size, seed)
	if cached, err := readCache(cacheFile); err == nil {
		return cached, nil
	}

	shuffled, err := s.fetchShuffled(ctx, src, seed)
	if err != nil {
		return nil, err
	}

	trainset := make([]Sample, 0, size)
	for _, sample := range shuffled {
		if _, seen := testProblems[sample.Problem]; seen {
			continue
		}
		trainset = append(trainset, sample)
		if len(trainset) >= size {
			break
		}
	}

	if err := writeCache(cacheFile, trainset); err != nil {
		return nil, err
	}
	return trainset, nil
}

func (s *Store) fetchShuffled(ctx context.Context, src Source, seed int64) ([]Sample, error) {
	s.logger.Info("fetching dataset", "dataset", src.Name())
	samples, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("dataset: fetch %s: %w", src.Name(), err)
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})
	return samples, nil
}

func (s *Store) cachePath(dataset, split string, size int, seed int64) string {
	return filepath.Join(s.cacheDir, dataset, fmt.Sprintf("%s_size%d_seed%d.json", split, size, seed))
}

func readCache(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("dataset: corrupt cache %s: %w", path, err)
	}
	return samples, nil
}

func writeCache(path string, samples []Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("dataset: create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return fmt.Errorf("dataset: marshal cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("dataset: write cache: %w", err)
	}
	return nil
}
