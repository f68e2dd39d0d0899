// Package authority scores a paragraph's doctrinal weight from its
// document's (author, religion, collection) triple. The scoring table is an
// external YAML document, hot-reloaded so an operator can retune ranking
// without triggering re-embedding.
package authority

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	neutralDefault = 5
	minScore       = 1
	maxScore       = 10
)

// Config is the authority scoring table.
type Config struct {
	Default   int                       `yaml:"default"`
	Religions map[string]ReligionConfig `yaml:"religions"`
}

// ReligionConfig holds one religion's default score and its per-collection
// overrides.
type ReligionConfig struct {
	Default     int            `yaml:"default"`
	Collections map[string]int `yaml:"collections"`
}

// LoadConfig reads and parses a scoring table from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Default == 0 {
		cfg.Default = neutralDefault
	}
	return cfg, nil
}

// Scorer is the pure (author, religion, collection) -> score function,
// backed by a reloadable Config guarded by a read-write lock so scoring
// calls never block on a reload in progress.
type Scorer struct {
	mu      sync.RWMutex
	cfg     Config
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewScorer loads path and starts watching it for changes.
func NewScorer(path string, logger *zap.Logger) (*Scorer, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	s := &Scorer{cfg: cfg, path: path, logger: logger, done: make(chan struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Hot-reload is a convenience, not a correctness requirement; run
		// without it rather than failing startup.
		if logger != nil {
			logger.Warn("authority config watcher unavailable, hot-reload disabled", zap.Error(err))
		}
		return s, nil
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		if logger != nil {
			logger.Warn("could not watch authority config file", zap.Error(err))
		}
		return s, nil
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *Scorer) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(s.path)
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("authority config reload failed, keeping previous table", zap.Error(err))
				}
				continue
			}
			s.mu.Lock()
			s.cfg = cfg
			s.mu.Unlock()
			if s.logger != nil {
				s.logger.Info("authority config reloaded", zap.String("path", s.path))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if s.logger != nil {
				s.logger.Warn("authority config watcher error", zap.Error(err))
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the hot-reload watcher.
func (s *Scorer) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

// Score maps (author, religion, collection) to an integer authority rank in
// [1,10]. Unknown religions fall back to the configured neutral default;
// unknown collections inherit their religion's default.
func (s *Scorer) Score(author, religion, collection string) int {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	religionCfg, ok := cfg.Religions[religion]
	if !ok {
		return clamp(cfg.Default)
	}
	if collection != "" {
		if score, ok := religionCfg.Collections[collection]; ok {
			return clamp(score)
		}
	}
	if religionCfg.Default != 0 {
		return clamp(religionCfg.Default)
	}
	return clamp(cfg.Default)
}

func clamp(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
