// Package vocab expands business terminology: query words map to the
// entity and record names users actually mean ("sold" -> "sales invoice").
// The built-in dictionary can be extended or overridden from a YAML file,
// which is hot-reloaded when it changes on disk.
package vocab

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DomainGeneral is the default business domain; it carries no
// industry-specific expansions.
const DomainGeneral = "general"

// vocabFile is the YAML override format: a general term map plus optional
// per-industry maps merged on top of the built-ins.
type vocabFile struct {
	Expansions map[string][]string            `yaml:"expansions"`
	Industries map[string]map[string][]string `yaml:"industries"`
}

// Expander maps single words to related business terms, optionally scoped
// to an industry domain. Safe for concurrent use.
type Expander struct {
	logger *zap.Logger

	mu         sync.RWMutex
	general    map[string][]string
	industries map[string]map[string][]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewExpander creates an expander with the built-in dictionary.
func NewExpander(logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		logger:     logger,
		general:    builtinExpansions,
		industries: builtinIndustries,
	}
}

// LoadFile merges the YAML vocabulary at path over the built-ins. Entries
// replace the built-in expansion list for the same word.
func (e *Expander) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read vocabulary file: %w", err)
	}

	var file vocabFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse vocabulary file: %w", err)
	}

	general := make(map[string][]string, len(builtinExpansions)+len(file.Expansions))
	for word, terms := range builtinExpansions {
		general[word] = terms
	}
	for word, terms := range file.Expansions {
		general[strings.ToLower(word)] = terms
	}

	industries := make(map[string]map[string][]string, len(builtinIndustries)+len(file.Industries))
	for domain, terms := range builtinIndustries {
		industries[domain] = terms
	}
	for domain, overrides := range file.Industries {
		domain = strings.ToLower(domain)
		merged := make(map[string][]string)
		for word, terms := range industries[domain] {
			merged[word] = terms
		}
		for word, terms := range overrides {
			merged[strings.ToLower(word)] = terms
		}
		industries[domain] = merged
	}

	e.mu.Lock()
	e.general = general
	e.industries = industries
	e.mu.Unlock()
	return nil
}

// Watch reloads the vocabulary file whenever it is written. It returns
// after installing the watcher; call Close to stop it.
func (e *Expander) Watch(path string) error {
	if err := e.LoadFile(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create vocabulary watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch vocabulary file: %w", err)
	}

	e.watcher = watcher
	e.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := e.LoadFile(path); err != nil {
					e.logger.Warn("vocabulary reload failed", zap.String("path", path), zap.Error(err))
					continue
				}
				e.logger.Info("vocabulary reloaded", zap.String("path", path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Warn("vocabulary watcher error", zap.Error(err))
			case <-e.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one is running.
func (e *Expander) Close() error {
	if e.watcher == nil {
		return nil
	}
	close(e.done)
	return e.watcher.Close()
}

// Expand returns the business terms related to word within the given
// domain, excluding the word itself, de-duplicated in first-seen order.
// Unknown words expand to nothing.
func (e *Expander) Expand(word, domain string) []string {
	key := strings.ToLower(word)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var terms []string
	terms = append(terms, e.general[key]...)
	if industry, ok := e.industries[strings.ToLower(domain)]; ok {
		terms = append(terms, industry[key]...)
	}
	if len(terms) == 0 {
		return nil
	}

	seen := map[string]struct{}{key: {}}
	out := terms[:0]
	for _, term := range terms {
		t := strings.ToLower(term)
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, term)
	}
	return out
}
