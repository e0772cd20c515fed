package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks configuration values and returns sentinel errors
// checkable with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if err := validateOllamaHost(c.OllamaHost); err != nil {
		return err
	}

	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir cannot be empty", ErrInvalidDataDir)
	}

	if err := validateCollection(c.Collection); err != nil {
		return err
	}

	// Chunk windows must be positive and the overlap strictly smaller,
	// otherwise the sliding stride would not advance.
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.TopK)
	}

	if c.MaxContextChars < c.ChunkSize {
		return fmt.Errorf("%w: max_context_chars must hold at least one chunk (chunk_size %d), got %d",
			ErrInvalidContextSize, c.ChunkSize, c.MaxContextChars)
	}

	if c.MaxHistoryTurns < 0 || c.MaxHistoryTurns > 1000 {
		return fmt.Errorf("%w: must be between 0 and 1000, got %d", ErrInvalidHistorySize, c.MaxHistoryTurns)
	}

	if c.EmbedConcurrency < 1 || c.EmbedConcurrency > 64 {
		return fmt.Errorf("%w: must be between 1 and 64, got %d", ErrInvalidConcurrency, c.EmbedConcurrency)
	}

	// Local model inference can take minutes; still require a finite bound.
	if c.RequestTimeout < time.Second || c.RequestTimeout > 30*time.Minute {
		return fmt.Errorf("%w: must be between 1s and 30m, got %s", ErrInvalidTimeout, c.RequestTimeout)
	}

	return nil
}

func validateOllamaHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
	}
	u, err := url.Parse(host)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOllamaHost, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidOllamaHost, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrInvalidOllamaHost, host)
	}
	return nil
}

// validateCollection restricts collection names to characters safe for use
// as a file name component.
func validateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection cannot be empty", ErrInvalidCollection)
	}
	if len(name) > 64 {
		return fmt.Errorf("%w: name too long (%d chars, max 64)", ErrInvalidCollection, len(name))
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("%w: %q contains %q; allowed: letters, digits, '-', '_'",
				ErrInvalidCollection, name, string(r))
		}
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("%w: %q must not start with '-'", ErrInvalidCollection, name)
	}
	return nil
}
