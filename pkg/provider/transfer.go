package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DefaultPublishAttempts bounds retries of throttled or unavailable uploads.
const DefaultPublishAttempts = 3

// Publish uploads a local file under key and returns its URI. Throttled and
// unavailable responses are retried with a doubling delay.
func Publish(ctx context.Context, p Provider, localPath, key string) (string, error) {
	delay := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= DefaultPublishAttempts; attempt++ {
		lastErr = putFile(ctx, p, localPath, key)
		if lastErr == nil {
			return p.URI(key), nil
		}
		if !IsRetryable(lastErr) || attempt == DefaultPublishAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", lastErr
}

func putFile(ctx context.Context, p Provider, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	return p.Put(ctx, key, f, st.Size())
}

// Fetch downloads key into destPath. The file appears atomically: a failed
// download leaves nothing behind.
func Fetch(ctx context.Context, p Provider, key, destPath string) (int64, error) {
	body, _, err := p.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".clipqueue-fetch-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		return 0, fmt.Errorf("rename download: %w", err)
	}
	return n, nil
}
