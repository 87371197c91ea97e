package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/kuitang/catmaid-guitest/internal/obs"
)

// Source is the part of a browser session failure capture needs.
type Source interface {
	Screenshot(ctx context.Context) ([]byte, error)
	PageSource(ctx context.Context) (string, error)
}

// Uploader saves failure evidence for one run.
type Uploader interface {
	UploadFailure(ctx context.Context, runID, testName string, src Source) ([]string, error)
}

var keyReplacer = strings.NewReplacer(" ", "_", "\\", "_", "..", "_")

// FailurePrefix is the key prefix for a run's artifacts.
func FailurePrefix(runID, testName string) string {
	return path.Join("runs", keyReplacer.Replace(runID), keyReplacer.Replace(testName))
}

// UploadFailure captures a screenshot and the page source and stores them
// under runs/<run>/<test>/. Whatever could be captured is uploaded even if
// the other capture failed; the returned URIs list what was stored.
func (s *Store) UploadFailure(ctx context.Context, runID, testName string, src Source) ([]string, error) {
	prefix := FailurePrefix(runID, testName)
	var (
		stored []string
		errs   []error
	)

	if shot, err := src.Screenshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("capture screenshot: %w", err))
	} else {
		key := prefix + "/screenshot.png"
		if err := s.Put(ctx, key, shot, "image/png"); err != nil {
			errs = append(errs, err)
		} else {
			stored = append(stored, s.URI(key))
		}
	}

	if html, err := src.PageSource(ctx); err != nil {
		errs = append(errs, fmt.Errorf("capture page source: %w", err))
	} else {
		key := prefix + "/page.html"
		if err := s.Put(ctx, key, []byte(html), "text/html; charset=utf-8"); err != nil {
			errs = append(errs, err)
		} else {
			stored = append(stored, s.URI(key))
		}
	}

	if len(stored) > 0 {
		obs.PkgFrom(ctx, "artifacts").Info("failure artifacts uploaded", "uris", stored)
	}
	return stored, errors.Join(errs...)
}
