// Package store implements the Artifact Store: atomic (temp-file then
// rename) writes of {image, sidecar, thumbnail?} triples under out_dir,
// an append-only manifest.jsonl, and path-traversal-safe reads for the
// HTTP surface.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png" // decode support for thumbnail generation
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/zaugust4891/ad-image-generator/domain"
)

// Store persists artifacts under a single out_dir and serializes
// manifest writers.
type Store struct {
	outDir string

	manifestMu sync.Mutex
}

// New returns a Store rooted at outDir. outDir must already exist;
// callers create it (and verify it is writable) at startup, as
// orchestrator.New does.
func New(outDir string) *Store {
	return &Store{outDir: outDir}
}

// Save writes art's PNG bytes and JSON sidecar atomically, and, when
// thumbMaxPx > 0, a downscaled thumbnail. Every file is written to a
// temp path in out_dir and renamed into place; if any step fails the
// temp files are removed and no manifest entry is written.
func (s *Store) Save(art domain.Artifact, png []byte, thumbMaxPx int) error {
	base := fmt.Sprintf("%08d-%s-%s", art.NumericID, art.Provider, art.Model)
	imageName := base + ".png"
	sidecarName := base + ".json"

	art.ImagePath = imageName
	art.SidecarPath = sidecarName

	if err := s.atomicWrite(imageName, png); err != nil {
		return fmt.Errorf("store: write image: %w", err)
	}

	if thumbMaxPx > 0 {
		thumbName := base + "_thumb.png"
		thumb, err := makeThumbnail(png, thumbMaxPx)
		if err != nil {
			s.removeBestEffort(imageName)
			return fmt.Errorf("store: build thumbnail: %w", err)
		}
		if err := s.atomicWrite(thumbName, thumb); err != nil {
			s.removeBestEffort(imageName)
			return fmt.Errorf("store: write thumbnail: %w", err)
		}
		art.ThumbPath = thumbName
	}

	sidecar, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		s.removeBestEffort(imageName)
		s.removeBestEffort(art.ThumbPath)
		return fmt.Errorf("store: marshal sidecar: %w", err)
	}
	if err := s.atomicWrite(sidecarName, sidecar); err != nil {
		s.removeBestEffort(imageName)
		s.removeBestEffort(art.ThumbPath)
		return fmt.Errorf("store: write sidecar: %w", err)
	}

	return s.appendManifest(art.ToManifestEntry())
}

func (s *Store) removeBestEffort(name string) {
	if name == "" {
		return
	}
	_ = os.Remove(filepath.Join(s.outDir, name))
}

// atomicWrite writes data to name under out_dir via a temp file and
// rename, which is atomic within a single filesystem.
func (s *Store) atomicWrite(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.outDir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.outDir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func makeThumbnail(png []byte, maxPx int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	thumb := imaging.Fit(img, maxPx, maxPx, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// appendManifest opens manifest.jsonl in append mode and writes entry
// as one JSON line, under manifestMu to serialize concurrent writers.
func (s *Store) appendManifest(entry domain.ManifestEntry) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.outDir, "manifest.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal manifest entry: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write manifest entry: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush manifest entry: %w", err)
	}
	return f.Sync()
}

// ImageInfo describes one listed image for the HTTP surface.
type ImageInfo struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	CreatedMs int64  `json:"created_ms"`
}

// List enumerates *.png files directly under out_dir (thumbnails are
// suffixed _thumb.png and excluded), sorted by modification time
// descending.
func (s *Store) List() ([]ImageInfo, error) {
	entries, err := os.ReadDir(s.outDir)
	if err != nil {
		return nil, fmt.Errorf("store: list out_dir: %w", err)
	}

	var images []ImageInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".png") || strings.HasSuffix(name, "_thumb.png") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		images = append(images, ImageInfo{
			Name:      name,
			URL:       "/images/" + name,
			CreatedMs: info.ModTime().UnixMilli(),
		})
	}

	sort.Slice(images, func(i, j int) bool { return images[i].CreatedMs > images[j].CreatedMs })
	return images, nil
}

// Serve resolves name to a path under out_dir, rejecting any name that
// contains a path separator or "..".
func (s *Store) Serve(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("store: unsafe image name %q", name)
	}
	path := filepath.Join(s.outDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("store: image %q not found: %w", name, err)
	}
	return path, nil
}

// ManifestPath returns the path to manifest.jsonl under out_dir, used
// by the run command's --resume replay.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.outDir, "manifest.jsonl")
}
