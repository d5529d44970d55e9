package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaugust4891/ad-image-generator/domain"
)

func fakePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func baseName(id int, provider, model string) string {
	return fmt.Sprintf("%08d-%s-%s", id, provider, model)
}

func TestSaveWritesImageSidecarAndManifest(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	art := domain.Artifact{
		NumericID: 1,
		RunID:     "run-1",
		Provider:  "mock",
		Model:     "mock-v1",
		Width:     32,
		Height:    32,
		CreatedAt: time.Now(),
		Prompt:    "a lighthouse",
	}
	require.NoError(t, s.Save(art, fakePNG(t, 32, 32), 0))

	base := baseName(1, "mock", "mock-v1")
	assert.FileExists(t, filepath.Join(dir, base+".png"))
	assert.FileExists(t, filepath.Join(dir, base+".json"))
	assert.FileExists(t, filepath.Join(dir, "manifest.jsonl"))

	data, err := os.ReadFile(filepath.Join(dir, "manifest.jsonl"))
	require.NoError(t, err)
	var entry domain.ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, 1, entry.NumericID)
	assert.Equal(t, base+".png", entry.ImagePath)
}

func TestSaveWithThumbnailWritesThumbFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	art := domain.Artifact{NumericID: 2, RunID: "run-1", Provider: "mock", Model: "mock-v1", Prompt: "x"}
	require.NoError(t, s.Save(art, fakePNG(t, 64, 64), 16))

	thumbPath := filepath.Join(dir, baseName(2, "mock", "mock-v1")+"_thumb.png")
	assert.FileExists(t, thumbPath)

	f, err := os.Open(thumbPath)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), 16)
	assert.LessOrEqual(t, img.Bounds().Dy(), 16)
}

func TestAppendManifestIsOneLinePerEntry(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	for i := 1; i <= 3; i++ {
		art := domain.Artifact{NumericID: i, RunID: "run-1", Provider: "mock", Model: "mock-v1", Prompt: "x"}
		require.NoError(t, s.Save(art, fakePNG(t, 8, 8), 0))
	}

	f, err := os.Open(filepath.Join(dir, "manifest.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestListSortsByCreatedDescending(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	art1 := domain.Artifact{NumericID: 1, Provider: "mock", Model: "mock-v1", Prompt: "x"}
	require.NoError(t, s.Save(art1, fakePNG(t, 4, 4), 0))
	time.Sleep(10 * time.Millisecond)
	art2 := domain.Artifact{NumericID: 2, Provider: "mock", Model: "mock-v1", Prompt: "x"}
	require.NoError(t, s.Save(art2, fakePNG(t, 4, 4), 0))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, baseName(2, "mock", "mock-v1")+".png", list[0].Name)
	assert.Equal(t, baseName(1, "mock", "mock-v1")+".png", list[1].Name)
}

func TestListExcludesThumbnails(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	art := domain.Artifact{NumericID: 1, Provider: "mock", Model: "mock-v1", Prompt: "x"}
	require.NoError(t, s.Save(art, fakePNG(t, 4, 4), 8))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, baseName(1, "mock", "mock-v1")+".png", list[0].Name)
}

func TestServeRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	art := domain.Artifact{NumericID: 1, Provider: "mock", Model: "mock-v1", Prompt: "x"}
	require.NoError(t, s.Save(art, fakePNG(t, 4, 4), 0))

	_, err := s.Serve("../etc/passwd")
	assert.Error(t, err)
	_, err = s.Serve("sub/1.png")
	assert.Error(t, err)
	_, err = s.Serve("..")
	assert.Error(t, err)

	name := baseName(1, "mock", "mock-v1") + ".png"
	path, err := s.Serve(name)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, name), path)
}

func TestServeRejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	_, err := s.Serve("nope.png")
	assert.Error(t, err)
}
