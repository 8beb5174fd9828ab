package ml

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"CoinPulse/internal/domain/models"

	"github.com/klauspost/compress/zstd"
)

const artifactVersion = 1

// Artifact is the on-disk model: a zstd-compressed gob of this struct. Exactly one of
// the classifier fields is set, matching Kind.
type Artifact struct {
	Version   int
	ModelID   string
	Kind      models.ModelKind
	Features  []string
	CreatedAt time.Time
	Forest    *RandomForest
	Boosting  *GradientBoosting
}

// NewArtifact wraps a fitted classifier.
func NewArtifact(modelID string, features []string, c Classifier) (*Artifact, error) {
	a := &Artifact{
		Version:   artifactVersion,
		ModelID:   modelID,
		Kind:      c.Kind(),
		Features:  append([]string{}, features...),
		CreatedAt: time.Now().UTC(),
	}
	switch m := c.(type) {
	case *RandomForest:
		a.Forest = m
	case *GradientBoosting:
		a.Boosting = m
	default:
		return nil, fmt.Errorf("cannot serialise classifier %T", c)
	}
	return a, nil
}

// Classifier returns the fitted model held by the artifact.
func (a *Artifact) Classifier() (Classifier, error) {
	switch {
	case a.Kind == models.KindRandomForest && a.Forest != nil:
		return a.Forest, nil
	case a.Kind == models.KindGradientBoosting && a.Boosting != nil:
		return a.Boosting, nil
	}
	return nil, fmt.Errorf("artifact %s: no classifier for kind %q", a.ModelID, a.Kind)
}

func EncodeArtifact(w io.Writer, a *Artifact) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(zw).Encode(a); err != nil {
		zw.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	return zw.Close()
}

func DecodeArtifact(r io.Reader) (*Artifact, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var a Artifact
	if err := gob.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("artifact version %d not supported", a.Version)
	}
	return &a, nil
}

// MarshalArtifact is EncodeArtifact into memory.
func MarshalArtifact(a *Artifact) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeArtifact(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteArtifact encodes a to path through a temp file and rename, so readers never see
// a partial file.
func WriteArtifact(path string, a *Artifact) error {
	data, err := MarshalArtifact(a)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}

// ReadArtifact loads an artifact file. A missing file yields an error matching
// os.ErrNotExist.
func ReadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := DecodeArtifact(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// ArtifactPath is <dir>/<modelID>.bin.
func ArtifactPath(dir, modelID string) string {
	return filepath.Join(dir, modelID+".bin")
}

// RemoveArtifact deletes path, ignoring a file that is already gone.
func RemoveArtifact(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
