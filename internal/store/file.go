package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// document is the on-disk layout of the file store.
type document struct {
	Version int               `json:"version"`
	Records map[string]Record `json:"records"`
}

const documentVersion = 1

// File keeps every record in a single JSON document. Writes go to a temp
// file in the same directory and are renamed into place.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

func (f *File) Load(ctx context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(doc.Records))
	for ticker, r := range doc.Records {
		if err := Validate(r); err != nil {
			log.WithField("ticker", ticker).WithError(err).Warn("file store: skipping record")
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quote.Ticker < out[j].Quote.Ticker })
	return out, nil
}

func (f *File) Put(ctx context.Context, r Record) error {
	if err := Validate(r); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Records[r.Quote.Ticker] = r
	return f.write(doc)
}

func (f *File) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.write(document{Version: documentVersion, Records: map[string]Record{}})
}

func (f *File) read() (document, error) {
	doc := document{Version: documentVersion, Records: map[string]Record{}}
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if doc.Records == nil {
		doc.Records = map[string]Record{}
	}
	return doc, nil
}

func (f *File) write(doc document) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache document: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("rename into %s: %w", f.path, err)
	}
	return nil
}
