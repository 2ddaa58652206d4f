package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"annotprop/internal/pipeline"
	"annotprop/internal/reconcile"
)

// DefaultPrefix is the key prefix run artifacts are written under.
const DefaultPrefix = "runs"

const (
	reportSuffix  = ".report.json"
	journalSuffix = ".journal.ndjson"

	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"
)

// Entry is one archived report.
type Entry struct {
	Key        string          `json:"key"`
	JournalKey string          `json:"journal_key"`
	Report     pipeline.Report `json:"report"`
}

// Writer lays out run artifacts as <prefix>/<YYYY-MM-DD>/<run-id>/<chain>-<aspect>.*
type Writer struct {
	store  Store
	prefix string
}

// NewWriter returns a writer over store. An empty prefix selects DefaultPrefix.
func NewWriter(store Store, prefix string) *Writer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Writer{store: store, prefix: strings.TrimSuffix(prefix, "/")}
}

// Keys returns the report and journal keys rep is archived under.
func (w *Writer) Keys(rep pipeline.Report) (reportKey, journalKey string) {
	dir := path.Join(w.prefix, rep.StartedAt.UTC().Format("2006-01-02"), rep.RunID)
	name := fmt.Sprintf("%s-%s", rep.Chain, rep.Aspect)
	return path.Join(dir, name+reportSuffix), path.Join(dir, name+journalSuffix)
}

// Write stores the report and its journal and returns the keys written.
func (w *Writer) Write(ctx context.Context, rep pipeline.Report) ([]string, error) {
	if rep.RunID == "" {
		return nil, fmt.Errorf("archive report: empty run id")
	}
	reportKey, journalKey := w.Keys(rep)
	meta := map[string]string{"run-id": rep.RunID, "chain": rep.Chain, "aspect": string(rep.Aspect)}

	body, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if _, err := w.store.Put(ctx, reportKey, bytes.NewReader(body), PutOptions{ContentType: contentTypeJSON, Metadata: meta}); err != nil {
		return nil, fmt.Errorf("archive report: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range rep.Changes {
		if err := enc.Encode(c); err != nil {
			return nil, fmt.Errorf("encode journal: %w", err)
		}
	}
	if _, err := w.store.Put(ctx, journalKey, &buf, PutOptions{ContentType: contentTypeNDJSON, Metadata: meta}); err != nil {
		return nil, fmt.Errorf("archive journal: %w", err)
	}
	return []string{reportKey, journalKey}, nil
}

// List returns every report under prefix, oldest run first.
func List(ctx context.Context, store Store, prefix string) ([]Entry, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	var entries []Entry
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, reportSuffix) {
			continue
		}
		var rep pipeline.Report
		if err := readJSON(ctx, store, info.Key, &rep); err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Key:        info.Key,
			JournalKey: strings.TrimSuffix(info.Key, reportSuffix) + journalSuffix,
			Report:     rep,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Report, entries[j].Report
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

// ReadJournal decodes the journal stored at key.
func ReadJournal(ctx context.Context, store Store, key string) ([]reconcile.Change, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	var changes []reconcile.Change
	dec := json.NewDecoder(rc)
	for {
		var c reconcile.Change
		err := dec.Decode(&c)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode journal %s: %w", key, err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func readJSON(ctx context.Context, store Store, key string, v any) error {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
