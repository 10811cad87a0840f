package engine

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taskmesh/taskmesh/internal/template"
	"github.com/taskmesh/taskmesh/internal/types"
)

// ApplyTemplate instantiates a template file with the supplied variables.
// Task and edge creation is atomic; ids come back in template order.
func (e *Engine) ApplyTemplate(ctx context.Context, path string, vars map[string]string, confirm bool) ([]string, error) {
	spec, err := template.Load(path)
	if err != nil {
		return nil, err
	}
	var ids []string
	err = e.mutate(ctx, mutation{
		op:           "template_apply",
		createsTasks: true,
		hasIntent:    spec.Metadata.Description != "",
		confirm:      confirm,
		skipHooks:    true,
		hookInput:    map[string]string{"template": spec.Metadata.Name},
		run: func(ctx context.Context) error {
			var err error
			ids, err = template.Instantiate(ctx, e.store, spec, vars, e.agentID)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Export bundles a task's aggregate and shared context log into a tar.gz
// archive under archives/, returning the archive path.
func (e *Engine) Export(ctx context.Context, taskID string) (string, error) {
	var archivePath string
	err := e.read(ctx, "export", taskID, func(ctx context.Context) error {
		agg, err := e.store.GetTaskAggregate(ctx, taskID)
		if err != nil {
			return err
		}
		entries, err := e.store.GetContextEntries(ctx, taskID)
		if err != nil {
			return err
		}
		archivePath, err = e.writeArchive(taskID, agg, entries)
		return err
	})
	if err != nil {
		return "", err
	}
	return archivePath, nil
}

func (e *Engine) writeArchive(taskID string, agg *types.TaskAggregate, entries []*types.ContextEntry) (string, error) {
	name := fmt.Sprintf("%s_%s.tar.gz", time.Now().UTC().Format("20060102T150405Z"), taskID)
	path := filepath.Join(e.ws.ArchivesDir(), name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	taskJSON, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeTarFile(tw, "task.json", taskJSON); err != nil {
		return "", err
	}

	var contextLog bytes.Buffer
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return "", err
		}
		contextLog.Write(line)
		contextLog.WriteByte('\n')
	}
	if err := writeTarFile(tw, "context.ndjson", contextLog.Bytes()); err != nil {
		return "", err
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Now().UTC(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
