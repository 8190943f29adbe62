package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type workspaceMarker struct {
	WSID      string `json:"wsid"`
	CreatedAt string `json:"created_at"`
}

// provisionFS materializes the on-disk workspace layout:
// <root>/<wsid>/{home,work,.orbit}. A marker file makes re-runs a noop.
type provisionFS struct {
	root string
}

func (p *provisionFS) Name() string { return "provision_fs" }

func (p *provisionFS) Execute(ctx context.Context, in Input) (map[string]string, error) {
	wsRoot := filepath.Join(p.root, in.WSID)
	marker := filepath.Join(wsRoot, ".orbit", "workspace.json")

	// Idempotency: marker present means a prior attempt finished.
	if _, err := os.Stat(marker); err == nil {
		in.Log.Info("provision_fs: already materialized, noop")
		return map[string]string{"fs_path": wsRoot}, nil
	}

	for _, dir := range []string{
		filepath.Join(wsRoot, "home"),
		filepath.Join(wsRoot, "work"),
		filepath.Join(wsRoot, ".orbit"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, Transient(fmt.Errorf("mkdir %s: %w", dir, err))
		}
	}

	doc, _ := json.Marshal(workspaceMarker{
		WSID:      in.WSID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err := writeFileAtomic(marker, doc, 0o644); err != nil {
		return nil, Transient(fmt.Errorf("write marker: %w", err))
	}

	in.Log.Info("provision_fs: completed")
	return map[string]string{"fs_path": wsRoot}, nil
}

// removeFS is the compensating action for provision_fs; it also takes any
// installed packages and rendered config down with the tree.
type removeFS struct {
	root string
}

func (r *removeFS) Name() string { return "remove_fs" }

func (r *removeFS) Compensate(ctx context.Context, in Input) error {
	wsRoot := filepath.Join(r.root, in.WSID)
	if err := os.RemoveAll(wsRoot); err != nil {
		return Transient(fmt.Errorf("remove %s: %w", wsRoot, err))
	}
	return nil
}

// writeFileAtomic writes via a temp file and rename so a crashed writer
// never leaves a half-written file behind.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
