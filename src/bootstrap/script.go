package bootstrap

import (
	_ "embed"
	"os"
	"path/filepath"
)

//go:embed worker.py
var workerScript []byte

// writeWorkerScript materializes the embedded worker under the runtime
// dir. It runs on every successful Ensure so script updates ship with
// the binary.
func (b *Bootstrapper) writeWorkerScript() error {
	dir := filepath.Join(b.dir, scriptsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(workerScriptPath(b.dir), workerScript, 0o644)
}
