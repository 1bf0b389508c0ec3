package localservice

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed runtime
var runtimeContext embed.FS

const stampFileName = "image.stamp"

// runtimeStamp hashes the embedded build context. The image is only
// rebuilt when the context changed since the last successful build.
func runtimeStamp() (string, error) {
	entries, err := runtimeContext.ReadDir("runtime")
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	hash := sha256.New()
	for _, name := range names {
		data, err := runtimeContext.ReadFile("runtime/" + name)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(hash, "%s\n", name)
		hash.Write(data)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// materializeRuntime writes the embedded build context into dir so
// docker build can use it as its context directory.
func materializeRuntime(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create build context dir: %w", err)
	}

	entries, err := runtimeContext.ReadDir("runtime")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := runtimeContext.ReadFile("runtime/" + entry.Name())
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, entry.Name()), data, 0o644); err != nil {
			return fmt.Errorf("write build context file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// readStamp returns the stamp recorded after the last successful build.
func readStamp(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, stampFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// writeStamp records the build context stamp after a successful build.
func writeStamp(dir, stamp string) error {
	return os.WriteFile(filepath.Join(dir, stampFileName), []byte(stamp+"\n"), 0o644)
}
