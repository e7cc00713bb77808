package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/olympisai/trafficgen/internal/loadgen/engine"
)

// WriteJSON writes result as indented JSON.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// WriteJSONFile writes result to path, or to stdout when path is "-".
func WriteJSONFile(path string, result *engine.TestResult) error {
	if path == "-" {
		return WriteJSON(os.Stdout, result)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := WriteJSON(f, result); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}
