package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Default report file names.
const (
	DefaultOperationFile = "pi_image_manager_log.json"
	DefaultStatusFile    = "pi_image_status_log.json"
)

// FileStore persists run reports as JSON files, overwriting on every save.
// Operation reports and status reports go to separate files.
type FileStore struct {
	OperationPath string
	StatusPath    string
	// Signer, when able to sign, writes a signature sidecar after each save.
	Signer *Signer
	Logger zerolog.Logger
}

// PathFor returns the file that holds reports for action.
func (s *FileStore) PathFor(action string) string {
	if action == "status" {
		if s.StatusPath != "" {
			return s.StatusPath
		}
		return DefaultStatusFile
	}
	if s.OperationPath != "" {
		return s.OperationPath
	}
	return DefaultOperationFile
}

// Save writes r to the file for action.
func (s *FileStore) Save(ctx context.Context, action string, r RunReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(r)
	if err != nil {
		return err
	}

	path := s.PathFor(action)
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	logger := s.Logger.With().Str("action", action).Str("path", path).Logger()
	logger.Debug().Int("bytes", len(data)).Msg("report written")

	if s.Signer.CanSign() {
		sigPath, err := s.Signer.SignFile(path)
		if err != nil {
			return fmt.Errorf("sign report: %w", err)
		}
		logger.Debug().Str("signature", sigPath).Msg("report signed")
	}
	return nil
}

// Encode renders r in its persisted form.
func Encode(r RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// Load reads a persisted report.
func Load(path string) (RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunReport{}, fmt.Errorf("read report: %w", err)
	}
	var r RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return RunReport{}, fmt.Errorf("decode report %s: %w", path, err)
	}
	return r, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
