// Package session allocates per-request working storage. Every request gets a
// fresh input and output directory named by a random identifier; nothing
// outside the owning request writes into them.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidID       = errors.New("invalid session id")
	ErrInvalidFileName = errors.New("invalid file name")
	ErrNotFound        = errors.New("not found")
)

const (
	dirPerm     = 0o750
	maxAttempts = 3
)

// Session is the isolated storage scope of one request.
type Session struct {
	ID        string
	InputDir  string
	OutputDir string
}

type Manager struct {
	inputRoot  string
	outputRoot string
	newID      func() (string, error)
}

// NewManager creates both roots if necessary. Roots are made absolute so the
// directories handed to the worker do not depend on its working directory.
func NewManager(inputRoot, outputRoot string) (*Manager, error) {
	in, err := filepath.Abs(inputRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve input root: %w", err)
	}
	out, err := filepath.Abs(outputRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve output root: %w", err)
	}
	for _, dir := range []string{in, out} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("create session root %s: %w", dir, err)
		}
	}
	return &Manager{inputRoot: in, outputRoot: out, newID: newID}, nil
}

func newID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// Open allocates a new session. The directories are created with os.Mkdir, so
// an identifier whose directory already exists is never handed out twice.
func (m *Manager) Open() (Session, error) {
	var lastErr error
	for range maxAttempts {
		id, err := m.newID()
		if err != nil {
			return Session{}, fmt.Errorf("generate session id: %w", err)
		}
		s := m.paths(id)

		if err := os.Mkdir(s.InputDir, dirPerm); err != nil {
			if errors.Is(err, os.ErrExist) {
				lastErr = err
				continue
			}
			return Session{}, fmt.Errorf("create session input dir: %w", err)
		}
		if err := os.Mkdir(s.OutputDir, dirPerm); err != nil {
			_ = os.Remove(s.InputDir)
			if errors.Is(err, os.ErrExist) {
				lastErr = err
				continue
			}
			return Session{}, fmt.Errorf("create session output dir: %w", err)
		}
		return s, nil
	}
	return Session{}, fmt.Errorf("allocate session: %w", lastErr)
}

// Lookup returns an existing session by id.
func (m *Manager) Lookup(id string) (Session, error) {
	if !ValidID(id) {
		return Session{}, ErrInvalidID
	}
	s := m.paths(id)
	info, err := os.Stat(s.OutputDir)
	if err != nil || !info.IsDir() {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// OpenArtifact opens a file from the session's output directory. Names that
// could address anything outside that directory are rejected before the file
// system is touched, and the open itself is confined with os.OpenInRoot.
func (m *Manager) OpenArtifact(id, name string) (*os.File, os.FileInfo, error) {
	s, err := m.Lookup(id)
	if err != nil {
		return nil, nil, err
	}
	if err := ValidateFileName(name); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenInRoot(s.OutputDir, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat artifact: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

func (m *Manager) paths(id string) Session {
	return Session{
		ID:        id,
		InputDir:  filepath.Join(m.inputRoot, id),
		OutputDir: filepath.Join(m.outputRoot, id),
	}
}

// SaveUpload copies r into the session input directory under the sanitised
// base name of the client supplied file name and returns the stored path.
func (s Session) SaveUpload(fileName string, r io.Reader) (string, error) {
	path := filepath.Join(s.InputDir, UploadName(fileName))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	return path, nil
}

// ValidID reports whether id has the shape produced by Open: 32 lowercase hex
// characters.
func ValidID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// ValidateFileName accepts a single plain path element that does not start
// with a dot.
func ValidateFileName(name string) error {
	switch {
	case name == "", strings.HasPrefix(name, "."):
		return ErrInvalidFileName
	case strings.ContainsAny(name, `/\`+"\x00"):
		return ErrInvalidFileName
	case strings.Contains(name, ".."):
		return ErrInvalidFileName
	case filepath.IsAbs(name) || filepath.VolumeName(name) != "":
		return ErrInvalidFileName
	}
	return nil
}

// UploadName reduces a client file name to a safe base name.
func UploadName(fileName string) string {
	name := strings.ReplaceAll(fileName, `\`, "/")
	name = strings.TrimSpace(filepath.Base(name))
	if strings.HasPrefix(name, ".") && strings.Trim(name, ".") != "" {
		name = "upload" + filepath.Ext(name)
	}
	if ValidateFileName(name) != nil {
		return "upload"
	}
	return name
}
