package discovery

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// DefaultSidecarSuffixes are the extensions of per-plugin configuration files
// that live next to the executables.
var DefaultSidecarSuffixes = []string{".conf"}

// Reason explains why a directory entry is not a plugin candidate
type Reason string

const (
	Accepted      Reason = ""
	NotRegular    Reason = "not a regular file"
	Hidden        Reason = "dotfile"
	Sidecar       Reason = "sidecar configuration"
	NotExecutable Reason = "not executable"
)

// CandidateValidator decides which directory entries may be launched
type CandidateValidator struct {
	fs       afero.Fs
	suffixes []string
}

// NewCandidateValidator creates a validator. A nil suffix list selects
// DefaultSidecarSuffixes.
func NewCandidateValidator(fs afero.Fs, suffixes []string) *CandidateValidator {
	if suffixes == nil {
		suffixes = DefaultSidecarSuffixes
	}
	return &CandidateValidator{fs: fs, suffixes: suffixes}
}

// Check applies the candidate rules to one entry of dir
func (v *CandidateValidator) Check(dir string, info os.FileInfo) Reason {
	name := info.Name()
	switch {
	case !info.Mode().IsRegular():
		return NotRegular
	case strings.HasPrefix(name, "."):
		return Hidden
	case v.isSidecar(name):
		return Sidecar
	case !v.executable(filepath.Join(dir, name), info):
		return NotExecutable
	}
	return Accepted
}

func (v *CandidateValidator) isSidecar(name string) bool {
	for _, suffix := range v.suffixes {
		if suffix != "" && strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// executable asks the kernel on a real filesystem, so ownership and ACLs are
// honoured; in-memory filesystems fall back to the permission bits.
func (v *CandidateValidator) executable(path string, info os.FileInfo) bool {
	if _, ok := v.fs.(*afero.OsFs); ok {
		return unix.Access(path, unix.X_OK) == nil
	}
	return info.Mode().Perm()&0o111 != 0
}
