package unified

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprints are the sole basis for change detection: remote "updated_at"
// fields are inconsistently present across the supported tools, so the engine
// hashes the externally-visible mutable fields instead. Fields are written in
// a fixed order with length prefixes, so neither map iteration order nor field
// concatenation ambiguity ("ab"+"c" vs "a"+"bc") can perturb the hash.

// TaskFingerprint hashes the mutable fields of a task.
func TaskFingerprint(title, description string, status TaskStatus, priority Priority) string {
	return fingerprint(title, description, string(status), string(priority))
}

// ProjectFingerprint hashes the mutable fields of a project.
func ProjectFingerprint(name, description string) string {
	return fingerprint(name, description)
}

// Fingerprint returns the content fingerprint of a unified task.
func (t *Task) Fingerprint() string {
	return TaskFingerprint(t.Title, t.Description, t.Status, t.Priority)
}

// Fingerprint returns the content fingerprint of a unified project.
func (p *Project) Fingerprint() string {
	return ProjectFingerprint(p.Name, p.Description)
}

func fingerprint(fields ...string) string {
	h := blake3.New()
	var buf [8]byte
	for _, f := range fields {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(f)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
