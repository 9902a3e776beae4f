// Package intake stages inbound files through validation into temporary
// storage, hands them to the backend, and guarantees the temporary copy is
// removed on every exit path.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"paybot/pkg/gateway"
	"paybot/pkg/logx"
)

// ValidationError marks a file the user can fix and resend. Anything else is
// an infrastructure failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "file rejected: " + e.Reason }

// IsValidation reports whether err is a user-correctable rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Policy is the acceptance rule for inbound files.
type Policy struct {
	MaxBytes     int64
	AllowedTypes []string // MIME types
}

// DefaultPolicy accepts the screenshot formats the backend stores.
func DefaultPolicy(maxBytes int64) Policy {
	return Policy{
		MaxBytes:     maxBytes,
		AllowedTypes: []string{"image/png", "image/jpeg"},
	}
}

// PolicyFrom overlays the backend's advertised upload policy on fallback.
// Zero or absent backend values keep the fallback's.
func PolicyFrom(uc gateway.UploadConfig, fallback Policy) Policy {
	p := fallback
	if uc.MaxFileSize > 0 {
		p.MaxBytes = uc.MaxFileSize
	}
	if len(uc.AllowedMIMETypes) > 0 {
		p.AllowedTypes = uc.AllowedMIMETypes
	}
	return p
}

func (p Policy) allows(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, a := range p.AllowedTypes {
		if ct == a {
			return true
		}
	}
	return false
}

// StagedFile is a validated file sitting in temporary storage under an
// opaque handle. It stays on disk until Discard.
type StagedFile struct {
	Handle      string
	Name        string
	ContentType string
	Size        int64

	path    string
	removed bool
}

// Intake validates and stages inbound files under dir.
type Intake struct {
	dir    string
	policy Policy
	logger *logx.Logger
}

// New creates the staging area at dir.
func New(dir string, policy Policy) (*Intake, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Intake{dir: dir, policy: policy, logger: logx.NewLogger("intake")}, nil
}

// Stage validates the file and writes it to temporary storage. On any
// failure nothing is left behind. contentType may be empty; it is then
// sniffed from the first bytes.
func (in *Intake) Stage(name, contentType string, r io.Reader) (*StagedFile, error) {
	// Read one byte past the ceiling so an oversized file is detected
	// without buffering it whole.
	data, err := io.ReadAll(io.LimitReader(r, in.policy.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > in.policy.MaxBytes {
		return nil, &ValidationError{Reason: fmt.Sprintf("larger than %d bytes", in.policy.MaxBytes)}
	}
	if len(data) == 0 {
		return nil, &ValidationError{Reason: "empty file"}
	}

	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !in.policy.allows(contentType) {
		return nil, &ValidationError{Reason: fmt.Sprintf("unsupported type %s", contentType)}
	}

	handle := uuid.New().String()
	path := filepath.Join(in.dir, handle)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("stage file: %w", err)
	}

	in.logger.Debug("staged %s (%d bytes) as %s", name, len(data), handle)
	return &StagedFile{
		Handle:      handle,
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		path:        path,
	}, nil
}

// Bytes reads the staged content back.
func (sf *StagedFile) Bytes() ([]byte, error) {
	if sf.removed {
		return nil, errors.New("staged file already discarded")
	}
	return os.ReadFile(sf.path)
}

// Discard removes the temporary copy. Safe to call more than once.
func (sf *StagedFile) Discard() error {
	if sf.removed {
		return nil
	}
	sf.removed = true
	if err := os.Remove(sf.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Commit hands the staged file to submit and discards the temporary copy
// whether or not submission succeeds. Retrying a failed submission means
// staging the file again.
func (in *Intake) Commit(ctx context.Context, sf *StagedFile, submit func(context.Context, *gateway.Attachment) error) error {
	defer func() {
		if err := sf.Discard(); err != nil {
			in.logger.Warn("discard staged file %s: %v", sf.Handle, err)
		}
	}()

	data, err := sf.Bytes()
	if err != nil {
		return fmt.Errorf("read staged file: %w", err)
	}
	return submit(ctx, &gateway.Attachment{
		Name:        sf.Name,
		ContentType: sf.ContentType,
		Data:        data,
	})
}
