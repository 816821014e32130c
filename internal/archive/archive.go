// Package archive keeps the raw stdout and stderr of every executed action
// outside the RunRecord, compressed and optionally encrypted to age
// recipients. Steps reference their archived output by a ref string of
// the form "<backend>:<key>".
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"filippo.io/age"

	"github.com/meow-stack/remedy/internal/config"
)

// Entry is the archived output of one action execution.
type Entry struct {
	RunID    string        `json:"run_id"`
	StepID   string        `json:"step_id"`
	Action   string        `json:"action"`
	Index    int           `json:"index"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Sink stores archived blobs by key.
type Sink interface {
	Scheme() string
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Archive encodes entries and writes them to a sink.
type Archive struct {
	sink       Sink
	codec      Codec
	recipients []age.Recipient
}

// New creates an Archive from configuration. It returns nil when
// archiving is disabled.
func New(ctx context.Context, cfg *config.Config, baseDir string) (*Archive, error) {
	var sink Sink
	switch cfg.Archive.Backend {
	case config.ArchiveNone, "":
		return nil, nil
	case config.ArchiveLocal:
		sink = NewDirSink(cfg.ArchiveDir(baseDir))
	case config.ArchiveMinIO:
		access, secret := cfg.MinIOCredentials()
		s, err := NewMinIOSink(ctx, cfg.Archive.MinIO, access, secret)
		if err != nil {
			return nil, err
		}
		sink = s
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}

	codec, err := ParseCodec(string(cfg.Archive.Compression))
	if err != nil {
		return nil, err
	}
	return NewWithSink(sink, codec, cfg.Archive.Recipients)
}

// NewWithSink creates an Archive over an explicit sink.
func NewWithSink(sink Sink, codec Codec, recipientKeys []string) (*Archive, error) {
	a := &Archive{sink: sink, codec: codec}
	for _, key := range recipientKeys {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing archive recipient %q: %w", key, err)
		}
		a.recipients = append(a.recipients, r)
	}
	return a, nil
}

// Encrypted reports whether entries are encrypted.
func (a *Archive) Encrypted() bool {
	return len(a.recipients) > 0
}

// Key returns the storage key for an entry.
func (a *Archive) Key(e *Entry) string {
	key := fmt.Sprintf("%s/%03d-%s.json%s", e.RunID, e.Index, e.StepID, a.codec.Extension())
	if a.Encrypted() {
		key += ".age"
	}
	return key
}

// Store archives an entry and returns its ref.
func (a *Archive) Store(ctx context.Context, e *Entry) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding archive entry: %w", err)
	}
	data, err = a.codec.Compress(data)
	if err != nil {
		return "", err
	}
	if a.Encrypted() {
		if data, err = encrypt(data, a.recipients); err != nil {
			return "", err
		}
	}

	key := a.Key(e)
	if err := a.sink.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("archiving %s: %w", key, err)
	}
	return a.sink.Scheme() + ":" + key, nil
}

// Load reads an archived entry back. Encrypted entries need a matching
// identity.
func (a *Archive) Load(ctx context.Context, ref string, identities ...age.Identity) (*Entry, error) {
	scheme, key, ok := strings.Cut(ref, ":")
	if !ok || scheme != a.sink.Scheme() {
		return nil, fmt.Errorf("archive ref %q does not belong to %s", ref, a.sink.Scheme())
	}
	data, err := a.sink.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(key, ".age") {
		if len(identities) == 0 {
			return nil, fmt.Errorf("archive entry %s is encrypted", key)
		}
		r, err := age.Decrypt(bytes.NewReader(data), identities...)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", key, err)
		}
		if data, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", key, err)
		}
		key = strings.TrimSuffix(key, ".age")
	}

	codec := CodecForKey(key)
	if data, err = codec.Decompress(data); err != nil {
		return nil, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding archive entry: %w", err)
	}
	return &e, nil
}

// LoadIdentities reads age identities from a key file as written by age-keygen.
func LoadIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer f.Close()
	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	return ids, nil
}

func encrypt(plaintext []byte, recipients []age.Recipient) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return nil, fmt.Errorf("encrypting archive entry: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting archive entry: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encrypting archive entry: %w", err)
	}
	return buf.Bytes(), nil
}
