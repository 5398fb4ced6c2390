package chunk

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/chazu/moonvm/vm"
	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("moonvm.chunk")

// cborEncMode uses canonical mode so equal prototypes encode to equal
// bytes and hash identically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("chunk: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Errors reported for malformed images.
var (
	ErrVersion      = errors.New("unsupported chunk image version")
	ErrHashMismatch = errors.New("chunk image hash mismatch")
)

func errorf(format string, args ...any) error {
	return fmt.Errorf("chunk: "+format, args...)
}

// Marshal encodes p and its nested prototypes as a chunk image.
func Marshal(p *vm.Prototype) ([]byte, error) {
	body, err := encodeBody(p)
	if err != nil {
		return nil, err
	}
	img := Image{Version: FormatVersion, Hash: sha256.Sum256(body), Body: body}
	return cborEncMode.Marshal(&img)
}

func encodeBody(p *vm.Prototype) ([]byte, error) {
	rec, err := fromProto(p)
	if err != nil {
		return nil, err
	}
	body, err := cborEncMode.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("chunk: marshal prototype: %w", err)
	}
	return body, nil
}

// Hash returns the content hash Marshal would record for p.
func Hash(p *vm.Prototype) ([32]byte, error) {
	body, err := encodeBody(p)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(body), nil
}

// Unmarshal decodes a chunk image, verifies its version and hash, and
// validates the decoded prototype tree.
func Unmarshal(data []byte) (*vm.Prototype, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("chunk: unmarshal image: %w", err)
	}
	if img.Version != FormatVersion {
		return nil, fmt.Errorf("chunk: %w %d", ErrVersion, img.Version)
	}
	if sum := sha256.Sum256(img.Body); sum != img.Hash {
		return nil, fmt.Errorf("chunk: %w: declared %x, computed %x", ErrHashMismatch, img.Hash, sum)
	}
	var rec protoRecord
	if err := cbor.Unmarshal(img.Body, &rec); err != nil {
		return nil, fmt.Errorf("chunk: unmarshal prototype: %w", err)
	}
	p, err := rec.toProto()
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("chunk: invalid prototype: %w", err)
	}
	return p, nil
}

// Save writes p to path as a chunk image.
func Save(path string, p *vm.Prototype) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("chunk: write %s: %w", path, err)
	}
	log.Debugf("saved %s (%d bytes)", path, len(data))
	return nil
}

// Load reads a chunk image from path.
func Load(path string) (*vm.Prototype, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chunk: read %s: %w", path, err)
	}
	p, err := Unmarshal(data)
	if err != nil {
		log.Warningf("rejected image %s: %s", path, err)
		return nil, err
	}
	log.Debugf("loaded %s (%d bytes)", path, len(data))
	return p, nil
}
