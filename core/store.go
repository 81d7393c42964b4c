package core

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/chacha20poly1305"
)

// BlockStore is the content-addressed lifecycle store (C1): immutable
// blocks keyed by Merkle CID, with parent-link causal completeness,
// TTL pinning and a causally-consistent local tip.
type BlockStore interface {
	Put(b Block) (CID, error)
	Get(cid CID) (Block, bool, error)
	ListBlocks() ([]Block, error)
	ChildrenOf(parent CID) ([]Block, error)
	Pin(cid CID, ttl *time.Duration) error
	Unpin(cid CID) error
	PruneExpired(now time.Time) (int, error)
	CurrentRoot() (CID, bool)
	Close() error
}

type pinEntry struct {
	expires time.Time
	forever bool
}

// WalFormat selects the on-disk encoding used for WAL records.
type WalFormat int

const (
	// WalFormatJSON is the default, human-inspectable WAL encoding.
	WalFormatJSON WalFormat = iota
	// WalFormatRLP encodes WAL records with RLP, offered as a compact
	// alternate codec for DAG blocks alongside CBOR/JSON.
	WalFormatRLP
)

// walEntry is the on-disk append-only record for a persisted block.
// When Sealed is true, Block.Data holds ciphertext rather than the
// plaintext payload; decodeWalEntry reverses this given the store's
// configured seal key.
type walEntry struct {
	Block  Block `json:"block"`
	Sealed bool  `json:"sealed,omitempty"`
}

// StoreOption configures a MemoryStore at construction.
type StoreOption func(*MemoryStore)

// WithWalFormat selects the WAL record encoding. The default is JSON.
func WithWalFormat(f WalFormat) StoreOption {
	return func(s *MemoryStore) { s.walFormat = f }
}

// WithSealKey enables at-rest encryption of block payloads written to
// the WAL: every record is sealed with XChaCha20-Poly1305 under key
// before it touches disk, and unsealed on replay. The in-memory index
// always holds plaintext, so Get/ChildrenOf/ListBlocks are unaffected;
// only the bytes that leave the process are encrypted. key must be
// chacha20poly1305.KeySize (32) bytes.
func WithSealKey(key []byte) StoreOption {
	return func(s *MemoryStore) { s.sealKey = append([]byte(nil), key...) }
}

// MemoryStore is the default BlockStore: an in-memory index backed by
// an append-only write-ahead log file, guarded by a single mutex per
// the one-lock-per-subsystem convention used across the node's
// ledgers.
type MemoryStore struct {
	mu      sync.Mutex
	blocks  map[CID]Block
	byLinks map[CID][]CID // parent CID -> child CIDs referencing it
	pins    map[CID]pinEntry
	tips    map[CID]struct{} // blocks not yet referenced as a parent
	wal     *os.File
	walPath string

	walFormat WalFormat
	sealKey   []byte
	onPut     func(Block)
}

// NewMemoryStore opens (or creates) a block store persisted at path.
// An empty path selects a pure in-memory store with no durability,
// used by tests and stub wiring. opts configures the WAL encoding and
// optional at-rest encryption.
func NewMemoryStore(path string, opts ...StoreOption) (*MemoryStore, error) {
	s := &MemoryStore{
		blocks:  make(map[CID]Block),
		byLinks: make(map[CID][]CID),
		pins:    make(map[CID]pinEntry),
		tips:    make(map[CID]struct{}),
		walPath: path,
	}
	for _, opt := range opts {
		opt(s)
	}
	if path == "" {
		return s, nil
	}
	if err := s.replay(path); err != nil {
		return nil, fmt.Errorf("store: replay wal: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}
	s.wal = f
	return s, nil
}

func (s *MemoryStore) replay(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		raw, err := readFramed(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("store: read wal frame: %w", err)
		}
		entry, err := s.decodeWalEntry(raw)
		if err != nil {
			return fmt.Errorf("store: decode wal entry: %w", err)
		}
		s.index(entry.Block)
	}
	return nil
}

func (s *MemoryStore) index(b Block) {
	s.blocks[b.CID] = b
	s.tips[b.CID] = struct{}{}
	for _, l := range b.Links {
		s.byLinks[l.CID] = append(s.byLinks[l.CID], b.CID)
		delete(s.tips, l.CID)
	}
}

// SetOnPut installs a hook invoked once per newly indexed block, after
// it is recorded. The gossip layer uses it to replicate local puts to
// peers; WAL replay and idempotent re-puts do not fire it, so a block
// bouncing back from a peer stops at the first node that already holds
// it.
func (s *MemoryStore) SetOnPut(fn func(Block)) {
	s.mu.Lock()
	s.onPut = fn
	s.mu.Unlock()
}

// Put persists a block. It is idempotent on identical content, fails
// if the CID does not match the block's own fields, and fails if any
// parent link is not already present (local causal completeness).
func (s *MemoryStore) Put(b Block) (CID, error) {
	cid, fresh, err := s.put(b)
	if err == nil && fresh {
		s.mu.Lock()
		fn := s.onPut
		s.mu.Unlock()
		if fn != nil {
			fn(b)
		}
	}
	return cid, err
}

func (s *MemoryStore) put(b Block) (CID, bool, error) {
	if !VerifyCID(b) {
		return CID{}, false, fmt.Errorf("%w: cid does not match block content", ErrInvalidParameters)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.blocks[b.CID]; ok {
		if !blocksEqual(existing, b) {
			return CID{}, false, fmt.Errorf("%w: cid collision on distinct content", ErrInternal)
		}
		return b.CID, false, nil
	}
	for _, l := range b.Links {
		if _, ok := s.blocks[l.CID]; !ok {
			return CID{}, false, fmt.Errorf("%w: parent link %s not present", ErrStorageError, l.CID)
		}
	}
	if s.wal != nil {
		raw, err := s.encodeWalEntry(b)
		if err != nil {
			return CID{}, false, fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		if err := writeFramed(s.wal, raw); err != nil {
			return CID{}, false, fmt.Errorf("%w: %v", ErrStorageError, err)
		}
	}
	s.index(b)
	return b.CID, true, nil
}

func blocksEqual(a, b Block) bool {
	if a.Codec != b.Codec || string(a.Data) != string(b.Data) || a.Author != b.Author || a.Scope != b.Scope {
		return false
	}
	return a.Timestamp.Equal(b.Timestamp)
}

// Get retrieves a block by CID.
func (s *MemoryStore) Get(cid CID) (Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[cid]
	return b, ok, nil
}

// ListBlocks returns every stored block in unspecified order.
func (s *MemoryStore) ListBlocks() ([]Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b)
	}
	return out, nil
}

// ChildrenOf returns every block whose links reference parent,
// supporting the one-pass lifecycle reconstruction scan.
func (s *MemoryStore) ChildrenOf(parent CID) ([]Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byLinks[parent]
	out := make([]Block, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.blocks[id])
	}
	return out, nil
}

// Pin marks a block to survive PruneExpired. A nil ttl pins forever.
func (s *MemoryStore) Pin(cid CID, ttl *time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[cid]; !ok {
		return ErrNotFound
	}
	if ttl == nil {
		s.pins[cid] = pinEntry{forever: true}
		return nil
	}
	s.pins[cid] = pinEntry{expires: time.Now().Add(*ttl)}
	return nil
}

// Unpin removes a pin. The block itself stays in the store: PruneExpired
// only removes blocks whose pin has expired, so an unpinned block is
// never pruned.
func (s *MemoryStore) Unpin(cid CID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, cid)
	return nil
}

// PruneExpired removes blocks whose pin has expired as of now. Blocks
// with no pin at all are retained; pinning governs only TTL-bounded
// retention, not baseline durability.
func (s *MemoryStore) PruneExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for cid, p := range s.pins {
		if p.forever || p.expires.After(now) {
			continue
		}
		delete(s.pins, cid)
		delete(s.blocks, cid)
		delete(s.tips, cid)
		n++
	}
	return n, nil
}

// CurrentRoot returns an arbitrary deterministic tip (a block not
// referenced as anyone's parent) observed as of this call. Callers
// that need the full frontier should use ListBlocks and filter on
// ChildrenOf instead.
func (s *MemoryStore) CurrentRoot() (CID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best CID
	found := false
	for cid := range s.tips {
		if !found || string(cid[:]) > string(best[:]) {
			best = cid
			found = true
		}
	}
	return best, found
}

// IsDurable reports whether this store is backed by an on-disk WAL,
// as opposed to the pure in-memory configuration used by tests and
// stub wiring (see RuntimeContext's production-mode assertion).
func (s *MemoryStore) IsDurable() bool {
	return s.wal != nil
}

// Close flushes and releases the underlying WAL file handle.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal == nil {
		return nil
	}
	return s.wal.Close()
}

// encodeWalEntry serializes b for WAL persistence, sealing its
// payload under the store's seal key (if configured) and encoding the
// record with the store's configured WAL format.
func (s *MemoryStore) encodeWalEntry(b Block) ([]byte, error) {
	entry := walEntry{Block: b}
	if s.sealKey != nil {
		ct, err := sealEncrypt(s.sealKey, b.Data, b.CID[:])
		if err != nil {
			return nil, fmt.Errorf("seal payload: %w", err)
		}
		entry.Block.Data = ct
		entry.Sealed = true
	}
	switch s.walFormat {
	case WalFormatRLP:
		return rlp.EncodeToBytes(toRLPWalEntry(entry))
	default:
		return json.Marshal(entry)
	}
}

// decodeWalEntry reverses encodeWalEntry, unsealing the payload when
// the record was written sealed.
func (s *MemoryStore) decodeWalEntry(raw []byte) (walEntry, error) {
	var entry walEntry
	switch s.walFormat {
	case WalFormatRLP:
		var re rlpWalEntry
		if err := rlp.DecodeBytes(raw, &re); err != nil {
			return walEntry{}, err
		}
		entry = fromRLPWalEntry(re)
	default:
		if err := json.Unmarshal(raw, &entry); err != nil {
			return walEntry{}, err
		}
	}
	if entry.Sealed {
		if s.sealKey == nil {
			return walEntry{}, fmt.Errorf("%w: sealed wal record requires a configured seal key", ErrStorageError)
		}
		pt, err := sealDecrypt(s.sealKey, entry.Block.Data, entry.Block.CID[:])
		if err != nil {
			return walEntry{}, fmt.Errorf("unseal payload: %w", err)
		}
		entry.Block.Data = pt
		entry.Sealed = false
	}
	return entry, nil
}

// writeFramed writes a 4-byte big-endian length prefix followed by
// payload, the same stream-framing convention EncodeEnvelope uses for
// network messages (core/wire.go), applied here to WAL records so an
// RLP-encoded record (which may contain raw newline bytes) can share
// the same file format as the JSON one.
func writeFramed(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFramed reads one writeFramed record, returning io.EOF once the
// reader is exhausted on a frame boundary.
func readFramed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// rlpLink mirrors Link in an RLP-encodable shape. rlp refuses signed
// integers, so sizes travel as uint64.
type rlpLink struct {
	CID  []byte
	Name string
	Size uint64
}

// rlpBlock mirrors Block in an RLP-encodable shape; rlp has no native
// encoding for time.Time or signed integers, so timestamps travel as
// unsigned Unix nanoseconds.
type rlpBlock struct {
	CID       []byte
	Codec     string
	Data      []byte
	Links     []rlpLink
	Timestamp uint64
	Author    string
	Signature []byte
	Scope     string
}

type rlpWalEntry struct {
	Block  rlpBlock
	Sealed bool
}

func toRLPWalEntry(e walEntry) rlpWalEntry {
	links := make([]rlpLink, len(e.Block.Links))
	for i, l := range e.Block.Links {
		cid := l.CID
		links[i] = rlpLink{CID: cid[:], Name: l.Name, Size: uint64(l.Size)}
	}
	cid := e.Block.CID
	return rlpWalEntry{
		Block: rlpBlock{
			CID:       cid[:],
			Codec:     string(e.Block.Codec),
			Data:      e.Block.Data,
			Links:     links,
			Timestamp: uint64(e.Block.Timestamp.UnixNano()),
			Author:    string(e.Block.Author),
			Signature: e.Block.Signature,
			Scope:     e.Block.Scope,
		},
		Sealed: e.Sealed,
	}
}

func fromRLPWalEntry(re rlpWalEntry) walEntry {
	links := make([]Link, len(re.Block.Links))
	for i, l := range re.Block.Links {
		var cid CID
		copy(cid[:], l.CID)
		links[i] = Link{CID: cid, Name: l.Name, Size: int(l.Size)}
	}
	var cid CID
	copy(cid[:], re.Block.CID)
	return walEntry{
		Block: Block{
			CID:       cid,
			Codec:     Codec(re.Block.Codec),
			Data:      re.Block.Data,
			Links:     links,
			Timestamp: time.Unix(0, int64(re.Block.Timestamp)).UTC(),
			Author:    DID(re.Block.Author),
			Signature: re.Block.Signature,
			Scope:     re.Block.Scope,
		},
		Sealed: re.Sealed,
	}
}

// sealEncrypt seals plaintext under key using XChaCha20-Poly1305. The
// returned blob is nonce || ciphertext || tag.
func sealEncrypt(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: seal key must be %d bytes", ErrInvalidParameters, chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, aad)...), nil
}

// sealDecrypt reverses sealEncrypt.
func sealDecrypt(key, blob, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: seal key must be %d bytes", ErrInvalidParameters, chacha20poly1305.KeySize)
	}
	minLen := chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minLen {
		return nil, fmt.Errorf("%w: sealed payload too short", ErrInvalidParameters)
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}
