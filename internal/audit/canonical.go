package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/khanghh/kguard/model"
	"github.com/khanghh/kguard/params"
	"github.com/valyala/bytebufferpool"
)

// canonicalEntry is the hashed form of an entry: every field but the hash,
// timestamps at microsecond resolution so that they survive storage.
type canonicalEntry struct {
	ID           uint64  `cbor:"id"`
	ChainID      string  `cbor:"chain_id"`
	Seq          uint64  `cbor:"seq"`
	Timestamp    int64   `cbor:"ts"`
	Actor        string  `cbor:"actor"`
	Action       string  `cbor:"action"`
	Resource     string  `cbor:"resource"`
	Status       string  `cbor:"status"`
	Severity     string  `cbor:"severity"`
	Details      string  `cbor:"details"`
	PreviousHash *string `cbor:"prev_hash"`
}

var canonicalEncMode cbor.EncMode

func init() {
	var err error
	canonicalEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

func genesisHash() string {
	h := sha256.Sum256([]byte(params.AuditGenesisInput))
	return hex.EncodeToString(h[:])
}

// Canonicalize returns the deterministic CBOR encoding of entry without its hash.
func Canonicalize(entry *model.AuditEntry) ([]byte, error) {
	return canonicalEncMode.Marshal(canonicalEntry{
		ID:           entry.ID,
		ChainID:      entry.ChainID,
		Seq:          entry.Seq,
		Timestamp:    entry.Timestamp.UnixMicro(),
		Actor:        entry.Actor,
		Action:       entry.Action,
		Resource:     entry.Resource,
		Status:       entry.Status,
		Severity:     entry.Severity,
		Details:      entry.Details,
		PreviousHash: entry.PreviousHash,
	})
}

// ComputeHash links entry to its predecessor: H(canonical || previousHash),
// with the genesis hash standing in for the first entry of a chain.
func ComputeHash(entry *model.AuditEntry) (string, error) {
	data, err := Canonicalize(entry)
	if err != nil {
		return "", err
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.Write(data)
	if entry.PreviousHash != nil {
		buf.WriteString(*entry.PreviousHash)
	} else {
		buf.WriteString(genesisHash())
	}
	sum := sha256.Sum256(buf.B)
	return hex.EncodeToString(sum[:]), nil
}
