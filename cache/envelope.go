package cache

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"io"

	"cachemesh.app/pkg/utils"
)

// envelopeMeta is the wire form of an Entry crossing a process boundary,
// either over the backplane's fingerprint field or as the value stored
// in L2 (spec §3, "Invalidation Message" and §6, "L2 keyspace"). It is
// MsgPack-encoded, not JSON — this is a binary handoff between
// processes, not a human-facing API response, matching the pattern in
// the dcache reference example's ValueBytesExpiredAt envelope.
type envelopeMeta struct {
	Key                string `msgpack:"k"`
	TTLMs              int64  `msgpack:"ttl"`
	CreatedAtMs        int64  `msgpack:"c"`
	AbsoluteExpireAtMs int64  `msgpack:"exp"`
	MonotonicKillTick  int64  `msgpack:"mkt"`
	Fingerprint        string `msgpack:"fp"`
	Compressed         bool   `msgpack:"z"`
	Payload            []byte `msgpack:"p"`
}

func encodeEnvelope(env envelopeMeta) ([]byte, error) {
	return utils.MarshalMsgPack(env)
}

func decodeEnvelope(data []byte) (envelopeMeta, error) {
	var env envelopeMeta
	err := utils.UnmarshalMsgPack(data, &env)
	return env, err
}

// encodePayload/decodePayload serialize the caller's value itself. Also
// MsgPack, for the same reason as the envelope.
func encodePayload(v any) ([]byte, error) {
	return utils.MarshalMsgPack(v)
}

func decodePayload(data []byte, dst any) error {
	return utils.UnmarshalMsgPack(data, dst)
}

// fingerprintOf computes a content digest of a serialized payload. The
// spec calls for "e.g., a 128-bit hash hex"; MD5 is used verbatim for
// that width — it is not a security boundary here, only an idempotency
// key for invalidation guards, so collision resistance against an
// adversary is not a requirement.
func fingerprintOf(payload []byte) string {
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// gzipCompress/gzipDecompress implement the compressionThreshold gate,
// grounded in the identical threshold-gated gzip scheme in the
// tiered-cache reference example.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
