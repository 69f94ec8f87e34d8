package history

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskfusion/internal/model"
)

var gzipMagic = []byte{0x1f, 0x8b}

// encode serializes s for the given tier.
func encode(s model.TrainingSample, tier model.Tier) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, eris.Wrap(err, "history: marshal sample")
	}
	if tier != model.TierCold {
		return raw, nil
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, eris.Wrap(err, "history: gzip writer")
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, eris.Wrap(err, "history: compress sample")
	}
	if err := zw.Close(); err != nil {
		return nil, eris.Wrap(err, "history: finish compression")
	}
	return buf.Bytes(), nil
}

// decode reverses encode. The tier is detected from the payload itself so
// records written by either tier decode the same way.
func decode(payload []byte) (model.TrainingSample, model.Tier, error) {
	tier := model.TierHot
	raw := payload
	if bytes.HasPrefix(payload, gzipMagic) {
		tier = model.TierCold
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return model.TrainingSample{}, tier, eris.Wrap(err, "history: gzip reader")
		}
		defer zr.Close()
		raw, err = io.ReadAll(zr)
		if err != nil {
			return model.TrainingSample{}, tier, eris.Wrap(err, "history: decompress sample")
		}
	}

	var s model.TrainingSample
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.TrainingSample{}, tier, eris.Wrap(err, "history: unmarshal sample")
	}
	return s, tier, nil
}

// Checksum is the SHA-256 of the sample's canonical JSON with the checksum
// field cleared and the timestamp in UTC. Map keys are sorted by
// encoding/json, so the digest is stable across peers.
func Checksum(s model.TrainingSample) string {
	s.Checksum = ""
	s.Timestamp = s.Timestamp.UTC()
	raw, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether s carries a checksum that matches its
// content. A sample without a checksum returns ok=false and present=false.
func VerifyChecksum(s model.TrainingSample) (ok, present bool) {
	if s.Checksum == "" {
		return false, false
	}
	return s.Checksum == Checksum(s), true
}

func toRecord(s model.TrainingSample, tier model.Tier) (Record, error) {
	payload, err := encode(s, tier)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Key:       s.DedupKey(),
		ID:        s.ID,
		Timestamp: s.Timestamp,
		Tier:      tier,
		Payload:   payload,
	}, nil
}
