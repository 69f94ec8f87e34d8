package history

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskfusion/internal/model"
)

func signedSample() model.TrainingSample {
	s := sampleAt(baseTime, 0.4, false)
	s.ID = "sample-1"
	s.Fingerprint = "abc123"
	p := 0.42
	s.Predictions.Heuristic = &p
	s.Metadata = map[string]string{"service": "checkout"}
	s.Checksum = Checksum(s)
	return s
}

func TestEncodeDecode_Tiers(t *testing.T) {
	s := signedSample()

	hot, err := encode(s, model.TierHot)
	require.NoError(t, err)
	assert.Equal(t, byte('{'), hot[0])

	cold, err := encode(s, model.TierCold)
	require.NoError(t, err)
	assert.Equal(t, gzipMagic, cold[:2])

	for name, payload := range map[string][]byte{"hot": hot, "cold": cold} {
		t.Run(name, func(t *testing.T) {
			got, tier, err := decode(payload)
			require.NoError(t, err)
			assert.Equal(t, model.Tier(name), tier)
			if diff := cmp.Diff(s, got); diff != "" {
				t.Errorf("decoded sample mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, _, err := decode([]byte("not json"))
	assert.Error(t, err)

	_, _, err = decode(append([]byte{0x1f, 0x8b}, []byte("truncated")...))
	assert.Error(t, err)
}

func TestChecksum(t *testing.T) {
	s := signedSample()
	assert.Len(t, s.Checksum, 64)

	ok, present := VerifyChecksum(s)
	assert.True(t, present)
	assert.True(t, ok)

	again := s
	again.Checksum = "stale"
	assert.Equal(t, s.Checksum, Checksum(again), "checksum field is excluded from the digest")

	tampered := s
	tampered.Success = true
	ok, present = VerifyChecksum(tampered)
	assert.True(t, present)
	assert.False(t, ok)

	unsigned := s
	unsigned.Checksum = ""
	_, present = VerifyChecksum(unsigned)
	assert.False(t, present)
}

func TestChecksum_TimezoneIndependent(t *testing.T) {
	s := signedSample()
	local := s
	local.Timestamp = s.Timestamp.In(time.FixedZone("EST", -5*3600))
	assert.Equal(t, Checksum(s), Checksum(local))
}
