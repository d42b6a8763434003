package webhook_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/idvrelay/idvrelay/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

const scenarioBody = `{"session_id":"abc","status":"Approved","created_at":1700000000,"vendor_data":"user-1"}`

func TestVerifier_ScenarioWithinWindow(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(scenarioBody)
	sig := webhook.Sign(secret, body)

	verifier := webhook.NewVerifier(300 * time.Second).WithClock(fixedClock(1700000000))
	assert.True(t, verifier.Verify(body, sig, 1700000000, secret))
}

func TestVerifier_ScenarioWindowElapsed(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(scenarioBody)
	sig := webhook.Sign(secret, body)

	verifier := webhook.NewVerifier(300 * time.Second).WithClock(fixedClock(1700000400))
	assert.False(t, verifier.Verify(body, sig, 1700000000, secret))
	assert.ErrorIs(t, verifier.Check(body, sig, 1700000000, secret), webhook.ErrTimestampExpired)
}

func TestVerifier_RoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		body   string
	}{
		{"empty object", "k", `{}`},
		{"whitespace preserved", "another-secret", "{ \"session_id\" : \"x\",\n \"created_at\": 1 }"},
		{"unicode", "s3cr3t", `{"vendor_data":"zoë ✓"}`},
		{"long secret", strings.Repeat("s", 200), `{"a":1}`},
	}
	now := int64(1730000000)
	verifier := webhook.NewVerifier(0).WithClock(fixedClock(now))

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := webhook.Sign([]byte(tc.secret), []byte(tc.body))
			assert.True(t, verifier.Verify([]byte(tc.body), sig, now, []byte(tc.secret)))
		})
	}
}

func TestVerifier_WindowBoundaries(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"created_at":1}`)
	sig := webhook.Sign(secret, body)
	now := int64(1700000000)
	verifier := webhook.NewVerifier(300 * time.Second).WithClock(fixedClock(now))

	assert.True(t, verifier.Verify(body, sig, now-300, secret), "exactly 300s old is accepted")
	assert.True(t, verifier.Verify(body, sig, now+300, secret), "exactly 300s ahead is accepted")
	assert.False(t, verifier.Verify(body, sig, now-301, secret))
	assert.False(t, verifier.Verify(body, sig, now+301, secret))
}

func TestVerifier_ExtremeTimestamps(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{}`)
	sig := webhook.Sign(secret, body)
	verifier := webhook.NewVerifier(0).WithClock(fixedClock(1700000000))

	assert.False(t, verifier.Verify(body, sig, -1<<63, secret))
	assert.False(t, verifier.Verify(body, sig, 1<<63-1, secret))
}

func TestVerifier_SingleByteFlip(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(scenarioBody)
	sig := webhook.Sign(secret, body)
	verifier := webhook.NewVerifier(0).WithClock(fixedClock(1700000000))

	for i := range body {
		tampered := append([]byte(nil), body...)
		tampered[i] ^= 0x01
		require.False(t, verifier.Verify(tampered, sig, 1700000000, secret), "flip at byte %d accepted", i)
	}
}

func TestVerifier_Rejections(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(scenarioBody)
	sig := webhook.Sign(secret, body)
	verifier := webhook.NewVerifier(0).WithClock(fixedClock(1700000000))

	cases := []struct {
		name      string
		signature string
		secret    []byte
		want      error
	}{
		{"missing signature", "", secret, webhook.ErrMissingSignature},
		{"not hex", "zz" + sig[2:], secret, webhook.ErrInvalidSignature},
		{"odd length hex", sig[:63], secret, webhook.ErrInvalidSignature},
		{"truncated", sig[:32], secret, webhook.ErrInvalidSignature},
		{"extended", sig + "00", secret, webhook.ErrInvalidSignature},
		{"wrong secret", sig, []byte("other"), webhook.ErrInvalidSignature},
		{"prefixed", "sha256=" + sig, secret, webhook.ErrInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := verifier.Check(body, tc.signature, 1700000000, tc.secret)
			assert.ErrorIs(t, err, tc.want)
			assert.False(t, verifier.Verify(body, tc.signature, 1700000000, tc.secret))
		})
	}
}

func TestVerifier_UppercaseHexAccepted(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(scenarioBody)
	sig := strings.ToUpper(webhook.Sign(secret, body))
	verifier := webhook.NewVerifier(0).WithClock(fixedClock(1700000000))

	assert.True(t, verifier.Verify(body, sig, 1700000000, secret))
}

func TestVerifier_DefaultTolerance(t *testing.T) {
	assert.Equal(t, 5*time.Minute, webhook.NewVerifier(0).Tolerance())
	assert.Equal(t, time.Minute, webhook.NewVerifier(time.Minute).Tolerance())
}

func TestVerifier_ConcurrentUse(t *testing.T) {
	secret := []byte("s3cr3t")
	verifier := webhook.NewVerifier(0).WithClock(fixedClock(1700000000))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := []byte(`{"n":` + strings.Repeat("1", i+1) + `}`)
			sig := webhook.Sign(secret, body)
			assert.True(t, verifier.Verify(body, sig, 1700000000, secret))
			assert.False(t, verifier.Verify(body, sig, 1600000000, secret))
		}(i)
	}
	wg.Wait()
}

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	sig := webhook.Sign([]byte("Jefe"), []byte("what do ya want for nothing?"))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", sig)
}
