package exchange

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Published reference vector from the exchange's API documentation.
const (
	refSecret    = "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="
	refNonce     = "1616492376594"
	refBody      = "nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25"
	refPath      = "/0/private/AddOrder"
	refSignature = "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ=="
)

func TestSign_ReferenceVector(t *testing.T) {
	secret, err := base64.StdEncoding.DecodeString(refSecret)
	require.NoError(t, err)

	got := Sign(secret, refPath, refNonce, refBody)
	assert.Equal(t, refSignature, got)
}

func TestNewSession(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		_, err := NewSession("", refSecret)
		require.Error(t, err)

		_, err = NewSession("key", "")
		require.Error(t, err)
	})

	t.Run("secret not base64", func(t *testing.T) {
		_, err := NewSession("key", "not base64 at all!!")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode api secret")
	})

	t.Run("valid", func(t *testing.T) {
		session, err := NewSession("key", refSecret)
		require.NoError(t, err)
		assert.Equal(t, "key", session.Key())
	})
}

func TestWithSignedForm_NonceEmbeddedInBody(t *testing.T) {
	session, err := NewSession("key", refSecret)
	require.NoError(t, err)

	var got SignedForm
	err = session.WithSignedForm("/0/private/Balance", url.Values{"asset": {"ZUSD"}}, func(form SignedForm) error {
		got = form
		return nil
	})
	require.NoError(t, err)

	body, err := url.ParseQuery(got.Body)
	require.NoError(t, err)
	assert.Equal(t, got.Nonce, body.Get("nonce"))
	assert.Equal(t, "ZUSD", body.Get("asset"))
	assert.NotEmpty(t, got.Signature)
}

func TestWithSignedForm_ConcurrentNoncesStrictlyIncrease(t *testing.T) {
	session, err := NewSession("key", refSecret)
	require.NoError(t, err)

	const workers = 50
	const perWorker = 20

	var mu sync.Mutex
	sent := make([]int64, 0, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = session.WithSignedForm("/0/private/Balance", nil, func(form SignedForm) error {
					n, parseErr := strconv.ParseInt(form.Nonce, 10, 64)
					require.NoError(t, parseErr)
					// appended while the session mutex is still held,
					// so order here is send order
					mu.Lock()
					sent = append(sent, n)
					mu.Unlock()
					return nil
				})
			}
		}()
	}
	wg.Wait()

	require.Len(t, sent, workers*perWorker)
	for i := 1; i < len(sent); i++ {
		assert.Greater(t, sent[i], sent[i-1], "nonce at position %d did not increase", i)
	}
}
