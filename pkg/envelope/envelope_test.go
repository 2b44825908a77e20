package envelope

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnvelope(t *testing.T) *Envelope {
	t.Helper()
	env, err := New("test-master-secret")
	require.NoError(t, err)
	return env
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRoundTrip(t *testing.T) {
	env := newEnvelope(t)
	key, err := env.GenerateWrappedKey()
	require.NoError(t, err)
	require.True(t, IsEncrypted(key))

	for _, plaintext := range []string{"a", "Deus é amor ❤️", strings.Repeat("long note ", 500)} {
		ct, err := env.EncryptNote(plaintext, key)
		require.NoError(t, err)
		assert.True(t, IsEncrypted(ct))
		assert.NotContains(t, ct, plaintext)
		assert.Equal(t, plaintext, env.DecryptNote(ct, key))
	}
}

func TestEmptyPlaintextStaysEmpty(t *testing.T) {
	env := newEnvelope(t)
	key, err := env.GenerateWrappedKey()
	require.NoError(t, err)

	ct, err := env.EncryptNote("", key)
	require.NoError(t, err)
	assert.Equal(t, "", ct)
	assert.Equal(t, "", env.DecryptNote("", key))
}

func TestEncryptionIsRandomized(t *testing.T) {
	env := newEnvelope(t)
	key, err := env.GenerateWrappedKey()
	require.NoError(t, err)

	a, err := env.EncryptNote("same", key)
	require.NoError(t, err)
	b, err := env.EncryptNote("same", key)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSegmentLayout(t *testing.T) {
	env := newEnvelope(t)
	key, err := env.GenerateWrappedKey()
	require.NoError(t, err)
	ct, err := env.EncryptNote("hello", key)
	require.NoError(t, err)

	parts := strings.Split(ct, ":")
	require.Len(t, parts, 3)
	// 16-byte nonce and tag encode to 24 base64 characters.
	assert.Len(t, parts[0], 24)
	assert.Len(t, parts[1], 24)
}

func TestLegacyPlaintextPassesThrough(t *testing.T) {
	env := newEnvelope(t)
	key, err := env.GenerateWrappedKey()
	require.NoError(t, err)

	assert.Equal(t, "just a note", env.DecryptNote("just a note", key))
	assert.Equal(t, "time: 10:30", env.DecryptNote("time: 10:30", key))
	assert.False(t, IsEncrypted("just a note"))
	assert.False(t, IsEncrypted(""))
}

func TestCorruptedCiphertextReturnedUnchanged(t *testing.T) {
	env := newEnvelope(t)
	key, err := env.GenerateWrappedKey()
	require.NoError(t, err)
	ct, err := env.EncryptNote("secret", key)
	require.NoError(t, err)

	parts := strings.Split(ct, ":")
	parts[1] = strings.Repeat("A", len(parts[1]))
	tampered := strings.Join(parts, ":")
	assert.Equal(t, tampered, env.DecryptNote(tampered, key))

	assert.Equal(t, "a:b:c", env.DecryptNote("a:b:c", key))
}

func TestWrongKeyReturnsCiphertext(t *testing.T) {
	env := newEnvelope(t)
	keyA, err := env.GenerateWrappedKey()
	require.NoError(t, err)
	keyB, err := env.GenerateWrappedKey()
	require.NoError(t, err)

	ct, err := env.EncryptNote("only for A", keyA)
	require.NoError(t, err)
	assert.Equal(t, ct, env.DecryptNote(ct, keyB))

	other, err := New("another-master")
	require.NoError(t, err)
	assert.Equal(t, ct, other.DecryptNote(ct, keyA))
}

func TestEncryptWithBadKeyFails(t *testing.T) {
	env := newEnvelope(t)
	_, err := env.EncryptNote("x", "not-a-wrapped-key")
	require.Error(t, err)
	_, err = env.EncryptNote("x", "")
	require.Error(t, err)
}

func TestEnsureCoupleKeyProvisionsOnce(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	env := newEnvelope(t)
	couple := testutil.CreateCouple(t, gdb, "AB1-CD2-EF3")
	ctx := context.Background()

	first, err := env.EnsureCoupleKey(ctx, gdb, couple.ID, nil)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// A stale caller that still sees no key gets the stored one back.
	second, err := env.EnsureCoupleKey(ctx, gdb, couple.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var stored db.Couple
	require.NoError(t, gdb.First(&stored, "id = ?", couple.ID).Error)
	require.NotNil(t, stored.EncryptionKey)
	assert.Equal(t, first, *stored.EncryptionKey)

	third, err := env.EnsureCoupleKey(ctx, gdb, couple.ID, stored.EncryptionKey)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestEnsureCoupleKeyConcurrentCallersAgree(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	env := newEnvelope(t)
	couple := testutil.CreateCouple(t, gdb, "ZZ9-YY8-XX7")
	ctx := context.Background()

	const workers = 8
	keys := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = env.EnsureCoupleKey(ctx, gdb, couple.ID, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0], keys[i])
	}
}

func TestEnsureCoupleKeyMissingCouple(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	env := newEnvelope(t)

	_, err := env.EnsureCoupleKey(context.Background(), gdb, "missing", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
