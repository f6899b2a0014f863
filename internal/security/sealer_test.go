package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer(t *testing.T) {
	t.Run("加密后可以解密", func(t *testing.T) {
		s := NewSealer("passphrase")
		sealed, err := s.Seal("Xy7pQ2mN9aB4cD1e")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
		assert.NotContains(t, sealed, "Xy7pQ2mN9aB4cD1e")

		plain, err := s.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, "Xy7pQ2mN9aB4cD1e", plain)
	})

	t.Run("相同明文每次密文不同", func(t *testing.T) {
		s := NewSealer("passphrase")
		a, _ := s.Seal("secret")
		b, _ := s.Seal("secret")
		assert.NotEqual(t, a, b)
	})

	t.Run("未配置密钥时原样存储", func(t *testing.T) {
		s := NewSealer("")
		sealed, err := s.Seal("secret")
		require.NoError(t, err)
		assert.Equal(t, "secret", sealed)
		assert.False(t, s.Enabled())
	})

	t.Run("明文旧数据直接返回", func(t *testing.T) {
		s := NewSealer("passphrase")
		plain, err := s.Open("legacy-plain")
		require.NoError(t, err)
		assert.Equal(t, "legacy-plain", plain)
	})

	t.Run("密钥错误无法解密", func(t *testing.T) {
		sealed, err := NewSealer("one").Seal("secret")
		require.NoError(t, err)

		_, err = NewSealer("two").Open(sealed)
		assert.ErrorIs(t, err, ErrCorruptSecret)

		_, err = NewSealer("").Open(sealed)
		assert.ErrorIs(t, err, ErrCorruptSecret)
	})

	t.Run("可空字段", func(t *testing.T) {
		s := NewSealer("passphrase")
		out, err := s.SealPtr(nil)
		require.NoError(t, err)
		assert.Nil(t, out)

		value := "secret"
		sealed, err := s.SealPtr(&value)
		require.NoError(t, err)
		opened, err := s.OpenPtr(sealed)
		require.NoError(t, err)
		assert.Equal(t, "secret", *opened)
	})
}
