package provider

import (
	"crypto/rand"
	"math/big"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

const (
	localPartLength = 10
	secretLength    = 16
)

// randomString 生成 [a-z0-9] 随机串
func randomString(n int) (string, error) {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}

// pick 随机选择一个元素
func pick(items []string) (string, error) {
	if len(items) == 1 {
		return items[0], nil
	}
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(items))))
	if err != nil {
		return "", err
	}
	return items[idx.Int64()], nil
}
