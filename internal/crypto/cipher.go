// Package crypto шифрует payload сообщений.
//
// Схема: AES-256-CBC, ключ — SHA-256 от пароля, IV — фиксированные 16 байт
// из конфигурации (общий для всех сообщений, ради совместимости с платформой).
// Шифротекст кодируется в base64. Без пароля шифрование выключено.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ID — идентификатор схемы шифрования, передаётся в заголовке cid.
const ID = "1"

// Ошибки шифрования.
var (
	// ErrConfiguration — пароль задан, а IV нет (или IV неверной длины).
	ErrConfiguration = errors.New("crypto configuration error")

	// ErrInvalidInput — шифротекст повреждён: не base64, не кратен блоку, неверный padding.
	ErrInvalidInput = errors.New("invalid cipher input")
)

// Cipher — симметричный шифр сообщений. Без состояния, потокобезопасен.
type Cipher struct {
	password string
	iv       []byte
}

// New создаёт Cipher. Пустой password — identity-режим.
func New(password, iv string) *Cipher {
	return &Cipher{password: password, iv: []byte(iv)}
}

// Enabled сообщает, шифруются ли payload.
func (c *Cipher) Enabled() bool {
	return c.password != ""
}

// Encrypt шифрует строку и возвращает base64.
func (c *Cipher) Encrypt(plain string) (string, error) {
	if !c.Enabled() {
		return plain, nil
	}

	block, err := c.block()
	if err != nil {
		return "", err
	}

	data := pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, data)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt расшифровывает base64 шифротекст.
func (c *Cipher) Decrypt(cipherText string) (string, error) {
	if !c.Enabled() {
		return cipherText, nil
	}

	block, err := c.block()
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", fmt.Errorf("%w: decode base64: %v", ErrInvalidInput, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: length %d is not a multiple of block size", ErrInvalidInput, len(data))
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, data)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// block строит AES блок из пароля и проверяет IV.
func (c *Cipher) block() (cipher.Block, error) {
	if len(c.iv) == 0 {
		return nil, fmt.Errorf("%w: ELASTICIO_MESSAGE_CRYPTO_IV is not set", ErrConfiguration)
	}
	if len(c.iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: IV must be %d bytes, got %d", ErrConfiguration, aes.BlockSize, len(c.iv))
	}

	key := sha256.Sum256([]byte(c.password))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return block, nil
}

// pad — PKCS#7.
func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidInput)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrInvalidInput)
		}
	}
	return data[:len(data)-n], nil
}
