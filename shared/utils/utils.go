package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	upperAlphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	digits            = "0123456789"
)

// RandomString draws length characters from charset using crypto/rand.
func RandomString(charset string, length int) (string, error) {
	result := make([]byte, length)
	limit := big.NewInt(int64(len(charset)))
	for i := range result {
		num, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		result[i] = charset[num.Int64()]
	}
	return string(result), nil
}

// ReferenceSuffix returns n uppercase alphanumeric characters.
func ReferenceSuffix(n int) (string, error) {
	return RandomString(upperAlphanumeric, n)
}

// GenerateAccountNumber generates a 13-digit account number starting with 209
func GenerateAccountNumber() string {
	num, _ := rand.Int(rand.Reader, big.NewInt(10_000_000_000))
	return fmt.Sprintf("209%010d", num.Int64())
}

// ValidateAccountNumber validates the account number format
func ValidateAccountNumber(accountNumber string) bool {
	if len(accountNumber) != 13 || !strings.HasPrefix(accountNumber, "209") {
		return false
	}
	return strings.Trim(accountNumber, digits) == ""
}

// GenerateOTP returns a 6-digit one-time code.
func GenerateOTP() (string, error) {
	return RandomString(digits, 6)
}

// HashOTP hashes a one-time code using bcrypt
func HashOTP(code string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckOTP checks if a one-time code matches a hash
func CheckOTP(code, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
	return err == nil
}
