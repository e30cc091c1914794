package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpPeriod is the TOTP step length in seconds. Standard authenticator
// apps assume 30-second steps with six digits and SHA-1.
const totpPeriod = 30

// GenerateTOTPSecret creates a fresh TOTP secret for enrolment. It
// returns the base32 secret for manual entry and the otpauth:// URI
// for QR provisioning.
func GenerateTOTPSecret(issuer, accountName string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("generating totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// VerifyTOTP checks a six-digit code against the secret at the given
// time. One step of skew is accepted in each direction, so codes from
// the previous and next 30-second window still pass.
func VerifyTOTP(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}
