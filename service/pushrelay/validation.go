package pushrelay

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

// Subscription is a push endpoint, optionally with the keys for an
// encrypted Web Push delivery.
type Subscription struct {
	Endpoint        string `json:"endpoint"`
	P256dh          string `json:"p256dh,omitempty"`
	Auth            string `json:"auth,omitempty"`
	VAPIDPublicKey  string `json:"vapidPublicKey,omitempty"`
	VAPIDPrivateKey string `json:"vapidPrivateKey,omitempty"`
}

func (s Subscription) HasEncryption() bool {
	return s.P256dh != "" && s.Auth != "" && s.VAPIDPrivateKey != ""
}

// keySpec describes one base64url key of an encrypted subscription.
type keySpec struct {
	name  string
	size  int
	check func([]byte) error
}

var (
	p256dhSpec = keySpec{name: "p256dh", size: 65, check: func(b []byte) error {
		if b[0] != 0x04 {
			return errors.New("not an uncompressed point")
		}
		_, err := ecdh.P256().NewPublicKey(b)
		return err
	}}
	authSpec  = keySpec{name: "auth", size: 16}
	vapidSpec = keySpec{name: "VAPID private key", size: 32, check: func(b []byte) error {
		d := new(big.Int).SetBytes(b)
		if d.Sign() <= 0 || d.Cmp(elliptic.P256().Params().N) >= 0 {
			return errors.New("scalar out of range")
		}
		return nil
	}}
)

// normalize decodes raw (padded or not) and re-encodes it unpadded.
func (k keySpec) normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		if b, err = base64.URLEncoding.DecodeString(raw); err != nil {
			return "", fmt.Errorf("invalid %s encoding", k.name)
		}
	}
	if len(b) != k.size {
		return "", fmt.Errorf("invalid %s length: expected %d bytes, got %d", k.name, k.size, len(b))
	}
	if k.check != nil {
		if err := k.check(b); err != nil {
			return "", fmt.Errorf("invalid %s: %w", k.name, err)
		}
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Normalize validates s and re-encodes its keys as unpadded base64url.
// Encrypted subscriptions must use https.
func (s Subscription) Normalize() (Subscription, error) {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	encrypted := s.P256dh != "" || s.Auth != "" || s.VAPIDPrivateKey != ""

	u, err := url.Parse(s.Endpoint)
	switch {
	case err != nil || u.Host == "":
		return s, errors.New("invalid push endpoint URL")
	case u.Scheme != "https" && u.Scheme != "http":
		return s, errors.New("push endpoint must use http or https")
	case encrypted && u.Scheme != "https":
		return s, errors.New("encrypted push endpoint must use https")
	}
	if !encrypted {
		return s, nil
	}

	for _, f := range []struct {
		spec keySpec
		val  *string
	}{
		{p256dhSpec, &s.P256dh},
		{authSpec, &s.Auth},
		{vapidSpec, &s.VAPIDPrivateKey},
	} {
		if *f.val, err = f.spec.normalize(*f.val); err != nil {
			return s, err
		}
	}
	return s, nil
}
