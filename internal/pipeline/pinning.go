package pipeline

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// PinnedTransport returns a transport that restricts TLS connections to the
// given host to server certificates whose SPKI SHA-256 hash appears in pins.
// Pins are base64-encoded hashes, with or without the conventional "sha256/"
// prefix. An empty pin set returns base unchanged: standard verification
// only, the explicit escape hatch for pre-production environments.
func PinnedTransport(host string, pins []string, base *http.Transport) http.RoundTripper {
	if base == nil {
		base = BaseTransport(0)
	}
	if len(pins) == 0 {
		return base
	}

	pinSet := make(map[[sha256.Size]byte]struct{}, len(pins))
	for _, pin := range pins {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(pin, "sha256/"))
		if err != nil || len(raw) != sha256.Size {
			continue
		}
		var sum [sha256.Size]byte
		copy(sum[:], raw)
		pinSet[sum] = struct{}{}
	}

	pinned := base.Clone()
	if pinned.TLSClientConfig == nil {
		pinned.TLSClientConfig = &tls.Config{}
	}
	host = strings.ToLower(host)

	// VerifyConnection runs after standard chain verification; it only adds
	// the pin constraint for the configured host.
	pinned.TLSClientConfig.VerifyConnection = func(cs tls.ConnectionState) error {
		if !strings.EqualFold(cs.ServerName, host) {
			return nil
		}
		for _, cert := range cs.PeerCertificates {
			if _, ok := pinSet[spkiHash(cert)]; ok {
				return nil
			}
		}
		return fmt.Errorf("pipeline: no pinned public key found for %s", host)
	}

	return pinned
}

func spkiHash(cert *x509.Certificate) [sha256.Size]byte {
	return sha256.Sum256(cert.RawSubjectPublicKeyInfo)
}
