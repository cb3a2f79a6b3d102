// Package certgen creates the self-signed certificate pair the server
// needs, as an in-process alternative to running openssl by hand.
package certgen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

const (
	keyBits  = 4096
	validFor = 365 * 24 * time.Hour
)

// RemediationCommand is printed when cert/key files are missing, so the
// user can generate them without this tool.
const RemediationCommand = "openssl req -x509 -newkey rsa:4096 -keyout key.pem -out cert.pem -days 365 -nodes"

var (
	// ErrMissingCert is returned when the certificate file does not exist.
	ErrMissingCert = errors.New("certificate file does not exist")
	// ErrMissingKey is returned when the key file does not exist.
	ErrMissingKey = errors.New("key file does not exist")
)

// EnsurePair verifies the certificate pair exists before anything is
// bound. With generate set, a missing pair is created in place instead
// of being reported.
func EnsurePair(certPath, keyPath string, generate bool) error {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	if certErr == nil && keyErr == nil {
		return nil
	}

	if generate {
		return GenerateSelfSigned(certPath, keyPath, LocalIPs())
	}

	if certErr != nil {
		return fmt.Errorf("%w: %s", ErrMissingCert, certPath)
	}
	return fmt.Errorf("%w: %s", ErrMissingKey, keyPath)
}

// LocalIPs returns the non-loopback unicast addresses of the host. They go
// into the certificate and the startup banner so phones on the same WiFi
// can reach the server.
func LocalIPs() []net.IP {
	var ips []net.IP

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ips = append(ips, ipNet.IP)
	}
	return ips
}

// GenerateSelfSigned writes a PEM certificate and key covering localhost,
// the loopback addresses and every address from extraIPs.
func GenerateSelfSigned(certPath, keyPath string, extraIPs []net.IP) error {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "localhost",
			Organization: []string{"SHTS local testing"},
		},
		NotBefore:             now,
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           append([]net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}, extraIPs...),
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}

	if err := writePEM(certPath, "CERTIFICATE", der, 0644); err != nil {
		return err
	}
	return writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0600)
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	err = pem.Encode(file, &pem.Block{Type: blockType, Bytes: der})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
