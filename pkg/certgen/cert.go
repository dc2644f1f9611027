// Package certgen provides a self-signed certificate bootstrap for the
// tunnel server's TLS acceptor, used when no operator-supplied cert/key
// pair exists yet and by tests that need a throwaway keypair on disk.
package certgen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// GenerateCert writes a self-signed certificate and key to certFile and
// keyFile if both do not already exist; it is a no-op otherwise, so it is
// safe to call unconditionally on every startup.
//
// bindHost is the host wsconduit's listener is actually bound to (parsed
// from -listen); it is added as a SAN alongside "localhost" and 127.0.0.1
// so a client dialing the configured bind address — not just loopback —
// can complete TLS verification against the autogenerated cert. An empty
// or wildcard bindHost (e.g. "0.0.0.0", "") contributes no extra SAN.
func GenerateCert(certFile, keyFile, bindHost string) error {
	if _, err := os.Stat(certFile); err == nil {
		if _, err := os.Stat(keyFile); err == nil {
			return nil
		}
	}
	// Generate private key
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %v", err)
	}
	// Create certificate template
	serialNumber, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	dnsNames := []string{"localhost"}
	ips := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	switch {
	case bindHost == "" || bindHost == "0.0.0.0" || bindHost == "::":
		// Wildcard or unset: the loopback SANs above are all we can name.
	case net.ParseIP(bindHost) != nil:
		ips = append(ips, net.ParseIP(bindHost))
	default:
		dnsNames = append(dnsNames, bindHost)
	}
	tmpl := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"wsconduit"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}
	// Create certificate
	derBytes, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %v", err)
	}
	// Write cert
	certOut, err := os.Create(certFile)
	if err != nil {
		return fmt.Errorf("failed to open cert file: %v", err)
	}
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	certOut.Close()
	// Write key
	keyOut, err := os.Create(keyFile)
	if err != nil {
		return fmt.Errorf("failed to open key file: %v", err)
	}
	pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	keyOut.Close()
	return nil
}
