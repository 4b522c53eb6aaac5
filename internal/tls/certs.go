// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package tls generates and loads the certificates that secure the gRPC
// listener. A deployment either points grpc-tls-dir at certificates issued
// elsewhere or bootstraps a private CA with `credkeep certs generate`.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
)

// File names inside a certs directory.
const (
	CACertFile = "root-ca.crt"
	CAKeyFile  = "root-ca.key"
)

// CA holds a certificate authority certificate and private key.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// ServerCert holds a server certificate and private key.
type ServerCert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	Name        string
}

// InstanceURI returns the URI SAN that ties a CA to one credkeep instance.
func InstanceURI(instanceID string) string {
	return "credkeep://instance/" + instanceID
}

// GenerateCA creates a root CA for instanceID. The id appears in the CN and
// as a URI SAN (credkeep://instance/{id}).
func GenerateCA(instanceID string) (*CA, error) {
	if instanceID == "" {
		return nil, oops.Code("CERT_INVALID").Errorf("instance id is required")
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Code("CERT_GENERATE_FAILED").With("operation", "generate CA key").Wrap(err)
	}
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}
	instanceURI, err := url.Parse(InstanceURI(instanceID))
	if err != nil {
		return nil, oops.Code("CERT_INVALID").With("instance_id", instanceID).Wrap(err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"credkeep"},
			CommonName:   "credkeep CA " + instanceID,
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		URIs:                  []*url.URL{instanceURI},
	}

	cert, err := sign(template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// GenerateServerCert creates a server certificate signed by ca. hosts are
// added as IP or DNS SANs; localhost and 127.0.0.1 are always present.
func GenerateServerCert(ca *CA, name string, hosts []string) (*ServerCert, error) {
	if ca == nil {
		return nil, oops.Code("CERT_INVALID").Errorf("CA is required")
	}
	if name == "" {
		return nil, oops.Code("CERT_INVALID").Errorf("certificate name is required")
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Code("CERT_GENERATE_FAILED").With("operation", "generate server key").Wrap(err)
	}
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"credkeep"},
			CommonName:   "credkeep-" + name,
		},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	addHosts(template, append([]string{"localhost", "127.0.0.1"}, hosts...))

	cert, err := sign(template, ca.Certificate, &key.PublicKey, ca.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &ServerCert{Certificate: cert, PrivateKey: key, Name: name}, nil
}

func addHosts(template *x509.Certificate, hosts []string) {
	seen := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, oops.Code("CERT_GENERATE_FAILED").With("operation", "generate serial").Wrap(err)
	}
	return serial, nil
}

func sign(template, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, oops.Code("CERT_GENERATE_FAILED").
			With("operation", "create certificate").
			With("common_name", template.Subject.CommonName).
			Wrap(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.Code("CERT_GENERATE_FAILED").With("operation", "parse certificate").Wrap(err)
	}
	return cert, nil
}

// SaveCertificates writes the CA as root-ca.crt/.key and, if given, the
// server certificate as {name}.crt/.key. Files are created 0600.
func SaveCertificates(certsDir string, ca *CA, serverCert *ServerCert) error {
	if err := os.MkdirAll(certsDir, 0o700); err != nil {
		return oops.Code("CERT_SAVE_FAILED").With("dir", certsDir).Wrap(err)
	}
	if err := saveCert(filepath.Join(certsDir, CACertFile), ca.Certificate); err != nil {
		return err
	}
	if err := saveKey(filepath.Join(certsDir, CAKeyFile), ca.PrivateKey); err != nil {
		return err
	}
	if serverCert == nil {
		return nil
	}
	if err := saveCert(filepath.Join(certsDir, serverCert.Name+".crt"), serverCert.Certificate); err != nil {
		return err
	}
	return saveKey(filepath.Join(certsDir, serverCert.Name+".key"), serverCert.PrivateKey)
}

// LoadCA loads root-ca.crt and root-ca.key from certsDir.
func LoadCA(certsDir string) (*CA, error) {
	cert, err := readCert(filepath.Join(certsDir, CACertFile))
	if err != nil {
		return nil, err
	}

	keyPath := filepath.Clean(filepath.Join(certsDir, CAKeyFile))
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, oops.Code("CERT_LOAD_FAILED").With("path", keyPath).Wrap(err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, oops.Code("CERT_LOAD_FAILED").With("path", keyPath).Errorf("no PEM block")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, oops.Code("CERT_LOAD_FAILED").With("path", keyPath).Wrap(err)
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// ServerConfig returns a TLS 1.3 server config for the {name}.crt/.key pair
// in certsDir.
func ServerConfig(certsDir, name string) (*tls.Config, error) {
	certPath := filepath.Join(certsDir, name+".crt")
	keyPath := filepath.Join(certsDir, name+".key")
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, oops.Code("CERT_LOAD_FAILED").With("path", certPath).Wrap(err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig returns a TLS config that trusts only the CA in certsDir.
func ClientConfig(certsDir, serverName string) (*tls.Config, error) {
	ca, err := readCert(filepath.Join(certsDir, CACertFile))
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(ca)
	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS13,
	}, nil
}

func readCert(path string) (*x509.Certificate, error) {
	path = filepath.Clean(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Code("CERT_LOAD_FAILED").With("path", path).Wrap(err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, oops.Code("CERT_LOAD_FAILED").With("path", path).Errorf("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, oops.Code("CERT_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return cert, nil
}

func saveCert(path string, cert *x509.Certificate) error {
	return writePEM(path, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func saveKey(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return oops.Code("CERT_SAVE_FAILED").With("path", path).Wrap(err)
	}
	return writePEM(path, &pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func writePEM(path string, block *pem.Block) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return oops.Code("CERT_SAVE_FAILED").With("path", path).Wrap(err)
	}
	if err := pem.Encode(f, block); err != nil {
		_ = f.Close() //nolint:errcheck // encode error takes precedence
		return oops.Code("CERT_SAVE_FAILED").With("path", path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return oops.Code("CERT_SAVE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
