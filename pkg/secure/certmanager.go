package secure

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CertificateInfo summarizes a loaded certificate for logging and inspection.
type CertificateInfo struct {
	Subject     string
	Issuer      string
	NotBefore   time.Time
	NotAfter    time.Time
	DNSNames    []string
	IPAddresses []string
	SerialNo    string
}

// LoadKeyPair loads and validates a certificate/key pair from PEM files. It
// rejects pairs outside their validity window and logs a warning when expiry
// is near.
func LoadKeyPair(certFile, keyFile string, logger *slog.Logger) (*tls.Certificate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if certFile == "" || keyFile == "" {
		return nil, newBadArguments("load key pair", "certificate or key path is empty")
	}
	cert, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
	if err != nil {
		return nil, newSecurityError(ErrorTypeCertificateLoad, "load key pair", "", err)
	}
	if err := ValidateCertificate(&cert, logger); err != nil {
		return nil, err
	}
	return &cert, nil
}

// ValidateCertificate checks a loaded certificate's validity window.
func ValidateCertificate(cert *tls.Certificate, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if cert == nil || len(cert.Certificate) == 0 {
		return newSecurityError(ErrorTypeCertificateLoad, "validate certificate",
			"certificate chain is empty", nil)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return newSecurityError(ErrorTypeCertificateLoad, "validate certificate", "", err)
	}
	now := time.Now()
	if now.Before(leaf.NotBefore) {
		return newSecurityError(ErrorTypeCertificateLoad, "validate certificate",
			fmt.Sprintf("certificate not valid before %s", leaf.NotBefore), nil)
	}
	if now.After(leaf.NotAfter) {
		return newSecurityError(ErrorTypeCertificateLoad, "validate certificate",
			fmt.Sprintf("certificate expired at %s", leaf.NotAfter), nil)
	}
	if days := int(time.Until(leaf.NotAfter).Hours() / 24); days <= 30 {
		logger.Warn("certificate expires soon",
			"subject", leaf.Subject.String(),
			"days_until_expiry", days,
			"expiry_date", leaf.NotAfter)
	}
	return nil
}

// InspectCertificate extracts display information from a certificate chain.
func InspectCertificate(cert *tls.Certificate) (*CertificateInfo, error) {
	if cert == nil || len(cert.Certificate) == 0 {
		return nil, newBadArguments("inspect certificate", "certificate chain is empty")
	}
	leaf := cert.Leaf
	if leaf == nil {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, newSecurityError(ErrorTypeCertificateLoad, "inspect certificate", "", err)
		}
		leaf = parsed
	}
	info := &CertificateInfo{
		Subject:   leaf.Subject.String(),
		Issuer:    leaf.Issuer.String(),
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
		DNSNames:  leaf.DNSNames,
		SerialNo:  leaf.SerialNumber.String(),
	}
	for _, ip := range leaf.IPAddresses {
		info.IPAddresses = append(info.IPAddresses, ip.String())
	}
	return info, nil
}

// CertificateWatcher invokes a callback when any watched certificate file
// changes. Events are debounced so an atomic rename and a write do not
// trigger two reloads.
type CertificateWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *slog.Logger
}

// NewCertificateWatcher starts watching the given files. The callback runs on
// the watcher's goroutine.
func NewCertificateWatcher(paths []string, logger *slog.Logger, callback func()) (*CertificateWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		// Watch the directory: editors and secret managers replace files
		// by rename, which drops the watch on the file itself.
		dir := filepath.Dir(filepath.Clean(p))
		if !dirs[dir] {
			if err := w.Add(dir); err != nil {
				_ = w.Close()
				return nil, fmt.Errorf("watch %s: %w", dir, err)
			}
			dirs[dir] = true
		}
	}

	cw := &CertificateWatcher{
		watcher: w,
		done:    make(chan struct{}),
		logger:  logger,
	}
	watched := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p != "" {
			watched[filepath.Clean(p)] = true
		}
	}
	go cw.run(watched, callback)
	return cw, nil
}

func (cw *CertificateWatcher) run(watched map[string]bool, callback func()) {
	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			callback()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("certificate watcher error", "error", err)
		case <-cw.done:
			return
		}
	}
}

// Close stops watching.
func (cw *CertificateWatcher) Close() error {
	close(cw.done)
	return cw.watcher.Close()
}
