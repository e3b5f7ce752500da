// Package tlsutil 构建出站连接的 TLS 配置。
//
// 生成后端 HTTP 客户端统一从这里拿 http.Client：TLS 1.2+、仅 AEAD 密码套件，
// 可选自定义 CA 与双向认证的客户端证书（私有化部署的后端常见）。
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// Options 描述一条出站连接的 TLS 材料。零值表示系统信任根、无客户端证书。
type Options struct {
	// CACertFile 自定义 CA 证书路径（PEM），设置后替代系统信任根
	CACertFile string
	// ClientCertFile 双向认证用客户端证书路径（PEM），须与 ClientKeyFile 成对
	ClientCertFile string
	// ClientKeyFile 客户端私钥路径（PEM）
	ClientKeyFile string
}

// aeadSuites 仅保留 AEAD 密码套件。
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// ClientConfig 构建加固的 tls.Config 并装载 opts 指定的证书材料。
func ClientConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: aeadSuites,
	}

	if opts.CACertFile != "" {
		pemData, err := os.ReadFile(opts.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("read CA cert %s: %w", opts.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no valid PEM certificates in %s", opts.CACertFile)
		}
		cfg.RootCAs = pool
	}

	switch {
	case opts.ClientCertFile != "" && opts.ClientKeyFile != "":
		cert, err := tls.LoadX509KeyPair(opts.ClientCertFile, opts.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case opts.ClientCertFile != "" || opts.ClientKeyFile != "":
		return nil, fmt.Errorf("client cert and key must be configured together")
	}

	return cfg, nil
}

// NewHTTPClient 返回使用加固 TLS 的 http.Client。
// opts 为零值时等价于系统默认信任链上的加固客户端。
func NewHTTPClient(timeout time.Duration, opts Options) (*http.Client, error) {
	tlsCfg, err := ClientConfig(opts)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsCfg,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}, nil
}
