// Package client talks to the PKI distribution API: trust bootstrapping
// (CA certificate, revocation list) and certificate lifecycle calls.
package client

import (
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"time"

	"github.com/whitekid/goxp/log"
	"github.com/whitekid/goxp/request"

	"ztpki/certmanager"
	"ztpki/pkg/helper/x509x"
)

func New(endpoint string) *Client { return WithClient(endpoint, &http.Client{}) }

func WithClient(endpoint string, client *http.Client) *Client {
	return &Client{
		endpoint: endpoint + "/pki",
		client:   request.NewSession(client),
	}
}

type Client struct {
	endpoint string
	client   request.Interface
}

func (c *Client) sendRequest(ctx context.Context, req *request.Request) (*request.Response, error) {
	log.Debugf("send request: %s", req.URL)

	resp, err := req.Do(ctx)
	if err != nil {
		return nil, err
	}

	if !resp.Success() {
		return resp, NewHTTPError(resp.StatusCode, "failed with status %d", resp.StatusCode)
	}

	return resp, nil
}

// CACertificate fetch and parse the CA certificate
func (c *Client) CACertificate(ctx context.Context) (*x509.Certificate, error) {
	resp, err := c.sendRequest(ctx, c.client.Get("%s/ca/certificate", c.endpoint))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return x509x.ParseCertificate(body)
}

// CRL revoked serials and their revocation times, serials in decimal
// string form
func (c *Client) CRL(ctx context.Context) (map[string]time.Time, error) {
	resp, err := c.sendRequest(ctx, c.client.Get("%s/ca/crl", c.endpoint))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	crl := map[string]time.Time{}
	if err := resp.JSON(&crl); err != nil {
		return nil, err
	}

	return crl, nil
}

// CertStatus per-service certificate status, keyed by service name
func (c *Client) CertStatus(ctx context.Context) (map[string]*certmanager.CertStatus, error) {
	resp, err := c.sendRequest(ctx, c.client.Get("%s/certs", c.endpoint))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	status := map[string]*certmanager.CertStatus{}
	if err := resp.JSON(&status); err != nil {
		return nil, err
	}

	return status, nil
}

// IssuedCert certificate material returned by Issue
type IssuedCert struct {
	Service     string `json:"service"`
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
}

// Issue request a certificate for service; validityDays 0 uses the
// server's rotation interval
func (c *Client) Issue(ctx context.Context, service string, validityDays int) (*IssuedCert, error) {
	req := map[string]int{"validity_days": validityDays}

	resp, err := c.sendRequest(ctx, c.client.Post("%s/certs/%s", c.endpoint, service).JSON(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	cert := &IssuedCert{}
	if err := resp.JSON(cert); err != nil {
		return nil, err
	}

	return cert, nil
}

// Rotate ask the server to rotate the service certificate; returns whether
// a rotation happened
func (c *Client) Rotate(ctx context.Context, service string) (bool, error) {
	resp, err := c.sendRequest(ctx, c.client.Post("%s/certs/%s/rotate", c.endpoint, service))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	result := map[string]bool{}
	if err := resp.JSON(&result); err != nil {
		return false, err
	}

	return result["rotated"], nil
}

// Revoke revoke the current certificate of service
func (c *Client) Revoke(ctx context.Context, service string) error {
	_, err := c.sendRequest(ctx, c.client.Delete("%s/certs/%s", c.endpoint, service))
	return err
}
