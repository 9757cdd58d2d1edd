// Package provider defines the pluggable external lookups consumed by
// fraud scoring (MX resolution, carrier data, IP reputation) and the
// notification dispatcher used for OTP delivery. Implementations are
// swappable; tests inject deterministic stubs.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// CarrierInfo is the carrier lookup verdict for a phone number.
type CarrierInfo struct {
	Valid      bool   `json:"valid"`
	IsVoip     bool   `json:"is_voip"`
	IsVirtual  bool   `json:"is_virtual"` // eSIM resellers and virtual operators
	IsRecycled bool   `json:"is_recycled"`
	Carrier    string `json:"carrier,omitempty"`
}

// IPReputation is the reputation verdict for an IP address.
type IPReputation struct {
	IsVpn   bool   `json:"is_vpn"`
	IsProxy bool   `json:"is_proxy"`
	IsTor   bool   `json:"is_tor"`
	Country string `json:"country,omitempty"` // ISO 3166-1 alpha-2
	ISP     string `json:"isp,omitempty"`
}

// MXResolver reports whether a mail domain has at least one MX record.
type MXResolver interface {
	HasMX(ctx context.Context, domain string) (bool, error)
}

// CarrierLookup resolves carrier metadata for a phone number.
type CarrierLookup interface {
	LookupCarrier(ctx context.Context, phone string) (CarrierInfo, error)
}

// IPReputationLookup resolves reputation metadata for an IP address.
type IPReputationLookup interface {
	LookupIPReputation(ctx context.Context, ip string) (IPReputation, error)
}

// NotificationDispatcher delivers one-time codes. Delivery is
// fire-and-forget from the caller's perspective; failures are logged,
// never propagated into OTP issuance.
type NotificationDispatcher interface {
	SendCode(ctx context.Context, channel, destination, code string) error
}

// DNSMXResolver resolves MX records through the system resolver.
type DNSMXResolver struct {
	resolver *net.Resolver
}

func NewDNSMXResolver() *DNSMXResolver {
	return &DNSMXResolver{resolver: net.DefaultResolver}
}

func (r *DNSMXResolver) HasMX(ctx context.Context, domain string) (bool, error) {
	records, err := r.resolver.LookupMX(ctx, domain)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return false, nil
		}
		return false, fmt.Errorf("mx lookup %s: %w", domain, err)
	}
	return len(records) > 0, nil
}

// HTTPCarrierLookup calls an external carrier-intelligence API.
type HTTPCarrierLookup struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPCarrierLookup(endpoint, apiKey string, timeout time.Duration) *HTTPCarrierLookup {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPCarrierLookup{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (l *HTTPCarrierLookup) LookupCarrier(ctx context.Context, phone string) (CarrierInfo, error) {
	var info CarrierInfo
	if err := l.getJSON(ctx, l.endpoint+"?number="+url.QueryEscape(phone), &info); err != nil {
		return CarrierInfo{}, err
	}
	return info, nil
}

func (l *HTTPCarrierLookup) getJSON(ctx context.Context, u string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("carrier lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("carrier lookup: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// HTTPIPReputationLookup calls an external IP-reputation API.
type HTTPIPReputationLookup struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPIPReputationLookup(endpoint, apiKey string, timeout time.Duration) *HTTPIPReputationLookup {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPIPReputationLookup{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (l *HTTPIPReputationLookup) LookupIPReputation(ctx context.Context, ip string) (IPReputation, error) {
	u := l.endpoint + "?ip=" + url.QueryEscape(ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return IPReputation{}, err
	}
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return IPReputation{}, fmt.Errorf("ip reputation lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return IPReputation{}, fmt.Errorf("ip reputation lookup: unexpected status %d", resp.StatusCode)
	}
	var rep IPReputation
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return IPReputation{}, err
	}
	return rep, nil
}
