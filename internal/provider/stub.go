package provider

import (
	"context"
	"strings"

	"github.com/veriguard/auth-service/internal/util/logger"
)

// StubMXResolver reports MX presence for every domain except a fixed
// deny set. Used in dev mode and tests.
type StubMXResolver struct {
	// NoMXDomains lists domains that resolve without MX records.
	NoMXDomains []string
}

func (s *StubMXResolver) HasMX(ctx context.Context, domain string) (bool, error) {
	for _, d := range s.NoMXDomains {
		if strings.EqualFold(d, domain) {
			return false, nil
		}
	}
	return true, nil
}

// StubCarrierLookup derives a deterministic verdict from the number
// itself so dev flows can exercise every scoring branch.
//
//	prefix 185  -> invalid number
//	prefix 186  -> VoIP
//	prefix 187  -> virtual operator
//	prefix 188  -> recycled
type StubCarrierLookup struct{}

func (StubCarrierLookup) LookupCarrier(ctx context.Context, phone string) (CarrierInfo, error) {
	digits := strings.TrimLeft(phone, "+")
	switch {
	case strings.HasPrefix(digits, "185"):
		return CarrierInfo{Valid: false}, nil
	case strings.HasPrefix(digits, "186"):
		return CarrierInfo{Valid: true, IsVoip: true, Carrier: "stub-voip"}, nil
	case strings.HasPrefix(digits, "187"):
		return CarrierInfo{Valid: true, IsVirtual: true, Carrier: "stub-virtual"}, nil
	case strings.HasPrefix(digits, "188"):
		return CarrierInfo{Valid: true, IsRecycled: true, Carrier: "stub-recycled"}, nil
	}
	return CarrierInfo{Valid: true, Carrier: "stub-mobile"}, nil
}

// StubIPReputationLookup maps fixed test ranges to reputation flags.
//
//	10.66.*   -> VPN
//	10.77.*   -> proxy
//	10.88.*   -> Tor exit
//	10.99.*   -> high-risk country (XX)
type StubIPReputationLookup struct{}

func (StubIPReputationLookup) LookupIPReputation(ctx context.Context, ip string) (IPReputation, error) {
	switch {
	case strings.HasPrefix(ip, "10.66."):
		return IPReputation{IsVpn: true, Country: "US", ISP: "stub-vpn"}, nil
	case strings.HasPrefix(ip, "10.77."):
		return IPReputation{IsProxy: true, Country: "US", ISP: "stub-proxy"}, nil
	case strings.HasPrefix(ip, "10.88."):
		return IPReputation{IsTor: true, Country: "US", ISP: "stub-tor"}, nil
	case strings.HasPrefix(ip, "10.99."):
		return IPReputation{Country: "XX", ISP: "stub-isp"}, nil
	}
	return IPReputation{Country: "US", ISP: "stub-isp"}, nil
}

// LogDispatcher writes codes to the log instead of sending them.
// Dev-mode stand-in for an SMS/email gateway.
type LogDispatcher struct{}

func (LogDispatcher) SendCode(ctx context.Context, channel, destination, code string) error {
	logger.Infof("stub dispatch: channel=%s destination=%s code=%s", channel, destination, code)
	return nil
}
