package security

import "testing"

func TestTrustedClientIP(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		xff            string
		trustedProxies []string
		want           string
	}{
		{
			name:       "no proxies uses remote addr",
			remoteAddr: "203.0.113.5:41234",
			xff:        "198.51.100.1",
			want:       "203.0.113.5",
		},
		{
			name:           "rightmost untrusted wins",
			remoteAddr:     "10.0.0.1:443",
			xff:            "198.51.100.1, 10.0.0.2",
			trustedProxies: []string{"10.0.0.0/8"},
			want:           "198.51.100.1",
		},
		{
			name:           "all trusted falls back to remote addr",
			remoteAddr:     "10.0.0.1:443",
			xff:            "10.0.0.3, 10.0.0.2",
			trustedProxies: []string{"10.0.0.0/8"},
			want:           "10.0.0.1",
		},
		{
			name:           "plain IP proxy entry",
			remoteAddr:     "192.0.2.9:80",
			xff:            "198.51.100.7, 192.0.2.10",
			trustedProxies: []string{"192.0.2.10"},
			want:           "198.51.100.7",
		},
		{
			name:           "spoofed garbage in XFF skipped",
			remoteAddr:     "10.0.0.1:443",
			xff:            "evil, 198.51.100.1, 10.0.0.2",
			trustedProxies: []string{"10.0.0.0/8"},
			want:           "198.51.100.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:8080",
			want:       "2001:db8::1",
		},
		{
			name:           "empty XFF with proxies",
			remoteAddr:     "203.0.113.5:41234",
			trustedProxies: []string{"10.0.0.0/8"},
			want:           "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrustedClientIP(tt.remoteAddr, tt.xff, tt.trustedProxies)
			if got != tt.want {
				t.Errorf("TrustedClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
