package authdomain

import (
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		host        string
		wantHost    string
		wantDevice  string
		wantToken   string
		wantAPI     string
		wantCopilot string
		wantErr     bool
	}{
		{
			name:        "empty selects public host",
			host:        "",
			wantHost:    "github.com",
			wantDevice:  "https://github.com/login/device/code",
			wantToken:   "https://github.com/login/oauth/access_token",
			wantAPI:     "https://api.github.com",
			wantCopilot: "https://api.githubcopilot.com",
		},
		{
			name:        "enterprise host with scheme and trailing slash",
			host:        "https://Octo.GHE.com/",
			wantHost:    "octo.ghe.com",
			wantDevice:  "https://octo.ghe.com/login/device/code",
			wantToken:   "https://octo.ghe.com/login/oauth/access_token",
			wantAPI:     "https://api.octo.ghe.com",
			wantCopilot: "https://copilot-api.octo.ghe.com",
		},
		{
			name:        "bare enterprise host",
			host:        "  corp.example.com ",
			wantHost:    "corp.example.com",
			wantDevice:  "https://corp.example.com/login/device/code",
			wantToken:   "https://corp.example.com/login/oauth/access_token",
			wantAPI:     "https://api.corp.example.com",
			wantCopilot: "https://copilot-api.corp.example.com",
		},
		{name: "plain http rejected", host: "http://corp.example.com", wantErr: true},
		{name: "path rejected", host: "corp.example.com/api", wantErr: true},
		{name: "whitespace rejected", host: "corp example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Resolve(tt.host)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%q) expected error, got %+v", tt.host, d)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) unexpected error: %v", tt.host, err)
			}
			if d.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", d.Host, tt.wantHost)
			}
			if d.DeviceCodeURL != tt.wantDevice {
				t.Errorf("DeviceCodeURL = %q, want %q", d.DeviceCodeURL, tt.wantDevice)
			}
			if d.TokenURL != tt.wantToken {
				t.Errorf("TokenURL = %q, want %q", d.TokenURL, tt.wantToken)
			}
			if d.APIBaseURL != tt.wantAPI {
				t.Errorf("APIBaseURL = %q, want %q", d.APIBaseURL, tt.wantAPI)
			}
			if d.UserURL != tt.wantAPI+"/user" {
				t.Errorf("UserURL = %q", d.UserURL)
			}
			if d.ExchangeURL != tt.wantAPI+"/copilot_internal/v2/token" {
				t.Errorf("ExchangeURL = %q", d.ExchangeURL)
			}
			if d.CopilotAPIURL != tt.wantCopilot {
				t.Errorf("CopilotAPIURL = %q, want %q", d.CopilotAPIURL, tt.wantCopilot)
			}
		})
	}
}

func TestIsEnterprise(t *testing.T) {
	pub, _ := Resolve("")
	ent, _ := Resolve("corp.example.com")
	if pub.IsEnterprise() {
		t.Error("public host reported as enterprise")
	}
	if !ent.IsEnterprise() {
		t.Error("enterprise host not reported as enterprise")
	}
}
