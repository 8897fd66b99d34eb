package safehttp

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckIP(t *testing.T) {
	tests := []struct {
		ip      string
		wantErr bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"169.254.1.1", true},
		{"::1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			err := CheckIP(net.ParseIP(tt.ip))
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckIP(%s) error = %v, wantErr %v", tt.ip, err, tt.wantErr)
			}
		})
	}

	if err := CheckIP(nil); err == nil {
		t.Error("CheckIP(nil) should fail")
	}
}

func TestTransport_RejectsLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport()}
	resp, err := client.Get(srv.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected loopback request to be rejected")
	}
}
