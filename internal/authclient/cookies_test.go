package authclient

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"testing"
)

func newTestJar(t *testing.T, origin string, cookies ...*http.Cookie) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	if len(cookies) > 0 {
		u, err := url.Parse(origin)
		if err != nil {
			t.Fatalf("parse origin: %v", err)
		}
		jar.SetCookies(u, cookies)
	}
	return jar
}

func TestJarReaderReadDecodesValue(t *testing.T) {
	const origin = "http://daypack.test"
	jar := newTestJar(t, origin, &http.Cookie{Name: "dp_csrftoken", Value: "abc%3D%3D"})

	reader, err := NewJarReader(jar, origin)
	if err != nil {
		t.Fatalf("NewJarReader: %v", err)
	}
	got, ok := reader.Read("dp_csrftoken")
	if !ok {
		t.Fatal("expected cookie to be present")
	}
	if got != "abc==" {
		t.Fatalf("got %q, want %q", got, "abc==")
	}
	if _, ok := reader.Read("missing"); ok {
		t.Fatal("expected missing cookie to be absent")
	}
}

func TestJarReaderClearRemovesCookie(t *testing.T) {
	const origin = "http://daypack.test"
	jar := newTestJar(t, origin,
		&http.Cookie{Name: "dp_csrftoken", Value: "tok"},
		&http.Cookie{Name: "dp_session", Value: "sess"},
	)
	reader, err := NewJarReader(jar, origin)
	if err != nil {
		t.Fatalf("NewJarReader: %v", err)
	}

	reader.Clear("dp_csrftoken", "dp_session")

	if _, ok := reader.Read("dp_csrftoken"); ok {
		t.Fatal("csrf cookie survived Clear")
	}
	if _, ok := reader.Read("dp_session"); ok {
		t.Fatal("session cookie survived Clear")
	}
}

func TestJarReaderNilSafe(t *testing.T) {
	var reader *JarReader
	if _, ok := reader.Read("any"); ok {
		t.Fatal("nil reader reported a cookie")
	}
	reader.Clear("any")
}

func TestReadCookieHeader(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		cookie  string
		want    string
		present bool
	}{
		{"simple", "dp_csrftoken=tok123", "dp_csrftoken", "tok123", true},
		{"among others", "a=1; dp_csrftoken=tok; b=2", "dp_csrftoken", "tok", true},
		{"url encoded", "dp_csrftoken=a%2Fb%3D", "dp_csrftoken", "a/b=", true},
		{"exact key only", "xdp_csrftoken=nope", "dp_csrftoken", "", false},
		{"empty header", "", "dp_csrftoken", "", false},
		{"empty name", "dp_csrftoken=tok", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ReadCookieHeader(tc.header, tc.cookie)
			if ok != tc.present {
				t.Fatalf("present=%v, want %v", ok, tc.present)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
