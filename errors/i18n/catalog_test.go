package i18n

import "testing"

func TestGetCatalogExactLocales(t *testing.T) {
	if got := GetCatalog("en-US").Locale(); got != "en-US" {
		t.Fatalf("locale = %q, want en-US", got)
	}
	if got := GetCatalog("pt-BR").Locale(); got != "pt-BR" {
		t.Fatalf("locale = %q, want pt-BR", got)
	}
}

func TestGetCatalogMatchesCloseLocales(t *testing.T) {
	if got := GetCatalog("pt").Locale(); got != "pt-BR" {
		t.Fatalf("pt resolved to %q, want pt-BR", got)
	}
	if got := GetCatalog("pt-PT").Locale(); got != "pt-BR" {
		t.Fatalf("pt-PT resolved to %q, want pt-BR", got)
	}
	if got := GetCatalog("en-GB").Locale(); got != "en-US" {
		t.Fatalf("en-GB resolved to %q, want en-US", got)
	}
}

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog("en-US")
	if base == nil {
		t.Fatal("expected base catalog")
	}
	if fallback := GetCatalog("zz-ZZ"); fallback != base {
		t.Fatal("expected fallback to en-US catalog")
	}
	if empty := GetCatalog(""); empty != base {
		t.Fatal("expected empty locale to resolve to en-US catalog")
	}
}

func TestCatalogsCoverSameCodes(t *testing.T) {
	for code := range enUSCatalog.messages {
		if _, ok := ptBRCatalog.messages[code]; !ok {
			t.Fatalf("pt-BR catalog missing code %s", code)
		}
	}
	for code := range ptBRCatalog.messages {
		if _, ok := enUSCatalog.messages[code]; !ok {
			t.Fatalf("en-US catalog missing code %s", code)
		}
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "hello {{.Name}}",
	})

	if cat.Format("unknown", nil) != "unknown" {
		t.Fatal("expected code fallback when template missing")
	}
	if cat.Format("code", nil) != "hello <no value>" {
		t.Fatal("expected template to render missing metadata")
	}
	if cat.Format("code", map[string]string{"Name": "world"}) != "hello world" {
		t.Fatal("expected template to render metadata")
	}
}

func TestFormatTemplateErrorFallback(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "{{ if .Name }}",
	})
	if cat.Format("code", map[string]string{"Name": "X"}) != "{{ if .Name }}" {
		t.Fatal("expected template fallback on parse error")
	}
}

func TestRegisterCatalog(t *testing.T) {
	custom := NewCatalog("x-custom", map[Code]string{"code": "ok"})
	RegisterCatalog("x-custom", custom)
	if got := GetCatalog("x-custom"); got != custom {
		t.Fatal("expected registered catalog")
	}
}
