package market

import "testing"

func TestParse_Aliases_Casing(t *testing.T) {
    cases := map[string]Market{
        "US":        US,
        " nasdaq ":  US,
        "NYSE":      US,
        "":          US,
        "Brazilian": Brazil,
        "b3":        Brazil,
        "BR":        Brazil,
        "Bovespa":   Brazil,
    }
    for in, want := range cases {
        got, err := Parse(in)
        if err != nil {
            t.Fatalf("parse %q: %v", in, err)
        }
        if got != want {
            t.Fatalf("parse %q: want %s, got %s", in, want, got)
        }
    }
}

func TestParse_Unknown(t *testing.T) {
    if _, err := Parse("lse"); err == nil {
        t.Fatalf("expected error for unknown market")
    }
}

func TestQualify_AddsSuffixOnce(t *testing.T) {
    if got := Qualify("petr4", Brazil); got != "PETR4.SA" {
        t.Fatalf("qualify: %s", got)
    }
    if got := Qualify("PETR4.SA", Brazil); got != "PETR4.SA" {
        t.Fatalf("qualify twice: %s", got)
    }
    if got := Qualify(" aapl ", US); got != "AAPL" {
        t.Fatalf("qualify us: %s", got)
    }
    if got := Qualify("  ", US); got != "" {
        t.Fatalf("qualify blank: %q", got)
    }
}

func TestBareAndFromTicker(t *testing.T) {
    if got := Bare("itub4.sa"); got != "ITUB4" {
        t.Fatalf("bare: %s", got)
    }
    if got := Bare("BRK.B"); got != "BRK.B" {
        t.Fatalf("bare keeps class suffix: %s", got)
    }
    if got := FromTicker("VALE3.SA"); got != Brazil {
        t.Fatalf("from ticker brazil: %s", got)
    }
    if got := FromTicker("MSFT"); got != US {
        t.Fatalf("from ticker us: %s", got)
    }
}

func TestCurrency(t *testing.T) {
    if Brazil.Currency() != "BRL" || US.Currency() != "USD" {
        t.Fatalf("currencies: %s %s", Brazil.Currency(), US.Currency())
    }
}
