package decimal

import "testing"

func mustParse(t *testing.T, s string) Decimal {
	t.Helper()
	d, err := FromString(s)
	if err != nil {
		t.Fatalf("FromString(%q): %v", s, err)
	}
	return d
}

func TestAddSub(t *testing.T) {
	a := mustParse(t, "105.50")
	b := mustParse(t, "10.25")
	if got := a.Add(b).String(); got != "115.750000000000000000" {
		t.Fatalf("Add = %s", got)
	}
	if got := a.Sub(b).String(); got != "95.250000000000000000" {
		t.Fatalf("Sub = %s", got)
	}
}

func TestMulDiv(t *testing.T) {
	price := mustParse(t, "100")
	qty := mustParse(t, "4")
	got := price.Mul(qty)
	want := mustParse(t, "400")
	if got.Cmp(want) != 0 {
		t.Fatalf("Mul = %s, want %s", got, want)
	}

	quot, err := want.Div(qty)
	if err != nil {
		t.Fatal(err)
	}
	if quot.Cmp(price) != 0 {
		t.Fatalf("Div = %s, want %s", quot, price)
	}
}

func TestDivByZero(t *testing.T) {
	a := New(1)
	if _, err := a.Div(Zero); err != ErrDivByZero {
		t.Fatalf("expected ErrDivByZero, got %v", err)
	}
}

func TestCmpTotalOrder(t *testing.T) {
	a := mustParse(t, "-1.5")
	b := mustParse(t, "1.5")
	if a.Cmp(b) >= 0 {
		t.Fatal("expected a < b")
	}
	if b.Cmp(a) <= 0 {
		t.Fatal("expected b > a")
	}
	if a.Cmp(a) != 0 {
		t.Fatal("expected equality")
	}
}

func TestEntryPriceAveraging(t *testing.T) {
	// Scenario S1: buy 2@100, buy 2@110 -> qty 4, entry 105
	q1, p1 := New(2), New(100)
	q2, p2 := New(2), New(110)
	totalQty := q1.Add(q2)
	cost := p1.Mul(q1).Add(p2.Mul(q2))
	entry, err := cost.Div(totalQty)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Cmp(New(105)) != 0 {
		t.Fatalf("entry = %s, want 105", entry)
	}
}
