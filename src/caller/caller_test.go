package caller

import "testing"

func TestDistinctSitesDisabledNeverReports(t *testing.T) {
	d := NewDistinctSites(false)
	first, _ := d.Report()
	if first {
		t.Fatal("disabled tracker should never report")
	}
	if d.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", d.Len())
	}
}

func callA(d *DistinctSites) (bool, string) { return d.Report() }
func callB(d *DistinctSites) (bool, string) { return d.Report() }

func TestDistinctSitesReportsOncePerChain(t *testing.T) {
	d := NewDistinctSites(true)

	// Both callA calls must come from the same call site to share a chain.
	var reports [2]bool
	var trace string
	for i := range reports {
		var tr string
		reports[i], tr = callA(d)
		if i == 0 {
			trace = tr
		}
	}
	first, second := reports[0], reports[1]
	if !first || trace == "" {
		t.Fatal("first call from a new chain should report with a non-empty trace")
	}
	if second {
		t.Fatal("repeat call from the same chain should not report again")
	}

	firstB, _ := callB(d)
	if !firstB {
		t.Fatal("a distinct call chain should report even after another chain was seen")
	}
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
}

func TestDistinctSitesWhitelist(t *testing.T) {
	d := NewDistinctSites(true)
	d.Whitelist("caller.callA")
	first, _ := callA(d)
	if first {
		t.Fatal("whitelisted function's chain should never report")
	}
}

func TestDumpDoesNotPanic(t *testing.T) {
	_ = Dump(0)
}
