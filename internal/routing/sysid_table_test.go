package routing

import "testing"

func TestSysidTable_LearnAndOwner(t *testing.T) {
	tbl := NewSysidTable()
	if _, ok := tbl.Owner(1); ok {
		t.Fatalf("expected no owner before Learn")
	}
	tbl.Learn(1, 100)
	ep, ok := tbl.Owner(1)
	if !ok || ep != 100 {
		t.Fatalf("expected owner 100, got %v (ok=%v)", ep, ok)
	}
}

func TestSysidTable_SysidZeroNeverRecorded(t *testing.T) {
	tbl := NewSysidTable()
	tbl.Learn(0, 5)
	if _, ok := tbl.Owner(0); ok {
		t.Fatalf("sysid 0 must never be recorded")
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table, got len %d", tbl.Len())
	}
}

func TestSysidTable_LastWriterWins(t *testing.T) {
	tbl := NewSysidTable()
	tbl.Learn(7, 1)
	tbl.Learn(7, 2)
	ep, ok := tbl.Owner(7)
	if !ok || ep != 2 {
		t.Fatalf("expected last writer 2, got %v", ep)
	}
}

func TestSysidTable_Purge(t *testing.T) {
	tbl := NewSysidTable()
	tbl.Learn(1, 10)
	tbl.Learn(2, 10)
	tbl.Learn(3, 20)
	tbl.Purge(10)
	if _, ok := tbl.Owner(1); ok {
		t.Fatalf("expected sysid 1 purged")
	}
	if _, ok := tbl.Owner(2); ok {
		t.Fatalf("expected sysid 2 purged")
	}
	if ep, ok := tbl.Owner(3); !ok || ep != 20 {
		t.Fatalf("expected sysid 3 untouched, got %v (ok=%v)", ep, ok)
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected len 1 after purge, got %d", tbl.Len())
	}
}

func TestSysidTable_Snapshot(t *testing.T) {
	tbl := NewSysidTable()
	tbl.Learn(1, 10)
	snap := tbl.Snapshot()
	if len(snap) != 1 || snap[1] != 10 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	snap[2] = 99
	if _, ok := tbl.Owner(2); ok {
		t.Fatalf("mutating snapshot must not affect table")
	}
}
